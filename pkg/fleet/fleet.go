package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/replaykit/stitch/pkg/clipstore"
	"github.com/replaykit/stitch/pkg/config"
	"github.com/replaykit/stitch/pkg/controller"
	"github.com/replaykit/stitch/pkg/errors"
	"github.com/replaykit/stitch/pkg/logger"
	"github.com/replaykit/stitch/pkg/planner"
	"github.com/replaykit/stitch/pkg/progress"
	"github.com/replaykit/stitch/pkg/runner"
)

// Action names a dispatchable controller operation.
type Action string

const (
	ActionBuild Action = "build"
	ActionClear Action = "clear"
)

// Coordinator maps compilation names to their controllers and fans out the
// build-all / clear-all triggers. It never mutates a controller's internal
// state directly; all mutation goes through the controller's entry points.
// Compilations are independent: operations against different names run in
// parallel with no shared locks.
type Coordinator struct {
	controllers map[string]*controller.Controller
	order       []string
	log         logger.Logger
}

// New constructs a Coordinator from validated configuration, one controller
// per compilation, all starting Idle. The notifier receives ready signals
// from every compilation; nil discards them. A nil reporter disables
// transcode progress output.
func New(cfg *config.Config, notifier controller.Notifier, reporter progress.Reporter, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Discard{}
	}

	runnerOpts := runner.Options{
		Binary:    cfg.FFmpeg.Binary,
		ExtraArgs: cfg.FFmpeg.ExtraArgs,
		Timeout:   time.Duration(cfg.FFmpeg.TimeoutSeconds) * time.Second,
	}
	run := runner.NewWithDeps(runnerOpts, reporter, log)

	c := &Coordinator{
		controllers: make(map[string]*controller.Controller, len(cfg.Compilations)),
		order:       make([]string, 0, len(cfg.Compilations)),
		log:         log,
	}
	for _, comp := range cfg.Compilations {
		store := clipstore.New(comp.Folder, log)
		pl := planner.New(comp.Name, comp.OutputPath())
		c.controllers[comp.Name] = controller.New(comp.Name, store, pl, run, notifier, log)
		c.order = append(c.order, comp.Name)
	}
	return c
}

// Names returns the configured compilation names in configuration order.
func (c *Coordinator) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Controller returns the controller for a name, or nil if not configured.
func (c *Coordinator) Controller(name string) *controller.Controller {
	return c.controllers[name]
}

// Dispatch forwards an action to the named compilation's controller,
// waiting for the result. Unconfigured names fail with UnknownCompilation.
func (c *Coordinator) Dispatch(ctx context.Context, name string, action Action) controller.BuildResult {
	ctrl, ok := c.controllers[name]
	if !ok {
		return c.unknown(name)
	}
	switch action {
	case ActionBuild:
		return ctrl.BuildSync(ctx)
	case ActionClear:
		return ctrl.Clear()
	default:
		return controller.BuildResult{
			Compilation: name,
			Status:      controller.StatusFailed,
			Reason:      errors.New(errors.ValidationError, "Unknown action", string(action), errors.ErrUnknownAction),
		}
	}
}

// OnSaveReplay ingests a freshly captured clip into the named compilation.
func (c *Coordinator) OnSaveReplay(name, clipSourcePath string) (clipstore.Clip, error) {
	ctrl, ok := c.controllers[name]
	if !ok {
		return clipstore.Clip{}, errors.New(errors.UnknownCompilation, "Compilation not configured", name, errors.ErrCompilationNotConfigured)
	}
	return ctrl.Save(clipSourcePath)
}

// OnBuildCompilation starts a build for the named compilation, returning a
// channel that delivers the single result. Unknown names deliver a failed
// result immediately.
func (c *Coordinator) OnBuildCompilation(ctx context.Context, name string) <-chan controller.BuildResult {
	ctrl, ok := c.controllers[name]
	if !ok {
		ch := make(chan controller.BuildResult, 1)
		ch <- c.unknown(name)
		close(ch)
		return ch
	}
	return ctrl.Build(ctx)
}

// OnClearReplays clears the named compilation's folder.
func (c *Coordinator) OnClearReplays(name string) controller.BuildResult {
	ctrl, ok := c.controllers[name]
	if !ok {
		return c.unknown(name)
	}
	return ctrl.Clear()
}

// OnBuildAll builds every configured compilation in parallel and collects
// all results. One compilation's failure or skip never blocks the others.
func (c *Coordinator) OnBuildAll(ctx context.Context) map[string]controller.BuildResult {
	return c.fanOut(func(ctrl *controller.Controller) controller.BuildResult {
		return ctrl.BuildSync(ctx)
	})
}

// OnClearAll clears every configured compilation in parallel and collects
// all results.
func (c *Coordinator) OnClearAll() map[string]controller.BuildResult {
	return c.fanOut(func(ctrl *controller.Controller) controller.BuildResult {
		return ctrl.Clear()
	})
}

func (c *Coordinator) fanOut(op func(*controller.Controller) controller.BuildResult) map[string]controller.BuildResult {
	var mu sync.Mutex
	results := make(map[string]controller.BuildResult, len(c.controllers))

	var wg sync.WaitGroup
	for name, ctrl := range c.controllers {
		wg.Add(1)
		go func(name string, ctrl *controller.Controller) {
			defer wg.Done()
			res := op(ctrl)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, ctrl)
	}
	wg.Wait()
	return results
}

func (c *Coordinator) unknown(name string) controller.BuildResult {
	c.log.Warn("Trigger for unknown compilation", "fleet", map[string]interface{}{
		"compilation": name,
	})
	return controller.BuildResult{
		Compilation: name,
		Status:      controller.StatusFailed,
		Reason:      errors.New(errors.UnknownCompilation, "Compilation not configured", name, errors.ErrCompilationNotConfigured),
	}
}
