package controller

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/replaykit/stitch/pkg/clipstore"
	"github.com/replaykit/stitch/pkg/errors"
	"github.com/replaykit/stitch/pkg/logger"
	"github.com/replaykit/stitch/pkg/planner"
	"github.com/replaykit/stitch/pkg/runner"
)

// State is a compilation controller's lifecycle state.
type State string

const (
	// StateIdle means no build is running; save, build and clear are all
	// accepted.
	StateIdle State = "idle"
	// StateBuilding means a build job is in flight; further builds and
	// clears are rejected until it completes. Saves are still accepted.
	StateBuilding State = "building"
)

// Status classifies the outcome of one triggered operation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// BuildResult is the outcome record returned to the trigger's caller.
type BuildResult struct {
	// Compilation names the compilation the operation targeted.
	Compilation string `json:"compilation"`
	// Status is succeeded, failed, or skipped.
	Status Status `json:"status"`
	// OutputPath is the finished file location on build success.
	OutputPath string `json:"output_path,omitempty"`
	// Reason explains a failed or skipped outcome.
	Reason *errors.StructuredError `json:"reason,omitempty"`
}

// Notifier is the playback surface callback, invoked exactly once per
// successful build after the output file is atomically in place.
type Notifier interface {
	CompilationReady(compilation, outputPath string)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(compilation, outputPath string)

func (f NotifierFunc) CompilationReady(compilation, outputPath string) {
	f(compilation, outputPath)
}

type nopNotifier struct{}

func (nopNotifier) CompilationReady(string, string) {}

// Controller serializes one compilation's save, build and clear operations.
// It owns the compilation's clip store and its single in-flight build job:
// at most one build runs at any instant, enforced by a non-blocking state
// check rather than a queued wait, so triggers stay responsive during long
// encodes. Saves are always accepted, even mid-build, because a build
// operates on a snapshot of the clip list taken at build start.
type Controller struct {
	name     string
	store    *clipstore.Store
	planner  *planner.Planner
	runner   *runner.Runner
	notifier Notifier
	log      logger.Logger

	mu    sync.Mutex
	state State
}

// New creates a Controller in the Idle state. A nil notifier discards ready
// signals; a nil log discards events.
func New(name string, store *clipstore.Store, pl *planner.Planner, rn *runner.Runner, notifier Notifier, log logger.Logger) *Controller {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = logger.Discard{}
	}
	return &Controller{
		name:     name,
		store:    store,
		planner:  pl,
		runner:   rn,
		notifier: notifier,
		log:      log,
		state:    StateIdle,
	}
}

// Name returns the compilation's name.
func (c *Controller) Name() string {
	return c.name
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClipCount returns the number of clips currently in the folder.
func (c *Controller) ClipCount() (int, error) {
	return c.store.Count()
}

// Folder returns the compilation's clip folder.
func (c *Controller) Folder() string {
	return c.store.Folder()
}

// Save ingests an externally produced clip into the compilation's folder.
// Always permitted, including while a build is running.
func (c *Controller) Save(sourcePath string) (clipstore.Clip, error) {
	return c.store.Save(sourcePath)
}

// Build starts a build and returns a channel that delivers the single
// BuildResult when the job completes. The channel is buffered, so the
// trigger path returns immediately while the transcode runs in the
// background. Rejections (build already in progress, empty compilation) are
// delivered on the channel without starting a job.
func (c *Controller) Build(ctx context.Context) <-chan BuildResult {
	ch := make(chan BuildResult, 1)

	c.mu.Lock()
	if c.state == StateBuilding {
		c.mu.Unlock()
		c.deliver(ch, BuildResult{
			Compilation: c.name,
			Status:      StatusSkipped,
			Reason:      errors.New(errors.BuildInProgress, "Build already in progress", c.name, errors.ErrBuildAlreadyInProgress),
		})
		return ch
	}

	// Snapshot under the guard: clips saved after this point belong to the
	// next build.
	clips, err := c.store.List()
	if err != nil {
		c.mu.Unlock()
		c.deliver(ch, BuildResult{
			Compilation: c.name,
			Status:      StatusFailed,
			Reason:      asStructured(err, errors.IOFailure, errors.ErrFolderUnreadable),
		})
		return ch
	}

	job, err := c.planner.Plan(clips)
	if err != nil {
		c.mu.Unlock()
		if errors.IsType(err, errors.EmptyCompilation) {
			c.deliver(ch, BuildResult{
				Compilation: c.name,
				Status:      StatusSkipped,
				Reason:      asStructured(err, errors.EmptyCompilation, errors.ErrNoClipsToBuild),
			})
		} else {
			c.deliver(ch, BuildResult{
				Compilation: c.name,
				Status:      StatusFailed,
				Reason:      asStructured(err, errors.IOFailure, errors.ErrFolderUnreadable),
			})
		}
		return ch
	}

	c.state = StateBuilding
	c.mu.Unlock()

	c.log.Info("Starting build", "controller", map[string]interface{}{
		"compilation": c.name,
		"job":         job.ID,
		"clips":       len(job.Inputs),
		"inputs":      job.Inputs,
	})

	go func() {
		outputPath, runErr := c.runner.Run(ctx, job)

		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()

		if runErr != nil {
			c.log.Error("Build failed", "controller", map[string]interface{}{
				"compilation": c.name,
				"job":         job.ID,
				"error":       runErr.Error(),
			})
			c.deliver(ch, BuildResult{
				Compilation: c.name,
				Status:      StatusFailed,
				Reason:      asStructured(runErr, errors.ToolError, errors.ErrTranscoderExit),
			})
			return
		}

		c.log.Info("Build succeeded", "controller", map[string]interface{}{
			"compilation": c.name,
			"job":         job.ID,
			"output":      outputPath,
		})
		c.notifier.CompilationReady(c.name, outputPath)
		c.deliver(ch, BuildResult{
			Compilation: c.name,
			Status:      StatusSucceeded,
			OutputPath:  outputPath,
		})
	}()

	return ch
}

// BuildSync runs a build and waits for its result.
func (c *Controller) BuildSync(ctx context.Context) BuildResult {
	return <-c.Build(ctx)
}

// Clear deletes every clip in the folder. Refused with a skip while a build
// is in progress, so the transcoder never reads clips mid-delete.
func (c *Controller) Clear() BuildResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateBuilding {
		return BuildResult{
			Compilation: c.name,
			Status:      StatusSkipped,
			Reason:      errors.New(errors.BuildInProgress, "Clear refused while build in progress", c.name, errors.ErrClearDuringBuild),
		}
	}

	removed, failed, err := c.store.Clear()
	if err != nil {
		return BuildResult{
			Compilation: c.name,
			Status:      StatusFailed,
			Reason:      asStructured(err, errors.IOFailure, errors.ErrFolderUnreadable),
		}
	}
	if failed > 0 {
		return BuildResult{
			Compilation: c.name,
			Status:      StatusFailed,
			Reason: errors.New(errors.IOFailure, "Clear left clips behind",
				fmt.Sprintf("%d of %d clips could not be deleted", failed, removed+failed), errors.ErrClearIncomplete),
		}
	}
	return BuildResult{
		Compilation: c.name,
		Status:      StatusSucceeded,
	}
}

func (c *Controller) deliver(ch chan BuildResult, res BuildResult) {
	ch <- res
	close(ch)
}

// asStructured extracts the StructuredError from err, or wraps it with the
// given fallback classification.
func asStructured(err error, fallback errors.ErrorType, code int) *errors.StructuredError {
	var se *errors.StructuredError
	if stderrors.As(err, &se) {
		return se
	}
	return errors.Wrap(err, fallback, "Operation failed", code)
}
