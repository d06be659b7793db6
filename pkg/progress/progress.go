package progress

import (
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Reporter defines the interface for reporting progress during long-running
// operations such as a transcode. Components accept implementations of this
// interface to provide progress updates.
type Reporter interface {
	// Start initializes the progress reporting with the total number of units.
	Start(total int64)
	// Update sets the current progress to a specific value, with a
	// description of the current stage.
	Update(current int64, stage string)
	// Complete marks the operation as finished.
	Complete()
}

// reporterOptions holds configuration for the DefaultReporter.
type reporterOptions struct {
	description string
}

// ReporterOption is a function type used to configure a DefaultReporter.
type ReporterOption func(*reporterOptions)

// WithDescription sets the description text for the console progress bar.
func WithDescription(desc string) ReporterOption {
	return func(opts *reporterOptions) {
		opts.description = desc
	}
}

// DefaultReporter is the default implementation of the Reporter interface.
// It uses the github.com/schollz/progressbar/v3 library to display a progress
// bar on the console (stderr).
type DefaultReporter struct {
	opts reporterOptions
	bar  *progressbar.ProgressBar
	mu   sync.Mutex
}

// NewReporter creates a new DefaultReporter.
// It accepts optional configuration functions like WithDescription.
func NewReporter(opts ...ReporterOption) *DefaultReporter {
	options := reporterOptions{
		description: "Stitching...",
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &DefaultReporter{opts: options}
}

// Start initializes the progress bar with the given total.
func (r *DefaultReporter) Start(total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(r.opts.description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Update sets the current progress. Calls before Start are ignored.
func (r *DefaultReporter) Update(current int64, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar == nil {
		return
	}
	if stage != "" {
		r.bar.Describe(stage)
	}
	_ = r.bar.Set64(current)
}

// Complete finishes the progress bar. Further updates are ignored.
func (r *DefaultReporter) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar == nil {
		return
	}
	_ = r.bar.Finish()
	r.bar = nil
}

// Nop is a Reporter that discards all updates.
type Nop struct{}

func (Nop) Start(int64)          {}
func (Nop) Update(int64, string) {}
func (Nop) Complete()            {}
