package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/replaykit/stitch/pkg/errors"
	"github.com/replaykit/stitch/pkg/logger"
	"github.com/replaykit/stitch/pkg/planner"
	"github.com/replaykit/stitch/pkg/progress"
)

// stderrTailLines bounds the captured transcoder diagnostics.
const stderrTailLines = 40

var timeRe = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)

// Options contains settings for the Runner.
type Options struct {
	// Binary is the transcoder executable name or path. Defaults to "ffmpeg".
	Binary string
	// ExtraArgs are appended after the concat arguments, before the output path.
	ExtraArgs []string
	// Timeout bounds one transcode. Zero means no timeout.
	Timeout time.Duration
}

// Runner invokes the external transcoder to concatenate a build job's
// ordered inputs into one output file, promoting the result atomically on
// success. A Runner is safe for concurrent use across jobs.
type Runner struct {
	options Options
	progRep progress.Reporter
	log     logger.Logger
}

// New creates a Runner with default dependencies.
func New(options Options) *Runner {
	return NewWithDeps(options, nil, logger.NewLogger())
}

// NewWithDeps creates a Runner with custom dependencies. A nil reporter
// disables progress reporting; a nil log discards all events.
func NewWithDeps(options Options, progressReporter progress.Reporter, log logger.Logger) *Runner {
	if options.Binary == "" {
		options.Binary = "ffmpeg"
	}
	if log == nil {
		log = logger.Discard{}
	}
	return &Runner{
		options: options,
		progRep: progressReporter,
		log:     log,
	}
}

// Run executes the job and returns the final output path on success. Every
// failure is classified into the error taxonomy and never terminates the
// process. On failure the temp output is removed and the final destination is
// left untouched, so no partial file is ever exposed to the playback surface.
func (r *Runner) Run(ctx context.Context, job planner.BuildJob) (string, error) {
	binary, err := exec.LookPath(r.options.Binary)
	if err != nil {
		return "", errors.Wrap(err, errors.ToolUnavailable, "Transcoder binary not found", errors.ErrTranscoderNotFound)
	}

	if err := os.MkdirAll(filepath.Dir(job.TempOutput), 0o755); err != nil {
		return "", errors.Wrap(err, errors.IOFailure, "Failed to create scratch directory", errors.ErrScratchUnwritable)
	}

	if err := writeConcatList(job.ListPath, job.Inputs); err != nil {
		return "", errors.Wrap(err, errors.IOFailure, "Failed to write concat list", errors.ErrScratchUnwritable)
	}
	defer os.Remove(job.ListPath)

	if r.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.options.Timeout)
		defer cancel()
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", job.ListPath,
		"-c", "copy",
	}
	args = append(args, r.options.ExtraArgs...)
	args = append(args, "-y", job.TempOutput)

	r.log.Debug("Executing transcoder", "runner", map[string]interface{}{
		"job":     job.ID,
		"command": binary + " " + strings.Join(args, " "),
	})

	cmd := exec.CommandContext(ctx, binary, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", errors.Wrap(err, errors.ToolUnavailable, "Failed to create stderr pipe", errors.ErrTranscoderStartFailed)
	}

	if err := cmd.Start(); err != nil {
		return "", errors.Wrap(err, errors.ToolUnavailable, "Failed to start transcoder", errors.ErrTranscoderStartFailed)
	}

	totalSeconds := r.totalDuration(job.Inputs)
	if totalSeconds > 0 && r.progRep != nil {
		r.progRep.Start(int64(totalSeconds))
	}

	// Drain stderr to EOF before Wait; the scan doubles as the progress feed.
	tail := r.scanStderr(stderr, totalSeconds, job.Compilation)

	waitErr := cmd.Wait()
	if r.progRep != nil && totalSeconds > 0 {
		r.progRep.Complete()
	}

	if waitErr != nil {
		_ = os.Remove(job.TempOutput)
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.New(errors.Timeout, "Transcode exceeded deadline",
				fmt.Sprintf("job %s killed after %s", job.ID, r.options.Timeout), errors.ErrTranscodeTimeout)
		}
		details := strings.Join(tail, "\n")
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			return "", errors.New(errors.ToolError,
				fmt.Sprintf("Transcoder exited with status %d", exitErr.ExitCode()),
				details, errors.ErrTranscoderExit)
		}
		return "", errors.Wrap(waitErr, errors.ToolError, "Transcoder failed", errors.ErrTranscoderExit)
	}

	info, statErr := os.Stat(job.TempOutput)
	if statErr != nil {
		return "", errors.Wrap(statErr, errors.OutputMissing, "Transcoder reported success but produced no output", errors.ErrOutputAbsent)
	}
	if info.Size() == 0 {
		_ = os.Remove(job.TempOutput)
		return "", errors.New(errors.OutputMissing, "Transcoder produced an empty output file", job.TempOutput, errors.ErrOutputEmpty)
	}

	if err := os.MkdirAll(filepath.Dir(job.FinalOutput), 0o755); err != nil {
		_ = os.Remove(job.TempOutput)
		return "", errors.Wrap(err, errors.IOFailure, "Failed to create output directory", errors.ErrOutputPromoteFailed)
	}
	if err := os.Rename(job.TempOutput, job.FinalOutput); err != nil {
		_ = os.Remove(job.TempOutput)
		return "", errors.Wrap(err, errors.IOFailure, "Failed to promote output", errors.ErrOutputPromoteFailed)
	}

	r.log.Info("Transcode complete", "runner", map[string]interface{}{
		"job":    job.ID,
		"output": job.FinalOutput,
		"bytes":  info.Size(),
	})

	return job.FinalOutput, nil
}

// scanStderr consumes the transcoder's stderr, driving progress from "time="
// markers and retaining a tail of lines for diagnostics.
func (r *Runner) scanStderr(stderr io.Reader, totalSeconds float64, compilation string) []string {
	var tail []string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}

		if r.progRep != nil && totalSeconds > 0 {
			if m := timeRe.FindStringSubmatch(line); len(m) > 3 {
				hours, _ := strconv.Atoi(m[1])
				minutes, _ := strconv.Atoi(m[2])
				seconds, _ := strconv.ParseFloat(m[3], 64)
				current := float64(hours*3600) + float64(minutes*60) + seconds
				r.progRep.Update(int64(current), "Stitching "+compilation)
			}
		}
	}
	return tail
}

// totalDuration sums the input durations via ffprobe for progress estimation.
// Returns 0 when ffprobe is unavailable; progress is simply skipped then.
func (r *Runner) totalDuration(inputs []string) float64 {
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return 0
	}

	var total float64
	for _, input := range inputs {
		out, err := exec.Command(ffprobe,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			input).Output()
		if err != nil {
			return 0
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
		if err != nil {
			return 0
		}
		total += d
	}
	return total
}

// writeConcatList writes the ffmpeg concat demuxer list: one
// "file '<path>'" line per input, in order. Single quotes in paths are
// escaped per the demuxer's quoting rules.
func writeConcatList(path string, inputs []string) error {
	var b strings.Builder
	for _, input := range inputs {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(input, "'", `'\''`))
		b.WriteString("'\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
