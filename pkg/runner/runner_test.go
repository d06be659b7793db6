package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replaykit/stitch/pkg/errors"
	"github.com/replaykit/stitch/pkg/planner"
)

// writeScript installs a fake transcoder executable for tests.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake transcoder scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// testJob builds a job with real input files and scratch paths in tempdirs.
func testJob(t *testing.T, inputs ...string) planner.BuildJob {
	t.Helper()
	inDir := t.TempDir()
	outDir := t.TempDir()

	paths := make([]string, len(inputs))
	for i, name := range inputs {
		paths[i] = filepath.Join(inDir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("segment:"+name), 0o644))
	}

	return planner.BuildJob{
		ID:          fmt.Sprintf("job-%d", time.Now().UnixNano()),
		Compilation: "P1_Comp",
		Inputs:      paths,
		ListPath:    filepath.Join(outDir, "scratch", "list.txt"),
		TempOutput:  filepath.Join(outDir, "scratch", "temp.mp4"),
		FinalOutput: filepath.Join(outDir, "P1_Comp.mp4"),
	}
}

func TestRunSuccess(t *testing.T) {
	// The fake transcoder copies the concat list ($6 is the -i argument) to
	// the output path, so the result records the input order.
	script := writeScript(t, `for last in "$@"; do :; done
cp "$6" "$last"`)

	job := testJob(t, "a.mp4", "b.mp4", "c.mp4")
	r := NewWithDeps(Options{Binary: script}, nil, nil)

	out, err := r.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, job.FinalOutput, out)

	data, err := os.ReadFile(job.FinalOutput)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "a.mp4")
	assert.Contains(t, lines[1], "b.mp4")
	assert.Contains(t, lines[2], "c.mp4")

	// No scratch leftovers.
	_, err = os.Stat(job.TempOutput)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(job.ListPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRunToolError(t *testing.T) {
	script := writeScript(t, `echo "concat demuxer exploded" >&2
exit 3`)

	job := testJob(t, "a.mp4")
	r := NewWithDeps(Options{Binary: script}, nil, nil)

	_, err := r.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ToolError))

	var se *errors.StructuredError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "status 3")
	assert.Contains(t, se.Details, "concat demuxer exploded")

	// Inputs intact, destination untouched, temp cleaned up.
	for _, input := range job.Inputs {
		_, statErr := os.Stat(input)
		assert.NoError(t, statErr)
	}
	_, statErr := os.Stat(job.FinalOutput)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(job.TempOutput)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunToolUnavailable(t *testing.T) {
	job := testJob(t, "a.mp4")
	r := NewWithDeps(Options{Binary: filepath.Join(t.TempDir(), "no-such-ffmpeg")}, nil, nil)

	_, err := r.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ToolUnavailable))
}

func TestRunOutputMissing(t *testing.T) {
	// Exits zero without writing anything.
	script := writeScript(t, `exit 0`)

	job := testJob(t, "a.mp4")
	r := NewWithDeps(Options{Binary: script}, nil, nil)

	_, err := r.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.OutputMissing))

	_, statErr := os.Stat(job.FinalOutput)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunOutputEmpty(t *testing.T) {
	script := writeScript(t, `for last in "$@"; do :; done
: > "$last"`)

	job := testJob(t, "a.mp4")
	r := NewWithDeps(Options{Binary: script}, nil, nil)

	_, err := r.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.OutputMissing))

	_, statErr := os.Stat(job.TempOutput)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunTimeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)

	job := testJob(t, "a.mp4")
	r := NewWithDeps(Options{Binary: script, Timeout: 200 * time.Millisecond}, nil, nil)

	start := time.Now()
	_, err := r.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.Timeout))
	assert.Less(t, time.Since(start), 3*time.Second)

	_, statErr := os.Stat(job.TempOutput)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteConcatListEscapesQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, writeConcatList(path, []string{"/replays/it's here/clip_000001.mp4"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file '/replays/it'\\''s here/clip_000001.mp4'\n", string(data))
}
