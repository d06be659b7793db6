package planner

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/replaykit/stitch/pkg/clipstore"
	"github.com/replaykit/stitch/pkg/errors"
)

// scratchDirName is created next to the final output so the later promote
// rename stays on one filesystem.
const scratchDirName = ".stitch-scratch"

// BuildJob describes one transcoder invocation: the ordered inputs, the
// concat list the transcoder reads them from, and where the result goes.
// A job is ephemeral; it exists only for the duration of one build.
type BuildJob struct {
	// ID uniquely identifies this job in logs and scratch file names.
	ID string
	// Compilation is the name of the compilation being built.
	Compilation string
	// Inputs are the clip paths in save order.
	Inputs []string
	// ListPath is where the transcoder's concat list file is written.
	ListPath string
	// TempOutput receives the transcoder's output before promotion.
	TempOutput string
	// FinalOutput is the destination the temp output is renamed to on success.
	FinalOutput string
}

// Planner converts an ordered clip list into a BuildJob.
type Planner struct {
	compilation string
	finalOutput string
}

// New creates a Planner for one compilation and its output destination.
func New(compilation, finalOutput string) *Planner {
	return &Planner{compilation: compilation, finalOutput: finalOutput}
}

// Plan produces a BuildJob for the given snapshot of clips. It fails with
// EmptyCompilation when the snapshot is empty; no job is produced and the
// caller surfaces this as a no-op. The scratch paths are distinct from every
// input and from the final output.
func (p *Planner) Plan(clips []clipstore.Clip) (BuildJob, error) {
	if len(clips) == 0 {
		return BuildJob{}, errors.New(errors.EmptyCompilation, "No clips to build", p.compilation, errors.ErrNoClipsToBuild)
	}

	inputs := make([]string, len(clips))
	for i, clip := range clips {
		inputs[i] = clip.Path
	}

	id := uuid.NewString()
	scratch := filepath.Join(filepath.Dir(p.finalOutput), scratchDirName)

	return BuildJob{
		ID:          id,
		Compilation: p.compilation,
		Inputs:      inputs,
		ListPath:    filepath.Join(scratch, fmt.Sprintf("%s-%s.txt", p.compilation, id)),
		TempOutput:  filepath.Join(scratch, fmt.Sprintf("%s-%s%s", p.compilation, id, filepath.Ext(p.finalOutput))),
		FinalOutput: p.finalOutput,
	}, nil
}
