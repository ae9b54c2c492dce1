package processor

import (
	"context"

	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pipeline"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

// Assembler runs the assembly pipeline. *pipeline.Orchestrator implements it.
type Assembler interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// PipelineAdapter turns a job into a pipeline request and mirrors the
// pipeline phases into the job store.
type PipelineAdapter struct {
	assembler Assembler
	store     jobs.Store
	log       *logger.Logger
}

func NewPipelineAdapter(a Assembler, store jobs.Store, log *logger.Logger) *PipelineAdapter {
	return &PipelineAdapter{assembler: a, store: store, log: log}
}

func (pa *PipelineAdapter) Assemble(ctx context.Context, jobID string, in Inputs, output string) (pipeline.Result, error) {
	log := pa.log.WithJobID(jobID)
	last := pipeline.Phase("")

	return pa.assembler.Run(ctx, pipeline.Request{
		JobID:         jobID,
		TimelinePath:  in.TimelinePath,
		DeckPath:      in.DeckPath,
		NarrationPath: in.NarrationPath,
		OutputPath:    output,
		Progress: func(phase pipeline.Phase, segment, total int) {
			if segment >= 0 {
				log.Debug("progress", "phase", string(phase), "segment", segment, "total", total)
			}
			if phase == last {
				return
			}
			last = phase
			if err := pa.store.UpdatePhase(ctx, jobID, string(phase)); err != nil {
				log.Warn("could not record phase", "phase", string(phase), "error", err.Error())
			}
		},
	})
}
