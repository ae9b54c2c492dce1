// Package processor runs one queued job end to end: it materializes the
// uploaded sources, assembles the video, uploads the result and records the
// outcome in the job store.
package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
)

// statusWriteTimeout bounds store writes made after the job context ended.
const statusWriteTimeout = 10 * time.Second

type Deps struct {
	Store     jobs.Store
	SP        ports.StorageProvider
	Assembler Assembler
	WorkRoot  string
	// KeepSources leaves the uploaded source objects in storage.
	KeepSources bool
	// WorkerID owns the jobs this processor runs; empty means
	// jobs.DefaultWorkerID(). Lease is renewed every third of its length
	// while a job runs; zero disables renewal.
	WorkerID string
	Lease    time.Duration
	Log      *logger.Logger
}

type Processor struct {
	store    jobs.Store
	workRoot string
	workerID string
	lease    time.Duration
	log      *logger.Logger

	inputHandler    *InputHandler
	outputHandler   *OutputHandler
	pipelineAdapter *PipelineAdapter
	cleanup         *Cleanup
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")
	workerID := d.WorkerID
	if workerID == "" {
		workerID = jobs.DefaultWorkerID()
	}

	return &Processor{
		store:           d.Store,
		workRoot:        d.WorkRoot,
		workerID:        workerID,
		lease:           d.Lease,
		log:             log,
		inputHandler:    NewInputHandler(d.SP),
		outputHandler:   NewOutputHandler(d.SP),
		pipelineAdapter: NewPipelineAdapter(d.Assembler, d.Store, log),
		cleanup:         NewCleanup(d.SP, d.KeepSources, log),
	}
}

// ProcessJob runs jobID. The returned error is the job failure, already
// recorded in the store.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) error {
	log := p.log.FromContext(ctx).WithJobID(jobID)

	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, "processor.fetch", "failed to fetch job")
	}

	if err := p.store.MarkRunning(ctx, jobID, p.workerID); err != nil {
		if errors.IsConflict(err) {
			log.Warn("job is not queued, skipping", "status", string(job.Status))
			return nil
		}
		return p.failJob(ctx, job, errors.Wrap(err, "processor.status", "failed to mark job as running"))
	}

	ctx, release := p.holdLease(ctx, jobID)
	defer release()

	jobDir := filepath.Join(p.workRoot, jobID)
	defer p.cleanup.CleanupJob(ctx, job, jobDir)

	log.Debug("materializing inputs")
	inputs, err := p.inputHandler.Materialize(ctx, filepath.Join(jobDir, "inputs"), job.Sources)
	if err != nil {
		return p.failJob(ctx, job, errors.Wrap(err, "processor.inputs", "failed to materialize inputs"))
	}

	output := filepath.Join(jobDir, "out", jobs.ResultName(jobID))
	log.Info("starting assembly")
	res, err := p.pipelineAdapter.Assemble(ctx, jobID, inputs, output)
	if err != nil {
		return p.failJob(ctx, job, err)
	}

	key, err := p.outputHandler.Upload(ctx, jobID, res.OutputPath)
	if err != nil {
		return p.failJob(ctx, job, errors.Wrap(err, "processor.outputs", "failed to upload result"))
	}

	if err := p.markDone(ctx, job, key); err != nil {
		return err
	}
	log.Info("job done",
		"segments", res.Segments,
		"video_seconds", res.Duration,
		"result_key", key,
	)
	return nil
}

// markDone records the uploaded result. When that fails the result is
// deleted again; the job is failed unless it already left RUNNING.
func (p *Processor) markDone(ctx context.Context, job *jobs.Job, key string) error {
	wctx, cancel := detached(ctx)
	defer cancel()

	err := p.store.MarkDone(wctx, job.ID, key, jobs.ResultName(job.ID))
	if err == nil {
		return nil
	}
	p.outputHandler.Discard(wctx, key, p.log.WithJobID(job.ID))

	err = errors.Wrap(err, "processor.status", "failed to mark job as done")
	if errors.IsConflict(err) {
		p.log.FromContext(ctx).WithJobID(job.ID).Warn("job left RUNNING before its result was recorded",
			"status", fmt.Sprint(errors.GetFields(err)["status"]),
		)
		return err
	}
	return p.failJob(ctx, job, err)
}

func (p *Processor) failJob(ctx context.Context, job *jobs.Job, cause error) error {
	ctx = logger.ContextWithJobID(ctx, job.ID)
	log := p.log.FromContext(ctx)

	if leaseLost(ctx) {
		log.Warn("job was taken over, not recording failure", "error", cause.Error())
		return cause
	}

	code := errors.GetCode(cause)
	if ctx.Err() != nil && code != errors.CodeValidation {
		code = errors.CodeTimeout
	}
	msg := cause.Error()

	var appErr *errors.Error
	if errors.As(cause, &appErr) {
		log.Error("job failed",
			"code", string(code),
			"op", appErr.Op,
			"message", appErr.Message,
			"fields", appErr.Fields,
		)
	} else {
		log.Error("job failed", "code", string(code), "error", msg)
	}

	// The job context may already be over; the failure must still be stored.
	wctx, cancel := detached(ctx)
	defer cancel()
	if err := p.store.MarkFailed(wctx, job.ID, string(code), msg); err != nil {
		p.log.LogError(wctx, "could not record failure", err, "code", string(code))
	}
	return cause
}
