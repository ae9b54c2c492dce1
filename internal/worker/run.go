// Package worker pulls job ids off the Redis queue and processes them one at
// a time.
package worker

import (
	"context"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/janitor"
	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/worker/processor"
	"github.com/DrPeryCox/pres-gen-new/internal/worker/queue"
)

const retryDelay = time.Second

func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.WorkerID == "" {
		d.WorkerID = jobs.DefaultWorkerID()
	}
	log = log.WithComponent("worker").WithWorkerID(d.WorkerID)

	recoverOrphans(ctx, d, log)
	if d.Lease > 0 {
		go func() {
			ticker := time.NewTicker(d.Lease)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					recoverOrphans(ctx, d, log)
				}
			}
		}()
	}

	if d.StaleMaxAge > 0 {
		go janitor.New(d.WorkRoot, d.StaleMaxAge, log).Run(ctx, d.SweepInterval)
	}

	q := queue.NewRedisQueue(d.RDB, d.QueueName)
	p := processor.New(processor.Deps{
		Store:       d.Store,
		SP:          d.SP,
		Assembler:   d.Assembler,
		WorkRoot:    d.WorkRoot,
		KeepSources: d.KeepSources,
		WorkerID:    d.WorkerID,
		Lease:       d.Lease,
		Log:         log,
	})

	log.Info("worker started", "queue", q.Name(), "work_root", d.WorkRoot)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker context canceled, stopping")
			return ctx.Err()
		default:
		}

		jobID, err := q.Pop(ctx, d.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}

			log.Warn("queue pop error, retrying",
				"error", err.Error(),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			continue
		}

		if jobID == "" {
			continue
		}

		runJob(ctx, p, d.JobTimeout, jobID, log)
	}
}

// recoverOrphans fails the RUNNING jobs a previous run of this worker left
// behind and those whose owner stopped renewing the lease.
func recoverOrphans(ctx context.Context, d Deps, log *logger.Logger) {
	var staleBefore time.Time
	if d.Lease > 0 {
		staleBefore = time.Now().Add(-d.Lease)
	}
	n, err := d.Store.MarkInterrupted(ctx, d.WorkerID, staleBefore)
	switch {
	case err != nil && ctx.Err() == nil:
		log.Warn("could not fail orphaned jobs", "error", err.Error())
	case n > 0:
		log.Warn("failed orphaned jobs", "count", n)
	}
}

func runJob(ctx context.Context, p *processor.Processor, timeout time.Duration, jobID string, log *logger.Logger) {
	jobCtx := logger.ContextWithJobID(ctx, jobID)
	if timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, timeout)
		defer cancel()
	}
	jobLog := log.WithJobID(jobID)

	jobLog.Info("processing job")
	startTime := time.Now()

	if err := p.ProcessJob(jobCtx, jobID); err != nil {
		jobLog.Error("job failed",
			"error", err.Error(),
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
	} else {
		jobLog.Info("job completed",
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
	}
}
