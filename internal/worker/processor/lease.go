package processor

import (
	"context"
	"sync"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
)

// errLeaseLost is the cancellation cause of a job whose lease was taken
// over. The new owner has already recorded the outcome.
var errLeaseLost = errors.New(errors.CodeConflict, "job lease lost to another worker")

// holdLease renews the job's lease every third of p.lease until release is
// called. The returned context is cancelled with errLeaseLost when the store
// reports that the job is no longer RUNNING under this worker.
func (p *Processor) holdLease(ctx context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if p.lease <= 0 {
		return ctx, func() { cancel(nil) }
	}
	log := p.log.FromContext(ctx).WithJobID(jobID)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := p.store.Heartbeat(ctx, jobID, p.workerID)
			switch {
			case err == nil:
			case errors.IsConflict(err):
				log.Warn("job lease lost, abandoning job", "worker_id", p.workerID)
				cancel(errLeaseLost)
				return
			case ctx.Err() == nil:
				log.Warn("could not renew job lease", "error", err.Error())
			}
		}
	}()

	return ctx, func() {
		close(stop)
		wg.Wait()
		cancel(nil)
	}
}

func leaseLost(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errLeaseLost)
}

// detached outlives ctx so an outcome can still be written after the job
// context ended.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
}
