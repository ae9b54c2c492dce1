package worker

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
	"github.com/DrPeryCox/pres-gen-new/internal/worker/processor"
)

type Deps struct {
	Store     jobs.Store
	RDB       *redis.Client
	QueueName string
	SP        ports.StorageProvider
	Assembler processor.Assembler

	WorkRoot    string
	KeepSources bool
	// JobTimeout bounds one job from materialization to upload.
	JobTimeout time.Duration
	PopTimeout time.Duration
	// StaleMaxAge and SweepInterval drive the working directory janitor.
	// A zero StaleMaxAge disables it.
	StaleMaxAge   time.Duration
	SweepInterval time.Duration

	// WorkerID marks the jobs this worker runs; empty means
	// jobs.DefaultWorkerID(). A RUNNING job whose heartbeat is older than
	// Lease is failed by whichever worker notices first. A zero Lease
	// disables renewal and only this worker's own jobs are recovered.
	WorkerID string
	Lease    time.Duration

	Log *logger.Logger
}
