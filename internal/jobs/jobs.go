// Package jobs records the lifecycle of video assembly jobs.
package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
)

// Status is the coarse state of a job.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
	// StatusCleaned marks a finished job whose video has been deleted.
	StatusCleaned Status = "CLEANED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusDone, StatusFailed, StatusCleaned:
		return true
	}
	return false
}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", errors.ValidationField("status", "unknown status "+s)
	}
	return st, nil
}

// MaxErrorText bounds the stored failure description.
const MaxErrorText = 2000

// Failure texts of jobs recovered by MarkInterrupted: InterruptedText when
// the owning worker restarted, LeaseExpiredText when its heartbeat stopped.
const (
	InterruptedText  = "interrupted by restart"
	LeaseExpiredText = "worker lease expired"
)

// Sources are the storage object keys of a job's inputs.
type Sources struct {
	TimelineKey  string `json:"timeline_key"`
	DeckKey      string `json:"deck_key"`
	NarrationKey string `json:"narration_key"`
}

// Keys lists the non-empty keys.
func (s Sources) Keys() []string {
	var out []string
	for _, k := range []string{s.TimelineKey, s.DeckKey, s.NarrationKey} {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Job is one assembly request.
type Job struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Phase      string     `json:"phase,omitempty"`
	Sources    Sources    `json:"-"`
	ResultKey  string     `json:"-"`
	ResultName string     `json:"result_name,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
	ErrorText  string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// WorkerID owns a RUNNING job; HeartbeatAt is its last lease renewal.
	WorkerID    string     `json:"-"`
	HeartbeatAt *time.Time `json:"-"`
}

// Terminal reports whether the job will not change any more on its own.
func (j *Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed || j.Status == StatusCleaned
}

// ListFilter narrows List. A zero Limit means DefaultListLimit.
type ListFilter struct {
	Status Status
	Limit  int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Store persists jobs. Implementations are safe for concurrent use.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter ListFilter) ([]Job, error)

	// MarkRunning moves a QUEUED job to RUNNING owned by workerID. It
	// returns a conflict error for any other state so a job popped twice
	// only runs once.
	MarkRunning(ctx context.Context, id, workerID string) error
	// Heartbeat renews workerID's lease. It returns a conflict error once
	// the job is no longer RUNNING under workerID.
	Heartbeat(ctx context.Context, id, workerID string) error
	UpdatePhase(ctx context.Context, id, phase string) error
	// MarkDone moves a RUNNING job to DONE.
	MarkDone(ctx context.Context, id, resultKey, resultName string) error
	// MarkFailed fails a QUEUED or RUNNING job. A finished job is left as
	// it is and a conflict error is returned.
	MarkFailed(ctx context.Context, id, code, text string) error
	// MarkCleaned moves a DONE job to CLEANED and returns it as it was
	// before the change.
	MarkCleaned(ctx context.Context, id string) (*Job, error)
	// MarkInterrupted fails the RUNNING jobs owned by workerID and those
	// whose last heartbeat is older than staleBefore. Jobs other workers
	// keep renewing are not touched. It returns how many jobs it changed.
	MarkInterrupted(ctx context.Context, workerID string, staleBefore time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

func notFound(id string) error {
	return errors.NotFound("job", id)
}

func clipError(text string) string {
	if len(text) > MaxErrorText {
		return text[:MaxErrorText]
	}
	return text
}
