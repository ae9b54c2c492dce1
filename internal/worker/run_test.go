package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/DrPeryCox/pres-gen-new/internal/adapters/storage/localfs"
	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pipeline"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
)

type writingAssembler struct{}

func (writingAssembler) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return pipeline.Result{}, err
	}
	if err := os.WriteFile(req.OutputPath, []byte("video"), 0o644); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{JobID: req.JobID, OutputPath: req.OutputPath, Segments: 1}, nil
}

func TestRunProcessesQueuedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := t.TempDir()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store, err := jobs.OpenSQLite(ctx, filepath.Join(root, "jobs.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer store.Close()

	// A job left RUNNING by an earlier run of this worker, and one another
	// worker is still processing.
	stale := &jobs.Job{ID: jobs.NewID()}
	live := &jobs.Job{ID: jobs.NewID()}
	for _, j := range []*jobs.Job{stale, live} {
		if err := store.Create(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.MarkRunning(ctx, stale.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkRunning(ctx, live.ID, "worker-2"); err != nil {
		t.Fatal(err)
	}

	sp := localfs.New(filepath.Join(root, "objects"))
	id := jobs.NewID()
	src := jobs.Sources{
		TimelineKey:  jobs.UploadKey(id, jobs.FieldTimeline, "t.json"),
		DeckKey:      jobs.UploadKey(id, jobs.FieldPresentation, "d.pdf"),
		NarrationKey: jobs.UploadKey(id, jobs.FieldVideo, "n.mp4"),
	}
	for _, key := range src.Keys() {
		if _, err := sp.PutObject(ctx, ports.PutObjectInput{ObjectKey: key, Reader: strings.NewReader("x"), Size: 1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Create(ctx, &jobs.Job{ID: id, Sources: src}); err != nil {
		t.Fatal(err)
	}
	if err := rdb.LPush(ctx, "test:jobs", id).Err(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Deps{
			Store:         store,
			RDB:           rdb,
			QueueName:     "test:jobs",
			SP:            sp,
			Assembler:     writingAssembler{},
			WorkRoot:      filepath.Join(root, "work"),
			JobTimeout:    time.Minute,
			PopTimeout:    time.Second,
			StaleMaxAge:   time.Hour,
			SweepInterval: time.Hour,
			WorkerID:      "worker-1",
			Lease:         time.Minute,
			Log:           logger.NewNop(),
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status == jobs.StatusDone {
			break
		}
		if job.Status == jobs.StatusFailed {
			t.Fatalf("job failed: %s %s", job.ErrorCode, job.ErrorText)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s", job.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	got, _ := store.Get(context.Background(), stale.ID)
	if got.Status != jobs.StatusFailed || got.ErrorText != jobs.InterruptedText {
		t.Errorf("interrupted job = %s %q", got.Status, got.ErrorText)
	}
	got, _ = store.Get(context.Background(), live.ID)
	if got.Status != jobs.StatusRunning {
		t.Errorf("job of a live worker = %s %q, want RUNNING", got.Status, got.ErrorText)
	}
	processed, _ := store.Get(context.Background(), id)
	if processed.WorkerID != "worker-1" {
		t.Errorf("processed job owner = %q", processed.WorkerID)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
