package processor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/adapters/storage/localfs"
	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pipeline"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
)

type fakeAssembler struct {
	mu   sync.Mutex
	reqs []pipeline.Request
	err  error
}

func (f *fakeAssembler) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.err != nil {
		return pipeline.Result{}, f.err
	}
	for _, p := range []string{req.TimelinePath, req.DeckPath, req.NarrationPath} {
		if _, err := os.Stat(p); err != nil {
			return pipeline.Result{}, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return pipeline.Result{}, err
	}
	if err := os.WriteFile(req.OutputPath, []byte("video"), 0o644); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{JobID: req.JobID, OutputPath: req.OutputPath, Segments: 2, Duration: 10}, nil
}

type fixture struct {
	store    *jobs.SQLiteStore
	sp       ports.StorageProvider
	asm      *fakeAssembler
	workRoot string
	job      *jobs.Job
}

func newFixture(t *testing.T, keepSources bool) (*fixture, *Processor) {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	store, err := jobs.OpenSQLite(ctx, filepath.Join(root, "jobs.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sp := localfs.New(filepath.Join(root, "objects"))
	id := jobs.NewID()
	src := jobs.Sources{
		TimelineKey:  jobs.UploadKey(id, jobs.FieldTimeline, "timeline.json"),
		DeckKey:      jobs.UploadKey(id, jobs.FieldPresentation, "deck.pdf"),
		NarrationKey: jobs.UploadKey(id, jobs.FieldVideo, "talk.mp4"),
	}
	for _, key := range src.Keys() {
		if _, err := sp.PutObject(ctx, ports.PutObjectInput{ObjectKey: key, Reader: strings.NewReader("data"), Size: 4}); err != nil {
			t.Fatalf("PutObject(%s) error = %v", key, err)
		}
	}
	job := &jobs.Job{ID: id, Sources: src}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	f := &fixture{
		store:    store,
		sp:       sp,
		asm:      &fakeAssembler{},
		workRoot: filepath.Join(root, "work"),
		job:      job,
	}
	p := f.processor(func(d *Deps) { d.KeepSources = keepSources })
	return f, p
}

// processor builds a Processor over the fixture; edit adjusts its Deps.
func (f *fixture) processor(edit func(*Deps)) *Processor {
	d := Deps{
		Store:     f.store,
		SP:        f.sp,
		Assembler: f.asm,
		WorkRoot:  f.workRoot,
		WorkerID:  "worker-test",
		Log:       logger.NewNop(),
	}
	if edit != nil {
		edit(&d)
	}
	return New(d)
}

func (f *fixture) objectExists(t *testing.T, key string) bool {
	t.Helper()
	rc, _, _, err := f.sp.GetObject(context.Background(), key)
	if err != nil {
		if errors.IsNotFound(err) {
			return false
		}
		t.Fatalf("GetObject(%s) error = %v", key, err)
	}
	rc.Close()
	return true
}

func TestProcessJobSuccess(t *testing.T) {
	f, p := newFixture(t, false)
	ctx := context.Background()

	if err := p.ProcessJob(ctx, f.job.ID); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	got, err := f.store.Get(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != jobs.StatusDone {
		t.Fatalf("status = %s, want DONE", got.Status)
	}
	if got.ResultKey != jobs.ResultKey(f.job.ID) || got.ResultName != jobs.ResultName(f.job.ID) {
		t.Errorf("result = %q %q", got.ResultKey, got.ResultName)
	}
	if got.WorkerID != "worker-test" {
		t.Errorf("owner = %q, want worker-test", got.WorkerID)
	}

	rc, _, _, err := f.sp.GetObject(ctx, got.ResultKey)
	if err != nil {
		t.Fatalf("result object missing: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "video" {
		t.Errorf("result body = %q", body)
	}

	req := f.asm.reqs[0]
	if req.JobID != f.job.ID || filepath.Base(req.OutputPath) != jobs.ResultName(f.job.ID) {
		t.Errorf("unexpected request: %+v", req)
	}
	if filepath.Ext(req.TimelinePath) != ".json" || filepath.Ext(req.DeckPath) != ".pdf" || filepath.Ext(req.NarrationPath) != ".mp4" {
		t.Errorf("inputs lost their extensions: %+v", req)
	}

	for _, key := range f.job.Sources.Keys() {
		if f.objectExists(t, key) {
			t.Errorf("source %s not deleted", key)
		}
	}
	if _, err := os.Stat(filepath.Join(f.workRoot, f.job.ID)); !os.IsNotExist(err) {
		t.Errorf("job directory left behind: %v", err)
	}
}

func TestProcessJobKeepSources(t *testing.T) {
	f, p := newFixture(t, true)

	if err := p.ProcessJob(context.Background(), f.job.ID); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}
	for _, key := range f.job.Sources.Keys() {
		if !f.objectExists(t, key) {
			t.Errorf("source %s deleted although sources are kept", key)
		}
	}
}

func TestProcessJobAssemblyFailure(t *testing.T) {
	f, p := newFixture(t, false)
	f.asm.err = errors.Validationf("timeline has %d segments but presentation has %d pages", 3, 2)
	ctx := context.Background()

	err := p.ProcessJob(ctx, f.job.ID)
	if !errors.IsValidation(err) {
		t.Fatalf("ProcessJob() error = %v, want validation error", err)
	}

	got, _ := f.store.Get(ctx, f.job.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.ErrorCode != string(errors.CodeValidation) {
		t.Errorf("error code = %q", got.ErrorCode)
	}
	if !strings.Contains(got.ErrorText, "3 segments") {
		t.Errorf("error text = %q", got.ErrorText)
	}
	for _, key := range f.job.Sources.Keys() {
		if f.objectExists(t, key) {
			t.Errorf("source %s not deleted after failure", key)
		}
	}
	if _, err := os.Stat(filepath.Join(f.workRoot, f.job.ID)); !os.IsNotExist(err) {
		t.Errorf("job directory left behind: %v", err)
	}
}

func TestProcessJobMissingSource(t *testing.T) {
	f, p := newFixture(t, false)
	ctx := context.Background()
	if err := f.sp.DeleteObject(ctx, f.job.Sources.DeckKey); err != nil {
		t.Fatal(err)
	}

	if err := p.ProcessJob(ctx, f.job.ID); err == nil {
		t.Fatal("expected error")
	}
	got, _ := f.store.Get(ctx, f.job.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if len(f.asm.reqs) != 0 {
		t.Error("assembler ran without inputs")
	}
}

func TestProcessJobRecordsPhases(t *testing.T) {
	f, p := newFixture(t, true)
	ctx := context.Background()
	rec := &phaseRecorder{store: f.store, inner: f.asm}
	p.pipelineAdapter.assembler = rec

	if err := p.ProcessJob(ctx, f.job.ID); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}
	want := []string{"validating", "composing"}
	if strings.Join(rec.seen, ",") != strings.Join(want, ",") {
		t.Errorf("stored phases = %v, want %v", rec.seen, want)
	}
}

// phaseRecorder reports phases and reads each one back from the store.
type phaseRecorder struct {
	store jobs.Store
	inner Assembler
	seen  []string
}

func (r *phaseRecorder) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	for _, ph := range []pipeline.Phase{pipeline.PhaseValidating, pipeline.PhaseComposing, pipeline.PhaseComposing} {
		req.Progress(ph, 0, 2)
		job, err := r.store.Get(ctx, req.JobID)
		if err != nil {
			return pipeline.Result{}, err
		}
		if n := len(r.seen); n == 0 || r.seen[n-1] != job.Phase {
			r.seen = append(r.seen, job.Phase)
		}
	}
	return r.inner.Run(ctx, req)
}

func TestProcessJobCanceledIsTimeout(t *testing.T) {
	f, p := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	f.asm.err = errors.Transcode(context.Canceled, "pipeline.Run", "trim")
	p.pipelineAdapter.assembler = &cancelingAssembler{inner: f.asm, cancel: cancel}

	if err := p.ProcessJob(ctx, f.job.ID); err == nil {
		t.Fatal("expected error")
	}
	got, _ := f.store.Get(context.Background(), f.job.ID)
	if got.Status != jobs.StatusFailed || got.ErrorCode != string(errors.CodeTimeout) {
		t.Fatalf("job = %s %s, want FAILED TIMEOUT", got.Status, got.ErrorCode)
	}
}

// cancelingAssembler cancels the job context once the job is running.
type cancelingAssembler struct {
	inner  Assembler
	cancel context.CancelFunc
}

func (c *cancelingAssembler) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	c.cancel()
	return c.inner.Run(ctx, req)
}

func TestProcessJobSkipsNonQueued(t *testing.T) {
	f, p := newFixture(t, false)
	ctx := context.Background()
	if err := f.store.MarkRunning(ctx, f.job.ID, "other-worker"); err != nil {
		t.Fatal(err)
	}

	if err := p.ProcessJob(ctx, f.job.ID); err != nil {
		t.Fatalf("ProcessJob() error = %v, want nil for a job already taken", err)
	}
	if len(f.asm.reqs) != 0 {
		t.Error("assembler ran for a job that was not queued")
	}
	for _, key := range f.job.Sources.Keys() {
		if !f.objectExists(t, key) {
			t.Errorf("source %s deleted for a skipped job", key)
		}
	}
}

func TestProcessJobUnknown(t *testing.T) {
	_, p := newFixture(t, false)
	if err := p.ProcessJob(context.Background(), "missing"); !errors.IsNotFound(err) {
		t.Fatalf("ProcessJob() error = %v, want not found", err)
	}
}

func TestExtFromMime(t *testing.T) {
	tests := map[string]string{
		"application/json":         ".json",
		"application/pdf":          ".pdf",
		"video/mp4":                ".mp4",
		"Video/QuickTime":          ".mov",
		"video/webm; codecs=vp9":   ".webm",
		"application/octet-stream": "",
		"":                         "",
	}
	for in, want := range tests {
		if got := ExtFromMime(in); got != want {
			t.Errorf("ExtFromMime(%q) = %q, want %q", in, got, want)
		}
	}
}

// takeoverAssembler simulates another worker expiring the job's lease while
// it runs, then behaves like inner.
type takeoverAssembler struct {
	store jobs.Store
	inner Assembler
	// waitForCancel blocks until the job context ends and reports why.
	waitForCancel bool
	cause         error
}

func (a *takeoverAssembler) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	if _, err := a.store.MarkInterrupted(ctx, "other-worker", time.Now().Add(time.Hour)); err != nil {
		return pipeline.Result{}, err
	}
	if a.waitForCancel {
		select {
		case <-ctx.Done():
			a.cause = context.Cause(ctx)
			return pipeline.Result{}, errors.Transcode(ctx.Err(), "pipeline.Run", "compose")
		case <-time.After(5 * time.Second):
			return pipeline.Result{}, errors.Internal("job context was not cancelled")
		}
	}
	return a.inner.Run(ctx, req)
}

func TestProcessJobLeaseLost(t *testing.T) {
	f, _ := newFixture(t, false)
	asm := &takeoverAssembler{store: f.store, inner: f.asm, waitForCancel: true}
	p := f.processor(func(d *Deps) {
		d.Assembler = asm
		d.Lease = 30 * time.Millisecond
	})
	ctx := context.Background()

	if err := p.ProcessJob(ctx, f.job.ID); err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(asm.cause, errLeaseLost) {
		t.Errorf("job context cause = %v, want lease lost", asm.cause)
	}
	got, _ := f.store.Get(ctx, f.job.ID)
	if got.Status != jobs.StatusFailed || got.ErrorText != jobs.LeaseExpiredText {
		t.Errorf("the failure recorded by the new owner was overwritten: %s %s %q", got.Status, got.ErrorCode, got.ErrorText)
	}
}

func TestProcessJobResultDiscardedWhenJobTakenOver(t *testing.T) {
	f, _ := newFixture(t, false)
	p := f.processor(func(d *Deps) {
		d.Assembler = &takeoverAssembler{store: f.store, inner: f.asm}
	})
	ctx := context.Background()

	err := p.ProcessJob(ctx, f.job.ID)
	if !errors.IsConflict(err) {
		t.Fatalf("ProcessJob() error = %v, want conflict", err)
	}
	got, _ := f.store.Get(ctx, f.job.ID)
	if got.Status != jobs.StatusFailed || got.ResultKey != "" {
		t.Errorf("job = %s result %q, want FAILED without result", got.Status, got.ResultKey)
	}
	if f.objectExists(t, jobs.ResultKey(f.job.ID)) {
		t.Error("unrecorded result left in storage")
	}
}

// failingDoneStore refuses to record results.
type failingDoneStore struct {
	jobs.Store
}

func (failingDoneStore) MarkDone(context.Context, string, string, string) error {
	return errors.Internal("database is locked")
}

func TestProcessJobMarkDoneFailure(t *testing.T) {
	f, _ := newFixture(t, false)
	p := f.processor(func(d *Deps) { d.Store = failingDoneStore{Store: f.store} })
	ctx := context.Background()

	if err := p.ProcessJob(ctx, f.job.ID); err == nil {
		t.Fatal("expected error")
	}
	got, _ := f.store.Get(ctx, f.job.ID)
	if got.Status != jobs.StatusFailed || got.ErrorCode != string(errors.CodeInternal) {
		t.Errorf("job = %s %s, want FAILED INTERNAL_ERROR", got.Status, got.ErrorCode)
	}
	if !strings.Contains(got.ErrorText, "database is locked") {
		t.Errorf("error text = %q", got.ErrorText)
	}
	if f.objectExists(t, jobs.ResultKey(f.job.ID)) {
		t.Error("unrecorded result left in storage")
	}
}
