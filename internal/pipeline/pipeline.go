// Package pipeline assembles a narrated presentation video: it validates a
// timeline against a slide deck and a narration clip, renders one
// side-by-side fragment per segment through the transcoder, concatenates the
// fragments in timeline order and removes every intermediate file it created
// on every exit path.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/planner"
	"github.com/DrPeryCox/pres-gen-new/internal/timeline"
	"github.com/DrPeryCox/pres-gen-new/internal/transcode"
)

const op = "pipeline.Run"

// pagesDir holds the rasterized deck inside a job working directory.
const pagesDir = "pages"

// Media is the set of external operations a run needs.
// *transcode.Transcoder implements it.
type Media interface {
	RasterizePages(ctx context.Context, documentPath, outputDir string) ([]string, error)
	TrimClip(ctx context.Context, input string, start, end float64, output string) error
	ImageToClip(ctx context.Context, image string, duration float64, output string) error
	ResizeClip(ctx context.Context, input, output string) error
	ComposeSideBySide(ctx context.Context, left, right, output string) error
	ConcatClips(ctx context.Context, clips []string, manifestPath, output string) error
	Duration(ctx context.Context, path string) (float64, error)
}

// PageCounter reports the number of pages of a document.
type PageCounter interface {
	PageCount(path string) (int, error)
}

// PageCounterFunc adapts a function to PageCounter.
type PageCounterFunc func(path string) (int, error)

func (f PageCounterFunc) PageCount(path string) (int, error) { return f(path) }

// Config is fixed for the lifetime of an Orchestrator.
type Config struct {
	// WorkRoot is the parent of every per-job working directory.
	WorkRoot string
	// RemoveSources deletes the timeline, deck and narration files once the
	// run is over, whatever the outcome.
	RemoveSources bool
	// CheckNarrationSpan probes the narration and rejects it when it ends
	// before the latest segment does.
	CheckNarrationSpan bool
	// NarrationTolerance is the shortfall, in seconds, the span check accepts.
	NarrationTolerance float64
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig(workRoot string) Config {
	return Config{
		WorkRoot:           workRoot,
		CheckNarrationSpan: true,
		NarrationTolerance: 0.05,
	}
}

// Phase names the step a run is in.
type Phase string

const (
	PhaseValidating    Phase = "validating"
	PhaseRasterizing   Phase = "rasterizing"
	PhaseComposing     Phase = "composing"
	PhaseConcatenating Phase = "concatenating"
	PhaseCleanup       Phase = "cleanup"
)

// Request describes one run.
type Request struct {
	JobID         string
	TimelinePath  string
	DeckPath      string
	NarrationPath string
	// OutputPath receives the final video. It is never removed after a
	// successful run.
	OutputPath string
	// Progress, when set, is called on every phase change. segment is the
	// 0-based segment being composed, or -1 outside PhaseComposing.
	Progress func(phase Phase, segment, total int)
}

func (r Request) validate() error {
	id := strings.TrimSpace(r.JobID)
	if id == "" {
		return errors.ValidationField("job_id", "job id is required")
	}
	if id != filepath.Base(id) || id == "." || id == ".." {
		return errors.ValidationField("job_id", "job id must be a single path element")
	}
	for field, v := range map[string]string{
		"timeline_path":  r.TimelinePath,
		"deck_path":      r.DeckPath,
		"narration_path": r.NarrationPath,
		"output_path":    r.OutputPath,
	} {
		if strings.TrimSpace(v) == "" {
			return errors.ValidationField(field, field+" is required")
		}
	}
	return nil
}

func (r Request) report(phase Phase, segment, total int) {
	if r.Progress != nil {
		r.Progress(phase, segment, total)
	}
}

// Result describes a successful run.
type Result struct {
	JobID      string
	OutputPath string
	Segments   int
	// Duration is the length of the assembled video in seconds.
	Duration float64
	Elapsed  time.Duration
}

// Orchestrator runs assembly jobs. It holds no per-run state and is safe for
// concurrent use as long as job IDs differ.
type Orchestrator struct {
	cfg   Config
	media Media
	pages PageCounter
	log   *logger.Logger
}

// New returns an Orchestrator.
func New(cfg Config, media Media, pages PageCounter, log *logger.Logger) *Orchestrator {
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = filepath.Join(os.TempDir(), "presgen")
	}
	return &Orchestrator{
		cfg:   cfg,
		media: media,
		pages: pages,
		log:   log.WithComponent("pipeline"),
	}
}

// WorkDir returns the working directory of jobID.
func (o *Orchestrator) WorkDir(jobID string) string {
	return filepath.Join(o.cfg.WorkRoot, jobID)
}

// Run executes the whole assembly for req. Validation problems are returned
// before any file is created. Intermediate files, and the output on failure,
// are removed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res Result, err error) {
	started := time.Now()
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	log := o.log.WithJobID(req.JobID)
	workDir := o.WorkDir(req.JobID)
	arts := newArtifacts()
	workDirCreated := false
	total := 0

	defer func() {
		req.report(PhaseCleanup, -1, total)
		removed := arts.release(log)
		if o.cfg.RemoveSources {
			removeSources(log, req)
		}
		if workDirCreated {
			// Only succeeds when nothing else lives in the directory.
			if rmErr := os.Remove(workDir); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Debug("working directory kept", "dir", workDir, "reason", rmErr.Error())
			}
		}
		if err != nil {
			log.Warn("assembly failed", "error", err.Error(), "removed_artifacts", removed)
			return
		}
		log.Info("assembly finished",
			"output", req.OutputPath,
			"segments", res.Segments,
			"video_seconds", res.Duration,
			"removed_artifacts", removed,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}()

	req.report(PhaseValidating, -1, 0)
	segments, err := o.validate(ctx, req, log)
	if err != nil {
		return Result{}, err
	}
	total = len(segments)

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Result{}, errors.Wrap(err, op, "create working directory")
	}
	workDirCreated = true
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return Result{}, errors.Wrap(err, op, "create output directory")
	}

	req.report(PhaseRasterizing, -1, total)
	rasterDir := filepath.Join(workDir, pagesDir)
	arts.track(rasterDir)
	images, err := o.media.RasterizePages(ctx, req.DeckPath, rasterDir)
	if err != nil {
		return Result{}, stageFailure(-1, transcode.OpRasterize, err)
	}
	arts.track(images...)

	jobs, err := planner.Plan(segments, images, workDir)
	if err != nil {
		return Result{}, errors.Wrap(err, op, "plan segments")
	}

	for _, job := range jobs {
		req.report(PhaseComposing, job.Index, total)
		if err := o.runSegment(ctx, job, req.NarrationPath, arts, log); err != nil {
			return Result{}, err
		}
	}

	req.report(PhaseConcatenating, -1, total)
	manifest := planner.ManifestPath(workDir)
	arts.track(manifest, req.OutputPath)
	if err := o.media.ConcatClips(ctx, planner.Fragments(jobs), manifest, req.OutputPath); err != nil {
		return Result{}, stageFailure(-1, transcode.OpConcat, err)
	}
	arts.forget(req.OutputPath)

	return Result{
		JobID:      req.JobID,
		OutputPath: req.OutputPath,
		Segments:   total,
		Duration:   timeline.TotalDuration(segments),
		Elapsed:    time.Since(started),
	}, nil
}

// validate checks the sources against each other. It never touches the
// working directory.
func (o *Orchestrator) validate(ctx context.Context, req Request, log *logger.Logger) ([]timeline.Segment, error) {
	segments, err := timeline.Load(req.TimelinePath)
	if err != nil {
		return nil, err
	}

	pages, err := o.pages.PageCount(req.DeckPath)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, op, "cannot read presentation document")
	}
	if pages != len(segments) {
		return nil, errors.Validationf("timeline has %d segments but presentation has %d pages", len(segments), pages).
			WithField("segments", len(segments)).
			WithField("pages", pages)
	}

	if o.cfg.CheckNarrationSpan {
		if err := o.checkNarration(ctx, req.NarrationPath, segments, log); err != nil {
			return nil, err
		}
	}

	log.Debug("sources validated", "segments", len(segments), "pages", pages)
	return segments, nil
}

func (o *Orchestrator) checkNarration(ctx context.Context, path string, segments []timeline.Segment, log *logger.Logger) error {
	have, err := o.media.Duration(ctx, path)
	if err != nil {
		if rejectedByTool(ctx, err) {
			return errors.WrapWithCode(err, errors.CodeValidation, op, "narration clip is not a readable media file").
				WithField("field", "narration_path")
		}
		return stageFailure(-1, transcode.OpProbe, err)
	}
	need := timeline.Span(segments)
	if have <= 0 {
		log.Warn("narration duration unknown, span check skipped", "required_seconds", need)
		return nil
	}
	if have+o.cfg.NarrationTolerance < need {
		return errors.Validationf("narration is %.2fs long but the timeline needs %.2fs", have, need).
			WithField("narration_seconds", have).
			WithField("required_seconds", need)
	}
	return nil
}

// runSegment renders one fragment: trim the narration, render the slide,
// resize the narration and stack both.
func (o *Orchestrator) runSegment(ctx context.Context, job planner.SegmentJob, narration string, arts *artifacts, log *logger.Logger) error {
	segLog := log.WithSegment(job.Index)
	segLog.Info("composing segment",
		"title", job.Title,
		"start", job.Start,
		"end", job.End,
	)

	arts.track(job.Artifacts()...)

	if err := o.media.TrimClip(ctx, narration, job.Start, job.End, job.TrimmedClip); err != nil {
		return stageFailure(job.Index, transcode.OpTrim, err)
	}
	if err := o.media.ImageToClip(ctx, job.SlideImage, job.Duration, job.SlideClip); err != nil {
		return stageFailure(job.Index, transcode.OpSlide, err)
	}
	if err := o.media.ResizeClip(ctx, job.TrimmedClip, job.ResizedClip); err != nil {
		return stageFailure(job.Index, transcode.OpResize, err)
	}
	if err := o.media.ComposeSideBySide(ctx, job.SlideClip, job.ResizedClip, job.Fragment); err != nil {
		return stageFailure(job.Index, transcode.OpCompose, err)
	}
	return nil
}

// stageFailure wraps a media error with the stage and segment it came from.
// Cancellation is reported as a timeout rather than a transcode failure.
// rejectedByTool reports a media tool that ran and exited non-zero on its
// own, as opposed to one that could not start or was cancelled.
func rejectedByTool(ctx context.Context, err error) bool {
	var terr *transcode.Error
	return ctx.Err() == nil && errors.As(err, &terr) && terr.ExitStatus > 0
}

func stageFailure(segment int, stage string, err error) error {
	se := &StageError{Segment: segment, Stage: stage, Err: err}

	var e *errors.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e = errors.WrapWithCode(se, errors.CodeTimeout, op, fmt.Sprintf("%s stage interrupted", stage)).
			WithField("stage", stage)
	} else {
		e = errors.Transcode(se, op, stage)
	}
	if segment >= 0 {
		e.WithField("segment", segment)
	}
	var terr *transcode.Error
	if errors.As(err, &terr) {
		e.WithField("exit_status", terr.ExitStatus)
	}
	return e
}

func removeSources(log *logger.Logger, req Request) {
	for _, p := range []string{req.TimelinePath, req.DeckPath, req.NarrationPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("could not remove source", "path", p, "error", err.Error())
		}
	}
}
