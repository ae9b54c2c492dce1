// Package transcode wraps every external media operation the assembly
// pipeline needs (page rasterization, clip trimming, still-to-clip rendering,
// scaling, side-by-side composition and concatenation) as one typed call over
// an Invoker. Nothing here retries.
package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

// Operation names. They double as pipeline stage names.
const (
	OpRasterize = "rasterize"
	OpTrim      = "trim"
	OpSlide     = "slide"
	OpResize    = "resize"
	OpCompose   = "compose"
	OpConcat    = "concat"
	OpProbe     = "probe"
)

const pagePrefix = "page"

// Options holds the binaries and the frame geometry.
type Options struct {
	FFmpeg   string
	FFprobe  string
	Pdftoppm string

	RasterDPI int

	// SlideWidth x SlideHeight is the frame of a rendered slide clip.
	SlideWidth  int
	SlideHeight int
	// SpeakerWidth x SpeakerHeight is the frame of the resized narration.
	SpeakerWidth  int
	SpeakerHeight int

	VideoCodec string
	AudioCodec string
}

// DefaultOptions returns the 1080x1080 slide / 840x1080 speaker layout
// encoded with libx264 and aac.
func DefaultOptions() Options {
	return Options{
		FFmpeg:        "ffmpeg",
		FFprobe:       "ffprobe",
		Pdftoppm:      "pdftoppm",
		RasterDPI:     150,
		SlideWidth:    1080,
		SlideHeight:   1080,
		SpeakerWidth:  840,
		SpeakerHeight: 1080,
		VideoCodec:    "libx264",
		AudioCodec:    "aac",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FFmpeg == "" {
		o.FFmpeg = d.FFmpeg
	}
	if o.FFprobe == "" {
		o.FFprobe = d.FFprobe
	}
	if o.Pdftoppm == "" {
		o.Pdftoppm = d.Pdftoppm
	}
	if o.RasterDPI <= 0 {
		o.RasterDPI = d.RasterDPI
	}
	if o.SlideWidth <= 0 || o.SlideHeight <= 0 {
		o.SlideWidth, o.SlideHeight = d.SlideWidth, d.SlideHeight
	}
	if o.SpeakerWidth <= 0 || o.SpeakerHeight <= 0 {
		o.SpeakerWidth, o.SpeakerHeight = d.SpeakerWidth, d.SpeakerHeight
	}
	if o.VideoCodec == "" {
		o.VideoCodec = d.VideoCodec
	}
	if o.AudioCodec == "" {
		o.AudioCodec = d.AudioCodec
	}
	return o
}

// Transcoder exposes the media operations.
type Transcoder struct {
	inv  Invoker
	opts Options
	log  *logger.Logger
}

// New returns a Transcoder that runs every operation through inv.
func New(inv Invoker, opts Options, log *logger.Logger) *Transcoder {
	return &Transcoder{
		inv:  inv,
		opts: opts.withDefaults(),
		log:  log.WithComponent("transcode"),
	}
}

// Options returns the effective options.
func (t *Transcoder) Options() Options {
	return t.opts
}

// RasterizePages renders every page of documentPath to a PNG in outputDir and
// returns the images in page order, named slide-01.png, slide-02.png, ...
func (t *Transcoder) RasterizePages(ctx context.Context, documentPath, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, &Error{Op: OpRasterize, Err: err}
	}

	args := []string{
		"-png",
		"-r", strconv.Itoa(t.opts.RasterDPI),
		documentPath,
		filepath.Join(outputDir, pagePrefix),
	}
	out, err := t.run(ctx, OpRasterize, t.opts.Pdftoppm, args)
	if err != nil {
		return nil, err
	}

	pages, err := collectPages(outputDir)
	if err != nil {
		return nil, &Error{Op: OpRasterize, Stderr: out.Stderr, Err: err}
	}
	if len(pages) == 0 {
		return nil, &Error{Op: OpRasterize, Stderr: out.Stderr, Err: fmt.Errorf("no page images produced for %s", filepath.Base(documentPath))}
	}

	images := make([]string, 0, len(pages))
	for _, p := range pages {
		name := filepath.Join(outputDir, fmt.Sprintf("slide-%02d.png", p.number))
		if err := os.Rename(p.path, name); err != nil {
			return images, &Error{Op: OpRasterize, Err: err}
		}
		images = append(images, name)
	}
	return images, nil
}

// TrimClip cuts [start, end) seconds out of input.
func (t *Transcoder) TrimClip(ctx context.Context, input string, start, end float64, output string) error {
	args := []string{
		"-ss", seconds(start),
		"-to", seconds(end),
		"-i", input,
		"-hide_banner",
		"-c:v", t.opts.VideoCodec,
		"-c:a", t.opts.AudioCodec,
		"-y", output,
	}
	return t.ffmpeg(ctx, OpTrim, args, output)
}

// ImageToClip loops a still image for duration seconds at the slide frame
// size.
func (t *Transcoder) ImageToClip(ctx context.Context, image string, duration float64, output string) error {
	args := []string{
		"-loop", "1",
		"-i", image,
		"-hide_banner",
		"-t", seconds(duration),
		"-vf", scale(t.opts.SlideWidth, t.opts.SlideHeight),
		"-c:v", t.opts.VideoCodec,
		"-y", output,
	}
	return t.ffmpeg(ctx, OpSlide, args, output)
}

// ResizeClip scales input to the speaker frame size.
func (t *Transcoder) ResizeClip(ctx context.Context, input, output string) error {
	args := []string{
		"-i", input,
		"-hide_banner",
		"-vf", scale(t.opts.SpeakerWidth, t.opts.SpeakerHeight),
		"-c:v", t.opts.VideoCodec,
		"-c:a", t.opts.AudioCodec,
		"-y", output,
	}
	return t.ffmpeg(ctx, OpResize, args, output)
}

// ComposeSideBySide stacks left and right horizontally. Audio comes from the
// right clip only and may be absent.
func (t *Transcoder) ComposeSideBySide(ctx context.Context, left, right, output string) error {
	args := []string{
		"-i", left,
		"-i", right,
		"-hide_banner",
		"-filter_complex", "[0:v][1:v]hstack=inputs=2[v]",
		"-map", "[v]",
		"-map", "1:a?",
		"-c:v", t.opts.VideoCodec,
		"-c:a", t.opts.AudioCodec,
		"-pix_fmt", "yuv420p",
		"-y", output,
	}
	return t.ffmpeg(ctx, OpCompose, args, output)
}

// ConcatClips writes the ordered manifest for clips to manifestPath and joins
// the clips into output without re-encoding.
func (t *Transcoder) ConcatClips(ctx context.Context, clips []string, manifestPath, output string) error {
	if len(clips) == 0 {
		return &Error{Op: OpConcat, Err: fmt.Errorf("no clips to concatenate")}
	}
	if err := WriteManifest(manifestPath, clips); err != nil {
		return &Error{Op: OpConcat, Err: err}
	}
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-hide_banner",
		"-c", "copy",
		"-y", output,
	}
	return t.ffmpeg(ctx, OpConcat, args, output)
}

func (t *Transcoder) ffmpeg(ctx context.Context, op string, args []string, output string) error {
	if _, err := t.run(ctx, op, t.opts.FFmpeg, args); err != nil {
		return err
	}
	return checkOutput(op, output)
}

func (t *Transcoder) run(ctx context.Context, op, binary string, args []string) (Outcome, error) {
	out, err := t.inv.Invoke(ctx, Invocation{Op: op, Binary: binary, Args: args})
	if err != nil || out.ExitStatus != 0 {
		return out, &Error{Op: op, ExitStatus: out.ExitStatus, Stderr: out.Stderr, Err: err}
	}
	t.log.Debug("media operation finished", "op", op, "duration_ms", out.Duration.Milliseconds())
	return out, nil
}

// checkOutput confirms a successful exit actually left a non-empty file.
func checkOutput(op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("output %s missing: %w", filepath.Base(path), err)}
	}
	if info.Size() == 0 {
		return &Error{Op: op, Err: fmt.Errorf("output %s is empty", filepath.Base(path))}
	}
	return nil
}

type page struct {
	number int
	path   string
}

// collectPages finds pdftoppm output (page-1.png or page-01.png, padding
// depends on the page count) and orders it by page number.
func collectPages(dir string) ([]page, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var pages []page
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, pagePrefix+"-") || !strings.HasSuffix(name, ".png") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, pagePrefix+"-"), ".png"))
		if err != nil || n <= 0 {
			continue
		}
		pages = append(pages, page{number: n, path: filepath.Join(dir, name)})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })
	return pages, nil
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func scale(w, h int) string {
	return fmt.Sprintf("scale=%d:%d", w, h)
}
