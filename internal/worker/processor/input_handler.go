package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
)

// Inputs are the local copies of a job's sources.
type Inputs struct {
	TimelinePath  string
	DeckPath      string
	NarrationPath string
}

type InputHandler struct {
	sp ports.StorageProvider
}

func NewInputHandler(sp ports.StorageProvider) *InputHandler {
	return &InputHandler{sp: sp}
}

// Materialize downloads the three sources into dir.
func (ih *InputHandler) Materialize(ctx context.Context, dir string, src jobs.Sources) (Inputs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Inputs{}, fmt.Errorf("failed to create inputs directory: %w", err)
	}

	var in Inputs
	for _, item := range []struct {
		field string
		key   string
		dst   *string
		ext   string
	}{
		{jobs.FieldTimeline, src.TimelineKey, &in.TimelinePath, ".json"},
		{jobs.FieldPresentation, src.DeckKey, &in.DeckPath, ".pdf"},
		{jobs.FieldVideo, src.NarrationKey, &in.NarrationPath, ".mp4"},
	} {
		if item.key == "" {
			return Inputs{}, fmt.Errorf("input %s has no object key", item.field)
		}
		p, err := ih.materializeInput(ctx, dir, item.field, item.key, item.ext)
		if err != nil {
			return Inputs{}, err
		}
		*item.dst = p
	}
	return in, nil
}

func (ih *InputHandler) materializeInput(ctx context.Context, dir, field, objectKey, fallbackExt string) (string, error) {
	rc, contentType, _, err := ih.sp.GetObject(ctx, objectKey)
	if err != nil {
		return "", fmt.Errorf("download input failed input=%s key=%s: %w", field, objectKey, err)
	}
	defer rc.Close()

	ext := filepath.Ext(objectKey)
	if ext == "" {
		if ext = ExtFromMime(contentType); ext == "" {
			ext = fallbackExt
		}
	}
	localPath := filepath.Join(dir, SanitizeFilename(field)+ext)

	if err := saveToLocal(localPath, rc); err != nil {
		return "", fmt.Errorf("failed to save input locally input=%s: %w", field, err)
	}
	return localPath, nil
}

func saveToLocal(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
