package processor

import (
	"context"
	"fmt"
	"os"

	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
)

type OutputHandler struct {
	sp ports.StorageProvider
}

func NewOutputHandler(sp ports.StorageProvider) *OutputHandler {
	return &OutputHandler{sp: sp}
}

// Upload stores the final video and returns the key to read it back with.
func (oh *OutputHandler) Upload(ctx context.Context, jobID, localPath string) (string, error) {
	st, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("result file not found: %w", err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open result: %w", err)
	}
	defer f.Close()

	out, err := oh.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   jobs.ResultKey(jobID),
		ContentType: "video/mp4",
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload result: %w", err)
	}
	return out.ObjectKey, nil
}

// Discard deletes an uploaded result whose job could not be marked done.
func (oh *OutputHandler) Discard(ctx context.Context, key string, log *logger.Logger) {
	if err := oh.sp.DeleteObject(ctx, key); err != nil {
		log.Warn("could not delete unrecorded result", "key", key, "error", err.Error())
		return
	}
	log.Info("deleted unrecorded result", "key", key)
}
