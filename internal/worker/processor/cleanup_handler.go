package processor

import (
	"context"
	"os"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
)

type Cleanup struct {
	sp          ports.StorageProvider
	keepSources bool
	log         *logger.Logger
}

func NewCleanup(sp ports.StorageProvider, keepSources bool, log *logger.Logger) *Cleanup {
	return &Cleanup{sp: sp, keepSources: keepSources, log: log}
}

// CleanupJob removes the local job directory and, unless sources are kept,
// the uploaded source objects. It runs whatever the job outcome was and only
// logs failures.
func (c *Cleanup) CleanupJob(ctx context.Context, job *jobs.Job, jobDir string) {
	log := c.log.WithJobID(job.ID)

	if err := os.RemoveAll(jobDir); err != nil {
		log.Warn("could not remove job directory", "dir", jobDir, "error", err.Error())
	}

	if c.keepSources {
		return
	}
	dctx, cancel := detached(ctx)
	defer cancel()
	start := time.Now()
	removed := 0
	for _, key := range job.Sources.Keys() {
		if err := c.sp.DeleteObject(dctx, key); err != nil {
			log.Warn("could not delete source object", "key", key, "error", err.Error())
			continue
		}
		removed++
	}
	log.Debug("sources deleted", "count", removed, "duration_ms", time.Since(start).Milliseconds())
}
