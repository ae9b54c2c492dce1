// Package janitor removes job working directories left behind by a worker
// that died mid-run.
package janitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

const lockName = ".janitor.lock"

// Report summarizes one sweep.
type Report struct {
	Removed []string
	// Skipped is set when another process held the sweep lock.
	Skipped bool
}

type Janitor struct {
	root   string
	maxAge time.Duration
	log    *logger.Logger
	now    func() time.Time
}

func New(root string, maxAge time.Duration, log *logger.Logger) *Janitor {
	return &Janitor{
		root:   root,
		maxAge: maxAge,
		log:    log.WithComponent("janitor"),
		now:    time.Now,
	}
}

// Sweep removes every directory under root whose modification time is older
// than maxAge. Only one process sweeps a given root at a time.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	if err := os.MkdirAll(j.root, 0o755); err != nil {
		return rep, err
	}

	lock := flock.New(filepath.Join(j.root, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return rep, err
	}
	if !locked {
		rep.Skipped = true
		j.log.Debug("sweep already running elsewhere")
		return rep, nil
	}
	defer lock.Unlock()

	entries, err := os.ReadDir(j.root)
	if err != nil {
		return rep, err
	}
	cutoff := j.now().Add(-j.maxAge)
	for _, e := range entries {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		dir := filepath.Join(j.root, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			j.log.Warn("could not remove stale directory", "dir", dir, "error", err.Error())
			continue
		}
		rep.Removed = append(rep.Removed, e.Name())
	}
	if len(rep.Removed) > 0 {
		j.log.Info("stale work removed", "count", len(rep.Removed))
	}
	return rep, nil
}

// Run sweeps immediately and then every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.log.Warn("sweep failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
