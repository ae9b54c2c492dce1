package pipeline

import (
	"os"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

// artifacts accumulates every path a run may create. Paths are tracked
// before the operation that writes them so partial output is released too.
type artifacts struct {
	paths []string
	seen  map[string]bool
}

func newArtifacts() *artifacts {
	return &artifacts{seen: make(map[string]bool)}
}

func (a *artifacts) track(paths ...string) {
	for _, p := range paths {
		if p == "" || a.seen[p] {
			continue
		}
		a.seen[p] = true
		a.paths = append(a.paths, p)
	}
}

// forget drops p so release leaves it in place.
func (a *artifacts) forget(p string) {
	if !a.seen[p] {
		return
	}
	delete(a.seen, p)
	for i, q := range a.paths {
		if q == p {
			a.paths = append(a.paths[:i], a.paths[i+1:]...)
			break
		}
	}
}

func (a *artifacts) list() []string {
	return append([]string(nil), a.paths...)
}

// release removes every tracked path, newest first, and returns how many
// existed. Failures are logged and never returned.
func (a *artifacts) release(log *logger.Logger) int {
	removed := 0
	for i := len(a.paths) - 1; i >= 0; i-- {
		p := a.paths[i]
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			log.Warn("could not remove intermediate file", "path", p, "error", err.Error())
			continue
		}
		removed++
	}
	a.paths = nil
	a.seen = make(map[string]bool)
	return removed
}
