package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/httpkit"
)

const checkTimeout = 5 * time.Second

type healthReport struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Checks  map[string]healthCheck `json:"checks,omitempty"`
}

type healthCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Provider  string `json:"provider,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Health always answers 200. With ?deep=true it pings the job store, the
// queue and the storage provider in parallel and reports "degraded" when any
// of them fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) error {
	report := healthReport{Status: "ok", Service: "presgen-api", Version: h.version}

	if r.URL.Query().Get("deep") == "true" {
		report.Checks = h.probeDependencies(r.Context())
		for name, c := range report.Checks {
			if c.Status != "ok" {
				report.Status = "degraded"
				h.log.FromContext(r.Context()).Warn("dependency check failed", "check", name, "error", c.Error)
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, report)
	return nil
}

func (h *Handler) probeDependencies(ctx context.Context) map[string]healthCheck {
	pings := map[string]func(context.Context) error{
		"store":   h.store.Ping,
		"redis":   h.queue.Ping,
		"storage": h.sp.Ping,
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]healthCheck, len(pings))
	)
	for name, ping := range pings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := probe(ctx, ping)
			mu.Lock()
			checks[name] = c
			mu.Unlock()
		}()
	}
	wg.Wait()

	storage := checks["storage"]
	storage.Provider = h.sp.Provider()
	checks["storage"] = storage
	return checks
}

func probe(ctx context.Context, ping func(context.Context) error) healthCheck {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	c := healthCheck{Status: "ok"}
	if err := ping(ctx); err != nil {
		c.Status, c.Error = "error", err.Error()
	}
	c.LatencyMS = time.Since(start).Milliseconds()
	return c
}
