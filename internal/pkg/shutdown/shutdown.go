// Package shutdown stops the api and worker processes in order when they
// receive a termination signal.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

// DefaultTimeout bounds the whole shutdown when NewManager gets zero.
const DefaultTimeout = 30 * time.Second

type step struct {
	name string
	fn   func(ctx context.Context) error
}

// Manager runs registered steps once, last registered first, under a shared
// deadline. A component registered after its dependencies is therefore
// stopped before them: the worker loop drains before the queue and the job
// store close.
type Manager struct {
	log     *logger.Logger
	timeout time.Duration

	mu    sync.Mutex
	steps []step

	once     sync.Once
	err      error
	stopping chan struct{}
	done     chan struct{}
}

func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		log:      log.WithComponent("shutdown"),
		timeout:  timeout,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *Manager) Register(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	m.steps = append(m.steps, step{name: name, fn: fn})
	m.mu.Unlock()
}

// RegisterCloser registers c.Close as a step.
func (m *Manager) RegisterCloser(name string, c io.Closer) {
	m.Register(name, func(context.Context) error { return c.Close() })
}

// Wait blocks until SIGINT, SIGTERM or SIGHUP arrives or ctx ends, then runs
// Shutdown and returns its error.
func (m *Manager) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-sigCtx.Done()
	stop()

	if ctx.Err() != nil {
		m.log.Info("context ended, shutting down")
	} else {
		m.log.Info("termination signal received, shutting down")
	}
	return m.Shutdown()
}

// Shutdown runs the steps. Later calls wait for the first and return the
// same result. A failing step does not stop the ones after it; their errors
// are joined.
func (m *Manager) Shutdown() error {
	m.once.Do(m.run)
	return m.err
}

// Done is closed once Shutdown has finished or given up.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Context is cancelled when Shutdown starts, before any step runs.
func (m *Manager) Context() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-m.stopping
		cancel()
	}()
	return ctx
}

func (m *Manager) run() {
	close(m.stopping)
	defer close(m.done)

	m.mu.Lock()
	steps := slices.Clone(m.steps)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Info("stopping", "steps", len(steps), "timeout", m.timeout.String())

	result := make(chan error, 1)
	go func() { result <- m.runSteps(ctx, steps) }()

	select {
	case err := <-result:
		m.err = err
		if err != nil {
			m.log.WithError(err).Warn("stopped with errors")
			return
		}
		m.log.Info("stopped")
	case <-ctx.Done():
		m.err = fmt.Errorf("shutdown did not finish within %s: %w", m.timeout, ctx.Err())
		m.log.Warn("shutdown deadline passed, giving up", "timeout", m.timeout.String())
	}
}

func (m *Manager) runSteps(ctx context.Context, steps []step) error {
	var errs []error
	for _, s := range slices.Backward(steps) {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		err := s.fn(ctx)
		took := time.Since(start).Milliseconds()
		if err != nil {
			m.log.WithError(err).Error("shutdown step failed", "step", s.name, "duration_ms", took)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		m.log.Debug("shutdown step done", "step", s.name, "duration_ms", took)
	}
	return errors.Join(errs...)
}
