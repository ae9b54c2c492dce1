package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

const (
	maxStderrBytes = 8 * 1024
	maxStdoutBytes = 64 * 1024

	// waitDelay bounds how long Wait blocks on output pipes after the
	// process was killed by context cancellation.
	waitDelay = 2 * time.Second
)

// Invocation is one external process call: the operation it implements,
// the binary and its full argument vector.
type Invocation struct {
	Op     string
	Binary string
	Args   []string
}

// Outcome is what came back from an Invocation.
type Outcome struct {
	ExitStatus int
	Stdout     []byte
	Stderr     string
	Duration   time.Duration
}

// Invoker runs invocations. Implementations return a non-nil error when the
// process could not be started or did not exit cleanly; Outcome is filled in
// as far as it is known either way.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (Outcome, error)
}

// ExecInvoker spawns real processes.
type ExecInvoker struct {
	log *logger.Logger
}

// NewExecInvoker returns an Invoker backed by os/exec.
func NewExecInvoker(log *logger.Logger) *ExecInvoker {
	return &ExecInvoker{log: log.WithComponent("transcode")}
}

// Invoke runs inv to completion. Only the tail of stderr is kept.
func (e *ExecInvoker) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, inv.Binary, inv.Args...)
	cmd.WaitDelay = waitDelay

	var stderrBuf, stdoutBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Writer(&headWriter{w: &stdoutBuf, limit: maxStdoutBytes})

	e.log.Debug("executing media command",
		"op", inv.Op,
		"binary", inv.Binary,
		"args", inv.Args,
	)

	err := cmd.Run()
	out := Outcome{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitStatus = exitErr.ExitCode()
		} else {
			out.ExitStatus = -1
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s interrupted: %w", inv.Binary, ctxErr)
		}
		e.log.Warn("media command failed",
			"op", inv.Op,
			"exit_status", out.ExitStatus,
			"duration_ms", out.Duration.Milliseconds(),
			"stderr_tail", truncate(out.Stderr, 512),
		)
		return out, err
	}

	e.log.Debug("media command succeeded",
		"op", inv.Op,
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

// headWriter keeps the first `limit` bytes and drops the rest.
type headWriter struct {
	w     *bytes.Buffer
	limit int
}

func (hw *headWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := hw.limit - hw.w.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		hw.w.Write(p)
	}
	return n, nil
}
