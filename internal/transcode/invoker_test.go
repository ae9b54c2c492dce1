package transcode

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecInvokerSuccess(t *testing.T) {
	requireShell(t)
	inv := NewExecInvoker(logger.NewNop())

	out, err := inv.Invoke(context.Background(), Invocation{
		Op:     OpProbe,
		Binary: "sh",
		Args:   []string{"-c", `printf '{"format":{}}'`},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out.ExitStatus != 0 {
		t.Errorf("expected exit status 0, got %d", out.ExitStatus)
	}
	if string(out.Stdout) != `{"format":{}}` {
		t.Errorf("unexpected stdout %q", out.Stdout)
	}
}

func TestExecInvokerFailure(t *testing.T) {
	requireShell(t)
	inv := NewExecInvoker(logger.NewNop())

	out, err := inv.Invoke(context.Background(), Invocation{
		Op:     OpTrim,
		Binary: "sh",
		Args:   []string{"-c", "echo 'moov atom not found' >&2; exit 3"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if out.ExitStatus != 3 {
		t.Errorf("expected exit status 3, got %d", out.ExitStatus)
	}
	if !strings.Contains(out.Stderr, "moov atom not found") {
		t.Errorf("expected stderr captured, got %q", out.Stderr)
	}
}

func TestExecInvokerMissingBinary(t *testing.T) {
	inv := NewExecInvoker(logger.NewNop())

	out, err := inv.Invoke(context.Background(), Invocation{
		Op:     OpTrim,
		Binary: "definitely-not-a-real-ffmpeg",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if out.ExitStatus != -1 {
		t.Errorf("expected exit status -1, got %d", out.ExitStatus)
	}
}

func TestExecInvokerContextCanceled(t *testing.T) {
	requireShell(t)
	inv := NewExecInvoker(logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := inv.Invoke(ctx, Invocation{Op: OpConcat, Binary: "sh", Args: []string{"-c", "exec sleep 5"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLimitedWriterKeepsTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 8}

	for _, chunk := range []string{"frame=1 ", "frame=2 ", "error!"} {
		n, err := lw.Write([]byte(chunk))
		if err != nil || n != len(chunk) {
			t.Fatalf("Write() = %d, %v", n, err)
		}
	}
	if got := buf.String(); got != "2 error!" {
		t.Errorf("expected tail %q, got %q", "2 error!", got)
	}
}

func TestHeadWriterKeepsHead(t *testing.T) {
	var buf bytes.Buffer
	hw := &headWriter{w: &buf, limit: 4}

	n, _ := hw.Write([]byte("abcdef"))
	if n != 6 {
		t.Errorf("expected full length reported, got %d", n)
	}
	hw.Write([]byte("gh"))
	if buf.String() != "abcd" {
		t.Errorf("expected head %q, got %q", "abcd", buf.String())
	}
}
