package transcode

import (
	"fmt"
	"strings"
)

// Error reports a failed external media operation.
type Error struct {
	Op         string
	ExitStatus int
	Stderr     string // tail only
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Op)
	if e.ExitStatus != 0 {
		fmt.Fprintf(&b, " with exit status %d", e.ExitStatus)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if line := lastLine(e.Stderr); line != "" {
		fmt.Fprintf(&b, " (%s)", line)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// lastLine returns the last non-empty stderr line, which is where ffmpeg
// puts the actual reason.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
