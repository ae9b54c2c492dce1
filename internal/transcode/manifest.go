package transcode

import (
	"os"
	"path/filepath"
	"strings"
)

// Manifest renders the concat demuxer list for clips, one
// `file '<path>'` line per clip in the given order.
func Manifest(clips []string) string {
	var b strings.Builder
	for _, c := range clips {
		if abs, err := filepath.Abs(c); err == nil {
			c = abs
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(c, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// WriteManifest writes Manifest(clips) to path.
func WriteManifest(path string, clips []string) error {
	return os.WriteFile(path, []byte(Manifest(clips)), 0o644)
}
