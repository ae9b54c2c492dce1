package processor

import (
	"strings"

	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
)

// SanitizeFilename cleans a name for use as a local file stem.
func SanitizeFilename(s string) string {
	return jobs.SanitizeFilename(s)
}

// ExtFromMime returns the file extension for the content types a job
// accepts, or "" when unknown.
func ExtFromMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "application/json", "text/json":
		return ".json"
	case "application/pdf":
		return ".pdf"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "video/x-matroska":
		return ".mkv"
	default:
		return ""
	}
}
