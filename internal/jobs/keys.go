package jobs

import (
	"fmt"
	"path"
	"strings"
)

// Upload fields of POST /videos, also used as the local file stems.
const (
	FieldTimeline     = "json_file"
	FieldPresentation = "presentation_file"
	FieldVideo        = "video_file"
)

// UploadKey is the storage key of an uploaded source. The job id prefix keeps
// concurrent submissions with equal file names apart.
func UploadKey(jobID, field, filename string) string {
	return path.Join("uploads", jobID, field+"-"+SanitizeFilename(filename))
}

// ResultName is the download file name of a finished job.
func ResultName(jobID string) string {
	return fmt.Sprintf("processed_video_%s.mp4", jobID)
}

// ResultKey is the storage key of the final video.
func ResultKey(jobID string) string {
	return path.Join("renders", jobID, ResultName(jobID))
}

// SanitizeFilename strips path elements and characters that are awkward in
// object keys and shell-less command lines.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Base(s)
	s = strings.ReplaceAll(s, "..", "")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '\'' || r == '"' || r == '/':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	if s == "" || s == "." {
		return "input"
	}
	return s
}
