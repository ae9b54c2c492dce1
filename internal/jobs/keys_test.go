package jobs

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"deck.pdf", "deck.pdf"},
		{"  my talk.pdf ", "my_talk.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\speaker's clip.mp4`, "speaker_s_clip.mp4"},
		{"", "input"},
		{"..", "input"},
		{"a\x00b.json", "ab.json"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeys(t *testing.T) {
	if got := UploadKey("j1", FieldPresentation, "../deck.pdf"); got != "uploads/j1/presentation_file-deck.pdf" {
		t.Errorf("UploadKey = %q", got)
	}
	if got := ResultKey("j1"); got != "renders/j1/processed_video_j1.mp4" {
		t.Errorf("ResultKey = %q", got)
	}
}

func TestDefaultWorkerID(t *testing.T) {
	id := DefaultWorkerID()
	if !strings.HasSuffix(id, fmt.Sprintf("-%d", os.Getpid())) {
		t.Errorf("DefaultWorkerID() = %q, want the pid suffix", id)
	}
	if id != DefaultWorkerID() {
		t.Error("DefaultWorkerID must be stable within a process")
	}
}
