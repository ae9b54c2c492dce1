// Package planner expands a timeline into the ordered per-segment work of
// one assembly run. It performs no I/O.
package planner

import (
	"fmt"
	"path/filepath"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
	"github.com/DrPeryCox/pres-gen-new/internal/timeline"
)

// ManifestName is the concat manifest written into the working directory.
const ManifestName = "concat.txt"

// SegmentJob is the work for one segment: where its slide image comes from
// and where each of its four intermediate clips goes.
type SegmentJob struct {
	Index    int
	Title    string
	Start    float64
	End      float64
	Duration float64

	SlideImage  string
	TrimmedClip string
	SlideClip   string
	ResizedClip string
	Fragment    string
}

// Artifacts returns the files this segment creates, in creation order.
func (j SegmentJob) Artifacts() []string {
	return []string{j.TrimmedClip, j.SlideClip, j.ResizedClip, j.Fragment}
}

// Plan pairs segment i with slide image i and derives deterministic artifact
// paths under workDir. Calling it twice with the same arguments yields the
// same plan.
func Plan(segments []timeline.Segment, slideImages []string, workDir string) ([]SegmentJob, error) {
	if len(segments) != len(slideImages) {
		return nil, errors.Validationf("timeline has %d segments but %d slide images were produced", len(segments), len(slideImages)).
			WithField("segments", len(segments)).
			WithField("images", len(slideImages))
	}

	jobs := make([]SegmentJob, len(segments))
	for i, seg := range segments {
		jobs[i] = SegmentJob{
			Index:       i,
			Title:       seg.Title,
			Start:       seg.Start,
			End:         seg.End,
			Duration:    seg.Duration(),
			SlideImage:  slideImages[i],
			TrimmedClip: filepath.Join(workDir, fmt.Sprintf("speaker-%02d.mp4", i)),
			SlideClip:   filepath.Join(workDir, fmt.Sprintf("slide-%02d.mp4", i)),
			ResizedClip: filepath.Join(workDir, fmt.Sprintf("speaker-%02d-resized.mp4", i)),
			Fragment:    filepath.Join(workDir, fmt.Sprintf("fragment-%02d.mp4", i)),
		}
	}
	return jobs, nil
}

// Fragments returns the composed clip of every job in concatenation order.
func Fragments(jobs []SegmentJob) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Fragment
	}
	return out
}

// ManifestPath returns the concat manifest location for workDir.
func ManifestPath(workDir string) string {
	return filepath.Join(workDir, ManifestName)
}
