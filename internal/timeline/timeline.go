// Package timeline parses the timed slide document that drives video
// assembly: an ordered list of segments, one per deck page, each naming the
// [start, end) window of the narration clip shown next to that page.
package timeline

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
)

// Segment is one timed slice of the narration mapped to one slide.
type Segment struct {
	Title string  `json:"title"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// rawSlide keeps presence information so missing keys can be reported.
// Every other key of a slide (layout, colors, parts) is ignored here.
type rawSlide struct {
	Title *string  `json:"title"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

type rawDocument struct {
	Slides *[]rawSlide `json:"slides"`
}

// Parse decodes a timeline document of the form
// {"slides":[{"title":..., "start":..., "end":...}, ...]}.
// Order in the document is presentation order; segments need not be
// contiguous or sorted in time.
func Parse(r io.Reader) ([]Segment, error) {
	const op = "timeline.Parse"

	var doc rawDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, op, "malformed timeline document")
	}
	if doc.Slides == nil {
		return nil, errors.ValidationField("slides", "timeline document has no \"slides\" array")
	}
	if len(*doc.Slides) == 0 {
		return nil, errors.ValidationField("slides", "timeline document has no slides")
	}

	segments := make([]Segment, 0, len(*doc.Slides))
	for i, s := range *doc.Slides {
		seg, err := s.segment(i + 1)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(b []byte) ([]Segment, error) {
	return Parse(bytes.NewReader(b))
}

// Load reads and parses the timeline document at path.
func Load(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "timeline.Load", "open timeline document")
	}
	defer f.Close()
	return Parse(f)
}

// Span returns the latest end offset, the narration length the timeline
// requires.
func Span(segments []Segment) float64 {
	var span float64
	for _, s := range segments {
		if s.End > span {
			span = s.End
		}
	}
	return span
}

// TotalDuration returns the sum of all segment durations, the length of the
// assembled video.
func TotalDuration(segments []Segment) float64 {
	var total float64
	for _, s := range segments {
		total += s.Duration()
	}
	return total
}

func (s rawSlide) segment(n int) (Segment, error) {
	if s.Title == nil {
		return Segment{}, invalid(n, "title", "title is required")
	}
	if s.Start == nil {
		return Segment{}, invalid(n, "start", "start is required")
	}
	if s.End == nil {
		return Segment{}, invalid(n, "end", "end is required")
	}

	start, end := *s.Start, *s.End
	if math.IsNaN(start) || math.IsInf(start, 0) || start < 0 {
		return Segment{}, invalid(n, "start", "start must be a non-negative number of seconds")
	}
	if math.IsNaN(end) || math.IsInf(end, 0) || end <= start {
		return Segment{}, invalid(n, "end", "end must be greater than start").
			WithField("start", start).
			WithField("end", end)
	}
	return Segment{Title: *s.Title, Start: start, End: end}, nil
}

func invalid(n int, field, msg string) *errors.Error {
	return errors.Validationf("slide %d: %s", n, msg).
		WithField("slide", n).
		WithField("field", field)
}
