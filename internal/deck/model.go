// Package deck renders a presentation description into a PDF slide deck,
// one square page per slide, and reads page counts back from PDF files.
package deck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
)

const (
	defaultTitleSize = 24
	defaultPartSize  = 16
)

// Document is the root of a presentation description.
type Document struct {
	Slides []Slide `json:"slides"`
}

// Color is an RGB triple, each component in 0..255.
type Color []int

func (c Color) rgb() (int, int, int) {
	if len(c) != 3 {
		return 0, 0, 0
	}
	return c[0], c[1], c[2]
}

func (c Color) validate() error {
	if c == nil {
		return nil
	}
	if len(c) != 3 {
		return fmt.Errorf("color must have 3 components, got %d", len(c))
	}
	for _, v := range c {
		if v < 0 || v > 255 {
			return fmt.Errorf("color component %d is outside 0..255", v)
		}
	}
	return nil
}

// Slide is one page. Start and End belong to the video timeline and are
// accepted but ignored here.
type Slide struct {
	Title      string       `json:"title"`
	Background string       `json:"background,omitempty"`
	FontColor  Color        `json:"font_color,omitempty"`
	FontSize   int          `json:"font_size,omitempty"`
	Start      *float64     `json:"start,omitempty"`
	End        *float64     `json:"end,omitempty"`
	LeftPart   *ContentPart `json:"left_part,omitempty"`
	CenterPart *ContentPart `json:"center_part,omitempty"`
	RightPart  *ContentPart `json:"right_part,omitempty"`
}

// ContentPart fills one content area with exactly one of text, a bullet
// list or an image.
type ContentPart struct {
	Content            string   `json:"content,omitempty"`
	BulletPoints       []string `json:"bullet_points,omitempty"`
	BulletPointsHeader string   `json:"bullet_points_header,omitempty"`
	Image              string   `json:"image,omitempty"` // base64, optionally a data URL
	FontSize           int      `json:"font_size,omitempty"`
	FontColor          Color    `json:"font_color,omitempty"`
}

// Layout is the page arrangement picked for a slide.
type Layout int

const (
	LayoutTitleOnly Layout = iota
	LayoutTitleAndContent
	LayoutTwoContent
)

func (l Layout) String() string {
	switch l {
	case LayoutTitleAndContent:
		return "title_and_content"
	case LayoutTwoContent:
		return "two_content"
	default:
		return "title_only"
	}
}

// meaningful reports whether p has anything to draw.
func (p *ContentPart) meaningful() bool {
	return p != nil && (strings.TrimSpace(p.Content) != "" || len(p.BulletPoints) > 0 || p.Image != "")
}

func (p *ContentPart) kinds() []string {
	var kinds []string
	if p.Content != "" {
		kinds = append(kinds, "content")
	}
	if len(p.BulletPoints) > 0 {
		kinds = append(kinds, "bullet_points")
	}
	if p.Image != "" {
		kinds = append(kinds, "image")
	}
	return kinds
}

func (p *ContentPart) fontSize() int {
	if p.FontSize > 0 {
		return p.FontSize
	}
	return defaultPartSize
}

// Layout picks the arrangement from the parts that have content.
func (s Slide) Layout() Layout {
	switch {
	case s.CenterPart.meaningful():
		return LayoutTitleAndContent
	case s.LeftPart.meaningful() || s.RightPart.meaningful():
		return LayoutTwoContent
	default:
		return LayoutTitleOnly
	}
}

func (s Slide) titleSize() int {
	if s.FontSize > 0 {
		return s.FontSize
	}
	return defaultTitleSize
}

// Parse decodes and validates a presentation description.
func Parse(r io.Reader) (*Document, error) {
	var raw struct {
		Slides *[]Slide `json:"slides"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "deck.Parse", "malformed presentation document")
	}
	if raw.Slides == nil {
		return nil, errors.ValidationField("slides", "slides key is required")
	}
	doc := &Document{Slides: *raw.Slides}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(b []byte) (*Document, error) {
	return Parse(bytes.NewReader(b))
}

// Validate checks every slide. Errors name the 1-based slide number.
func (d *Document) Validate() error {
	if len(d.Slides) == 0 {
		return errors.ValidationField("slides", "presentation has no slides")
	}
	for i, s := range d.Slides {
		if err := s.validate(); err != nil {
			return errors.Validationf("slide %d: %v", i+1, err).WithField("slide", i+1)
		}
	}
	return nil
}

func (s Slide) validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if s.FontSize < 0 {
		return fmt.Errorf("font_size must be positive")
	}
	if err := s.FontColor.validate(); err != nil {
		return fmt.Errorf("font_color: %w", err)
	}
	if s.CenterPart.meaningful() && (s.LeftPart.meaningful() || s.RightPart.meaningful()) {
		return fmt.Errorf("center_part cannot be combined with left_part or right_part")
	}
	for _, np := range []struct {
		name string
		part *ContentPart
	}{{"left_part", s.LeftPart}, {"center_part", s.CenterPart}, {"right_part", s.RightPart}} {
		name, p := np.name, np.part
		if p == nil {
			continue
		}
		if kinds := p.kinds(); len(kinds) > 1 {
			return fmt.Errorf("%s may set only one of content, bullet_points, image (got %s)", name, strings.Join(kinds, ", "))
		}
		if p.FontSize < 0 {
			return fmt.Errorf("%s: font_size must be positive", name)
		}
		if err := p.FontColor.validate(); err != nil {
			return fmt.Errorf("%s: font_color: %w", name, err)
		}
	}
	return nil
}
