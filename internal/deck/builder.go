package deck

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

// Page geometry, in inches.
const (
	PageSize    = 10.8
	margin      = 0.5
	titleTop    = 0.5
	titleHeight = 1.5
	bodyTop     = 2.2
	columnGap   = 0.4
	lineSpacing = 1.3
	fontFamily  = "Helvetica"
)

type box struct {
	x, y, w, h float64
}

var (
	centerBox = box{margin, bodyTop, PageSize - 2*margin, PageSize - bodyTop - margin}
	leftBox   = box{margin, bodyTop, (PageSize - 2*margin - columnGap) / 2, PageSize - bodyTop - margin}
	rightBox  = box{margin + (PageSize-2*margin+columnGap)/2, bodyTop, (PageSize - 2*margin - columnGap) / 2, PageSize - bodyTop - margin}
)

// Builder renders documents to PDF.
type Builder struct {
	log *logger.Logger
}

// NewBuilder returns a Builder.
func NewBuilder(log *logger.Logger) *Builder {
	return &Builder{log: log.WithComponent("deck")}
}

// Build writes doc as a PDF with one square page per slide. A background
// that cannot be decoded is skipped; a content image that cannot be decoded
// fails the build.
func (b *Builder) Build(w io.Writer, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "in",
		Size:           fpdf.SizeType{Wd: PageSize, Ht: PageSize},
	})
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("presgen", true)

	r := &renderer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor(""), log: b.log}
	for i, s := range doc.Slides {
		if err := r.slide(i+1, s); err != nil {
			return errors.Validationf("slide %d: %v", i+1, err).WithField("slide", i+1)
		}
	}

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "deck.Build", "write pdf")
	}
	b.log.Debug("deck rendered", "slides", len(doc.Slides))
	return nil
}

type renderer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
	log *logger.Logger
}

func (r *renderer) slide(n int, s Slide) error {
	r.pdf.AddPage()

	if s.Background != "" {
		if err := r.image(fmt.Sprintf("bg-%d", n), s.Background, box{0, 0, PageSize, PageSize}, false); err != nil {
			r.log.Warn("background skipped", "slide", n, "error", err.Error())
		}
	}

	red, green, blue := s.FontColor.rgb()
	r.pdf.SetFont(fontFamily, "B", float64(s.titleSize()))
	r.pdf.SetTextColor(red, green, blue)
	r.pdf.SetXY(margin, titleTop)
	r.pdf.MultiCell(PageSize-2*margin, r.lineHeight(), r.tr(s.Title), "", "C", false)

	switch s.Layout() {
	case LayoutTitleAndContent:
		return r.part(fmt.Sprintf("c-%d", n), s.CenterPart, centerBox)
	case LayoutTwoContent:
		if s.LeftPart.meaningful() {
			if err := r.part(fmt.Sprintf("l-%d", n), s.LeftPart, leftBox); err != nil {
				return fmt.Errorf("left_part: %w", err)
			}
		}
		if s.RightPart.meaningful() {
			if err := r.part(fmt.Sprintf("r-%d", n), s.RightPart, rightBox); err != nil {
				return fmt.Errorf("right_part: %w", err)
			}
		}
	}
	return r.pdf.Error()
}

func (r *renderer) part(name string, p *ContentPart, area box) error {
	red, green, blue := p.FontColor.rgb()
	r.pdf.SetTextColor(red, green, blue)
	size := float64(p.fontSize())

	switch {
	case p.Image != "":
		return r.image(name, p.Image, area, true)
	case len(p.BulletPoints) > 0:
		r.pdf.SetXY(area.x, area.y)
		if p.BulletPointsHeader != "" {
			r.pdf.SetFont(fontFamily, "B", size)
			r.pdf.MultiCell(area.w, r.lineHeight(), r.tr(p.BulletPointsHeader), "", "L", false)
			r.pdf.SetX(area.x)
		}
		r.pdf.SetFont(fontFamily, "", size)
		for _, point := range p.BulletPoints {
			r.pdf.MultiCell(area.w, r.lineHeight(), r.tr("• "+point), "", "L", false)
			r.pdf.SetX(area.x)
		}
	default:
		r.pdf.SetFont(fontFamily, "", size)
		r.pdf.SetXY(area.x, area.y)
		r.pdf.MultiCell(area.w, r.lineHeight(), r.tr(p.Content), "", "L", false)
	}
	return r.pdf.Error()
}

// image draws an encoded image into area. With fit set the aspect ratio is
// kept and the image centered; otherwise it is stretched over the area.
func (r *renderer) image(name, encoded string, area box, fit bool) error {
	data, err := decodeImage(encoded)
	if err != nil {
		return err
	}
	kind, err := imageType(data)
	if err != nil {
		return err
	}

	opts := fpdf.ImageOptions{ImageType: kind}
	info := r.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if !r.pdf.Ok() || info == nil {
		err := r.pdf.Error()
		r.pdf.ClearError()
		return fmt.Errorf("cannot embed image: %w", err)
	}

	x, y, w, h := area.x, area.y, area.w, area.h
	if fit && info.Width() > 0 && info.Height() > 0 {
		ratio := info.Width() / info.Height()
		if w/h > ratio {
			w = h * ratio
			x += (area.w - w) / 2
		} else {
			h = w / ratio
			y += (area.h - h) / 2
		}
	}
	r.pdf.ImageOptions(name, x, y, w, h, false, opts, 0, "")
	return nil
}

func (r *renderer) lineHeight() float64 {
	_, unitSize := r.pdf.GetFontSize()
	return unitSize * lineSpacing
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ","); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("image is not valid base64: %w", err)
		}
	}
	return data, nil
}

func imageType(data []byte) (string, error) {
	switch ct := http.DetectContentType(data); ct {
	case "image/png":
		return "PNG", nil
	case "image/jpeg":
		return "JPG", nil
	case "image/gif":
		return "GIF", nil
	default:
		return "", fmt.Errorf("unsupported image type %s", ct)
	}
}
