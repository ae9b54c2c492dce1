package handlers

import (
	"bytes"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/DrPeryCox/pres-gen-new/internal/deck"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
)

const presentationField = "presentation_json"

// PostPresentation renders a slide description into a PDF deck. The
// description is either the JSON body or the presentation_json form field.
func (h *Handler) PostPresentation(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var (
		doc *deck.Document
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data", "application/x-www-form-urlencoded":
		if perr := r.ParseMultipartForm(multipartMemory); perr != nil && perr != http.ErrNotMultipart {
			return errors.WrapWithCode(perr, errors.CodeValidation, "api.PostPresentation", "invalid form")
		}
		raw := r.FormValue(presentationField)
		if strings.TrimSpace(raw) == "" {
			return errors.ValidationField(presentationField, presentationField+" is required")
		}
		doc, err = deck.ParseBytes([]byte(raw))
	default:
		doc, err = deck.Parse(r.Body)
	}
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := h.deck.Build(&buf, doc); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "presentation.pdf"}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
	return nil
}
