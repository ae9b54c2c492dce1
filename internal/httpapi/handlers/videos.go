package handlers

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DrPeryCox/pres-gen-new/internal/httpkit"
	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
)

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// sourceFields are the multipart fields of POST /videos in upload order.
var sourceFields = []string{jobs.FieldTimeline, jobs.FieldPresentation, jobs.FieldVideo}

// PostVideo stores the three sources, records a QUEUED job and hands it to
// the workers.
func (h *Handler) PostVideo(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.Newf(errors.CodeTooLarge, "upload exceeds %d bytes", h.maxUpload).
				WithField("limit_bytes", h.maxUpload)
		}
		return errors.WrapWithCode(err, errors.CodeValidation, "api.PostVideo", "invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	headers := make(map[string]*multipart.FileHeader, len(sourceFields))
	for _, field := range sourceFields {
		fhs := r.MultipartForm.File[field]
		if len(fhs) == 0 {
			return errors.ValidationField(field, field+" is required")
		}
		headers[field] = fhs[0]
	}

	jobID := jobs.NewID()
	log := h.log.FromContext(ctx).WithJobID(jobID)

	var stored []string
	discard := func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		for _, key := range stored {
			if err := h.sp.DeleteObject(dctx, key); err != nil {
				log.Warn("could not remove upload", "key", key, "error", err.Error())
			}
		}
	}

	keys := make(map[string]string, len(sourceFields))
	for _, field := range sourceFields {
		key, err := h.storeUpload(ctx, jobID, field, headers[field])
		if err != nil {
			discard()
			return errors.WrapWithCode(err, errors.CodeStorage, "api.PostVideo", "failed to store "+field).
				WithField("field", field)
		}
		stored = append(stored, key)
		keys[field] = key
	}

	job := &jobs.Job{
		ID:     jobID,
		Status: jobs.StatusQueued,
		Sources: jobs.Sources{
			TimelineKey:  keys[jobs.FieldTimeline],
			DeckKey:      keys[jobs.FieldPresentation],
			NarrationKey: keys[jobs.FieldVideo],
		},
	}
	if err := h.store.Create(ctx, job); err != nil {
		discard()
		return errors.Wrap(err, "api.PostVideo", "failed to record job")
	}

	if err := h.queue.Push(ctx, jobID); err != nil {
		log.Error("queue push failed", "error", err.Error())
		if ferr := h.store.MarkFailed(context.WithoutCancel(ctx), jobID, string(errors.CodeUnavailable), "queue push failed"); ferr != nil {
			log.Warn("could not fail unqueued job", "error", ferr.Error())
		}
		discard()
		return errors.Unavailable("job queue")
	}

	log.Info("job queued",
		"timeline", headers[jobs.FieldTimeline].Filename,
		"presentation", headers[jobs.FieldPresentation].Filename,
		"video", headers[jobs.FieldVideo].Filename,
	)

	w.Header().Set("Location", "/videos/"+jobID)
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"job": job})
	return nil
}

func (h *Handler) storeUpload(ctx context.Context, jobID, field string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename))); byExt != "" {
			contentType = byExt
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	out, err := h.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   jobs.UploadKey(jobID, field, fh.Filename),
		ContentType: contentType,
		Reader:      f,
		Size:        fh.Size,
	})
	if err != nil {
		return "", err
	}
	return out.ObjectKey, nil
}

func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) error {
	job, err := h.store.Get(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
	return nil
}

func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	var filter jobs.ListFilter
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		status, err := jobs.ParseStatus(s)
		if err != nil {
			return err
		}
		filter.Status = status
	}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 || limit > jobs.MaxListLimit {
			return errors.ValidationField("limit", fmt.Sprintf("limit must be between 1 and %d", jobs.MaxListLimit))
		}
		filter.Limit = limit
	}

	list, err := h.store.List(r.Context(), filter)
	if err != nil {
		return err
	}
	if list == nil {
		list = []jobs.Job{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": list})
	return nil
}

// DownloadVideo redirects to a signed link when the provider offers one and
// streams the video otherwise.
func (h *Handler) DownloadVideo(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != jobs.StatusDone {
		return errors.New(errors.CodeNotFound, "video is not available").
			WithField("job_id", jobID).
			WithField("status", string(job.Status))
	}

	signed, err := h.sp.GetSignedURL(ctx, job.ResultKey, h.urlTTL)
	if err == nil && signed.URL != "" {
		http.Redirect(w, r, signed.URL, http.StatusFound)
		return nil
	}

	rc, _, size, err := h.sp.GetObject(ctx, job.ResultKey)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.New(errors.CodeNotFound, "video file missing").WithField("job_id", jobID)
		}
		return errors.WrapWithCode(err, errors.CodeStorage, "api.DownloadVideo", "failed to read video")
	}
	defer rc.Close()

	name := job.ResultName
	if name == "" {
		name = jobs.ResultName(jobID)
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.FromContext(ctx).Warn("download interrupted", "job_id", jobID, "error", err.Error())
	}
	return nil
}

// DeleteVideo removes the rendered video of a DONE job and marks it CLEANED.
func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.store.MarkCleaned(ctx, jobID)
	if err != nil {
		return err
	}
	if job.ResultKey != "" {
		if err := h.sp.DeleteObject(ctx, job.ResultKey); err != nil {
			h.log.FromContext(ctx).Warn("could not delete video", "job_id", jobID, "key", job.ResultKey, "error", err.Error())
		}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
