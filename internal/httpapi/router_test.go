package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/DrPeryCox/pres-gen-new/internal/adapters/storage/localfs"
	"github.com/DrPeryCox/pres-gen-new/internal/httpapi/handlers"
	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
	"github.com/DrPeryCox/pres-gen-new/internal/worker/queue"
)

const queueName = "test:jobs"

type testAPI struct {
	srv   *httptest.Server
	store *jobs.SQLiteStore
	sp    *localfs.LocalFS
	mr    *miniredis.Miniredis
}

func newTestAPI(t *testing.T, mutate func(*Deps)) *testAPI {
	t.Helper()
	root := t.TempDir()

	store, err := jobs.OpenSQLite(context.Background(), filepath.Join(root, "jobs.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sp := localfs.New(filepath.Join(root, "objects"))
	d := Deps{
		Handlers: handlers.Deps{
			Store:          store,
			Queue:          queue.NewRedisQueue(rdb, queueName),
			SP:             sp,
			MaxUploadBytes: 1 << 20,
		},
		CORSOrigins: []string{"*"},
		Log:         logger.NewNop(),
	}
	if mutate != nil {
		mutate(&d)
	}

	srv := httptest.NewServer(NewRouter(d))
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, store: store, sp: sp, mr: mr}
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func (a *testAPI) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	client := &http.Client{CheckRedirect: noRedirect}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func uploadForm(t *testing.T, files map[string]string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(fw, "%s contents", field)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return mw.FormDataContentType(), &buf
}

func allSources() map[string]string {
	return map[string]string{
		jobs.FieldTimeline:     "timeline.json",
		jobs.FieldPresentation: "deck.pdf",
		jobs.FieldVideo:        "talk.mp4",
	}
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	return body
}

func decodeJob(t *testing.T, resp *http.Response) jobs.Job {
	t.Helper()
	var body struct {
		Job jobs.Job `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("job body is not JSON: %v", err)
	}
	return body.Job
}

func (a *testAPI) submit(t *testing.T) jobs.Job {
	t.Helper()
	ct, body := uploadForm(t, allSources())
	resp := a.do(t, http.MethodPost, "/videos", ct, body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /videos status = %d", resp.StatusCode)
	}
	return decodeJob(t, resp)
}

// finish marks a queued job DONE with a stored video.
func (a *testAPI) finish(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	if err := a.store.MarkRunning(ctx, id, "worker-test"); err != nil {
		t.Fatal(err)
	}
	out, err := a.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey: jobs.ResultKey(id),
		Reader:    strings.NewReader("mp4 bytes"),
		Size:      9,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.store.MarkDone(ctx, id, out.ObjectKey, jobs.ResultName(id)); err != nil {
		t.Fatal(err)
	}
}

func TestPostVideo(t *testing.T) {
	a := newTestAPI(t, nil)
	ct, body := uploadForm(t, allSources())

	resp := a.do(t, http.MethodPost, "/videos", ct, body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	job := decodeJob(t, resp)
	if job.ID == "" || job.Status != jobs.StatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}
	if loc := resp.Header.Get("Location"); loc != "/videos/"+job.ID {
		t.Errorf("Location = %q", loc)
	}

	stored, err := a.store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	wantKeys := []string{
		jobs.UploadKey(job.ID, jobs.FieldTimeline, "timeline.json"),
		jobs.UploadKey(job.ID, jobs.FieldPresentation, "deck.pdf"),
		jobs.UploadKey(job.ID, jobs.FieldVideo, "talk.mp4"),
	}
	for i, key := range stored.Sources.Keys() {
		if key != wantKeys[i] {
			t.Errorf("source %d = %q, want %q", i, key, wantKeys[i])
		}
		rc, _, _, err := a.sp.GetObject(context.Background(), key)
		if err != nil {
			t.Errorf("source %s not stored: %v", key, err)
			continue
		}
		rc.Close()
	}

	queued, err := a.mr.List(queueName)
	if err != nil || len(queued) != 1 || queued[0] != job.ID {
		t.Errorf("queue = %v, %v", queued, err)
	}
}

func TestPostVideoMissingField(t *testing.T) {
	a := newTestAPI(t, nil)
	files := allSources()
	delete(files, jobs.FieldVideo)
	ct, body := uploadForm(t, files)

	resp := a.do(t, http.MethodPost, "/videos", ct, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if e.Error.Code != string(errors.CodeValidation) || e.Error.Details["field"] != jobs.FieldVideo {
		t.Errorf("unexpected error: %+v", e)
	}
	if list, _ := a.store.List(context.Background(), jobs.ListFilter{}); len(list) != 0 {
		t.Errorf("job recorded for an invalid upload: %+v", list)
	}
}

func TestPostVideoTooLarge(t *testing.T) {
	a := newTestAPI(t, func(d *Deps) { d.Handlers.MaxUploadBytes = 1024 })
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, name := range allSources() {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(bytes.Repeat([]byte("x"), 4096))
	}
	mw.Close()
	ct := mw.FormDataContentType()

	resp := a.do(t, http.MethodPost, "/videos", ct, &body)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

type brokenQueue struct{}

func (brokenQueue) Push(context.Context, string) error { return fmt.Errorf("connection refused") }
func (brokenQueue) Ping(context.Context) error         { return fmt.Errorf("connection refused") }

func TestPostVideoQueueDown(t *testing.T) {
	a := newTestAPI(t, func(d *Deps) { d.Handlers.Queue = brokenQueue{} })
	ct, body := uploadForm(t, allSources())

	resp := a.do(t, http.MethodPost, "/videos", ct, body)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if strings.Contains(e.Error.Message, "connection refused") {
		t.Errorf("internal error leaked: %q", e.Error.Message)
	}

	list, err := a.store.List(context.Background(), jobs.ListFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %v, %v", list, err)
	}
	if list[0].Status != jobs.StatusFailed {
		t.Errorf("unqueued job status = %s, want FAILED", list[0].Status)
	}
	for _, key := range list[0].Sources.Keys() {
		if _, _, _, err := a.sp.GetObject(context.Background(), key); !errors.IsNotFound(err) {
			t.Errorf("upload %s not removed: %v", key, err)
		}
	}
}

func TestGetVideo(t *testing.T) {
	a := newTestAPI(t, nil)
	job := a.submit(t)

	resp := a.do(t, http.MethodGet, "/videos/"+job.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeJob(t, resp)
	if got.ID != job.ID || got.Status != jobs.StatusQueued {
		t.Errorf("unexpected job: %+v", got)
	}

	resp = a.do(t, http.MethodGet, "/videos/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", resp.StatusCode)
	}
}

func TestListVideos(t *testing.T) {
	a := newTestAPI(t, nil)
	first := a.submit(t)
	a.submit(t)
	a.finish(t, first.ID)

	resp := a.do(t, http.MethodGet, "/videos?status=done", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].ID != first.ID {
		t.Errorf("done jobs = %+v", body.Jobs)
	}

	for _, q := range []string{"status=bogus", "limit=0", "limit=201", "limit=abc"} {
		resp := a.do(t, http.MethodGet, "/videos?"+q, "", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestDownloadVideo(t *testing.T) {
	a := newTestAPI(t, nil)
	job := a.submit(t)

	resp := a.do(t, http.MethodGet, "/videos/"+job.ID+"/download", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("download of queued job status = %d, want 404", resp.StatusCode)
	}

	a.finish(t, job.ID)
	resp = a.do(t, http.MethodGet, "/videos/"+job.ID+"/download", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q", ct)
	}
	wantDisp := `attachment; filename=processed_video_` + job.ID + `.mp4`
	if cd := resp.Header.Get("Content-Disposition"); cd != wantDisp {
		t.Errorf("Content-Disposition = %q, want %q", cd, wantDisp)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "mp4 bytes" {
		t.Errorf("body = %q", data)
	}
}

func TestDeleteVideo(t *testing.T) {
	a := newTestAPI(t, nil)
	job := a.submit(t)

	resp := a.do(t, http.MethodDelete, "/videos/"+job.ID, "", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete of queued job status = %d, want 409", resp.StatusCode)
	}

	a.finish(t, job.ID)
	resp = a.do(t, http.MethodDelete, "/videos/"+job.ID, "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	got, _ := a.store.Get(context.Background(), job.ID)
	if got.Status != jobs.StatusCleaned {
		t.Errorf("status = %s, want CLEANED", got.Status)
	}
	if _, _, _, err := a.sp.GetObject(context.Background(), jobs.ResultKey(job.ID)); !errors.IsNotFound(err) {
		t.Errorf("video not removed: %v", err)
	}

	resp = a.do(t, http.MethodGet, "/videos/"+job.ID+"/download", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("download after delete status = %d, want 404", resp.StatusCode)
	}
}

const slidesJSON = `{"slides":[
	{"title":"Intro"},
	{"title":"Agenda","center_part":{"bullet_points":["one","two"]}},
	{"title":"Compare","left_part":{"content":"before"},"right_part":{"content":"after"}}
]}`

func TestPostPresentation(t *testing.T) {
	a := newTestAPI(t, nil)

	resp := a.do(t, http.MethodPost, "/presentations", "application/json", strings.NewReader(slidesJSON))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "attachment; filename=presentation.pdf" {
		t.Errorf("Content-Disposition = %q", cd)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Errorf("body is not a PDF: %q", data[:min(len(data), 16)])
	}
}

func TestPostPresentationForm(t *testing.T) {
	a := newTestAPI(t, nil)
	form := url.Values{"presentation_json": {slidesJSON}}

	resp := a.do(t, http.MethodPost, "/presentations", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp = a.do(t, http.MethodPost, "/presentations", "application/x-www-form-urlencoded", strings.NewReader("other=1"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing field status = %d, want 400", resp.StatusCode)
	}
}

func TestPostPresentationInvalid(t *testing.T) {
	a := newTestAPI(t, nil)
	doc := `{"slides":[{"title":"ok"},{"title":"bad","center_part":{"content":"x","image":"y"}}]}`

	resp := a.do(t, http.MethodPost, "/presentations", "application/json", strings.NewReader(doc))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if !strings.HasPrefix(e.Error.Message, "slide 2:") {
		t.Errorf("message = %q, want slide number", e.Error.Message)
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, nil)

	resp := a.do(t, http.MethodGet, "/health?deep=true", "", nil)
	var body struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Fatalf("status = %q, checks = %v", body.Status, body.Checks)
	}
	for _, name := range []string{"store", "redis", "storage"} {
		if body.Checks[name]["status"] != "ok" {
			t.Errorf("%s check = %v", name, body.Checks[name])
		}
	}
	if body.Checks["storage"]["provider"] != "localfs" {
		t.Errorf("storage provider = %v", body.Checks["storage"]["provider"])
	}

	a.mr.Close()
	resp = a.do(t, http.MethodGet, "/health?deep=true", "", nil)
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || body.Checks["redis"]["status"] != "error" {
		t.Errorf("health with redis down = %q %v", body.Status, body.Checks["redis"])
	}
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, a.srv.URL+"/videos", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
