package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		status   int
		wantCode string
		wantErr  string
	}{
		{"code", "state=s1&code=abc", http.StatusOK, "abc", ""},
		{"wrong state", "state=other&code=abc", http.StatusBadRequest, "", "state does not match"},
		{"denied", "state=s1&error=access_denied", http.StatusBadRequest, "", "access_denied"},
		{"no code", "state=s1", http.StatusBadRequest, "", "no code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(chan callbackResult, 1)
			rec := httptest.NewRecorder()
			callbackHandler("s1", results).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil))

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			res := <-results
			if res.code != tt.wantCode {
				t.Errorf("code = %q, want %q", res.code, tt.wantCode)
			}
			if tt.wantErr == "" && res.err != nil {
				t.Errorf("unexpected error %v", res.err)
			}
			if tt.wantErr != "" && (res.err == nil || !strings.Contains(res.err.Error(), tt.wantErr)) {
				t.Errorf("err = %v, want %q", res.err, tt.wantErr)
			}
		})
	}
}

func TestCallbackHandlerKeepsFirstResult(t *testing.T) {
	results := make(chan callbackResult, 1)
	h := callbackHandler("s1", results)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback?state=s1&code=first", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback?state=s1&code=second", nil))

	if res := <-results; res.code != "first" {
		t.Errorf("code = %q, want first", res.code)
	}
}

func TestRunRequiresClientCredentials(t *testing.T) {
	t.Setenv("GDRIVE_CLIENT_ID", "")
	t.Setenv("GDRIVE_CLIENT_SECRET", "")

	var out bytes.Buffer
	err := run(context.Background(), &out)
	if err == nil || !strings.Contains(err.Error(), "GDRIVE_CLIENT_ID") {
		t.Errorf("err = %v", err)
	}
}

func TestRandomState(t *testing.T) {
	a, b := randomState(), randomState()
	if a == b || len(a) != 24 {
		t.Errorf("states %q %q", a, b)
	}
}
