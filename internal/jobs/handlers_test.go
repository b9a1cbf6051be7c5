package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/backend/internal/dda"
	"github.com/ocx/backend/internal/jobqueue"
)

type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, req dda.Request, onProgress dda.ProgressFunc) (*dda.Result, error) {
	return &dda.Result{AnalysisID: req.AnalysisID}, nil
}

func writeSample(dir string) error {
	return os.WriteFile(filepath.Join(dir, "sample.edf"), []byte("edf"), 0o644)
}

func newTestRouter(t *testing.T) (*mux.Router, *Handlers) {
	t.Helper()
	queue := jobqueue.New(jobqueue.DefaultConfig(), stubRunner{})
	t.Cleanup(queue.Close)

	h := NewHandlers(queue, Config{
		UploadDirectory:    t.TempDir(),
		ServerFilesDir:     t.TempDir(),
		MaxUploadSizeBytes: 10 << 20,
	})
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r, h
}

func TestGetStatusNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/unknown/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStats(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats jobqueue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.MaxConcurrent)
}

func TestSubmitServerFileDisabledWhenUnconfigured(t *testing.T) {
	queue := jobqueue.New(jobqueue.DefaultConfig(), stubRunner{})
	t.Cleanup(queue.Close)
	h := NewHandlers(queue, Config{UploadDirectory: t.TempDir()})
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	body, _ := json.Marshal(submitServerFileRequest{ServerPath: "x.edf"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/submit-server-file", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitServerFileRejectsTraversal(t *testing.T) {
	router, _ := newTestRouter(t)
	body, _ := json.Marshal(submitServerFileRequest{ServerPath: "../escape.edf"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/submit-server-file", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAndSubmitRequiresFile(t *testing.T) {
	router, _ := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("parameters", "{}"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAndSubmitSucceeds(t *testing.T) {
	router, _ := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "sample.edf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("edf-bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "pending", resp.Status)
}

func TestCancelUnknownJob(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/unknown/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListServerFiles(t *testing.T) {
	router, h := newTestRouter(t)
	require.NoError(t, writeSample(h.Config.ServerFilesDir))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/server-files", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var files []serverFileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "sample.edf", files[0].Name)
}
