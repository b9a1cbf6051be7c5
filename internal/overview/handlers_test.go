package overview

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/backend/internal/taskmanager"
)

func newTestHandlers(t *testing.T, newReader ReaderFactory) (*mux.Router, *Handlers) {
	t.Helper()
	store := openTestStore(t)
	tasks := taskmanager.NewManager()
	h := NewHandlers(store, tasks, newReader)
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r, h
}

func writeTempFile(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.edf")
	require.NoError(t, os.WriteFile(path, contents, 0o644))
	return path
}

func TestBuildReturns503WhenNoReaderConfigured(t *testing.T) {
	router, _ := newTestHandlers(t, nil)

	body, _ := json.Marshal(buildRequest{FilePath: "/data/a.edf", MaxPoints: 100})
	req := httptest.NewRequest(http.MethodPost, "/api/overview/build", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildRejectsMissingFields(t *testing.T) {
	router, _ := newTestHandlers(t, func(string) (SourceReader, error) { return newFakeReader([]string{"Fp1"}, 100), nil })

	body, _ := json.Marshal(buildRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/overview/build", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildStartsTaskAndCompletes(t *testing.T) {
	path := writeTempFile(t, []byte("edf-bytes"))
	router, h := newTestHandlers(t, func(string) (SourceReader, error) {
		return newFakeReader([]string{"Fp1", "Fp2"}, 10_000), nil
	})

	body, _ := json.Marshal(buildRequest{FilePath: path, MaxPoints: 100})
	req := httptest.NewRequest(http.MethodPost, "/api/overview/build", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp buildResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)

	require.Eventually(t, func() bool {
		info, ok := h.tasks.GetTask(resp.TaskID)
		return ok && info.State == taskmanager.StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestBuildRejectsUnreadableFile(t *testing.T) {
	router, _ := newTestHandlers(t, func(string) (SourceReader, error) {
		return newFakeReader([]string{"Fp1"}, 100), nil
	})

	body, _ := json.Marshal(buildRequest{FilePath: "/does/not/exist.edf", MaxPoints: 100})
	req := httptest.NewRequest(http.MethodPost, "/api/overview/build", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressReportsNoCache(t *testing.T) {
	router, _ := newTestHandlers(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/overview/progress?file_path=/nope.edf&max_points=100", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary ProgressSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.False(t, summary.HasCache)
}

func TestProgressRequiresFilePathAndMaxPoints(t *testing.T) {
	router, _ := newTestHandlers(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/overview/progress", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskStatusNotFound(t *testing.T) {
	router, _ := newTestHandlers(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/overview/tasks/unknown-id", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTaskUnknown(t *testing.T) {
	router, _ := newTestHandlers(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/overview/tasks/unknown-id/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
