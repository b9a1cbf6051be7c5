package overview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ocx/backend/internal/taskmanager"
)

const overviewBuildTaskType = "overview_build"

// ReaderFactory opens a SourceReader for a file path. The composition root
// wires a nil factory when no concrete file-format reader is configured —
// EDF/CSV/etc parsing is out of scope for this repo — in which case Build
// reports that plainly instead of silently no-opping.
type ReaderFactory func(filePath string) (SourceReader, error)

// Handlers exposes the progressive overview cache over HTTP: triggering a
// (possibly-resuming) build as a cancellable background task, polling its
// progress, and cancelling it.
type Handlers struct {
	store     *Store
	tasks     *taskmanager.Manager
	generator *Generator
	newReader ReaderFactory
}

// NewHandlers wires a Store and task Manager onto the overview REST surface.
func NewHandlers(store *Store, tasks *taskmanager.Manager, newReader ReaderFactory) *Handlers {
	return &Handlers{store: store, tasks: tasks, generator: NewGenerator(store), newReader: newReader}
}

// RegisterRoutes wires every overview endpoint onto a gorilla/mux router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/overview/build", h.Build).Methods(http.MethodPost)
	r.HandleFunc("/api/overview/progress", h.Progress).Methods(http.MethodGet)
	r.HandleFunc("/api/overview/tasks/{task_id}", h.TaskStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/overview/tasks/{task_id}/cancel", h.CancelTask).Methods(http.MethodPost)
}

type buildRequest struct {
	FilePath  string   `json:"file_path"`
	MaxPoints int      `json:"max_points"`
	Channels  []string `json:"channels,omitempty"`
}

type buildResponse struct {
	TaskID string `json:"task_id"`
}

// Build starts (or resumes) a progressive overview build in the background
// and returns its task id immediately; poll TaskStatus or Progress for
// completion.
func (h *Handlers) Build(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" || req.MaxPoints <= 0 {
		writeJSONError(w, http.StatusBadRequest, "file_path and max_points are required")
		return
	}
	if h.newReader == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "overview generation requires a configured channel reader")
		return
	}

	reader, err := h.newReader(req.FilePath)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := os.Stat(req.FilePath)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, ctx := h.tasks.RegisterTask(fmt.Sprintf("overview-build:%s", req.FilePath), overviewBuildTaskType)
	h.tasks.MarkStarted(id)

	go func() {
		_, err := h.generator.Generate(ctx, reader, req.FilePath, uint64(info.Size()), info.ModTime().Unix(), req.MaxPoints, req.Channels,
			func(processed, total int) {
				h.tasks.UpdateProgress(id, taskmanager.NewProgress(processed, &total))
			})
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			h.tasks.MarkCancelled(id)
		case err != nil:
			h.tasks.MarkFailed(id, err)
		default:
			h.tasks.MarkCompleted(id)
		}
	}()

	writeJSON(w, http.StatusAccepted, buildResponse{TaskID: id})
}

// Progress reports how much of a (file_path, max_points, channels) cache
// has been built so far, without starting or resuming a build.
func (h *Handlers) Progress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filePath := q.Get("file_path")
	maxPoints, _ := strconv.Atoi(q.Get("max_points"))
	if filePath == "" || maxPoints <= 0 {
		writeJSONError(w, http.StatusBadRequest, "file_path and max_points are required")
		return
	}
	var channels []string
	if c := q.Get("channels"); c != "" {
		channels = strings.Split(c, ",")
	}

	summary, err := h.store.QueryProgress(filePath, maxPoints, channels)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TaskStatus reports a build task's lifecycle state and last-seen progress.
func (h *Handlers) TaskStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["task_id"]
	info, ok := h.tasks.GetTask(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// CancelTask requests cancellation of a running build; already-persisted
// segments remain in the cache for a later resume.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["task_id"]
	if err := h.tasks.Cancel(id); err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
