package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocx/backend/internal/dda"
	"github.com/ocx/backend/internal/jobqueue"
)

// Config holds the directories and limits the jobs handlers enforce.
type Config struct {
	UploadDirectory    string
	ServerFilesDir     string // empty disables server-side file browsing/submission
	MaxUploadSizeBytes int64
}

// Handlers bundles the job queue and filesystem config the REST endpoints
// dispatch against.
type Handlers struct {
	Queue  *jobqueue.Queue
	Config Config
}

// NewHandlers constructs a Handlers.
func NewHandlers(queue *jobqueue.Queue, cfg Config) *Handlers {
	return &Handlers{Queue: queue, Config: cfg}
}

// RegisterRoutes wires every job endpoint onto a gorilla/mux router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/jobs/submit-server-file", h.SubmitServerFile).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/upload", h.UploadAndSubmit).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{job_id}/status", h.GetStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{job_id}/cancel", h.CancelJob).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/stats", h.GetStats).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{job_id}/download", h.DownloadResults).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/progress", h.ProgressStream).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/server-files", h.ListServerFiles).Methods(http.MethodGet)
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

type submitServerFileRequest struct {
	ServerPath string      `json:"server_path"`
	Parameters dda.Request `json:"parameters"`
}

type submitJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SubmitServerFile submits a job for a file already present on the server.
func (h *Handlers) SubmitServerFile(w http.ResponseWriter, r *http.Request) {
	if h.Config.ServerFilesDir == "" {
		writeJSONError(w, http.StatusBadRequest, "server-side file access is not configured")
		return
	}

	var req submitServerFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	canonicalPath, err := resolveServerPath(h.Config.ServerFilesDir, req.ServerPath)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, ErrOutsideBase):
			status = http.StatusForbidden
		case errors.Is(err, ErrAbsolutePath), errors.Is(err, ErrPathTraversal):
			status = http.StatusBadRequest
		default:
			status = http.StatusNotFound
		}
		slog.Warn("jobs: rejected server file path", "path", req.ServerPath, "error", err)
		writeJSONError(w, status, err.Error())
		return
	}

	info, err := os.Stat(canonicalPath)
	if err != nil || info.IsDir() {
		writeJSONError(w, http.StatusNotFound, "file not found")
		return
	}

	params := req.Parameters
	params.FilePath = canonicalPath
	if params.AnalysisID == "" {
		params.AnalysisID = uuid.NewString()
	}

	job := h.Queue.Submit("anonymous", params)

	slog.Info("jobs: job submitted for server file", "job_id", job.ID)
	writeJSON(w, http.StatusOK, submitJobResponse{JobID: job.ID, Status: string(jobqueue.StatusPending), Message: "job submitted successfully"})
}

// UploadAndSubmit accepts a multipart upload (file + parameters + flags) and
// submits a job against the saved file.
func (h *Handlers) UploadAndSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.Config.MaxUploadSizeBytes + 1<<20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart data: "+err.Error())
		return
	}

	var (
		savedPath     string
		originalName  string
		gotFile       bool
		params        dda.Request
		deleteAfter   = true
		persistUpload bool
	)

	if v := r.MultipartForm.Value["delete_after"]; len(v) > 0 {
		deleteAfter = strings.EqualFold(v[0], "true")
	}
	if v := r.MultipartForm.Value["persist_upload"]; len(v) > 0 {
		persistUpload = strings.EqualFold(v[0], "true")
	}
	if v := r.MultipartForm.Value["parameters"]; len(v) > 0 {
		if err := json.Unmarshal([]byte(v[0]), &params); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid parameters JSON: "+err.Error())
			return
		}
	}

	if files := r.MultipartForm.File["file"]; len(files) > 0 {
		fh := files[0]
		if fh.Size > h.Config.MaxUploadSizeBytes {
			writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file too large, maximum size: %d bytes", h.Config.MaxUploadSizeBytes))
			return
		}

		src, err := fh.Open()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read file: "+err.Error())
			return
		}
		defer src.Close()

		if err := os.MkdirAll(h.Config.UploadDirectory, 0o755); err != nil {
			slog.Error("jobs: failed to create upload directory", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "upload failed")
			return
		}

		originalName = fh.Filename
		ext := strings.TrimPrefix(filepath.Ext(originalName), ".")
		if ext == "" {
			ext = "edf"
		}
		savedName := fmt.Sprintf("%s_%s.%s", uuid.NewString(), sanitizeFilename(originalName), ext)
		savedPath = filepath.Join(h.Config.UploadDirectory, savedName)

		dst, err := os.Create(savedPath)
		if err != nil {
			slog.Error("jobs: failed to save uploaded file", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "failed to save file")
			return
		}
		n, err := io.Copy(dst, src)
		dst.Close()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to save file")
			return
		}
		slog.Info("jobs: file uploaded", "path", savedPath, "bytes", n)
		gotFile = true
	}

	if !gotFile {
		writeJSONError(w, http.StatusBadRequest, "no file provided")
		return
	}

	params.FilePath = savedPath
	if params.AnalysisID == "" {
		params.AnalysisID = uuid.NewString()
	}

	job := h.Queue.Submit("anonymous", params)

	// delete_after and persist_upload are parsed but not acted on: neither
	// this handler nor the job queue removes the uploaded file after the job
	// finishes.
	_ = deleteAfter && !persistUpload

	slog.Info("jobs: job submitted with uploaded file", "job_id", job.ID, "filename", originalName)
	writeJSON(w, http.StatusOK, submitJobResponse{JobID: job.ID, Status: string(jobqueue.StatusPending), Message: "job submitted successfully"})
}

// GetStatus returns a single job's current state.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, ok := h.Queue.GetJob(jobID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs lists jobs, optionally filtered by user_id.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	var jobs []*jobqueue.Job
	if userID != "" {
		jobs = h.Queue.GetUserJobs(userID)
	} else {
		jobs = h.Queue.GetAllJobs()
	}
	writeJSON(w, http.StatusOK, jobs)
}

// CancelJob cancels a pending or running job.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	cancelled := h.Queue.Cancel(jobID)
	if !cancelled {
		writeJSONError(w, http.StatusBadRequest, "job cannot be cancelled (already completed or not found)")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "job cancelled"})
}

// GetStats returns queue-wide statistics.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Queue.Stats())
}

// DownloadResults returns a completed job's parsed result. The runner
// deletes its variant output files from disk once parsing completes, so
// the durable artifact is the in-memory dda.Result captured on the job,
// not a file on disk.
func (h *Handlers) DownloadResults(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, ok := h.Queue.GetJob(jobID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Result == nil {
		writeJSONError(w, http.StatusBadRequest, "job has no output (not completed or failed)")
		return
	}
	writeJSON(w, http.StatusOK, job.Result)
}

// ProgressStream streams job progress events over server-sent events.
func (h *Handlers) ProgressStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := h.Queue.Subscribe()
	defer h.Queue.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

type serverFileInfo struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	IsDirectory bool   `json:"is_directory"`
}

// ListServerFiles lists entries of a directory under the configured
// server-files root, applying the same path-safety checks as submission.
func (h *Handlers) ListServerFiles(w http.ResponseWriter, r *http.Request) {
	if h.Config.ServerFilesDir == "" {
		writeJSONError(w, http.StatusBadRequest, "server-side file access is not configured")
		return
	}

	subpath := r.URL.Query().Get("path")
	targetDir := h.Config.ServerFilesDir
	if subpath != "" {
		resolved, err := resolveServerPath(h.Config.ServerFilesDir, subpath)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, ErrOutsideBase) {
				status = http.StatusForbidden
			}
			slog.Warn("jobs: rejected server file listing path", "path", subpath, "error", err)
			writeJSONError(w, status, err.Error())
			return
		}
		targetDir = resolved
	}

	canonicalBase, err := filepath.EvalSymlinks(h.Config.ServerFilesDir)
	if err != nil {
		slog.Error("jobs: server files directory invalid", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "server configuration error")
		return
	}

	entries, err := os.ReadDir(targetDir)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "directory not found")
		return
	}

	out := make([]serverFileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		full := filepath.Join(targetDir, e.Name())
		rel, err := filepath.Rel(canonicalBase, full)
		if err != nil {
			rel = full
		}
		out = append(out, serverFileInfo{Path: rel, Name: e.Name(), Size: size, IsDirectory: e.IsDir()})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDirectory != out[j].IsDirectory {
			return out[i].IsDirectory
		}
		return out[i].Name < out[j].Name
	})

	writeJSON(w, http.StatusOK, out)
}
