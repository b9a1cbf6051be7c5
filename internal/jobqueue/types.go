// Package jobqueue implements the bounded-concurrency DDA job dispatcher:
// submission channel, semaphore-gated workers, progress broadcaster, and
// cooperative cancellation.
package jobqueue

import (
	"time"

	"github.com/google/uuid"

	"github.com/ocx/backend/internal/dda"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is the durable record of a submitted DDA analysis.
type Job struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id,omitempty"`
	Request     dda.Request `json:"request"`
	Status      Status      `json:"status"`
	Progress    int         `json:"progress"`
	Message     string      `json:"message"`
	Result      *dda.Result `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// ProgressEvent is broadcast to subscribers on every state or progress change.
type ProgressEvent struct {
	JobID    string `json:"job_id"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Config tunes dispatcher concurrency and buffering.
type Config struct {
	MaxConcurrentJobs    int
	NotificationCapacity int
}

// DefaultConfig mirrors the original server's defaults: 2 concurrent jobs,
// a 1000-deep progress notification buffer.
func DefaultConfig() Config {
	return Config{MaxConcurrentJobs: 2, NotificationCapacity: 1000}
}

// Stats is a snapshot of queue occupancy.
type Stats struct {
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Cancelled      int `json:"cancelled"`
	MaxConcurrent  int `json:"max_concurrent"`
	AvailableSlots int `json:"available_slots"`
}

func newJobID() string { return uuid.NewString() }
