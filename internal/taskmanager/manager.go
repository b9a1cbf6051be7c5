// Package taskmanager implements a process-wide cancellable-task registry.
//
// The manual-completion contract: Spawn's goroutine wrapper only logs
// cancellation and panics — it does NOT call MarkCompleted/MarkFailed for
// you. The function you pass to Spawn is responsible for calling one of
// those itself before returning; a task whose closure returns without
// marking completion is left Running forever by design. This mirrors the
// original task manager's own asymmetry (it moves self into an Arc before
// spawning, so the spawn wrapper has no manager reference to call back into).
package taskmanager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxCompletedTasks   = 100
	cleanupIntervalSecs = 300
)

// State is a task's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Progress is an optional progress report a task may attach to itself.
type Progress struct {
	Current    int     `json:"current"`
	Total      *int    `json:"total,omitempty"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message,omitempty"`
}

// NewProgress computes percentage from current/total.
func NewProgress(current int, total *int) Progress {
	p := Progress{Current: current, Total: total}
	if total != nil && *total > 0 {
		p.Percentage = float64(current) / float64(*total) * 100.0
	}
	return p
}

// WithMessage returns a copy of p with Message set.
func (p Progress) WithMessage(msg string) Progress {
	p.Message = msg
	return p
}

// Info is the durable record of a registered task.
type Info struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	State       State      `json:"state"`
	Progress    *Progress  `json:"progress,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsActive reports whether the task is still running.
func (i Info) IsActive() bool { return i.State == StateRunning }

type handle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager tracks tasks and their cancellation handles.
type Manager struct {
	mu      sync.RWMutex
	tasks   map[string]*Info
	handles map[string]*handle

	cleanupOnce sync.Once
	stopCleanup chan struct{}
}

// NewManager constructs an empty task manager.
func NewManager() *Manager {
	return &Manager{tasks: make(map[string]*Info), handles: make(map[string]*handle)}
}

// RegisterTask creates a new task record and cancellation token without
// starting any goroutine.
func (m *Manager) RegisterTask(name, taskType string) (string, context.Context) {
	return m.RegisterTaskWithID(uuid.NewString(), name, taskType)
}

// RegisterTaskWithID is the same as RegisterTask but with a caller-supplied id.
func (m *Manager) RegisterTaskWithID(id, name, taskType string) (string, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.tasks[id] = &Info{ID: id, Name: name, Type: taskType, State: StateRunning}
	m.handles[id] = &handle{ctx: ctx, cancel: cancel}
	m.mu.Unlock()
	return id, ctx
}

// Spawn registers a task and runs fn in a new goroutine with its
// cancellation context. fn must call MarkCompleted/MarkFailed itself.
func (m *Manager) Spawn(name, taskType string, fn func(ctx context.Context)) string {
	id, ctx := m.RegisterTask(name, taskType)
	m.MarkStarted(id)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("taskmanager: task panicked", "task_id", id, "name", name, "panic", r)
			}
		}()
		fn(ctx)
		if ctx.Err() == context.Canceled {
			slog.Info("taskmanager: spawned task observed cancellation", "task_id", id, "name", name)
		}
	}()
	return id
}

// GetCancellationContext returns a task's context, if it exists.
func (m *Manager) GetCancellationContext(id string) (context.Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[id]
	if !ok {
		return nil, false
	}
	return h.ctx, true
}

// MarkStarted records a task's start time.
func (m *Manager) MarkStarted(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		now := time.Now()
		t.StartedAt = &now
	}
}

// MarkCompleted transitions a task to Completed.
func (m *Manager) MarkCompleted(id string) {
	m.finish(id, StateCompleted, "")
}

// MarkCancelled transitions a task to Cancelled.
func (m *Manager) MarkCancelled(id string) {
	m.finish(id, StateCancelled, "")
}

// MarkFailed transitions a task to Failed with an error message.
func (m *Manager) MarkFailed(id string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	m.finish(id, StateFailed, msg)
}

func (m *Manager) finish(id string, state State, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return
	}
	now := time.Now()
	t.State = state
	t.CompletedAt = &now
	t.Error = errMsg
}

// UpdateProgress attaches a progress snapshot to a running task.
func (m *Manager) UpdateProgress(id string, p Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.Progress = &p
	}
}

// Cancel cancels a task's context and marks it Cancelled. Returns an error
// if the task is already cancelled (or unknown).
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound{ID: id}
	}
	if t.State == StateCancelled {
		m.mu.Unlock()
		return ErrAlreadyCancelled{ID: id}
	}
	h := m.handles[id]
	m.mu.Unlock()

	if h != nil {
		h.cancel()
	}
	m.MarkCancelled(id)
	return nil
}

// CancelByType cancels every active task of a given type, returning the
// cancelled ids.
func (m *Manager) CancelByType(taskType string) []string {
	var ids []string
	m.mu.RLock()
	for id, t := range m.tasks {
		if t.Type == taskType && t.IsActive() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Cancel(id)
	}
	return ids
}

// CancelAll cancels every currently active task.
func (m *Manager) CancelAll() []string {
	var ids []string
	m.mu.RLock()
	for id, t := range m.tasks {
		if t.IsActive() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Cancel(id)
	}
	return ids
}

// GetTask returns a task's info by id.
func (m *Manager) GetTask(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return Info{}, false
	}
	return *t, true
}

// GetTasksByType returns every task of a given type.
func (m *Manager) GetTasksByType(taskType string) []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Info
	for _, t := range m.tasks {
		if t.Type == taskType {
			out = append(out, *t)
		}
	}
	return out
}

// GetActiveTasks returns every currently running task.
func (m *Manager) GetActiveTasks() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Info
	for _, t := range m.tasks {
		if t.IsActive() {
			out = append(out, *t)
		}
	}
	return out
}

// GetAllTasks returns every known task.
func (m *Manager) GetAllTasks() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	return out
}

// IsTaskCancelled reports whether a task is in the Cancelled state.
func (m *Manager) IsTaskCancelled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return ok && t.State == StateCancelled
}

// RemoveTask deletes a task's record entirely.
func (m *Manager) RemoveTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	delete(m.handles, id)
}

// CleanupCompletedTasks trims terminal tasks down to maxCompletedTasks,
// evicting the oldest-completed first.
func (m *Manager) CleanupCompletedTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	type entry struct {
		id          string
		completedAt time.Time
	}
	var terminal []entry
	for id, t := range m.tasks {
		if !t.IsActive() && t.CompletedAt != nil {
			terminal = append(terminal, entry{id: id, completedAt: *t.CompletedAt})
		}
	}
	if len(terminal) <= maxCompletedTasks {
		return 0
	}

	sort.Slice(terminal, func(i, j int) bool { return terminal[i].completedAt.Before(terminal[j].completedAt) })
	excess := len(terminal) - maxCompletedTasks
	for i := 0; i < excess; i++ {
		delete(m.tasks, terminal[i].id)
		delete(m.handles, terminal[i].id)
	}
	return excess
}

// StartAutoCleanup launches a background loop that periodically evicts
// excess completed tasks. Safe to call more than once; only the first call
// starts the loop.
func (m *Manager) StartAutoCleanup() {
	m.cleanupOnce.Do(func() {
		m.stopCleanup = make(chan struct{})
		go func() {
			ticker := time.NewTicker(cleanupIntervalSecs * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := m.CleanupCompletedTasks(); n > 0 {
						slog.Info("taskmanager: cleaned up completed tasks", "removed", n)
					}
				case <-m.stopCleanup:
					return
				}
			}
		}()
	})
}

// ActiveCount returns the number of currently running tasks.
func (m *Manager) ActiveCount() int { return len(m.GetActiveTasks()) }

// TotalCount returns the number of tasks tracked, active or terminal.
func (m *Manager) TotalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
