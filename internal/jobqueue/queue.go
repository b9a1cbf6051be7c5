package jobqueue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ocx/backend/internal/dda"
)

// Runner is the subset of dda.Runner the queue depends on, so tests can
// substitute a fake without invoking the real external binary.
type Runner interface {
	Run(ctx context.Context, req dda.Request, onProgress dda.ProgressFunc) (*dda.Result, error)
}

// Queue dispatches submitted jobs onto a bounded pool of worker goroutines
// and fans progress out to subscribers, mirroring the original server's
// JobQueue: a buffered submission channel feeds a dispatcher goroutine that
// spawns one worker per job, and each worker acquires a permit from a
// buffered-channel semaphore before running its job.
type Queue struct {
	cfg    Config
	runner Runner
	fanout *RedisFanout

	mu          sync.RWMutex
	jobs        map[string]*Job
	cancelFuncs map[string]context.CancelFunc

	submitCh chan string
	permits  chan struct{}

	broadcast   chan ProgressEvent
	subscribe   chan chan ProgressEvent
	unsubscribe chan chan ProgressEvent

	done chan struct{}
}

// New constructs a Queue and starts its dispatcher and broadcast hub. fanout
// may be nil to disable cross-process progress mirroring.
func New(cfg Config, runner Runner, fanout ...*RedisFanout) *Queue {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg = DefaultConfig()
	}
	var f *RedisFanout
	if len(fanout) > 0 {
		f = fanout[0]
	}
	q := &Queue{
		cfg:         cfg,
		runner:      runner,
		fanout:      f,
		jobs:        make(map[string]*Job),
		cancelFuncs: make(map[string]context.CancelFunc),
		submitCh:    make(chan string, 4096),
		permits:     make(chan struct{}, cfg.MaxConcurrentJobs),
		broadcast:   make(chan ProgressEvent, cfg.NotificationCapacity),
		subscribe:   make(chan chan ProgressEvent),
		unsubscribe: make(chan chan ProgressEvent),
		done:        make(chan struct{}),
	}
	go q.runHub()
	go q.runDispatcher()
	return q
}

// Submit enqueues a new job and returns its id immediately; the job starts
// as Pending and is picked up by the dispatcher once a permit is available.
func (q *Queue) Submit(userID string, req dda.Request) *Job {
	job := &Job{
		ID:          newJobID(),
		UserID:      userID,
		Request:     req,
		Status:      StatusPending,
		SubmittedAt: time.Now(),
	}
	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	q.submitCh <- job.ID
	return job
}

func (q *Queue) runDispatcher() {
	for {
		select {
		case <-q.done:
			return
		case id := <-q.submitCh:
			go q.runJob(id)
		}
	}
}

func (q *Queue) runJob(id string) {
	select {
	case q.permits <- struct{}{}:
	case <-q.done:
		return
	}
	defer func() { <-q.permits }()

	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	if job.Status == StatusCancelled {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	job.Progress = 0
	job.Message = "Starting DDA analysis..."
	ctx, cancel := context.WithCancel(context.Background())
	q.cancelFuncs[id] = cancel
	q.mu.Unlock()
	q.emit(job)

	result, err := q.runner.Run(ctx, job.Request, func(pct int, message string) {
		q.mu.Lock()
		if job.Status == StatusRunning {
			job.Progress = pct
			job.Message = message
		}
		q.mu.Unlock()
		q.emit(job)
	})

	q.mu.Lock()
	delete(q.cancelFuncs, id)
	completed := time.Now()
	job.CompletedAt = &completed
	switch {
	case err != nil && ctx.Err() == context.Canceled:
		job.Status = StatusCancelled
		job.Message = "Job cancelled"
	case err != nil && strings.Contains(strings.ToLower(err.Error()), "cancelled"):
		job.Status = StatusCancelled
		job.Message = "Job cancelled"
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
		job.Message = "Analysis failed"
	default:
		job.Status = StatusCompleted
		job.Progress = 100
		job.Message = "Analysis complete"
		job.Result = result
	}
	q.mu.Unlock()
	q.emit(job)
}

func (q *Queue) emit(job *Job) {
	ev := ProgressEvent{JobID: job.ID, Status: job.Status, Progress: job.Progress, Message: job.Message}
	select {
	case q.broadcast <- ev:
	default:
		slog.Warn("jobqueue: progress broadcast buffer full, dropping event", "job_id", job.ID)
	}
	q.fanout.publish(context.Background(), ev)
}

// runHub is the classic register/unregister/broadcast loop (see
// internal/websocket's original hub), adapted to fan job-progress events
// out to any number of subscriber channels instead of websocket clients.
func (q *Queue) runHub() {
	subs := make(map[chan ProgressEvent]bool)
	for {
		select {
		case <-q.done:
			return
		case ch := <-q.subscribe:
			subs[ch] = true
		case ch := <-q.unsubscribe:
			if subs[ch] {
				delete(subs, ch)
				close(ch)
			}
		case ev := <-q.broadcast:
			for ch := range subs {
				select {
				case ch <- ev:
				default:
					slog.Warn("jobqueue: subscriber channel full, dropping event", "job_id", ev.JobID)
				}
			}
		}
	}
}

// Subscribe returns a channel of progress events; callers must Unsubscribe
// when done to avoid leaking the channel in the hub's subscriber set.
func (q *Queue) Subscribe() chan ProgressEvent {
	ch := make(chan ProgressEvent, 32)
	q.subscribe <- ch
	return ch
}

// Unsubscribe removes and closes a channel previously returned by Subscribe.
func (q *Queue) Unsubscribe(ch chan ProgressEvent) {
	q.unsubscribe <- ch
}

// Cancel requests cancellation of a job. Pending jobs are cancelled
// immediately; running jobs have their context cancelled so the runner's
// os/exec call is killed cooperatively.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return false
	}
	switch job.Status {
	case StatusPending:
		job.Status = StatusCancelled
		q.emit(job)
		return true
	case StatusRunning:
		if cancel, ok := q.cancelFuncs[id]; ok {
			cancel()
			return true
		}
		return false
	default:
		return false
	}
}

// GetJob returns a job by id.
func (q *Queue) GetJob(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	return j, ok
}

// GetUserJobs returns all jobs submitted by a given user.
func (q *Queue) GetUserJobs(userID string) []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*Job
	for _, j := range q.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	return out
}

// GetAllJobs returns every job known to the queue.
func (q *Queue) GetAllJobs() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j)
	}
	return out
}

// Stats returns a snapshot of queue occupancy.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	s := Stats{MaxConcurrent: q.cfg.MaxConcurrentJobs, AvailableSlots: q.cfg.MaxConcurrentJobs - len(q.permits)}
	for _, j := range q.jobs {
		switch j.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Close stops the dispatcher and broadcast hub.
func (q *Queue) Close() { close(q.done) }
