package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/backend/internal/dda"
)

type fakeRunner struct {
	delay  time.Duration
	err    error
	result *dda.Result

	// progressSteps, if set, is reported one step at a time (sleeping
	// stepDelay between each) before the final delay/err/result behavior,
	// so tests can observe incremental progress and its preservation
	// across a mid-run cancellation.
	progressSteps []int
	stepDelay     time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, req dda.Request, onProgress dda.ProgressFunc) (*dda.Result, error) {
	for _, pct := range f.progressSteps {
		select {
		case <-time.After(f.stepDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if onProgress != nil {
			onProgress(pct, "working")
		}
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &dda.Result{AnalysisID: req.AnalysisID}, nil
}

func TestQueueCreation(t *testing.T) {
	q := New(DefaultConfig(), &fakeRunner{})
	defer q.Close()
	stats := q.Stats()
	assert.Equal(t, 2, stats.MaxConcurrent)
	assert.Equal(t, 2, stats.AvailableSlots)
}

func TestJobSubmissionCompletes(t *testing.T) {
	q := New(Config{MaxConcurrentJobs: 1, NotificationCapacity: 10}, &fakeRunner{})
	defer q.Close()

	job := q.Submit("user-1", dda.Request{FilePath: "x.edf"})
	require.Eventually(t, func() bool {
		j, ok := q.GetJob(job.ID)
		return ok && j.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	j, ok := q.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, 100, j.Progress)
}

func TestJobSubmissionFails(t *testing.T) {
	q := New(Config{MaxConcurrentJobs: 1, NotificationCapacity: 10}, &fakeRunner{err: errors.New("boom")})
	defer q.Close()

	job := q.Submit("user-1", dda.Request{FilePath: "x.edf"})
	require.Eventually(t, func() bool {
		j, ok := q.GetJob(job.ID)
		return ok && j.Status == StatusFailed
	}, time.Second, 5*time.Millisecond)
}

func TestCancelPendingJob(t *testing.T) {
	q := New(Config{MaxConcurrentJobs: 1, NotificationCapacity: 10}, &fakeRunner{delay: 200 * time.Millisecond})
	defer q.Close()

	running := q.Submit("user-1", dda.Request{FilePath: "a.edf"})
	pending := q.Submit("user-1", dda.Request{FilePath: "b.edf"})

	require.Eventually(t, func() bool {
		j, _ := q.GetJob(running.ID)
		return j.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	ok := q.Cancel(pending.ID)
	assert.True(t, ok)
	j, _ := q.GetJob(pending.ID)
	assert.Equal(t, StatusCancelled, j.Status)
}

func TestCancelRunningJob(t *testing.T) {
	q := New(Config{MaxConcurrentJobs: 1, NotificationCapacity: 10}, &fakeRunner{delay: 2 * time.Second})
	defer q.Close()

	job := q.Submit("user-1", dda.Request{FilePath: "a.edf"})
	require.Eventually(t, func() bool {
		j, _ := q.GetJob(job.ID)
		return j.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	ok := q.Cancel(job.ID)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		j, _ := q.GetJob(job.ID)
		return j.Status == StatusCancelled
	}, time.Second, 5*time.Millisecond)
}

func TestCancelRunningJobPreservesLastObservedProgress(t *testing.T) {
	q := New(Config{MaxConcurrentJobs: 1, NotificationCapacity: 10}, &fakeRunner{
		progressSteps: []int{30, 60},
		stepDelay:     50 * time.Millisecond,
		delay:         2 * time.Second,
	})
	defer q.Close()

	job := q.Submit("user-1", dda.Request{FilePath: "a.edf"})
	require.Eventually(t, func() bool {
		j, _ := q.GetJob(job.ID)
		return j.Progress >= 30
	}, time.Second, 5*time.Millisecond)

	ok := q.Cancel(job.ID)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		j, _ := q.GetJob(job.ID)
		return j.Status == StatusCancelled
	}, time.Second, 5*time.Millisecond)

	j, _ := q.GetJob(job.ID)
	assert.GreaterOrEqual(t, j.Progress, 30)
}

func TestSubscribeReceivesProgress(t *testing.T) {
	q := New(Config{MaxConcurrentJobs: 1, NotificationCapacity: 10}, &fakeRunner{})
	defer q.Close()

	sub := q.Subscribe()
	defer q.Unsubscribe(sub)

	q.Submit("user-1", dda.Request{FilePath: "x.edf"})

	select {
	case ev := <-sub:
		assert.NotEmpty(t, ev.JobID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress event")
	}
}
