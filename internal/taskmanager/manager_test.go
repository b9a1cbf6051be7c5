package taskmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTaskDefaultsToRunning(t *testing.T) {
	m := NewManager()
	id, ctx := m.RegisterTask("ingest", "dda_analysis")
	require.NotEmpty(t, id)
	require.NotNil(t, ctx)

	info, ok := m.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, StateRunning, info.State)
	assert.Equal(t, "dda_analysis", info.Type)
	assert.True(t, info.IsActive())
}

func TestMarkCompletedTransitionsState(t *testing.T) {
	m := NewManager()
	id, _ := m.RegisterTask("ingest", "dda_analysis")
	m.MarkCompleted(id)

	info, ok := m.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, info.State)
	assert.False(t, info.IsActive())
	assert.NotNil(t, info.CompletedAt)
}

func TestMarkFailedRecordsError(t *testing.T) {
	m := NewManager()
	id, _ := m.RegisterTask("ingest", "dda_analysis")
	m.MarkFailed(id, errors.New("boom"))

	info, ok := m.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, StateFailed, info.State)
	assert.Equal(t, "boom", info.Error)
}

func TestUpdateProgressComputesPercentage(t *testing.T) {
	m := NewManager()
	id, _ := m.RegisterTask("ingest", "dda_analysis")
	total := 200
	m.UpdateProgress(id, NewProgress(50, &total).WithMessage("halfway"))

	info, ok := m.GetTask(id)
	require.True(t, ok)
	require.NotNil(t, info.Progress)
	assert.Equal(t, 25.0, info.Progress.Percentage)
	assert.Equal(t, "halfway", info.Progress.Message)
}

func TestCancelCancelsContextAndMarksState(t *testing.T) {
	m := NewManager()
	id, ctx := m.RegisterTask("ingest", "dda_analysis")

	require.NoError(t, m.Cancel(id))
	assert.True(t, m.IsTaskCancelled(id))

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled")
	}

	err := m.Cancel(id)
	assert.ErrorAs(t, err, &ErrAlreadyCancelled{})
}

func TestCancelUnknownTask(t *testing.T) {
	m := NewManager()
	err := m.Cancel("nope")
	assert.ErrorAs(t, err, &ErrTaskNotFound{})
}

func TestCancelByType(t *testing.T) {
	m := NewManager()
	id1, _ := m.RegisterTask("a", "dda_analysis")
	id2, _ := m.RegisterTask("b", "dda_analysis")
	id3, _ := m.RegisterTask("c", "streaming")

	cancelled := m.CancelByType("dda_analysis")
	assert.ElementsMatch(t, []string{id1, id2}, cancelled)

	info3, _ := m.GetTask(id3)
	assert.True(t, info3.IsActive())
}

func TestCancelAll(t *testing.T) {
	m := NewManager()
	m.RegisterTask("a", "dda_analysis")
	m.RegisterTask("b", "streaming")

	cancelled := m.CancelAll()
	assert.Len(t, cancelled, 2)
	assert.Empty(t, m.GetActiveTasks())
}

func TestSpawnManualCompletionContract(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	wg.Add(1)

	id := m.Spawn("job", "dda_analysis", func(ctx context.Context) {
		defer wg.Done()
		m.MarkCompleted(id)
	})

	wg.Wait()
	require.Eventually(t, func() bool {
		info, _ := m.GetTask(id)
		return info.State == StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestSpawnWithoutMarkingLeavesTaskRunning(t *testing.T) {
	m := NewManager()
	done := make(chan struct{})
	id := m.Spawn("job", "dda_analysis", func(ctx context.Context) {
		close(done)
	})

	<-done
	time.Sleep(10 * time.Millisecond)
	info, ok := m.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, StateRunning, info.State)
}

func TestCleanupCompletedTasksTrimsToMax(t *testing.T) {
	m := NewManager()
	for i := 0; i < maxCompletedTasks+10; i++ {
		id, _ := m.RegisterTask("job", "dda_analysis")
		m.MarkCompleted(id)
	}

	removed := m.CleanupCompletedTasks()
	assert.Equal(t, 10, removed)
	assert.Equal(t, maxCompletedTasks, m.TotalCount())
}

func TestCleanupNoOpUnderLimit(t *testing.T) {
	m := NewManager()
	id, _ := m.RegisterTask("job", "dda_analysis")
	m.MarkCompleted(id)

	assert.Equal(t, 0, m.CleanupCompletedTasks())
}

func TestGetTasksByType(t *testing.T) {
	m := NewManager()
	m.RegisterTask("a", "dda_analysis")
	m.RegisterTask("b", "streaming")

	tasks := m.GetTasksByType("streaming")
	require.Len(t, tasks, 1)
	assert.Equal(t, "streaming", tasks[0].Type)
}

func TestRemoveTask(t *testing.T) {
	m := NewManager()
	id, _ := m.RegisterTask("a", "dda_analysis")
	m.RemoveTask(id)

	_, ok := m.GetTask(id)
	assert.False(t, ok)
}

func TestActiveAndTotalCount(t *testing.T) {
	m := NewManager()
	id1, _ := m.RegisterTask("a", "dda_analysis")
	m.RegisterTask("b", "dda_analysis")
	m.MarkCompleted(id1)

	assert.Equal(t, 1, m.ActiveCount())
	assert.Equal(t, 2, m.TotalCount())
}
