package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

type fakeLister struct {
	mu      sync.Mutex
	tasks   []tasks.Task
	err     error
	filters []tasks.TaskFilter
}

func (f *fakeLister) ListTasks(ctx context.Context, filter tasks.TaskFilter) ([]tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	var out []tasks.Task
	for _, t := range f.tasks {
		if filter.ActiveOnly && t.Status.Terminal() {
			continue
		}
		if filter.UpdatedBefore != nil && !t.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type fakeReporter struct {
	mu    sync.Mutex
	calls []map[string]int
}

func (f *fakeReporter) SetStaleTasks(byStatus map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, byStatus)
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestSweepReportsIdleActiveTasks(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assignee := uuid.New()
	lister := &fakeLister{tasks: []tasks.Task{
		{ID: uuid.New(), Status: workflows.StatusPendingQuantifying, UpdatedAt: now.Add(-100 * time.Hour), AssignedToID: &assignee},
		{ID: uuid.New(), Status: workflows.StatusPendingQuantifying, UpdatedAt: now.Add(-80 * time.Hour)},
		{ID: uuid.New(), Status: workflows.StatusPendingInvoicing, UpdatedAt: now.Add(-73 * time.Hour)},
		{ID: uuid.New(), Status: workflows.StatusPendingInvoicing, UpdatedAt: now.Add(-time.Hour)},
		{ID: uuid.New(), Status: workflows.StatusCompleted, UpdatedAt: now.Add(-500 * time.Hour)},
	}}
	reporter := &fakeReporter{}

	s := New(lister, reporter, 72*time.Hour, nil)
	s.now = func() time.Time { return now }

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, now.Add(-72*time.Hour), report.Cutoff)
	assert.Equal(t, map[string]int{
		string(workflows.StatusPendingQuantifying): 2,
		string(workflows.StatusPendingInvoicing):   1,
	}, report.ByStatus)
	assert.Len(t, report.TaskIDs, 3)

	require.Len(t, lister.filters, 1)
	assert.True(t, lister.filters[0].ActiveOnly)
	require.Equal(t, 1, reporter.count())
	assert.Equal(t, report.ByStatus, reporter.calls[0])
	assert.Same(t, report, s.LastReport())
}

func TestSweepEmptyStillResetsGauge(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(&fakeLister{}, reporter, time.Hour, nil)

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.ByStatus)
	assert.Equal(t, 1, reporter.count())
}

func TestSweepListFailure(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(&fakeLister{err: errors.New("db down")}, reporter, time.Hour, nil)

	_, err := s.Sweep(context.Background())
	assert.ErrorContains(t, err, "db down")
	assert.Zero(t, reporter.count())
	assert.Nil(t, s.LastReport())
}

func TestStartRunsImmediatelyAndRejectsRestart(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(&fakeLister{}, reporter, time.Hour, nil)

	require.NoError(t, s.Start(context.Background(), "@every 1h"))
	defer s.Stop()

	assert.Eventually(t, func() bool { return reporter.count() >= 1 }, time.Second, 10*time.Millisecond)
	assert.Error(t, s.Start(context.Background(), "@every 1h"))
}

func TestStartInvalidSchedule(t *testing.T) {
	s := New(&fakeLister{}, nil, time.Hour, nil)
	err := s.Start(context.Background(), "every few minutes")
	assert.ErrorContains(t, err, "invalid sweep schedule")

	// a failed start leaves the sweeper stopped
	s.Stop()
	assert.Nil(t, s.LastReport())
}
