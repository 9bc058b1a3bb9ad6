package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

func newTestTask(t *testing.T, repo *MemoryRepository) *Task {
	t.Helper()
	task := &Task{Title: "Bridge retrofit", Status: workflows.StatusPendingAssignment}
	entry := &AuditLog{Action: ActionTaskCreated, ActorID: uuid.New(), Details: datatypes.JSON(`{"title":"Bridge retrofit"}`)}
	require.NoError(t, repo.CreateTask(context.Background(), task, entry))
	return task
}

func TestMemoryCreateTask(t *testing.T) {
	repo := NewMemoryRepository()
	task := newTestTask(t, repo)

	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, int64(1), task.Version)

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, got.AuditLogs, 1)
	assert.Equal(t, int64(1), got.AuditLogs[0].Sequence)
	assert.Equal(t, ActionTaskCreated, got.AuditLogs[0].Action)
}

func TestMemoryGetTaskNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetTask(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = repo.GetUser(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryApplyTransitionRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	task := newTestTask(t, repo)

	first := *task
	first.Status = workflows.StatusPendingArchitectDesign
	require.NoError(t, repo.ApplyTransition(ctx, &first, 1, &AuditLog{Action: ActionStatusAdvanced, ActorID: uuid.New()}))
	assert.Equal(t, int64(2), first.Version)

	second := *task
	second.Status = workflows.StatusRejected
	err := repo.ApplyTransition(ctx, &second, 1, &AuditLog{Action: ActionTaskAbandoned, ActorID: uuid.New()})
	assert.True(t, errors.Is(err, ErrStaleState))

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusPendingArchitectDesign, got.Status)
	assert.Len(t, got.AuditLogs, 2)
}

func TestMemoryAppendDocumentSharesSequence(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	task := newTestTask(t, repo)
	uploader := uuid.New()

	doc := &TaskDocument{TaskID: task.ID, DocumentType: workflows.DocumentArchitectDesign, Filename: "plan.pdf", Locator: "tasks/plan.pdf", UploadedBy: uploader}
	require.NoError(t, repo.AppendDocument(ctx, doc, &AuditLog{Action: ActionDocumentUploaded, ActorID: uploader}, 1))
	assert.Equal(t, int64(2), doc.Sequence)

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version, "uploads do not bump the version")
	require.Len(t, got.Documents, 1)
	require.Len(t, got.AuditLogs, 2)
	assert.Equal(t, got.Documents[0].Sequence, got.AuditLogs[1].Sequence)
}

func TestMemoryAppendDocumentRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	task := newTestTask(t, repo)

	moved := *task
	moved.Status = workflows.StatusPendingEngineerDesign
	require.NoError(t, repo.ApplyTransition(ctx, &moved, 1, &AuditLog{Action: ActionStatusAdvanced, ActorID: uuid.New()}))

	doc := &TaskDocument{TaskID: task.ID, DocumentType: workflows.DocumentArchitectDesign, Filename: "plan.pdf", Locator: "tasks/plan.pdf", UploadedBy: uuid.New()}
	err := repo.AppendDocument(ctx, doc, &AuditLog{Action: ActionDocumentUploaded, ActorID: doc.UploadedBy}, 1)
	assert.True(t, errors.Is(err, ErrStaleState))

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Documents)
	assert.Len(t, got.AuditLogs, 2)
}

func TestMemoryReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	task := newTestTask(t, repo)

	first, err := repo.ListAuditLogs(ctx, task.ID)
	require.NoError(t, err)
	first[0].Action = ActionTaskAbandoned
	first[0].Details[2] = 'X'

	second, err := repo.ListAuditLogs(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionTaskCreated, second[0].Action)
	assert.JSONEq(t, `{"title":"Bridge retrofit"}`, string(second[0].Details))
}

func TestMemoryConcurrentTransitionsOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	task := newTestTask(t, repo)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, stale := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			change := Task{ID: task.ID, Status: workflows.StatusRejected}
			err := repo.ApplyTransition(ctx, &change, 1, &AuditLog{Action: ActionTaskAbandoned, ActorID: uuid.New()})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrStaleState) {
				stale++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, stale)

	logs, err := repo.ListAuditLogs(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestMemoryListTasksFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	a := newTestTask(t, repo)
	b := newTestTask(t, repo)

	assignee := uuid.New()
	change := *b
	change.AssignedToID = &assignee
	require.NoError(t, repo.ApplyTransition(ctx, &change, 1, &AuditLog{Action: ActionTaskAssigned, ActorID: uuid.New()}))

	closed := *a
	closed.Status = workflows.StatusRejected
	require.NoError(t, repo.ApplyTransition(ctx, &closed, 1, &AuditLog{Action: ActionTaskAbandoned, ActorID: uuid.New()}))

	got, err := repo.ListTasks(ctx, TaskFilter{AssignedTo: &assignee})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	got, err = repo.ListTasks(ctx, TaskFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	rejected := workflows.StatusRejected
	got, err = repo.ListTasks(ctx, TaskFilter{Status: &rejected})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}
