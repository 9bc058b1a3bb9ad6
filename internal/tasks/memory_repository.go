package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type taskRecord struct {
	mu   sync.Mutex
	task Task
	docs []TaskDocument
	logs []AuditLog
}

// MemoryRepository is an in-process Repository. Every task has its own lock so
// writers on different tasks never contend; reads return copies.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
	tasks map[uuid.UUID]*taskRecord
	now   func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[uuid.UUID]User),
		tasks: make(map[uuid.UUID]*taskRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) record(id uuid.UUID) (*taskRecord, error) {
	r.mu.RLock()
	rec, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return rec, nil
}

func (r *MemoryRepository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.ID]; exists {
		return fmt.Errorf("failed to create user: duplicate id %s", user.ID)
	}
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return &u, nil
}

func (r *MemoryRepository) ListUsers(ctx context.Context) ([]User, error) {
	r.mu.RLock()
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) CreateTask(ctx context.Context, task *Task, entry *AuditLog) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := r.now()
	task.Version = 1
	task.AuditSeq = 1
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Documents = nil
	task.AuditLogs = nil

	entry.TaskID = task.ID
	entry.Sequence = 1
	stampEntry(entry, now)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.ID]; exists {
		return fmt.Errorf("failed to create task: duplicate id %s", task.ID)
	}
	rec := &taskRecord{task: *task.clone()}
	rec.logs = cloneAuditLogs([]AuditLog{*entry})
	r.tasks[task.ID] = rec
	return nil
}

func (r *MemoryRepository) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := rec.task.clone()
	out.Documents = append([]TaskDocument(nil), rec.docs...)
	out.AuditLogs = cloneAuditLogs(rec.logs)
	return out, nil
}

func (r *MemoryRepository) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	r.mu.RLock()
	recs := make([]*taskRecord, 0, len(r.tasks))
	for _, rec := range r.tasks {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	var out []Task
	for _, rec := range recs {
		rec.mu.Lock()
		t := *rec.task.clone()
		rec.mu.Unlock()
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.AssignedTo != nil && (t.AssignedToID == nil || *t.AssignedToID != *filter.AssignedTo) {
			continue
		}
		if filter.ActiveOnly && t.Status.Terminal() {
			continue
		}
		if filter.UpdatedBefore != nil && !t.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListDocuments(ctx context.Context, taskID uuid.UUID) ([]TaskDocument, error) {
	rec, err := r.record(taskID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]TaskDocument(nil), rec.docs...), nil
}

func (r *MemoryRepository) ListAuditLogs(ctx context.Context, taskID uuid.UUID) ([]AuditLog, error) {
	rec, err := r.record(taskID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneAuditLogs(rec.logs), nil
}

func (r *MemoryRepository) ApplyTransition(ctx context.Context, task *Task, expectedVersion int64, entry *AuditLog) error {
	rec, err := r.record(task.ID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.task.Version != expectedVersion {
		return fmt.Errorf("%w: task %s at version %d", ErrStaleState, task.ID, expectedVersion)
	}

	now := r.now()
	rec.task.AuditSeq++
	rec.task.Version++
	rec.task.Status = task.Status
	rec.task.AssignedToID = copyID(task.AssignedToID)
	rec.task.AssignedByID = copyID(task.AssignedByID)
	rec.task.UpdatedAt = now

	entry.TaskID = task.ID
	entry.Sequence = rec.task.AuditSeq
	stampEntry(entry, now)
	rec.logs = append(rec.logs, cloneAuditLogs([]AuditLog{*entry})...)

	task.Version = rec.task.Version
	task.AuditSeq = rec.task.AuditSeq
	task.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) AppendDocument(ctx context.Context, doc *TaskDocument, entry *AuditLog, expectedVersion int64) error {
	rec, err := r.record(doc.TaskID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.task.Version != expectedVersion {
		return fmt.Errorf("%w: task %s at version %d", ErrStaleState, doc.TaskID, expectedVersion)
	}

	now := r.now()
	rec.task.AuditSeq++
	rec.task.UpdatedAt = now

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.Sequence = rec.task.AuditSeq
	doc.CreatedAt = now
	rec.docs = append(rec.docs, *doc)

	entry.TaskID = doc.TaskID
	entry.Sequence = rec.task.AuditSeq
	stampEntry(entry, now)
	rec.logs = append(rec.logs, cloneAuditLogs([]AuditLog{*entry})...)
	return nil
}

func stampEntry(entry *AuditLog, now time.Time) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = now
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
