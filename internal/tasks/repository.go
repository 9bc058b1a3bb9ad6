package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrStaleState = errors.New("task changed since it was read")
)

// Repository persists tasks together with their documents and audit trail.
// Audit entries are only ever written in the same transaction as the change they describe.
type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// CreateTask inserts task and its first audit entry
	CreateTask(ctx context.Context, task *Task, entry *AuditLog) error
	// GetTask returns the task with documents and audit logs ordered by sequence
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	ListDocuments(ctx context.Context, taskID uuid.UUID) ([]TaskDocument, error)
	ListAuditLogs(ctx context.Context, taskID uuid.UUID) ([]AuditLog, error)

	// ApplyTransition writes status and assignment of task if its stored version still
	// equals expectedVersion, and appends entry. ErrStaleState otherwise.
	ApplyTransition(ctx context.Context, task *Task, expectedVersion int64, entry *AuditLog) error
	// AppendDocument records doc and its upload entry if the task is still at
	// expectedVersion, without bumping the version. ErrStaleState otherwise.
	AppendDocument(ctx context.Context, doc *TaskDocument, entry *AuditLog, expectedVersion int64) error
}

// PostgresRepository implements Repository on gorm
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository creates a new gorm backed repository
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// AutoMigrate creates or updates the task tables
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Task{}, &TaskDocument{}, &AuditLog{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user *User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *PostgresRepository) CreateTask(ctx context.Context, task *Task, entry *AuditLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task.Version = 1
		task.AuditSeq = 1
		if err := tx.Omit(clause.Associations).Create(task).Error; err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		entry.TaskID = task.ID
		entry.Sequence = 1
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append audit log: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	var task Task
	err := r.db.WithContext(ctx).
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Preload("AuditLogs", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

func (r *PostgresRepository) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	query := r.db.WithContext(ctx).Model(&Task{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.AssignedTo != nil {
		query = query.Where("assigned_to_id = ?", *filter.AssignedTo)
	}
	if filter.ActiveOnly {
		query = query.Where("status NOT IN ?", []workflows.Status{workflows.StatusCompleted, workflows.StatusRejected})
	}
	if filter.UpdatedBefore != nil {
		query = query.Where("updated_at < ?", *filter.UpdatedBefore)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var out []Task
	if err := query.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListDocuments(ctx context.Context, taskID uuid.UUID) ([]TaskDocument, error) {
	var docs []TaskDocument
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("sequence ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

func (r *PostgresRepository) ListAuditLogs(ctx context.Context, taskID uuid.UUID) ([]AuditLog, error) {
	var logs []AuditLog
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("sequence ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

func (r *PostgresRepository) ApplyTransition(ctx context.Context, task *Task, expectedVersion int64, entry *AuditLog) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var updated Task
		res := tx.Model(&updated).
			Clauses(clause.Returning{Columns: []clause.Column{{Name: "version"}, {Name: "audit_seq"}}}).
			Where("id = ? AND version = ?", task.ID, expectedVersion).
			Updates(map[string]interface{}{
				"status":         task.Status,
				"assigned_to_id": task.AssignedToID,
				"assigned_by_id": task.AssignedByID,
				"version":        gorm.Expr("version + 1"),
				"audit_seq":      gorm.Expr("audit_seq + 1"),
				"updated_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return missedUpdate(tx, task.ID, expectedVersion)
		}

		entry.TaskID = task.ID
		entry.Sequence = updated.AuditSeq
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append audit log: %w", err)
		}

		task.Version = updated.Version
		task.AuditSeq = updated.AuditSeq
		task.UpdatedAt = now
		return nil
	})
}

func (r *PostgresRepository) AppendDocument(ctx context.Context, doc *TaskDocument, entry *AuditLog, expectedVersion int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var updated Task
		res := tx.Model(&updated).
			Clauses(clause.Returning{Columns: []clause.Column{{Name: "audit_seq"}}}).
			Where("id = ? AND version = ?", doc.TaskID, expectedVersion).
			Update("audit_seq", gorm.Expr("audit_seq + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to reserve audit sequence: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return missedUpdate(tx, doc.TaskID, expectedVersion)
		}

		doc.Sequence = updated.AuditSeq
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		entry.TaskID = doc.TaskID
		entry.Sequence = updated.AuditSeq
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append audit log: %w", err)
		}
		return nil
	})
}

// missedUpdate tells a vanished task from one that moved past expectedVersion
func missedUpdate(tx *gorm.DB, id uuid.UUID, expectedVersion int64) error {
	var n int64
	if err := tx.Model(&Task{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: task %s at version %d", ErrStaleState, id, expectedVersion)
}
