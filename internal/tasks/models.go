package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

type AuditAction string

const (
	ActionTaskCreated       AuditAction = "TASK_CREATED"
	ActionTaskAssigned      AuditAction = "TASK_ASSIGNED"
	ActionTaskReassigned    AuditAction = "TASK_REASSIGNED"
	ActionDocumentUploaded  AuditAction = "DOCUMENT_UPLOADED"
	ActionStatusAdvanced    AuditAction = "STATUS_ADVANCED"
	ActionDesignApproved    AuditAction = "DESIGN_APPROVED"
	ActionDesignRejected    AuditAction = "DESIGN_REJECTED"
	ActionQuotationApproved AuditAction = "QUOTATION_APPROVED"
	ActionQuotationRejected AuditAction = "QUOTATION_REJECTED"
	ActionTaskCompleted     AuditAction = "TASK_COMPLETED"
	ActionTaskAbandoned     AuditAction = "TASK_ABANDONED"
)

// User is a portal member who can be assigned work or act on tasks
type User struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string         `json:"name" gorm:"not null"`
	Email     string         `json:"email" gorm:"uniqueIndex"`
	Role      workflows.Role `json:"role" gorm:"type:varchar(32);not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

// Task is a unit of infrastructure work moving through the pipeline
type Task struct {
	ID            uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	Title         string           `json:"title" gorm:"not null"`
	Description   string           `json:"description"`
	Status        workflows.Status `json:"status" gorm:"type:varchar(40);not null;index"`
	AssignedToID  *uuid.UUID       `json:"assigned_to_id" gorm:"type:uuid;index"`
	AssignedByID  *uuid.UUID       `json:"assigned_by_id" gorm:"type:uuid"`
	SubmissionRef string           `json:"submission_ref"`
	Version       int64            `json:"version" gorm:"not null;default:1"`
	// AuditSeq is the sequence number of the newest audit entry for this task
	AuditSeq  int64          `json:"-" gorm:"not null;default:0"`
	Documents []TaskDocument `json:"documents,omitempty" gorm:"foreignKey:TaskID"`
	AuditLogs []AuditLog     `json:"audit_logs,omitempty" gorm:"foreignKey:TaskID"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"index"`
}

// TaskDocument is an uploaded deliverable. Rows are never updated or deleted.
type TaskDocument struct {
	ID           uuid.UUID              `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID       uuid.UUID              `json:"task_id" gorm:"type:uuid;not null;index"`
	DocumentType workflows.DocumentType `json:"document_type" gorm:"type:varchar(32);not null"`
	Filename     string                 `json:"filename" gorm:"not null"`
	Locator      string                 `json:"locator" gorm:"not null"`
	Size         int64                  `json:"size"`
	UploadedBy   uuid.UUID              `json:"uploaded_by" gorm:"type:uuid;not null"`
	Comments     string                 `json:"comments"`
	Sequence     int64                  `json:"sequence" gorm:"not null"`
	CreatedAt    time.Time              `json:"created_at"`
}

// AuditLog is one immutable entry of a task's history
type AuditLog struct {
	ID         uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID     uuid.UUID        `json:"task_id" gorm:"type:uuid;not null;uniqueIndex:idx_audit_task_seq,priority:1"`
	Sequence   int64            `json:"sequence" gorm:"not null;uniqueIndex:idx_audit_task_seq,priority:2"`
	Action     AuditAction      `json:"action" gorm:"type:varchar(32);not null"`
	FromStatus workflows.Status `json:"from_status,omitempty" gorm:"type:varchar(40)"`
	ToStatus   workflows.Status `json:"to_status,omitempty" gorm:"type:varchar(40)"`
	Details    datatypes.JSON   `json:"details" gorm:"type:jsonb"`
	ActorID    uuid.UUID        `json:"actor_id" gorm:"type:uuid;not null"`
	ActorRole  workflows.Role   `json:"actor_role" gorm:"type:varchar(32)"`
	CreatedAt  time.Time        `json:"created_at"`
}

// TaskFilter narrows ListTasks
type TaskFilter struct {
	Status        *workflows.Status
	AssignedTo    *uuid.UUID
	ActiveOnly    bool
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// AfterFind refuses rows whose status drifted outside the status table
func (t *Task) AfterFind(tx *gorm.DB) error {
	if !t.Status.Valid() {
		return fmt.Errorf("task %s has unknown status %q", t.ID, t.Status)
	}
	return nil
}

func (d *TaskDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// DetailMap decodes the entry's details payload
func (a AuditLog) DetailMap() map[string]interface{} {
	out := map[string]interface{}{}
	if len(a.Details) == 0 {
		return out
	}
	_ = json.Unmarshal(a.Details, &out)
	return out
}

// DocumentRefs projects documents into the view the document gate consumes
func DocumentRefs(docs []TaskDocument) []workflows.DocumentRef {
	refs := make([]workflows.DocumentRef, len(docs))
	for i, d := range docs {
		refs[i] = workflows.DocumentRef{Type: d.DocumentType, UploadedBy: d.UploadedBy, Sequence: d.Sequence}
	}
	return refs
}

func (t *Task) clone() *Task {
	out := *t
	if t.AssignedToID != nil {
		id := *t.AssignedToID
		out.AssignedToID = &id
	}
	if t.AssignedByID != nil {
		id := *t.AssignedByID
		out.AssignedByID = &id
	}
	out.Documents = append([]TaskDocument(nil), t.Documents...)
	out.AuditLogs = cloneAuditLogs(t.AuditLogs)
	return &out
}

func cloneAuditLogs(in []AuditLog) []AuditLog {
	if in == nil {
		return nil
	}
	out := make([]AuditLog, len(in))
	for i, a := range in {
		a.Details = append(datatypes.JSON(nil), a.Details...)
		out[i] = a
	}
	return out
}
