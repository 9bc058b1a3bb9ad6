package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// Event describes a committed change handed to notifiers
type Event struct {
	Task  tasks.Task
	Entry tasks.AuditLog
	Actor tasks.User
}

// Notifier is told about every committed change. Implementations must not block.
type Notifier interface {
	OnTransition(ctx context.Context, event Event)
}

// DocumentStore keeps uploaded bytes and returns where they were put
type DocumentStore interface {
	Put(ctx context.Context, taskID uuid.UUID, docType workflows.DocumentType, filename string, body io.Reader) (string, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// MetricsRecorder observes intent outcomes
type MetricsRecorder interface {
	RecordIntent(intent, outcome string, duration time.Duration)
}

type CreateTaskRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	SubmissionRef string `json:"submission_ref"`
}

type UploadRequest struct {
	TaskID       uuid.UUID
	DocumentType workflows.DocumentType
	Filename     string
	Comments     string
	Size         int64
	Body         io.Reader
}

// Engine runs workflow intents. Each intent validates against a snapshot of the
// task and commits the change and its audit entry together, or not at all.
type Engine struct {
	repo        tasks.Repository
	machine     *workflows.StateMachine
	gate        *workflows.DocumentGate
	assignments *AssignmentManager
	approvals   *ApprovalController
	audit       *AuditLogger
	store       DocumentStore
	notifier    Notifier
	metrics     MetricsRecorder
	logger      *zap.Logger
}

type Option func(*Engine)

func WithDocumentStore(store DocumentStore) Option {
	return func(e *Engine) { e.store = store }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a new workflow engine over repo
func NewEngine(repo tasks.Repository, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	machine := workflows.Default()
	gate := workflows.NewDocumentGate()
	audit := NewAuditLogger()
	e := &Engine{
		repo:        repo,
		machine:     machine,
		gate:        gate,
		assignments: NewAssignmentManager(machine, audit),
		approvals:   NewApprovalController(machine, gate, audit),
		audit:       audit,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateTask accepts an external submission as a new task in PENDING_ASSIGNMENT
func (e *Engine) CreateTask(ctx context.Context, actor *tasks.User, req CreateTaskRequest) (task *tasks.Task, err error) {
	defer e.observe("create", time.Now(), &err)

	if !actor.Role.IsManagement() {
		return nil, forbidden("role %s cannot create tasks", actor.Role)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	task = &tasks.Task{
		ID:            uuid.New(),
		Title:         title,
		Description:   req.Description,
		Status:        workflows.StatusPendingAssignment,
		SubmissionRef: req.SubmissionRef,
	}
	entry, err := e.audit.Entry(tasks.ActionTaskCreated, actor, "", task.Status, map[string]interface{}{
		"title":          title,
		"submission_ref": req.SubmissionRef,
	})
	if err != nil {
		return nil, err
	}
	if err := e.repo.CreateTask(ctx, task, entry); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	e.committed(ctx, actor, task, entry)
	return e.repo.GetTask(ctx, task.ID)
}

// GetTask returns a task with its documents and audit trail
func (e *Engine) GetTask(ctx context.Context, id uuid.UUID) (*tasks.Task, error) {
	return e.repo.GetTask(ctx, id)
}

func (e *Engine) ListTasks(ctx context.Context, filter tasks.TaskFilter) ([]tasks.Task, error) {
	return e.repo.ListTasks(ctx, filter)
}

// History returns the audit trail of a task in append order
func (e *Engine) History(ctx context.Context, id uuid.UUID) ([]tasks.AuditLog, error) {
	return e.repo.ListAuditLogs(ctx, id)
}

// Assign hands the task to userID, replacing any current assignee
func (e *Engine) Assign(ctx context.Context, actor *tasks.User, taskID, userID uuid.UUID) (task *tasks.Task, err error) {
	defer e.observe("assign", time.Now(), &err)
	return e.assign(ctx, actor, taskID, userID, false)
}

// Reassign replaces the current assignee of the task with userID
func (e *Engine) Reassign(ctx context.Context, actor *tasks.User, taskID, userID uuid.UUID) (task *tasks.Task, err error) {
	defer e.observe("reassign", time.Now(), &err)
	return e.assign(ctx, actor, taskID, userID, true)
}

func (e *Engine) assign(ctx context.Context, actor *tasks.User, taskID, userID uuid.UUID, requireExisting bool) (*tasks.Task, error) {
	snapshot, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	target, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ch, err := e.assignments.Assign(actor, snapshot, target, requireExisting)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, actor, snapshot, ch)
}

// Submit forwards the task for review on behalf of its assignee
func (e *Engine) Submit(ctx context.Context, actor *tasks.User, taskID uuid.UUID) (task *tasks.Task, err error) {
	defer e.observe("submit", time.Now(), &err)

	snapshot, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ch, err := e.approvals.Submit(actor, snapshot)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, actor, snapshot, ch)
}

func (e *Engine) Approve(ctx context.Context, actor *tasks.User, taskID uuid.UUID) (task *tasks.Task, err error) {
	defer e.observe("approve", time.Now(), &err)

	snapshot, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	assignee, err := e.assignee(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	ch, err := e.approvals.Approve(actor, snapshot, assignee)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, actor, snapshot, ch)
}

func (e *Engine) Reject(ctx context.Context, actor *tasks.User, taskID uuid.UUID, reason string) (task *tasks.Task, err error) {
	defer e.observe("reject", time.Now(), &err)

	if strings.TrimSpace(reason) == "" {
		return nil, ErrMissingReason
	}
	snapshot, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	assignee, err := e.assignee(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	ch, err := e.approvals.Reject(actor, snapshot, assignee, reason)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, actor, snapshot, ch)
}

// Complete marks an invoiced task as done
func (e *Engine) Complete(ctx context.Context, actor *tasks.User, taskID uuid.UUID) (task *tasks.Task, err error) {
	defer e.observe("complete", time.Now(), &err)

	snapshot, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ch, err := e.approvals.Complete(actor, snapshot)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, actor, snapshot, ch)
}

// Abandon administratively ends a task in REJECTED
func (e *Engine) Abandon(ctx context.Context, actor *tasks.User, taskID uuid.UUID, reason string) (task *tasks.Task, err error) {
	defer e.observe("abandon", time.Now(), &err)

	if strings.TrimSpace(reason) == "" {
		return nil, ErrMissingReason
	}
	snapshot, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ch, err := e.approvals.Abandon(actor, snapshot, reason)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, actor, snapshot, ch)
}

// uploadAttempts bounds how often an upload is re-validated when the task moves
// while its bytes are being stored
const uploadAttempts = 3

// AcknowledgeUpload stores a deliverable and records it on the task. The record
// is only written if the task still accepts the document once the bytes are
// stored; a task that moved in the meantime is re-read and re-checked.
func (e *Engine) AcknowledgeUpload(ctx context.Context, actor *tasks.User, req UploadRequest) (doc *tasks.TaskDocument, err error) {
	defer e.observe("upload", time.Now(), &err)

	if filename := strings.TrimSpace(req.Filename); filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	if _, err := workflows.ParseDocumentType(string(req.DocumentType)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if e.store == nil {
		return nil, errors.New("no document store configured")
	}

	snapshot, err := e.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if err := e.checkUpload(ctx, actor, snapshot, req.DocumentType); err != nil {
		return nil, err
	}

	locator, err := e.store.Put(ctx, snapshot.ID, req.DocumentType, req.Filename, req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	doc = &tasks.TaskDocument{
		ID:           uuid.New(),
		TaskID:       snapshot.ID,
		DocumentType: req.DocumentType,
		Filename:     req.Filename,
		Locator:      locator,
		Size:         req.Size,
		UploadedBy:   actor.ID,
		Comments:     req.Comments,
	}
	details := map[string]interface{}{
		"document_id":   doc.ID,
		"document_type": req.DocumentType,
		"filename":      req.Filename,
		"path":          locator,
	}

	for attempt := 1; ; attempt++ {
		entry, err := e.audit.Entry(tasks.ActionDocumentUploaded, actor, snapshot.Status, snapshot.Status, details)
		if err != nil {
			return nil, err
		}
		err = e.repo.AppendDocument(ctx, doc, entry, snapshot.Version)
		if err == nil {
			e.committed(ctx, actor, snapshot, entry)
			return doc, nil
		}
		if !errors.Is(err, ErrStaleState) || attempt == uploadAttempts {
			e.unrecorded(snapshot.ID, locator, err)
			return nil, fmt.Errorf("failed to record document: %w", err)
		}

		if snapshot, err = e.repo.GetTask(ctx, req.TaskID); err != nil {
			return nil, err
		}
		if err := e.checkUpload(ctx, actor, snapshot, req.DocumentType); err != nil {
			e.unrecorded(snapshot.ID, locator, err)
			return nil, err
		}
	}
}

// checkUpload decides whether actor may attach docType to task in its current state
func (e *Engine) checkUpload(ctx context.Context, actor *tasks.User, task *tasks.Task, docType workflows.DocumentType) error {
	isAssignee := task.AssignedToID != nil && *task.AssignedToID == actor.ID
	if !isAssignee && !actor.Role.IsManagement() {
		return forbidden("only the assignee or management can upload documents")
	}

	stage := task.Status
	assignee, err := e.assignee(ctx, task)
	if err != nil {
		return err
	}
	if assignee != nil {
		if working, ok := e.machine.WorkingStage(task.Status, assignee.Role); ok {
			stage = working
		}
	}
	if !e.gate.AcceptsUpload(stage, docType) {
		return invalidTransition("%s documents are not accepted while the task is in %s", docType, stage)
	}
	return nil
}

// unrecorded logs stored bytes that no document row points at
func (e *Engine) unrecorded(taskID uuid.UUID, locator string, cause error) {
	e.logger.Warn("Stored document was not recorded on the task",
		zap.String("task_id", taskID.String()),
		zap.String("locator", locator),
		zap.Error(cause))
}

// OpenDocument returns a stored deliverable of taskID with its body. The
// caller closes the reader.
func (e *Engine) OpenDocument(ctx context.Context, taskID, documentID uuid.UUID) (*tasks.TaskDocument, io.ReadCloser, error) {
	if e.store == nil {
		return nil, nil, errors.New("no document store configured")
	}
	docs, err := e.repo.ListDocuments(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	for i := range docs {
		if docs[i].ID != documentID {
			continue
		}
		body, err := e.store.Open(ctx, docs[i].Locator)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open document: %w", err)
		}
		return &docs[i], body, nil
	}
	return nil, nil, fmt.Errorf("%w: document %s on task %s", ErrNotFound, documentID, taskID)
}

func (e *Engine) assignee(ctx context.Context, task *tasks.Task) (*tasks.User, error) {
	if task.AssignedToID == nil {
		return nil, nil
	}
	u, err := e.repo.GetUser(ctx, *task.AssignedToID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignee: %w", err)
	}
	return u, nil
}

func (e *Engine) commit(ctx context.Context, actor *tasks.User, snapshot *tasks.Task, ch *change) (*tasks.Task, error) {
	next := ch.task
	if err := e.repo.ApplyTransition(ctx, &next, snapshot.Version, ch.entry); err != nil {
		return nil, err
	}
	e.committed(ctx, actor, &next, ch.entry)

	task, err := e.repo.GetTask(ctx, next.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload task: %w", err)
	}
	return task, nil
}

func (e *Engine) committed(ctx context.Context, actor *tasks.User, task *tasks.Task, entry *tasks.AuditLog) {
	e.logger.Info("Task workflow change committed",
		zap.String("task_id", task.ID.String()),
		zap.String("action", string(entry.Action)),
		zap.String("from", string(entry.FromStatus)),
		zap.String("to", string(entry.ToStatus)),
		zap.Int64("sequence", entry.Sequence),
		zap.String("actor_id", actor.ID.String()))

	if e.notifier == nil {
		return
	}
	snapshot := *task
	snapshot.Documents = nil
	snapshot.AuditLogs = nil
	e.notifier.OnTransition(ctx, Event{Task: snapshot, Entry: *entry, Actor: *actor})
}

func (e *Engine) observe(intent string, start time.Time, errp *error) {
	outcome := "success"
	if err := *errp; err != nil {
		outcome = strings.ToLower(Code(err))
		if outcome == "internal" {
			e.logger.Error("Workflow intent failed", zap.String("intent", intent), zap.Error(err))
		} else {
			e.logger.Debug("Workflow intent refused", zap.String("intent", intent), zap.Error(err))
		}
	}
	if e.metrics != nil {
		e.metrics.RecordIntent(intent, outcome, time.Since(start))
	}
}
