package tasks

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

const (
	versionedUpdate = `UPDATE "tasks" SET .* WHERE id = \$\d+ AND version = \$\d+ RETURNING "(version|audit_seq)"`
	taskCount       = `SELECT count\(\*\) FROM "tasks" WHERE id = \$1`
)

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewPostgresRepository(db), mock
}

func transitionFixture() (*Task, *AuditLog) {
	assignee := uuid.New()
	task := &Task{
		ID:           uuid.New(),
		Status:       workflows.StatusPendingEngineerDesign,
		AssignedToID: &assignee,
	}
	entry := &AuditLog{
		Action:     ActionStatusAdvanced,
		FromStatus: workflows.StatusPendingAssignment,
		ToStatus:   workflows.StatusPendingEngineerDesign,
		ActorID:    assignee,
	}
	return task, entry
}

func TestPostgresApplyTransition(t *testing.T) {
	repo, mock := newMockRepository(t)
	task, entry := transitionFixture()

	mock.ExpectBegin()
	mock.ExpectQuery(versionedUpdate).
		WillReturnRows(sqlmock.NewRows([]string{"version", "audit_seq"}).AddRow(3, 6))
	mock.ExpectExec(`INSERT INTO "audit_logs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ApplyTransition(context.Background(), task, 2, entry))
	assert.Equal(t, int64(3), task.Version)
	assert.Equal(t, int64(6), task.AuditSeq)
	assert.Equal(t, int64(6), entry.Sequence)
	assert.Equal(t, task.ID, entry.TaskID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApplyTransitionStaleVersion(t *testing.T) {
	repo, mock := newMockRepository(t)
	task, entry := transitionFixture()

	// the first writer already moved the task to version 3
	mock.ExpectBegin()
	mock.ExpectQuery(versionedUpdate).WillReturnRows(sqlmock.NewRows([]string{"version", "audit_seq"}))
	mock.ExpectQuery(taskCount).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.ApplyTransition(context.Background(), task, 2, entry)
	assert.ErrorIs(t, err, ErrStaleState)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Zero(t, task.Version)
	assert.Zero(t, entry.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApplyTransitionMissingTask(t *testing.T) {
	repo, mock := newMockRepository(t)
	task, entry := transitionFixture()

	mock.ExpectBegin()
	mock.ExpectQuery(versionedUpdate).WillReturnRows(sqlmock.NewRows([]string{"version", "audit_seq"}))
	mock.ExpectQuery(taskCount).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	err := repo.ApplyTransition(context.Background(), task, 1, entry)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendDocumentSharesAuditSequence(t *testing.T) {
	repo, mock := newMockRepository(t)
	taskID := uuid.New()
	doc := &TaskDocument{
		TaskID:       taskID,
		DocumentType: workflows.DocumentEngineerDesign,
		Filename:     "structure.pdf",
		Locator:      "tasks/structure.pdf",
		UploadedBy:   uuid.New(),
	}
	entry := &AuditLog{Action: ActionDocumentUploaded, ActorID: doc.UploadedBy}

	mock.ExpectBegin()
	mock.ExpectQuery(versionedUpdate).WillReturnRows(sqlmock.NewRows([]string{"audit_seq"}).AddRow(5))
	mock.ExpectExec(`INSERT INTO "task_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "audit_logs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AppendDocument(context.Background(), doc, entry, 4))
	assert.Equal(t, int64(5), doc.Sequence)
	assert.Equal(t, doc.Sequence, entry.Sequence)
	assert.Equal(t, taskID, entry.TaskID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendDocumentStaleVersion(t *testing.T) {
	repo, mock := newMockRepository(t)
	doc := &TaskDocument{TaskID: uuid.New(), DocumentType: workflows.DocumentArchitectDesign, Filename: "late.pdf"}
	entry := &AuditLog{Action: ActionDocumentUploaded}

	mock.ExpectBegin()
	mock.ExpectQuery(versionedUpdate).WillReturnRows(sqlmock.NewRows([]string{"audit_seq"}))
	mock.ExpectQuery(taskCount).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.AppendDocument(context.Background(), doc, entry, 1)
	assert.ErrorIs(t, err, ErrStaleState)
	assert.Zero(t, doc.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}
