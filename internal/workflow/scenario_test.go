package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// checkInvariants asserts the properties that must hold after every committed operation
func checkInvariants(t *testing.T, f *fixture, taskID uuid.UUID, previous []tasks.AuditLog) []tasks.AuditLog {
	t.Helper()
	task, err := f.engine.GetTask(f.ctx, taskID)
	require.NoError(t, err)

	assert.True(t, task.Status.Valid(), "status %q is outside the table", task.Status)
	if task.AssignedToID != nil {
		assignee, err := f.repo.GetUser(f.ctx, *task.AssignedToID)
		require.NoError(t, err)
		assert.True(t, workflows.Default().RoleAllowed(task.Status, assignee.Role),
			"%s may not hold a task in %s", assignee.Role, task.Status)
	}

	require.GreaterOrEqual(t, len(task.AuditLogs), len(previous))
	if len(previous) > 0 {
		assert.Equal(t, previous, task.AuditLogs[:len(previous)], "audit history was rewritten")
	}
	for i, e := range task.AuditLogs {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	return task.AuditLogs
}

func TestDeliveryScenario(t *testing.T) {
	f := newFixture(t)
	task := f.newTask(t)
	history := checkInvariants(t, f, task.ID, nil)

	step := func(name string, run func() (*tasks.Task, error), want workflows.Status) *tasks.Task {
		t.Helper()
		got, err := run()
		require.NoError(t, err, name)
		assert.Equal(t, want, got.Status, name)
		history = checkInvariants(t, f, task.ID, history)
		return got
	}
	upload := func(actor *tasks.User, docType workflows.DocumentType) {
		t.Helper()
		f.upload(t, actor, task.ID, docType)
		history = checkInvariants(t, f, task.ID, history)
	}

	step("assign architect", func() (*tasks.Task, error) {
		return f.engine.Assign(f.ctx, f.admin, task.ID, f.architect.ID)
	}, workflows.StatusPendingAssignment)
	upload(f.architect, workflows.DocumentArchitectDesign)
	step("architect submits", func() (*tasks.Task, error) {
		return f.engine.Submit(f.ctx, f.architect, task.ID)
	}, workflows.StatusPendingEngineerDesign)

	step("assign engineer", func() (*tasks.Task, error) {
		return f.engine.Assign(f.ctx, f.admin, task.ID, f.engineer.ID)
	}, workflows.StatusPendingEngineerDesign)
	upload(f.engineer, workflows.DocumentEngineerDesign)
	step("engineer submits", func() (*tasks.Task, error) {
		return f.engine.Submit(f.ctx, f.engineer, task.ID)
	}, workflows.StatusPendingDesignApproval)
	step("approve design", func() (*tasks.Task, error) {
		return f.engine.Approve(f.ctx, f.admin, task.ID)
	}, workflows.StatusPendingQuantifying)

	step("assign surveyor", func() (*tasks.Task, error) {
		return f.engine.Assign(f.ctx, f.admin, task.ID, f.surveyor.ID)
	}, workflows.StatusPendingQuantifying)
	upload(f.surveyor, workflows.DocumentQuotation)
	step("surveyor submits", func() (*tasks.Task, error) {
		return f.engine.Submit(f.ctx, f.surveyor, task.ID)
	}, workflows.StatusPendingFinalApproval)

	got := step("reject quotation", func() (*tasks.Task, error) {
		return f.engine.Reject(f.ctx, f.admin, task.ID, "pricing too high")
	}, workflows.StatusPendingQuantifying)
	require.NotNil(t, got.AssignedToID)
	assert.Equal(t, f.surveyor.ID, *got.AssignedToID)

	upload(f.surveyor, workflows.DocumentQuotation)
	step("surveyor resubmits", func() (*tasks.Task, error) {
		return f.engine.Submit(f.ctx, f.surveyor, task.ID)
	}, workflows.StatusPendingFinalApproval)
	step("approve quotation", func() (*tasks.Task, error) {
		return f.engine.Approve(f.ctx, f.admin, task.ID)
	}, workflows.StatusPendingInvoicing)

	step("complete", func() (*tasks.Task, error) {
		return f.engine.Complete(f.ctx, f.admin, task.ID)
	}, workflows.StatusCompleted)

	assert.Equal(t, 10, Count(history, WorkflowActions...))
	assert.Equal(t, 1, Count(history, tasks.ActionTaskCreated))
	assert.Equal(t, 4, Count(history, tasks.ActionDocumentUploaded))
	assert.Equal(t, 1, Count(history, tasks.ActionTaskCompleted))
	assert.Len(t, history, 16)

	again, err := f.engine.History(f.ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, history, again, "re-reading yields identical entries")
}
