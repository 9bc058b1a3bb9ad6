package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// toDesignApproval drives a fresh task through both design stages
func toDesignApproval(t *testing.T, f *fixture) *tasks.Task {
	t.Helper()
	task := f.newTask(t)
	_, err := f.engine.Assign(f.ctx, f.admin, task.ID, f.architect.ID)
	require.NoError(t, err)
	f.upload(t, f.architect, task.ID, workflows.DocumentArchitectDesign)
	_, err = f.engine.Submit(f.ctx, f.architect, task.ID)
	require.NoError(t, err)
	_, err = f.engine.Assign(f.ctx, f.admin, task.ID, f.engineer.ID)
	require.NoError(t, err)
	f.upload(t, f.engineer, task.ID, workflows.DocumentEngineerDesign)
	got, err := f.engine.Submit(f.ctx, f.engineer, task.ID)
	require.NoError(t, err)
	require.Equal(t, workflows.StatusPendingDesignApproval, got.Status)
	return got
}

// toFinalApproval continues into costing and submits a quotation
func toFinalApproval(t *testing.T, f *fixture) *tasks.Task {
	t.Helper()
	task := toDesignApproval(t, f)
	_, err := f.engine.Approve(f.ctx, f.admin, task.ID)
	require.NoError(t, err)
	_, err = f.engine.Assign(f.ctx, f.admin, task.ID, f.surveyor.ID)
	require.NoError(t, err)
	f.upload(t, f.surveyor, task.ID, workflows.DocumentQuotation)
	got, err := f.engine.Submit(f.ctx, f.surveyor, task.ID)
	require.NoError(t, err)
	require.Equal(t, workflows.StatusPendingFinalApproval, got.Status)
	return got
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	task := toDesignApproval(t, f)
	before := auditCount(t, f, task.ID)

	for _, reason := range []string{"", "   \t"} {
		_, err := f.engine.Reject(f.ctx, f.admin, task.ID, reason)
		assert.True(t, errors.Is(err, ErrMissingReason))
	}
	_, err := f.engine.Reject(f.ctx, f.member, task.ID, "")
	assert.True(t, errors.Is(err, ErrMissingReason), "reason is checked before the actor")

	assert.Equal(t, before, auditCount(t, f, task.ID))
}

func TestRejectDesignRewindsToEngineeringDesign(t *testing.T) {
	f := newFixture(t)
	task := toDesignApproval(t, f)

	got, err := f.engine.Reject(f.ctx, f.admin, task.ID, "needs more detail")
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusPendingEngineerDesign, got.Status)
	require.NotNil(t, got.AssignedToID)
	assert.Equal(t, f.engineer.ID, *got.AssignedToID, "assignee stays for the revision")

	rejected := 0
	for _, e := range got.AuditLogs {
		if e.Action == tasks.ActionDesignRejected {
			rejected++
			assert.Equal(t, "needs more detail", e.DetailMap()["reason"])
		}
	}
	assert.Equal(t, 1, rejected)

	_, err = f.engine.Submit(f.ctx, f.engineer, task.ID)
	require.NoError(t, err, "the earlier design still satisfies the gate")

	got, err = f.engine.GetTask(f.ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusPendingDesignApproval, got.Status)
}

func TestRejectDesignReleasesMismatchedAssignee(t *testing.T) {
	f := newFixture(t)
	// imported rows may hold an architect in design approval
	task := &tasks.Task{
		Title:        "Footbridge deck",
		Status:       workflows.StatusPendingDesignApproval,
		AssignedToID: &f.architect.ID,
		AssignedByID: &f.admin.ID,
	}
	require.NoError(t, f.repo.CreateTask(f.ctx, task, &tasks.AuditLog{Action: tasks.ActionTaskCreated, ActorID: f.admin.ID}))

	got, err := f.engine.Reject(f.ctx, f.admin, task.ID, "needs more detail")
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusPendingEngineerDesign, got.Status)
	assert.Nil(t, got.AssignedToID)

	last := got.AuditLogs[len(got.AuditLogs)-1]
	assert.Equal(t, tasks.ActionDesignRejected, last.Action)
	assert.Equal(t, f.architect.ID.String(), last.DetailMap()["released_assignee_id"])
}

func TestRejectQuotationKeepsSurveyor(t *testing.T) {
	f := newFixture(t)
	task := toFinalApproval(t, f)

	got, err := f.engine.Reject(f.ctx, f.admin, task.ID, "pricing too high")
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusPendingQuantifying, got.Status)
	assert.Equal(t, f.surveyor.ID, *got.AssignedToID)

	last := got.AuditLogs[len(got.AuditLogs)-1]
	assert.Equal(t, tasks.ActionQuotationRejected, last.Action)
	assert.Equal(t, "pricing too high", last.DetailMap()["reason"])
}

func TestApproveOnlyFromReviewStates(t *testing.T) {
	f := newFixture(t)
	task := f.newTask(t)

	_, err := f.engine.Approve(f.ctx, f.admin, task.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.engine.Reject(f.ctx, f.admin, task.ID, "no")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	review := toDesignApproval(t, f)
	_, err = f.engine.Approve(f.ctx, f.engineer, review.ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	got, err := f.engine.Approve(f.ctx, f.admin, review.ID)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusPendingQuantifying, got.Status)
	assert.Equal(t, tasks.ActionDesignApproved, got.AuditLogs[len(got.AuditLogs)-1].Action)
	assert.Equal(t, f.engineer.ID, *got.AssignedToID, "engineers may stay on for costing")
}

func TestSubmitNotAllowedInReview(t *testing.T) {
	f := newFixture(t)
	task := toDesignApproval(t, f)

	_, err := f.engine.Submit(f.ctx, f.engineer, task.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.engine.Assign(f.ctx, f.admin, task.ID, f.surveyor.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "review states are not assignable")
}

func TestCompleteAndAbandon(t *testing.T) {
	f := newFixture(t)
	task := toFinalApproval(t, f)

	_, err := f.engine.Complete(f.ctx, f.admin, task.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.engine.Approve(f.ctx, f.admin, task.ID)
	require.NoError(t, err)
	invoice := f.upload(t, f.admin, task.ID, workflows.DocumentInvoice)
	assert.Equal(t, workflows.DocumentInvoice, invoice.DocumentType)
	got, err := f.engine.Complete(f.ctx, f.admin, task.ID)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusCompleted, got.Status)

	_, err = f.engine.Abandon(f.ctx, f.admin, task.ID, "duplicate")
	assert.True(t, errors.Is(err, ErrInvalidTransition), "completed tasks are final")

	other := f.newTask(t)
	_, err = f.engine.Abandon(f.ctx, f.admin, other.ID, "")
	assert.True(t, errors.Is(err, ErrMissingReason))
	_, err = f.engine.Abandon(f.ctx, f.architect, other.ID, "client withdrew")
	assert.True(t, errors.Is(err, ErrForbidden))

	got, err = f.engine.Abandon(f.ctx, f.admin, other.ID, "client withdrew")
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusRejected, got.Status)
	assert.Equal(t, tasks.ActionTaskAbandoned, got.AuditLogs[len(got.AuditLogs)-1].Action)

	_, err = f.engine.Assign(f.ctx, f.admin, other.ID, f.architect.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	_, err = f.engine.AcknowledgeUpload(f.ctx, f.admin, UploadRequest{TaskID: other.ID, DocumentType: workflows.DocumentOther, Filename: "late.pdf"})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}
