package workflow

import (
	"fmt"
	"strings"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// ApprovalController validates submissions and management decisions on a task
type ApprovalController struct {
	machine *workflows.StateMachine
	gate    *workflows.DocumentGate
	audit   *AuditLogger
}

// NewApprovalController creates a new approval controller
func NewApprovalController(machine *workflows.StateMachine, gate *workflows.DocumentGate, audit *AuditLogger) *ApprovalController {
	return &ApprovalController{machine: machine, gate: gate, audit: audit}
}

// Submit moves the task along the advance edge of the assignee's working stage once
// the stage's deliverable is present.
func (c *ApprovalController) Submit(actor *tasks.User, task *tasks.Task) (*change, error) {
	if task.Status.Terminal() || task.Status.ManagementOnly() {
		return nil, invalidTransition("nothing to submit in %s", task.Status)
	}
	if task.AssignedToID == nil || *task.AssignedToID != actor.ID {
		return nil, forbidden("only the assignee can submit the task")
	}

	path, err := c.machine.SubmitPath(task.Status, actor.Role)
	if err != nil {
		return nil, invalidTransition("%v", err)
	}
	stage, _ := c.machine.WorkingStage(task.Status, actor.Role)
	if ok, missing := c.gate.Check(stage, actor.ID, tasks.DocumentRefs(task.Documents)); !ok {
		return nil, &DocumentGateError{Stage: stage, Required: missing}
	}

	to := path[len(path)-1]
	details := map[string]interface{}{}
	if stage != task.Status {
		details["via"] = stage
	}
	if required, gated := c.gate.RequiredDocument(stage); gated {
		latest, _ := workflows.Latest(tasks.DocumentRefs(task.Documents), required)
		details["document_sequence"] = latest.Sequence
	}

	next := *task
	next.Status = to
	if !c.machine.RoleAllowed(to, actor.Role) {
		details["released_assignee_id"] = actor.ID
		next.AssignedToID = nil
	}

	entry, err := c.audit.Entry(tasks.ActionStatusAdvanced, actor, task.Status, to, details)
	if err != nil {
		return nil, err
	}
	return &change{task: next, entry: entry}, nil
}

// Approve advances a task out of one of the two review states. assignee may be nil.
func (c *ApprovalController) Approve(actor *tasks.User, task *tasks.Task, assignee *tasks.User) (*change, error) {
	if !actor.Role.IsManagement() {
		return nil, forbidden("role %s cannot approve", actor.Role)
	}

	var action tasks.AuditAction
	switch task.Status {
	case workflows.StatusPendingDesignApproval:
		action = tasks.ActionDesignApproved
	case workflows.StatusPendingFinalApproval:
		action = tasks.ActionQuotationApproved
	default:
		return nil, invalidTransition("approve is not legal from %s", task.Status)
	}
	to, ok := c.machine.Next(task.Status, workflows.KindApprove)
	if !ok {
		return nil, invalidTransition("no approval edge leaves %s", task.Status)
	}

	details := map[string]interface{}{}
	next := *task
	next.Status = to
	if assignee != nil && !c.machine.RoleAllowed(to, assignee.Role) {
		details["released_assignee_id"] = assignee.ID
		next.AssignedToID = nil
	}

	entry, err := c.audit.Entry(action, actor, task.Status, to, details)
	if err != nil {
		return nil, err
	}
	return &change{task: next, entry: entry}, nil
}

// Reject rewinds a task from a review state to the stage immediately before it.
// The assignee stays on the task unless their role cannot work the target stage.
// assignee may be nil.
func (c *ApprovalController) Reject(actor *tasks.User, task *tasks.Task, assignee *tasks.User, reason string) (*change, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrMissingReason
	}
	if !actor.Role.IsManagement() {
		return nil, forbidden("role %s cannot reject", actor.Role)
	}

	var action tasks.AuditAction
	switch task.Status {
	case workflows.StatusPendingDesignApproval:
		action = tasks.ActionDesignRejected
	case workflows.StatusPendingFinalApproval:
		action = tasks.ActionQuotationRejected
	default:
		return nil, invalidTransition("reject is not legal from %s", task.Status)
	}
	to, ok := c.machine.ReviewedStage(task.Status)
	if !ok || !c.machine.CanTransition(task.Status, to, workflows.KindReject) {
		return nil, invalidTransition("cannot rewind %s to %s", task.Status, to)
	}

	details := map[string]interface{}{"reason": reason}
	if required, gated := c.gate.RequiredDocument(to); gated {
		if latest, found := workflows.Latest(tasks.DocumentRefs(task.Documents), required); found {
			details["rejected_document_sequence"] = latest.Sequence
		}
	}

	next := *task
	next.Status = to
	if assignee != nil && !c.machine.RoleAllowed(to, assignee.Role) {
		details["released_assignee_id"] = assignee.ID
		next.AssignedToID = nil
	}

	entry, err := c.audit.Entry(action, actor, task.Status, to, details)
	if err != nil {
		return nil, err
	}
	return &change{task: next, entry: entry}, nil
}

// Complete closes a task once invoicing is done
func (c *ApprovalController) Complete(actor *tasks.User, task *tasks.Task) (*change, error) {
	if !actor.Role.IsManagement() {
		return nil, forbidden("role %s cannot complete tasks", actor.Role)
	}
	to, ok := c.machine.Next(task.Status, workflows.KindComplete)
	if !ok {
		return nil, invalidTransition("complete is not legal from %s", task.Status)
	}
	entry, err := c.audit.Entry(tasks.ActionTaskCompleted, actor, task.Status, to, nil)
	if err != nil {
		return nil, err
	}
	next := *task
	next.Status = to
	return &change{task: next, entry: entry}, nil
}

// Abandon moves a live task to the REJECTED dead end
func (c *ApprovalController) Abandon(actor *tasks.User, task *tasks.Task, reason string) (*change, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrMissingReason
	}
	if !actor.Role.IsManagement() {
		return nil, forbidden("role %s cannot abandon tasks", actor.Role)
	}
	to, ok := c.machine.Next(task.Status, workflows.KindAbandon)
	if !ok {
		return nil, invalidTransition("task in %s cannot be abandoned", task.Status)
	}
	entry, err := c.audit.Entry(tasks.ActionTaskAbandoned, actor, task.Status, to, map[string]interface{}{"reason": reason})
	if err != nil {
		return nil, fmt.Errorf("failed to build abandon entry: %w", err)
	}
	next := *task
	next.Status = to
	return &change{task: next, entry: entry}, nil
}
