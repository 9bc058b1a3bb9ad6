package workflow

import (
	"fmt"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// change is a validated, not yet committed task mutation with its audit entry
type change struct {
	task  tasks.Task
	entry *tasks.AuditLog
}

// AssignmentManager validates hand-overs of a task to a user
type AssignmentManager struct {
	machine *workflows.StateMachine
	audit   *AuditLogger
}

// NewAssignmentManager creates a new assignment manager
func NewAssignmentManager(machine *workflows.StateMachine, audit *AuditLogger) *AssignmentManager {
	return &AssignmentManager{machine: machine, audit: audit}
}

// Assign sets target as the assignee of task. When requireExisting is true the task
// must already have an assignee, which is replaced.
func (m *AssignmentManager) Assign(actor *tasks.User, task *tasks.Task, target *tasks.User, requireExisting bool) (*change, error) {
	if !actor.Role.IsManagement() {
		return nil, forbidden("role %s cannot assign tasks", actor.Role)
	}
	if !m.machine.Assignable(task.Status) {
		return nil, invalidTransition("task in %s cannot be assigned", task.Status)
	}
	if requireExisting && task.AssignedToID == nil {
		return nil, invalidTransition("task has no assignee to replace")
	}
	if task.AssignedToID != nil && *task.AssignedToID == target.ID {
		return nil, invalidTransition("user %s is already assigned", target.ID)
	}
	if !m.machine.RoleAllowed(task.Status, target.Role) {
		return nil, fmt.Errorf("%w: %s cannot hold a task in %s (expected %v)",
			ErrRoleMismatch, target.Role, task.Status, m.machine.ExpectedRoles(task.Status))
	}

	action := tasks.ActionTaskAssigned
	details := map[string]interface{}{
		"assignee_id":   target.ID,
		"assignee_role": target.Role,
	}
	if task.AssignedToID != nil {
		action = tasks.ActionTaskReassigned
		details["previous_assignee_id"] = *task.AssignedToID
	}

	entry, err := m.audit.Entry(action, actor, task.Status, task.Status, details)
	if err != nil {
		return nil, err
	}

	next := *task
	assignee, by := target.ID, actor.ID
	next.AssignedToID = &assignee
	next.AssignedByID = &by
	return &change{task: next, entry: entry}, nil
}
