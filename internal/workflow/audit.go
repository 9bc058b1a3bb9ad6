package workflow

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// AuditLogger builds the single audit entry that accompanies each committed change.
// Entries only reach storage through the repository call that applies the change.
type AuditLogger struct{}

// NewAuditLogger creates a new audit logger
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

// Entry returns an unsequenced audit entry. The repository assigns task id and sequence.
func (l *AuditLogger) Entry(action tasks.AuditAction, actor *tasks.User, from, to workflows.Status, details map[string]interface{}) (*tasks.AuditLog, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit details: %w", err)
	}
	return &tasks.AuditLog{
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Details:    datatypes.JSON(payload),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
	}, nil
}

// Count returns how many entries carry one of the given actions
func Count(entries []tasks.AuditLog, actions ...tasks.AuditAction) int {
	n := 0
	for _, e := range entries {
		for _, a := range actions {
			if e.Action == a {
				n++
				break
			}
		}
	}
	return n
}

// WorkflowActions are the actions produced by assignment and approval intents
var WorkflowActions = []tasks.AuditAction{
	tasks.ActionTaskAssigned,
	tasks.ActionTaskReassigned,
	tasks.ActionStatusAdvanced,
	tasks.ActionDesignApproved,
	tasks.ActionDesignRejected,
	tasks.ActionQuotationApproved,
	tasks.ActionQuotationRejected,
}
