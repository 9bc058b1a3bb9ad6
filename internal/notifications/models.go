package notifications

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/internal/workflow"
)

// Message types pushed to subscribers
const (
	MessageTypeTransition = "task.transition"
	MessageTypeAssignment = "task.assignment"
	MessageTypeDocument   = "task.document"
)

// Message is the wire format shared by the websocket feed and SNS
type Message struct {
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id"`
	Action    string         `json:"action"`
	From      string         `json:"from_status,omitempty"`
	To        string         `json:"to_status,omitempty"`
	Sequence  int64          `json:"sequence"`
	ActorID   string         `json:"actor_id"`
	ActorRole string         `json:"actor_role"`
	Assignee  string         `json:"assignee_id,omitempty"`
	Data      datatypes.JSON `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage converts a committed workflow change into a Message
func NewMessage(event workflow.Event) Message {
	msg := Message{
		Type:      messageType(event),
		TaskID:    event.Task.ID.String(),
		Action:    string(event.Entry.Action),
		From:      string(event.Entry.FromStatus),
		To:        string(event.Entry.ToStatus),
		Sequence:  event.Entry.Sequence,
		ActorID:   event.Actor.ID.String(),
		ActorRole: string(event.Actor.Role),
		Data:      event.Entry.Details,
		Timestamp: event.Entry.CreatedAt,
	}
	if event.Task.AssignedToID != nil {
		msg.Assignee = event.Task.AssignedToID.String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}

func messageType(event workflow.Event) string {
	switch event.Entry.Action {
	case tasks.ActionTaskAssigned, tasks.ActionTaskReassigned:
		return MessageTypeAssignment
	case tasks.ActionDocumentUploaded:
		return MessageTypeDocument
	}
	return MessageTypeTransition
}

// JSON encodes the message
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}
