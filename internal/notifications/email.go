package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/internal/workflow"
)

// SESAPI is the part of the SES v2 client the mailer uses
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// UserLookup resolves assignees to their email address
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*tasks.User, error)
}

// EmailChannel emails the new assignee whenever a task is assigned or
// reassigned. Other changes are ignored.
type EmailChannel struct {
	client  SESAPI
	users   UserLookup
	sender  string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewEmailChannel(client SESAPI, users UserLookup, sender string, breaker BreakerConfig, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{
		client:  client,
		users:   users,
		sender:  sender,
		breaker: newBreaker("ses", breaker, logger),
		logger:  logger,
	}
}

func (c *EmailChannel) Name() string { return "ses" }

func (c *EmailChannel) Deliver(ctx context.Context, event workflow.Event) error {
	if event.Entry.Action != tasks.ActionTaskAssigned && event.Entry.Action != tasks.ActionTaskReassigned {
		return nil
	}
	if event.Task.AssignedToID == nil {
		return nil
	}

	user, err := c.users.GetUser(ctx, *event.Task.AssignedToID)
	if err != nil {
		return fmt.Errorf("failed to load assignee: %w", err)
	}
	if strings.TrimSpace(user.Email) == "" {
		c.logger.Debug("Assignee has no email address", zap.String("user_id", user.ID.String()))
		return nil
	}

	subject, body := assignmentEmail(event, user)
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return c.client.SendEmail(ctx, &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(c.sender),
			Destination:      &types.Destination{ToAddresses: []string{user.Email}},
			Content: &types.EmailContent{
				Simple: &types.Message{
					Subject: &types.Content{Data: aws.String(subject)},
					Body:    &types.Body{Text: &types.Content{Data: aws.String(body)}},
				},
			},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func assignmentEmail(event workflow.Event, user *tasks.User) (string, string) {
	subject := fmt.Sprintf("Task assigned: %s", event.Task.Title)
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", user.Name)
	fmt.Fprintf(&b, "%s has assigned you the task %q.\n", event.Actor.Name, event.Task.Title)
	fmt.Fprintf(&b, "Current status: %s\n", event.Task.Status)
	fmt.Fprintf(&b, "Task id: %s\n", event.Task.ID)
	return subject, b.String()
}
