package notifications

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"infraflow/task-portal/task-portal-backend/internal/workflow"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// SNSAPI is the part of the SNS client the publisher uses
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes every committed change to a topic. Downstream
// billing subscribes with a filter on to_status = PENDING_INVOICING.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
	breaker  *gobreaker.CircuitBreaker
}

func NewSNSPublisher(client SNSAPI, topicARN string, breaker BreakerConfig, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{
		client:   client,
		topicARN: topicARN,
		breaker:  newBreaker("sns", breaker, logger),
	}
}

func (p *SNSPublisher) Name() string { return "sns" }

func (p *SNSPublisher) Deliver(ctx context.Context, event workflow.Event) error {
	body, err := NewMessage(event).JSON()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"action":    stringAttr(string(event.Entry.Action)),
		"to_status": stringAttr(string(event.Task.Status)),
	}
	if event.Task.Status == workflows.StatusPendingInvoicing {
		attrs["invoicing"] = stringAttr("true")
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return p.client.Publish(ctx, &sns.PublishInput{
			TopicArn:          aws.String(p.topicARN),
			Message:           aws.String(string(body)),
			Subject:           aws.String(fmt.Sprintf("%s %s", event.Entry.Action, event.Task.ID)),
			MessageAttributes: attrs,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
