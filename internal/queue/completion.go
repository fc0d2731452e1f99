// Package queue carries work order completion events over SQS from the API
// that records a completion to the worker that applies it to PM occurrences.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"facilitypm/internal/types"
)

// EventTypeAttribute names the SQS message attribute holding the event type.
const EventTypeAttribute = "event_type"

// EventWorkOrderCompleted is the event type of completion messages.
const EventWorkOrderCompleted = "work_order.completed"

// SQSSender abstracts SendMessage for testability. Production code passes
// an *sqs.Client.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// CompletionPublisher publishes WorkOrderCompletedMessage events.
type CompletionPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewCompletionPublisher creates a CompletionPublisher.
func NewCompletionPublisher(client SQSSender, queueURL string, logger *slog.Logger) *CompletionPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionPublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishCompletion enqueues a completion event for workOrderID. The trace id
// is the request id when one is in ctx.
func (p *CompletionPublisher) PublishCompletion(ctx context.Context, workOrderID string, completedAt time.Time, completedBy string) error {
	msg := types.WorkOrderCompletedMessage{
		WorkOrderID: workOrderID,
		CompletedAt: completedAt.UTC(),
		CompletedBy: completedBy,
		TraceID:     types.GetRequestID(ctx),
	}
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal completion message: %w", err)
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			EventTypeAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventWorkOrderCompleted),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"failed to enqueue work order completion", fmt.Errorf("send to %s: %w", p.queueURL, err))
	}

	p.logger.InfoContext(ctx, "completion event published",
		"work_order_id", workOrderID,
		"trace_id", msg.TraceID,
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// DecodeCompletion parses a completion message body.
func DecodeCompletion(body string) (types.WorkOrderCompletedMessage, error) {
	var msg types.WorkOrderCompletedMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, fmt.Errorf("queue: malformed completion message: %w", err)
	}
	if msg.WorkOrderID == "" {
		return msg, fmt.Errorf("queue: completion message has no work_order_id")
	}
	return msg, nil
}
