// Package main is the entry point for the completion worker Lambda.
//
// The worker consumes WorkOrderCompleted events from SQS and moves the linked
// GENERATED occurrence to COMPLETED. Each message is processed independently;
// a message that fails is reported in batchItemFailures so SQS redelivers
// only that message. Malformed messages are acknowledged and dropped.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"facilitypm/internal/app"
	"facilitypm/internal/config"
	"facilitypm/internal/metrics"
	"facilitypm/internal/queue"
	"facilitypm/internal/types"
)

// Completer applies a work order completion to its occurrence.
type Completer interface {
	HandleWorkOrderCompletion(ctx context.Context, actor types.Actor, workOrderID string) (string, error)
}

// CompletionMetrics records the outcome of each message.
type CompletionMetrics interface {
	RecordCompletion(ctx context.Context, result string)
}

// Handler holds the dependencies of the completion worker.
type Handler struct {
	completer Completer
	metrics   CompletionMetrics
	logger    *slog.Logger
}

// Handle processes an SQS batch.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process completion message",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	msg, err := queue.DecodeCompletion(record.Body)
	if err != nil {
		// Redelivery cannot fix a malformed body.
		h.logger.ErrorContext(ctx, "dropping malformed completion message",
			"message_id", record.MessageId,
			"error", err,
		)
		h.record(ctx, metrics.ResultFailed)
		return nil
	}

	logger := h.logger.With(
		"work_order_id", msg.WorkOrderID,
		"trace_id", msg.TraceID,
		"message_id", record.MessageId,
	)
	ctx = types.WithLogger(ctx, logger)

	occurrenceID, err := h.completer.HandleWorkOrderCompletion(ctx, types.SystemActor(), msg.WorkOrderID)
	if err != nil {
		h.record(ctx, metrics.ResultFailed)
		return err
	}
	if occurrenceID == "" {
		logger.InfoContext(ctx, "work order has no PM occurrence")
		h.record(ctx, metrics.ResultUnlinked)
		return nil
	}

	logger.InfoContext(ctx, "occurrence completed", "occurrence_id", occurrenceID)
	h.record(ctx, metrics.ResultCompleted)
	return nil
}

func (h *Handler) record(ctx context.Context, result string) {
	if h.metrics != nil {
		h.metrics.RecordCompletion(ctx, result)
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("Completion Worker Lambda initializing (cold start)")

	deps, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire dependencies", "error", err)
		os.Exit(1)
	}

	handler := &Handler{
		completer: deps.Lifecycle,
		logger:    logger,
	}
	if deps.Metrics != nil {
		handler.metrics = deps.Metrics
	}

	logger.Info("Completion Worker Lambda initialized",
		"metrics", deps.Metrics != nil,
	)

	lambda.Start(handler.Handle)
}
