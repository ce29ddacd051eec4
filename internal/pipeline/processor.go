package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// StagingDispatcher runs one fan-out job.
type StagingDispatcher interface {
	Dispatch(ctx context.Context, trigger domain.StagingRecord) error
}

// NewProcessor creates the stream processor that hands every trigger to the
// fan-out dispatcher. A dispatch error is returned so the message is nacked
// and redelivered; the dispatcher's idempotency guard turns the redelivery
// into a no-op once the record is terminal.
func NewProcessor(dispatcher StagingDispatcher, logger *slog.Logger) messagepipeline.StreamProcessor[domain.StagingRecord] {
	return func(ctx context.Context, original messagepipeline.Message, record *domain.StagingRecord) error {
		procLogger := logger.With(
			"staging_id", record.ID,
			"event_id", record.EventID,
			"pubsub_msg_id", original.ID,
		)

		if err := dispatcher.Dispatch(ctx, *record); err != nil {
			procLogger.Error("Fan-out job failed", "err", err)
			return err
		}
		procLogger.Debug("Fan-out job handled")
		return nil
	}
}
