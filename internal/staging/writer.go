// Package staging turns a newly created event into a durable fan-out work
// item.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// Result is the single completion of an asynchronous staging run. Record is
// nil when there was nobody to notify.
type Result struct {
	Record *domain.StagingRecord
	Err    error
}

type Writer struct {
	directory dispatch.RecipientDirectory
	store     dispatch.StagingStore
	publisher dispatch.TriggerPublisher
	role      string
	now       func() time.Time
	logger    *slog.Logger
}

// NewWriter stages notifications for every account with the recipient role.
func NewWriter(
	directory dispatch.RecipientDirectory,
	store dispatch.StagingStore,
	publisher dispatch.TriggerPublisher,
	recipientRole string,
	logger *slog.Logger,
) *Writer {
	if recipientRole == "" {
		recipientRole = domain.RoleUser
	}
	return &Writer{
		directory: directory,
		store:     store,
		publisher: publisher,
		role:      recipientRole,
		now:       time.Now,
		logger:    logger.With("component", "StagingWriter"),
	}
}

// Stage writes one pending staging record listing the device tokens of every
// recipient, then announces it to the fan-out pipeline. When no recipient
// holds a token nothing is written and both return values are nil.
func (w *Writer) Stage(ctx context.Context, event domain.Event) (*domain.StagingRecord, error) {
	if event.ID == "" {
		return nil, fmt.Errorf("%w: event has no id", domain.ErrInvalid)
	}
	log := w.logger.With("event_id", event.ID)

	accounts, err := w.directory.FindAccountsByRole(ctx, w.role)
	if err != nil {
		return nil, fmt.Errorf("failed to look up recipients: %w", err)
	}

	tokens := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		if acc.FCMToken != "" {
			tokens = append(tokens, acc.FCMToken)
		}
	}
	log.Debug("Recipients resolved", "accounts", len(accounts), "tokens", len(tokens))

	if len(tokens) == 0 {
		log.Info("No recipient holds a device token; nothing to stage.", "accounts", len(accounts))
		return nil, nil
	}

	record := domain.NewStagingRecord(event, tokens, w.now())
	id, err := w.store.CreateStaging(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to write staging record: %w", err)
	}
	record.ID = id
	log.Info("Staging record created", "staging_id", id, "tokens", len(tokens))

	if err := w.publisher.PublishStaged(ctx, record); err != nil {
		return &record, fmt.Errorf("staging record %s written but trigger not published: %w", id, err)
	}
	return &record, nil
}

// StageAsync runs Stage without holding up the caller. The caller's
// cancellation does not abort the write. The returned channel delivers
// exactly one Result and is then closed; failures are also logged here, so
// callers may ignore the channel.
func (w *Writer) StageAsync(ctx context.Context, event domain.Event) <-chan Result {
	done := make(chan Result, 1)
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer close(done)
		record, err := w.Stage(ctx, event)
		if err != nil {
			attrs := []any{"event_id", event.ID, "err", err}
			if errors.Is(err, domain.ErrInvalid) {
				w.logger.Warn("Refusing to stage notification", attrs...)
			} else {
				w.logger.Error("Failed to stage event notification", attrs...)
			}
		}
		done <- Result{Record: record, Err: err}
	}()

	return done
}
