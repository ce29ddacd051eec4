// Package fanout delivers a staged new-event notification to every device
// token listed on its staging record.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// ReasonNoTokens is recorded on a staging record that lists no tokens.
const ReasonNoTokens = "no tokens available"

// Options tunes the push payload and batching.
type Options struct {
	BatchSize        int
	BodyMaxChars     int
	AndroidChannelID string
	Priority         string
	Sound            string
	Badge            int
	// ClaimLease bounds how long a crashed dispatcher keeps a record from
	// being retried by another delivery.
	ClaimLease time.Duration
}

// DefaultOptions matches the FCM multicast limit and the mobile app's
// notification channel.
func DefaultOptions() Options {
	return Options{
		BatchSize:        500,
		BodyMaxChars:     100,
		AndroidChannelID: "event_notifications",
		Priority:         "high",
		Sound:            "default",
		Badge:            1,
		ClaimLease:       2 * time.Minute,
	}
}

type Dispatcher struct {
	provider  dispatch.PushProvider
	store     dispatch.StagingStore
	directory dispatch.RecipientDirectory
	opts      Options
	logger    *slog.Logger
}

func NewDispatcher(
	provider dispatch.PushProvider,
	store dispatch.StagingStore,
	directory dispatch.RecipientDirectory,
	opts Options,
	logger *slog.Logger,
) *Dispatcher {
	defaults := DefaultOptions()
	if opts.BatchSize <= 0 || opts.BatchSize > defaults.BatchSize {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.BodyMaxChars <= 0 {
		opts.BodyMaxChars = defaults.BodyMaxChars
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = defaults.ClaimLease
	}
	return &Dispatcher{
		provider:  provider,
		store:     store,
		directory: directory,
		opts:      opts,
		logger:    logger.With("component", "FanOutDispatcher"),
	}
}

// Dispatch processes the staging record named by the trigger. The stored
// copy is authoritative. The record is claimed in a transaction before any
// push is sent and completed in another that refuses records which already
// left pending, so a replayed or concurrent trigger never sends twice and
// never overwrites a terminal state.
//
// A trigger whose record is claimed by a live dispatcher returns an error so
// the message is redelivered; it becomes a no-op once that dispatcher
// finishes, or takes over once the lease expires.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger domain.StagingRecord) error {
	if trigger.ID == "" {
		return errors.New("staging trigger has no record id")
	}
	owner := uuid.NewString()
	log := d.logger.With("staging_id", trigger.ID, "event_id", trigger.EventID, "claim", owner)

	record, err := d.store.ClaimStaging(ctx, trigger.ID, owner, d.opts.ClaimLease)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("Staging record does not exist; dropping trigger.")
		return nil
	case errors.Is(err, domain.ErrAlreadyTerminal):
		log.Info("Staging record already processed; skipping.")
		return nil
	case errors.Is(err, domain.ErrClaimed):
		log.Info("Staging record is being processed by another dispatcher.")
		return fmt.Errorf("staging record %s: %w", trigger.ID, err)
	case err != nil:
		return fmt.Errorf("failed to claim staging record %s: %w", trigger.ID, err)
	}
	record.ID = trigger.ID

	if len(record.Tokens) == 0 {
		log.Warn("Staging record lists no tokens.")
		return d.complete(ctx, log, record.ID, domain.Failed(ReasonNoTokens))
	}

	tally, err := d.deliver(ctx, log, *record)
	if err == nil {
		err = d.complete(ctx, log, record.ID, domain.Sent(tally.Success, tally.Failure, len(record.Tokens)))
	}
	if err != nil {
		// If a sent write committed despite its error, the store refuses this
		// one and the record stays sent.
		log.Error("Fan-out failed", "err", err)
		if markErr := d.complete(ctx, log, record.ID, domain.Failed(err.Error())); markErr != nil {
			log.Error("Failed to record fan-out failure", "err", markErr)
		}
		return err
	}

	log.Info("Fan-out complete",
		"success", tally.Success,
		"failure", tally.Failure,
		"total", len(record.Tokens),
	)
	return nil
}

// complete applies the terminal update. Losing the race to another writer
// is not an error for this delivery.
func (d *Dispatcher) complete(ctx context.Context, log *slog.Logger, id string, outcome domain.StagingOutcome) error {
	err := d.store.CompleteStaging(ctx, id, outcome)
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		log.Warn("Staging record was completed elsewhere; keeping its state.", "wanted", outcome.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark staging record %s %s: %w", id, outcome.Status, err)
	}
	return nil
}

// deliver sends every batch and prunes the rejected tokens. A panic in a
// collaborator is turned into an error so the job is still marked failed.
func (d *Dispatcher) deliver(ctx context.Context, log *slog.Logger, record domain.StagingRecord) (tally Tally, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fan-out panicked: %v", r)
		}
	}()

	payload := BuildPayload(record, d.opts)
	batches := Batches(record.Tokens, d.opts.BatchSize)
	log.Info("Sending notifications", "tokens", len(record.Tokens), "batches", len(batches))

	for i, batch := range batches {
		result, sendErr := d.provider.SendMulticast(ctx, batch, payload)
		if sendErr != nil {
			log.Error("Batch failed", "batch", i+1, "size", len(batch), "err", sendErr)
			tally = tally.WithFailedBatch(len(batch))
			continue
		}
		log.Debug("Batch sent", "batch", i+1, "success", result.SuccessCount(), "failure", result.FailureCount())
		tally = tally.WithBatch(result)
	}

	if len(tally.Invalid) > 0 {
		d.prune(ctx, log, tally.Invalid)
	}
	return tally, nil
}

// prune is best effort: the current job is complete either way.
func (d *Dispatcher) prune(ctx context.Context, log *slog.Logger, tokens []string) {
	log.Info("Cleaning up invalid FCM tokens", "count", len(tokens))
	n, err := d.directory.ClearTokenOnAccountsWithToken(ctx, tokens)
	if err != nil {
		log.Warn("Failed to delete invalid tokens", "err", err)
		return
	}
	log.Info("Invalid tokens removed", "accounts", n)
}
