package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

func (r *Repository) CreateStaging(ctx context.Context, record domain.StagingRecord) (string, error) {
	ref := r.staging().NewDoc()
	if _, err := ref.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to create staging record for event %s: %w", record.EventID, err)
	}
	return ref.ID, nil
}

// GetStaging reads a record without claiming it.
func (r *Repository) GetStaging(ctx context.Context, id string) (*domain.StagingRecord, error) {
	var record domain.StagingRecord
	if err := getDoc(ctx, r.staging().Doc(id), "staging record", &record); err != nil {
		return nil, err
	}
	record.ID = id
	return &record, nil
}

// ClaimStaging leases a pending record to owner inside a transaction, so two
// deliveries of the same trigger cannot both start sending. The lease expiry
// uses this process's clock.
func (r *Repository) ClaimStaging(ctx context.Context, id, owner string, lease time.Duration) (*domain.StagingRecord, error) {
	ref := r.staging().Doc(id)
	var claimed domain.StagingRecord
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record, err := readStaging(tx, ref)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := record.ClaimableBy(owner, now); err != nil {
			return err
		}
		expires := now.Add(lease)
		record.ClaimedBy = owner
		record.ClaimExpiresAt = &expires
		claimed = record
		return tx.Update(ref, []firestore.Update{
			{Path: "claimedBy", Value: owner},
			{Path: "claimExpiresAt", Value: expires},
		})
	})
	if err != nil {
		return nil, err
	}
	claimed.ID = id
	return &claimed, nil
}

// CompleteStaging writes the terminal state if the record is still pending.
// Sent records get the counts and sentAt; failed records get the error and
// processedAt. Both timestamps come from the server.
func (r *Repository) CompleteStaging(ctx context.Context, id string, outcome domain.StagingOutcome) error {
	updates := []firestore.Update{
		{Path: "status", Value: outcome.Status},
		{Path: "claimedBy", Value: firestore.Delete},
		{Path: "claimExpiresAt", Value: firestore.Delete},
	}
	switch outcome.Status {
	case domain.StagingSent:
		updates = append(updates,
			firestore.Update{Path: "sentAt", Value: firestore.ServerTimestamp},
			firestore.Update{Path: "successCount", Value: outcome.SuccessCount},
			firestore.Update{Path: "failureCount", Value: outcome.FailureCount},
			firestore.Update{Path: "totalTokens", Value: outcome.TotalTokens},
		)
	case domain.StagingFailed:
		updates = append(updates,
			firestore.Update{Path: "error", Value: outcome.Error},
			firestore.Update{Path: "processedAt", Value: firestore.ServerTimestamp},
		)
	default:
		return fmt.Errorf("%w: %q is not a terminal staging status", domain.ErrInvalid, outcome.Status)
	}

	ref := r.staging().Doc(id)
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record, err := readStaging(tx, ref)
		if err != nil {
			return err
		}
		if record.Status != domain.StagingPending {
			return fmt.Errorf("%w: %s is %s", domain.ErrAlreadyTerminal, id, record.Status)
		}
		return tx.Update(ref, updates)
	})
}

func readStaging(tx *firestore.Transaction, ref *firestore.DocumentRef) (domain.StagingRecord, error) {
	var record domain.StagingRecord
	snap, err := tx.Get(ref)
	if err != nil {
		return record, notFound(err, "staging record", ref.ID)
	}
	if err := snap.DataTo(&record); err != nil {
		return record, fmt.Errorf("failed to decode staging record %s: %w", ref.ID, err)
	}
	return record, nil
}

func (r *Repository) staging() *firestore.CollectionRef {
	return r.client.Collection(stagingCollection)
}
