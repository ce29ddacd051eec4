package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// Firestore caps the number of values in an "in" filter.
const maxInFilterValues = 30

const fcmTokenField = "fcmToken"

// SetDeviceToken overwrites the account's device token, creating the
// account document if needed.
func (r *Repository) SetDeviceToken(ctx context.Context, userID, token string) error {
	_, err := r.users().Doc(userID).Set(ctx, map[string]interface{}{fcmTokenField: token}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to set device token for %s: %w", userID, err)
	}
	return nil
}

// ClearDeviceToken removes the account's device token.
func (r *Repository) ClearDeviceToken(ctx context.Context, userID string) error {
	_, err := r.users().Doc(userID).Update(ctx, []firestore.Update{
		{Path: fcmTokenField, Value: firestore.Delete},
	})
	if err != nil {
		return notFound(err, "account", userID)
	}
	return nil
}

// --- FAN-OUT (The Lookup) ---

func (r *Repository) FindAccountsByRole(ctx context.Context, role string) ([]domain.Account, error) {
	iter := r.users().Where("role", "==", role).Documents(ctx)
	return collect(iter, decodeAccount)
}

// FindReachableAccounts relies on every stored token being a non-empty
// string, so "greater than the empty string" selects accounts with a token.
func (r *Repository) FindReachableAccounts(ctx context.Context, role string, limit int) ([]domain.Account, error) {
	iter := r.users().
		Where("role", "==", role).
		Where(fcmTokenField, ">", "").
		Limit(limit).
		Documents(ctx)
	return collect(iter, decodeAccount)
}

// ClearTokenOnAccountsWithToken deletes the token field on every account
// holding one of tokens. Matches are collected first and removed in one
// bulk write.
func (r *Repository) ClearTokenOnAccountsWithToken(ctx context.Context, tokens []string) (int, error) {
	unique := dedupe(tokens)
	if len(unique) == 0 {
		return 0, nil
	}

	var refs []*firestore.DocumentRef
	for start := 0; start < len(unique); start += maxInFilterValues {
		chunk := unique[start:min(start+maxInFilterValues, len(unique))]
		iter := r.users().Where(fcmTokenField, "in", chunk).Documents(ctx)
		matched, err := collect(iter, func(doc *firestore.DocumentSnapshot) (*firestore.DocumentRef, error) {
			return doc.Ref, nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to find accounts holding invalid tokens: %w", err)
		}
		refs = append(refs, matched...)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Update(ref, []firestore.Update{{Path: fcmTokenField, Value: firestore.Delete}})
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to queue token removal for %s: %w", ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	updated := 0
	var firstErr error
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to clear token on %s: %w", refs[i].ID, err)
			}
			continue
		}
		updated++
	}
	return updated, firstErr
}

func (r *Repository) users() *firestore.CollectionRef {
	return r.client.Collection(usersCollection)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
