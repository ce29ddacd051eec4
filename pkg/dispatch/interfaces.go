// Package dispatch holds the contracts between the fan-out pipeline and the
// infrastructure it runs on (document store, push provider, trigger topic).
package dispatch

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// PushProvider defines the contract for a managed push-messaging service
// that accepts a batch of device tokens in one multicast call.
type PushProvider interface {
	// SendMulticast delivers the payload to every token. An error means the
	// whole batch failed; otherwise the result carries one outcome per token,
	// in token order.
	SendMulticast(ctx context.Context, tokens []string, payload Payload) (*BatchResult, error)
}

// RecipientDirectory is the recipient discovery surface of the domain
// repository.
type RecipientDirectory interface {
	// FindAccountsByRole returns every account with the role, in query order.
	FindAccountsByRole(ctx context.Context, role string) ([]domain.Account, error)

	// FindReachableAccounts returns at most limit accounts with the role that
	// hold a non-empty device token.
	FindReachableAccounts(ctx context.Context, role string, limit int) ([]domain.Account, error)

	// ClearTokenOnAccountsWithToken removes the device token from every
	// account holding one of the tokens and returns the number of accounts
	// updated.
	ClearTokenOnAccountsWithToken(ctx context.Context, tokens []string) (int, error)
}

// TokenStore manages the single device token kept on an account.
type TokenStore interface {
	// SetDeviceToken overwrites the account's device token.
	SetDeviceToken(ctx context.Context, userID, token string) error
	// ClearDeviceToken removes the account's device token.
	ClearDeviceToken(ctx context.Context, userID string) error
}

// AccountRegistrar puts accounts on the role lists the directory serves.
type AccountRegistrar interface {
	// EnsureAccount records the email and, if the account has none yet, the
	// role. An empty role means domain.RoleUser.
	EnsureAccount(ctx context.Context, userID, email, role string) error
}

// StagingStore persists fan-out work items.
type StagingStore interface {
	// CreateStaging writes a new record and returns the id the store assigned.
	CreateStaging(ctx context.Context, record domain.StagingRecord) (string, error)
	// ClaimStaging atomically leases a pending record to owner until
	// now+lease and returns the stored copy. It fails with
	// domain.ErrAlreadyTerminal once the record left pending and with
	// domain.ErrClaimed while another owner's lease is live.
	ClaimStaging(ctx context.Context, id, owner string, lease time.Duration) (*domain.StagingRecord, error)
	// CompleteStaging applies the terminal update in the same transaction
	// that re-reads the status. A record that is no longer pending is left
	// untouched and domain.ErrAlreadyTerminal is returned. The store stamps
	// sentAt or processedAt with its own clock.
	CompleteStaging(ctx context.Context, id string, outcome domain.StagingOutcome) error
}

// TriggerPublisher announces a newly created staging record to the fan-out
// pipeline.
type TriggerPublisher interface {
	PublishStaged(ctx context.Context, record domain.StagingRecord) error
}
