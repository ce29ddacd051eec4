// Package cache adds read-aside Redis caching in front of the recipient
// lookup used when staging new-event notifications.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns an error when the key is missing.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Store is the repository surface the decorator wraps.
type Store interface {
	dispatch.RecipientDirectory
	dispatch.TokenStore
	dispatch.AccountRegistrar
}

// recipient is the cached projection of an account. Only what staging needs
// is kept.
type recipient struct {
	ID    string `json:"id"`
	Token string `json:"token,omitempty"`
}

// CachedDirectory is a decorator that caches FindAccountsByRole and drops
// the cached lists whenever a device token or an account's role changes.
type CachedDirectory struct {
	realStore Store
	cache     CacheClient
	ttl       time.Duration
	roles     []string
	logger    *slog.Logger
}

// NewCachedDirectory creates the decorator. roles lists every role whose
// recipient list may be cached; all of them are invalidated on a token write.
func NewCachedDirectory(realStore Store, cache CacheClient, ttl time.Duration, roles []string, logger *slog.Logger) *CachedDirectory {
	if len(roles) == 0 {
		roles = []string{domain.RoleUser, domain.RoleOrganizer}
	}
	return &CachedDirectory{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		roles:     roles,
		logger:    logger.With("component", "CachedDirectory"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDirectory) FindAccountsByRole(ctx context.Context, role string) ([]domain.Account, error) {
	key := cacheKey(role)

	var cached []recipient
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		accounts := make([]domain.Account, len(cached))
		for i, r := range cached {
			accounts[i] = domain.Account{ID: r.ID, Role: role, FCMToken: r.Token}
		}
		return accounts, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Recipient cache read failed; using the database", "role", role, "err", err)
	}

	fresh, err := s.realStore.FindAccountsByRole(ctx, role)
	if err != nil {
		return nil, err
	}

	entries := make([]recipient, len(fresh))
	for i, acc := range fresh {
		entries[i] = recipient{ID: acc.ID, Token: acc.FCMToken}
	}
	// A failed refill only costs the next lookup a database read.
	if err := s.cache.Set(ctx, key, entries, s.ttl); err != nil {
		s.logger.Warn("Failed to cache recipients", "role", role, "err", err)
	}
	return fresh, nil
}

// FindReachableAccounts is a bounded diagnostic query and is not cached.
func (s *CachedDirectory) FindReachableAccounts(ctx context.Context, role string, limit int) ([]domain.Account, error) {
	return s.realStore.FindReachableAccounts(ctx, role, limit)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDirectory) SetDeviceToken(ctx context.Context, userID, token string) error {
	if err := s.realStore.SetDeviceToken(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *CachedDirectory) ClearDeviceToken(ctx context.Context, userID string) error {
	if err := s.realStore.ClearDeviceToken(ctx, userID); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// EnsureAccount may put the account on a role list for the first time.
func (s *CachedDirectory) EnsureAccount(ctx context.Context, userID, email, role string) error {
	if err := s.realStore.EnsureAccount(ctx, userID, email, role); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// ClearTokenOnAccountsWithToken invalidates even on a partial failure, since
// some accounts may already have lost their token.
func (s *CachedDirectory) ClearTokenOnAccountsWithToken(ctx context.Context, tokens []string) (int, error) {
	n, err := s.realStore.ClearTokenOnAccountsWithToken(ctx, tokens)
	if n > 0 || err != nil {
		if invErr := s.invalidate(ctx); invErr != nil {
			s.logger.Warn("Failed to invalidate recipients after pruning", "err", invErr)
		}
	}
	return n, err
}

// --- Helpers ---

func (s *CachedDirectory) invalidate(ctx context.Context) error {
	keys := make([]string, len(s.roles))
	for i, role := range s.roles {
		keys[i] = cacheKey(role)
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate recipient cache: %w", err)
	}
	return nil
}

func cacheKey(role string) string {
	return fmt.Sprintf("events:recipients:%s", role)
}
