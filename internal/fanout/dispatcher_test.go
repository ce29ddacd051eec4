package fanout_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-event-service/internal/fanout"
	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Fakes ---

type fakeStagingStore struct {
	mu          sync.Mutex
	records     map[string]domain.StagingRecord
	completions []domain.StagingOutcome
	failWrites  int
	// commitThenFail applies the next terminal write but still reports an
	// error, like a commit whose acknowledgement was lost.
	commitThenFail bool
	now            func() time.Time
}

func newFakeStagingStore(records ...domain.StagingRecord) *fakeStagingStore {
	s := &fakeStagingStore{records: make(map[string]domain.StagingRecord), now: time.Now}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStagingStore) CreateStaging(_ context.Context, record domain.StagingRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("staging-%d", len(s.records)+1)
	s.records[id] = record
	return id, nil
}

func (s *fakeStagingStore) ClaimStaging(_ context.Context, id, owner string, lease time.Duration) (*domain.StagingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := s.now()
	if err := r.ClaimableBy(owner, now); err != nil {
		return nil, err
	}
	expires := now.Add(lease)
	r.ClaimedBy = owner
	r.ClaimExpiresAt = &expires
	s.records[id] = r
	return &r, nil
}

func (s *fakeStagingStore) CompleteStaging(_ context.Context, id string, outcome domain.StagingOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return errors.New("store unavailable")
	}
	r, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != domain.StagingPending {
		return fmt.Errorf("%w: %s is %s", domain.ErrAlreadyTerminal, id, r.Status)
	}
	r.Status = outcome.Status
	r.SuccessCount = outcome.SuccessCount
	r.FailureCount = outcome.FailureCount
	r.TotalTokens = outcome.TotalTokens
	r.Error = outcome.Error
	r.ClaimedBy = ""
	r.ClaimExpiresAt = nil
	s.records[id] = r
	s.completions = append(s.completions, outcome)
	if s.commitThenFail {
		s.commitThenFail = false
		return errors.New("deadline exceeded awaiting commit")
	}
	return nil
}

func (s *fakeStagingStore) record(id string) domain.StagingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

type fakeProvider struct {
	mu        sync.Mutex
	calls     [][]string
	payloads  []dispatch.Payload
	rejected  map[string]bool
	failCalls map[int]bool
}

func (p *fakeProvider) SendMulticast(_ context.Context, tokens []string, payload dispatch.Payload) (*dispatch.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]string(nil), tokens...))
	p.payloads = append(p.payloads, payload)
	if p.failCalls[len(p.calls)] {
		return nil, errors.New("provider outage")
	}
	result := &dispatch.BatchResult{}
	for _, tok := range tokens {
		tr := dispatch.TokenResult{Token: tok, MessageID: "msg-" + tok}
		if p.rejected[tok] {
			tr = dispatch.TokenResult{Token: tok, Err: errors.New("registration-token-not-registered")}
		}
		result.Results = append(result.Results, tr)
	}
	return result, nil
}

type fakeDirectory struct {
	mu       sync.Mutex
	accounts []domain.Account
	cleared  [][]string
}

func (d *fakeDirectory) FindAccountsByRole(_ context.Context, role string) ([]domain.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Account
	for _, a := range d.accounts {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out, nil
}

func (d *fakeDirectory) FindReachableAccounts(ctx context.Context, role string, limit int) ([]domain.Account, error) {
	all, _ := d.FindAccountsByRole(ctx, role)
	var out []domain.Account
	for _, a := range all {
		if a.FCMToken != "" && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (d *fakeDirectory) ClearTokenOnAccountsWithToken(_ context.Context, tokens []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared = append(d.cleared, tokens)
	dead := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		dead[t] = true
	}
	n := 0
	for i, a := range d.accounts {
		if a.FCMToken != "" && dead[a.FCMToken] {
			d.accounts[i].FCMToken = ""
			n++
		}
	}
	return n, nil
}

func (d *fakeDirectory) token(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.accounts {
		if a.ID == id {
			return a.FCMToken
		}
	}
	return ""
}

func pendingRecord(id string, tokens []string) domain.StagingRecord {
	return domain.StagingRecord{
		ID:               id,
		EventID:          "E1",
		EventTitle:       "Concert",
		EventDescription: "Live music in the park",
		EventDate:        "20/11/2026",
		EventTime:        "19:30",
		EventLocation:    "Central Park",
		Tokens:           tokens,
		Status:           domain.StagingPending,
	}
}

func makeTokens(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("token-%04d", i)
	}
	return tokens
}

// --- Tests ---

func TestDispatch_Scenarios(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Partial failure is sent and prunes the rejected token", func(t *testing.T) {
		record := pendingRecord("rec-1", []string{"t1", "t2", "t3"})
		store := newFakeStagingStore(record)
		provider := &fakeProvider{rejected: map[string]bool{"t2": true}}
		directory := &fakeDirectory{accounts: []domain.Account{
			{ID: "u1", Role: domain.RoleUser, FCMToken: "t1"},
			{ID: "u2", Role: domain.RoleUser, FCMToken: "t2"},
			{ID: "u3", Role: domain.RoleUser, FCMToken: "t3"},
			{ID: "u4", Role: domain.RoleUser},
		}}

		d := fanout.NewDispatcher(provider, store, directory, fanout.DefaultOptions(), logger)
		require.NoError(t, d.Dispatch(ctx, record))

		final := store.records["rec-1"]
		assert.Equal(t, domain.StagingSent, final.Status)
		assert.Equal(t, 2, final.SuccessCount)
		assert.Equal(t, 1, final.FailureCount)
		assert.Equal(t, 3, final.TotalTokens)

		assert.Empty(t, directory.token("u2"))
		assert.Equal(t, "t1", directory.token("u1"))
		assert.Equal(t, "t3", directory.token("u3"))
		assert.Equal(t, [][]string{{"t2"}}, directory.cleared)
	})

	t.Run("Empty token list fails without provider calls", func(t *testing.T) {
		record := pendingRecord("rec-empty", []string{})
		store := newFakeStagingStore(record)
		provider := &fakeProvider{}

		d := fanout.NewDispatcher(provider, store, &fakeDirectory{}, fanout.DefaultOptions(), logger)
		require.NoError(t, d.Dispatch(ctx, record))

		final := store.records["rec-empty"]
		assert.Equal(t, domain.StagingFailed, final.Status)
		assert.Equal(t, fanout.ReasonNoTokens, final.Error)
		assert.Empty(t, provider.calls)
	})

	t.Run("All tokens rejected still ends as sent", func(t *testing.T) {
		record := pendingRecord("rec-dead", []string{"a", "b"})
		store := newFakeStagingStore(record)
		provider := &fakeProvider{rejected: map[string]bool{"a": true, "b": true}}

		d := fanout.NewDispatcher(provider, store, &fakeDirectory{}, fanout.DefaultOptions(), logger)
		require.NoError(t, d.Dispatch(ctx, record))

		final := store.records["rec-dead"]
		assert.Equal(t, domain.StagingSent, final.Status)
		assert.Equal(t, 0, final.SuccessCount)
		assert.Equal(t, 2, final.FailureCount)
	})

	t.Run("Missing record is dropped", func(t *testing.T) {
		store := newFakeStagingStore()
		provider := &fakeProvider{}

		d := fanout.NewDispatcher(provider, store, &fakeDirectory{}, fanout.DefaultOptions(), logger)
		require.NoError(t, d.Dispatch(ctx, pendingRecord("ghost", []string{"t1"})))

		assert.Empty(t, provider.calls)
		assert.Empty(t, store.completions)
	})

	t.Run("Trigger without id is rejected", func(t *testing.T) {
		d := fanout.NewDispatcher(&fakeProvider{}, newFakeStagingStore(), &fakeDirectory{}, fanout.DefaultOptions(), logger)
		assert.Error(t, d.Dispatch(ctx, domain.StagingRecord{}))
	})
}

func TestDispatch_Batching(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Splits into ceil(N/500) calls covering every token once", func(t *testing.T) {
		tokens := makeTokens(1201)
		record := pendingRecord("rec-big", tokens)
		store := newFakeStagingStore(record)
		provider := &fakeProvider{}

		d := fanout.NewDispatcher(provider, store, &fakeDirectory{}, fanout.DefaultOptions(), logger)
		require.NoError(t, d.Dispatch(ctx, record))

		require.Len(t, provider.calls, 3)
		var union []string
		for _, call := range provider.calls {
			assert.LessOrEqual(t, len(call), 500)
			union = append(union, call...)
		}
		assert.Equal(t, tokens, union)

		final := store.records["rec-big"]
		assert.Equal(t, 1201, final.SuccessCount+final.FailureCount)
		assert.Equal(t, 1201, final.TotalTokens)
	})

	t.Run("A failed batch counts all its tokens and the next batch still runs", func(t *testing.T) {
		tokens := makeTokens(1100)
		record := pendingRecord("rec-outage", tokens)
		store := newFakeStagingStore(record)
		provider := &fakeProvider{failCalls: map[int]bool{2: true}}
		directory := &fakeDirectory{}

		d := fanout.NewDispatcher(provider, store, directory, fanout.DefaultOptions(), logger)
		require.NoError(t, d.Dispatch(ctx, record))

		require.Len(t, provider.calls, 3)
		final := store.records["rec-outage"]
		assert.Equal(t, domain.StagingSent, final.Status)
		assert.Equal(t, 600, final.SuccessCount)
		assert.Equal(t, 500, final.FailureCount)
		assert.Empty(t, directory.cleared, "tokens from a failed batch are not pruned")
	})

	t.Run("Batch size above the provider limit is clamped", func(t *testing.T) {
		record := pendingRecord("rec-clamp", makeTokens(600))
		store := newFakeStagingStore(record)
		provider := &fakeProvider{}

		opts := fanout.DefaultOptions()
		opts.BatchSize = 5000
		d := fanout.NewDispatcher(provider, store, &fakeDirectory{}, opts, logger)
		require.NoError(t, d.Dispatch(ctx, record))

		require.Len(t, provider.calls, 2)
		assert.Len(t, provider.calls[0], 500)
	})
}

func TestDispatch_Idempotence(t *testing.T) {
	ctx := context.Background()
	record := pendingRecord("rec-dup", []string{"t1"})
	store := newFakeStagingStore(record)
	provider := &fakeProvider{}

	d := fanout.NewDispatcher(provider, store, &fakeDirectory{}, fanout.DefaultOptions(), newTestLogger())

	// The trigger payload still says pending on the replay; the stored copy does not.
	require.NoError(t, d.Dispatch(ctx, record))
	require.NoError(t, d.Dispatch(ctx, record))

	assert.Len(t, store.completions, 1)
	assert.Len(t, provider.calls, 1)
}

func TestDispatch_TerminalWriteFailure(t *testing.T) {
	ctx := context.Background()
	record := pendingRecord("rec-fatal", []string{"t1"})
	store := newFakeStagingStore(record)
	store.failWrites = 1

	d := fanout.NewDispatcher(&fakeProvider{}, store, &fakeDirectory{}, fanout.DefaultOptions(), newTestLogger())
	err := d.Dispatch(ctx, record)

	require.Error(t, err)
	final := store.records["rec-fatal"]
	assert.Equal(t, domain.StagingFailed, final.Status)
	assert.Contains(t, final.Error, "store unavailable")
}

func TestDispatch_SentCommitWithLostAck(t *testing.T) {
	ctx := context.Background()
	record := pendingRecord("rec-ack", []string{"t1", "t2"})
	store := newFakeStagingStore(record)
	store.commitThenFail = true

	d := fanout.NewDispatcher(&fakeProvider{}, store, &fakeDirectory{}, fanout.DefaultOptions(), newTestLogger())
	err := d.Dispatch(ctx, record)

	require.Error(t, err, "the delivery is nacked so the redelivery can confirm the state")
	final := store.record("rec-ack")
	assert.Equal(t, domain.StagingSent, final.Status, "the failed fallback must not overwrite a committed sent")
	assert.Equal(t, 2, final.SuccessCount)
	assert.Empty(t, final.Error)
	require.Len(t, store.completions, 1)

	// The redelivery finds the record terminal and sends nothing.
	provider := &fakeProvider{}
	d = fanout.NewDispatcher(provider, store, &fakeDirectory{}, fanout.DefaultOptions(), newTestLogger())
	require.NoError(t, d.Dispatch(ctx, record))
	assert.Empty(t, provider.calls)
}

func TestDispatch_LateCompletionRefused(t *testing.T) {
	ctx := context.Background()
	record := pendingRecord("rec-late", []string{"t1"})
	store := newFakeStagingStore(record)

	require.NoError(t, store.CompleteStaging(ctx, "rec-late", domain.Sent(1, 0, 1)))
	err := store.CompleteStaging(ctx, "rec-late", domain.Failed("late failure"))

	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
	assert.Equal(t, domain.StagingSent, store.record("rec-late").Status)
}

// gatedProvider blocks its first call until released so a second delivery
// can race the first one mid-send.
type gatedProvider struct {
	fakeProvider
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedProvider) SendMulticast(ctx context.Context, tokens []string, payload dispatch.Payload) (*dispatch.BatchResult, error) {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return p.fakeProvider.SendMulticast(ctx, tokens, payload)
}

func TestDispatch_ConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	record := pendingRecord("rec-race", []string{"t1", "t2"})
	store := newFakeStagingStore(record)
	provider := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	d := fanout.NewDispatcher(provider, store, &fakeDirectory{}, fanout.DefaultOptions(), newTestLogger())

	firstDone := make(chan error, 1)
	go func() { firstDone <- d.Dispatch(ctx, record) }()
	<-provider.entered

	err := d.Dispatch(ctx, record)
	assert.ErrorIs(t, err, domain.ErrClaimed, "a live claim nacks the duplicate")

	close(provider.release)
	require.NoError(t, <-firstDone)

	// Once the owner finishes, the redelivered duplicate is a no-op.
	require.NoError(t, d.Dispatch(ctx, record))

	assert.Len(t, provider.calls, 1)
	assert.Len(t, store.completions, 1)
	assert.Equal(t, domain.StagingSent, store.record("rec-race").Status)
}

func TestDispatch_ManyConcurrentDeliveriesSendOnce(t *testing.T) {
	ctx := context.Background()
	record := pendingRecord("rec-herd", makeTokens(3))
	store := newFakeStagingStore(record)
	provider := &fakeProvider{}
	d := fanout.NewDispatcher(provider, store, &fakeDirectory{}, fanout.DefaultOptions(), newTestLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.Dispatch(ctx, record)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrClaimed)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, provider.calls, 1)
	assert.Len(t, store.completions, 1)
}

func TestDispatch_ExpiredClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	stale := time.Now().Add(-time.Minute)
	record := pendingRecord("rec-stale", []string{"t1"})
	record.ClaimedBy = "crashed-dispatcher"
	record.ClaimExpiresAt = &stale
	store := newFakeStagingStore(record)
	provider := &fakeProvider{}

	d := fanout.NewDispatcher(provider, store, &fakeDirectory{}, fanout.DefaultOptions(), newTestLogger())
	require.NoError(t, d.Dispatch(ctx, record))

	assert.Len(t, provider.calls, 1)
	final := store.record("rec-stale")
	assert.Equal(t, domain.StagingSent, final.Status)
	assert.Empty(t, final.ClaimedBy)
}

type panickingProvider struct{}

func (panickingProvider) SendMulticast(context.Context, []string, dispatch.Payload) (*dispatch.BatchResult, error) {
	panic("malformed response")
}

func TestDispatch_PanicMarksFailed(t *testing.T) {
	ctx := context.Background()
	record := pendingRecord("rec-panic", []string{"t1"})
	store := newFakeStagingStore(record)

	d := fanout.NewDispatcher(panickingProvider{}, store, &fakeDirectory{}, fanout.DefaultOptions(), newTestLogger())
	err := d.Dispatch(ctx, record)

	require.Error(t, err)
	assert.Equal(t, domain.StagingFailed, store.records["rec-panic"].Status)
	assert.Contains(t, store.records["rec-panic"].Error, "malformed response")
}
