package resume

import (
	"context"
	"errors"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"quotebot/internal/models"
	"quotebot/internal/redis"
)

type fakePolicies struct {
	policy *models.Policy
	err    error
	calls  int
}

func (f *fakePolicies) GetPolicy(_ context.Context, _ string, _ int64) (*models.Policy, error) {
	f.calls++
	return f.policy, f.err
}

func TestMemoryStoreMergeNullsFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state, err := store.Merge(ctx, 7, []byte(`{"last_quote_id":11,"last_policy_id":3,"policy_status":"bound"}`))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if state.LastPolicyID != 3 || state.UpdatedAt.IsZero() {
		t.Fatalf("unexpected state %+v", state)
	}

	state, err = store.Merge(ctx, 7, []byte(`{"last_quote_id":12,"last_policy_id":null,"policy_status":null}`))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if state.LastQuoteID != 12 || state.LastPolicyID != 0 || state.PolicyStatus != "" {
		t.Fatalf("null fields not removed: %+v", state)
	}

	if err := store.Clear(ctx, 7); err != nil {
		t.Fatalf("clear: %v", err)
	}
	loaded, err := store.Load(ctx, 7)
	if err != nil || !loaded.Empty() {
		t.Fatalf("expected empty state after clear, got %+v, %v", loaded, err)
	}
}

func TestMemoryStoreRejectsBadPatch(t *testing.T) {
	if _, err := NewMemoryStore().Merge(context.Background(), 1, []byte("not json")); err == nil {
		t.Fatalf("expected error for malformed patch")
	}
}

func TestShimTracksQuoteThenPolicy(t *testing.T) {
	ctx := context.Background()
	shim := NewShim(NewMemoryStore(), nil)

	shim.NotePolicy(ctx, 5, models.Policy{ID: 9, Status: models.PolicyBound, QuoteID: 40, KYCStatus: models.KYCPending})
	shim.NoteQuote(ctx, 5, 41)
	state := shim.Load(ctx, 5)
	if state.LastQuoteID != 41 || state.LastPolicyID != 0 || state.PolicyStatus != "" {
		t.Fatalf("new quote should drop the old policy: %+v", state)
	}
	if state.KYCStatus != models.KYCPending {
		t.Fatalf("kyc status should survive a new quote: %+v", state)
	}

	shim.NoteKYC(ctx, 5, models.KYCVerified)
	if got := shim.Load(ctx, 5).KYCStatus; got != models.KYCVerified {
		t.Fatalf("kyc status %q", got)
	}
	shim.Complete(ctx, 5)
	if !shim.Load(ctx, 5).Empty() {
		t.Fatalf("complete should clear the record")
	}
}

func TestRestoreRefreshesBoundPolicy(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakePolicies{policy: &models.Policy{ID: 9, Status: models.PolicyBound, KYCStatus: models.KYCVerified}}
	shim := NewShim(NewMemoryStore(), fetcher)
	shim.NotePolicy(ctx, 5, models.Policy{ID: 9, Status: models.PolicyBound, KYCStatus: models.KYCPending})

	state := shim.Restore(ctx, 5, "token")
	if fetcher.calls != 1 {
		t.Fatalf("expected one policy poll, got %d", fetcher.calls)
	}
	if state.LastPolicyID != 9 || state.KYCStatus != models.KYCVerified {
		t.Fatalf("restore did not refresh: %+v", state)
	}
}

func TestRestoreClearsIssuedPolicy(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakePolicies{policy: &models.Policy{ID: 9, Status: models.PolicyIssued, KYCStatus: models.KYCVerified}}
	shim := NewShim(NewMemoryStore(), fetcher)
	shim.NotePolicy(ctx, 5, models.Policy{ID: 9, Status: models.PolicyBound})

	state := shim.Restore(ctx, 5, "token")
	if !state.Completed || state.PolicyStatus != models.PolicyIssued {
		t.Fatalf("issued policy should report completion: %+v", state)
	}
	if !shim.Load(ctx, 5).Empty() {
		t.Fatalf("issued policy should clear the stored record")
	}
}

func TestRestoreSwallowsFetchErrors(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakePolicies{err: errors.New("boom")}
	shim := NewShim(NewMemoryStore(), fetcher)
	shim.NotePolicy(ctx, 5, models.Policy{ID: 9, Status: models.PolicyBound})

	state := shim.Restore(ctx, 5, "token")
	if state.LastPolicyID != 9 || state.PolicyStatus != models.PolicyBound {
		t.Fatalf("cached state should be returned on fetch failure: %+v", state)
	}
	if shim.Restore(ctx, 5, ""); fetcher.calls != 1 {
		t.Fatalf("restore without a token must not poll")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := redis.Dial(&goredis.Options{Addr: addr})
	if err != nil {
		t.Fatalf("dial redis: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStore(client)
	const visitor = int64(987654321)
	_ = store.Clear(ctx, visitor)
	defer store.Clear(ctx, visitor)

	if _, err := store.Merge(ctx, visitor, []byte(`{"last_quote_id":3,"kyc_status":"pending"}`)); err != nil {
		t.Fatalf("merge: %v", err)
	}
	state, err := store.Load(ctx, visitor)
	if err != nil || state.LastQuoteID != 3 || state.KYCStatus != models.KYCPending {
		t.Fatalf("load = %+v, %v", state, err)
	}
	ttl, err := client.TTL(ctx, redisKey(visitor))
	if err != nil || ttl <= 0 {
		t.Fatalf("expected ttl on resume key, got %v, %v", ttl, err)
	}
}
