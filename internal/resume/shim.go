package resume

import (
	"context"
	"log/slog"

	json "github.com/goccy/go-json"

	"quotebot/internal/logger"
	"quotebot/internal/models"
)

// PolicyFetcher reads a policy from the insurer.
type PolicyFetcher interface {
	GetPolicy(ctx context.Context, token string, policyID int64) (*models.Policy, error)
}

// Shim is the best-effort resume record. Failures are logged and never
// returned; the insurer stays the source of truth.
type Shim struct {
	store    Store
	policies PolicyFetcher
}

func NewShim(store Store, policies PolicyFetcher) *Shim {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Shim{store: store, policies: policies}
}

// Restore loads the visitor's record and, when a policy is cached, refreshes
// its status from the policy endpoint once. An issued policy clears the record.
func (s *Shim) Restore(ctx context.Context, visitorID int64, token string) models.ResumeState {
	ctx = logger.WithLogFields(ctx, logger.LogFields{VisitorID: visitorID, Component: "resume"})
	state, err := s.store.Load(ctx, visitorID)
	if err != nil {
		slog.WarnContext(ctx, "load resume state failed", "error", err)
		return models.ResumeState{}
	}
	if state.LastPolicyID == 0 || token == "" || s.policies == nil {
		return state
	}

	policy, err := s.policies.GetPolicy(ctx, token, state.LastPolicyID)
	if err != nil {
		slog.WarnContext(ctx, "refresh cached policy failed", "policy_id", state.LastPolicyID, "error", err)
		return state
	}
	if policy.Status == models.PolicyIssued {
		s.clear(ctx, visitorID)
		state.PolicyStatus = policy.Status
		state.KYCStatus = policy.KYCStatus
		state.Completed = true
		return state
	}
	refreshed, ok := s.merge(ctx, visitorID, map[string]any{
		"policy_status": policy.Status,
		"kyc_status":    policy.KYCStatus,
	})
	if !ok {
		return state
	}
	return refreshed
}

// NoteQuote records a new quote and forgets any earlier policy.
func (s *Shim) NoteQuote(ctx context.Context, visitorID, quoteID int64) {
	s.merge(ctx, visitorID, map[string]any{
		"last_quote_id":  quoteID,
		"last_policy_id": nil,
		"policy_status":  nil,
		"completed":      false,
	})
}

func (s *Shim) NotePolicy(ctx context.Context, visitorID int64, policy models.Policy) {
	patch := map[string]any{
		"last_policy_id": policy.ID,
		"policy_status":  policy.Status,
	}
	if policy.QuoteID != 0 {
		patch["last_quote_id"] = policy.QuoteID
	}
	if policy.KYCStatus != "" {
		patch["kyc_status"] = policy.KYCStatus
	}
	s.merge(ctx, visitorID, patch)
}

func (s *Shim) NoteKYC(ctx context.Context, visitorID int64, status string) {
	s.merge(ctx, visitorID, map[string]any{"kyc_status": status})
}

// Complete drops the record after issuance.
func (s *Shim) Complete(ctx context.Context, visitorID int64) {
	s.clear(ctx, visitorID)
}

func (s *Shim) Load(ctx context.Context, visitorID int64) models.ResumeState {
	state, err := s.store.Load(ctx, visitorID)
	if err != nil {
		slog.WarnContext(ctx, "load resume state failed", "visitor_id", visitorID, "error", err)
		return models.ResumeState{}
	}
	return state
}

func (s *Shim) merge(ctx context.Context, visitorID int64, patch map[string]any) (models.ResumeState, bool) {
	raw, err := json.Marshal(patch)
	if err != nil {
		slog.WarnContext(ctx, "encode resume patch failed", "visitor_id", visitorID, "error", err)
		return models.ResumeState{}, false
	}
	state, err := s.store.Merge(ctx, visitorID, raw)
	if err != nil {
		slog.WarnContext(ctx, "merge resume state failed", "visitor_id", visitorID, "error", err)
		return models.ResumeState{}, false
	}
	return state, true
}

func (s *Shim) clear(ctx context.Context, visitorID int64) {
	if err := s.store.Clear(ctx, visitorID); err != nil {
		slog.WarnContext(ctx, "clear resume state failed", "visitor_id", visitorID, "error", err)
	}
}
