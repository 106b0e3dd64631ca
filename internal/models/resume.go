package models

import "time"

// ResumeState is the best-effort record used to pick a dialogue back up.
type ResumeState struct {
	LastQuoteID  int64     `json:"last_quote_id,omitempty"`
	LastPolicyID int64     `json:"last_policy_id,omitempty"`
	PolicyStatus string    `json:"policy_status,omitempty"`
	KYCStatus    string    `json:"kyc_status,omitempty"`
	Completed    bool      `json:"completed"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Empty reports whether nothing worth resuming is recorded.
func (r ResumeState) Empty() bool {
	return r.LastQuoteID == 0 && r.LastPolicyID == 0 && r.KYCStatus == "" && !r.Completed
}
