package models

import "time"

// QuoteRequest is the feature payload posted to the prediction endpoint.
type QuoteRequest map[string]any

// QuoteResult is the prediction response.
type QuoteResult struct {
	Status                       string   `json:"status"`
	Quote                        float64  `json:"quote"`
	RiskLevel                    string   `json:"risk_level"`
	Confidence                   *float64 `json:"confidence,omitempty"`
	ValuationRequired            bool     `json:"valuation_required"`
	MechanicalAssessmentRequired bool     `json:"mechanical_assessment_required"`
	QuoteID                      int64    `json:"quote_id,omitempty"`
}

const (
	PolicyBound  = "bound"
	PolicyIssued = "issued"
)

const (
	KYCPending  = "pending"
	KYCVerified = "verified"
)

// Policy mirrors the insurer policy record.
type Policy struct {
	ID                           int64          `json:"id"`
	PolicyNumber                 string         `json:"policy_number"`
	Status                       string         `json:"status"`
	QuoteID                      int64          `json:"quote_id"`
	Premium                      float64        `json:"premium"`
	Coverage                     map[string]any `json:"coverage,omitempty"`
	CoverType                    string         `json:"cover_type,omitempty"`
	KYCStatus                    string         `json:"kyc_status"`
	ValuationRequired            bool           `json:"valuation_required"`
	MechanicalAssessmentRequired bool           `json:"mechanical_assessment_required"`
}

// IssuanceFlags are the prerequisites collected by the checklist.
type IssuanceFlags struct {
	FullPremiumPaid          bool `json:"full_premium_paid"`
	ProposalFormReceived     bool `json:"proposal_form_received"`
	ValuationDone            bool `json:"valuation_done"`
	MechanicalAssessmentDone bool `json:"mechanical_assessment_done"`
}

// KYCSubmission is the identity payload; NationalID and DOB are required.
type KYCSubmission struct {
	NationalID string `json:"national_id"`
	DOB        string `json:"dob"`
	KRAPin     string `json:"kra_pin,omitempty"`
	Address    string `json:"address,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// QuoteRecord is one entry of the user's quote history.
type QuoteRecord struct {
	ID          int64     `json:"id"`
	QuoteAmount float64   `json:"quote_amount"`
	RiskLevel   string    `json:"risk_level"`
	CoverType   string    `json:"cover_type,omitempty"`
	KYCStatus   string    `json:"kyc_status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
