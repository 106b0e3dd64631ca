package insurer

import (
	"errors"
	"strings"
)

// Category is the remedial bucket a failed call falls into.
type Category string

const (
	CategoryNone         Category = ""
	CategoryUnauthorized Category = "unauthorized"
	CategoryPremium      Category = "premium"
	CategoryProposal     Category = "proposal"
	CategoryValuation    Category = "valuation"
	CategoryMechanical   Category = "mechanical"
	CategoryKYC          Category = "kyc"
	CategoryCredentials  Category = "credentials"
	CategoryRejected     Category = "rejected"
	CategoryConnectivity Category = "connectivity"
)

var substringRules = []struct {
	category Category
	needles  []string
}{
	{CategoryPremium, []string{"premium"}},
	{CategoryProposal, []string{"proposal"}},
	{CategoryValuation, []string{"valuation"}},
	{CategoryMechanical, []string{"mechanical"}},
	{CategoryKYC, []string{"kyc"}},
	{CategoryCredentials, []string{"credential", "invalid email or password", "incorrect password"}},
}

// Classify maps a call error onto a Category. A 401 is always unauthorized;
// other answers are classified by the server text.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, ErrUnauthorized) {
			return CategoryUnauthorized
		}
		return CategoryConnectivity
	}
	if apiErr.Status == 401 {
		return CategoryUnauthorized
	}

	text := strings.ToLower(apiErr.Message + " " + strings.Join(apiErr.Missing, " "))
	for _, rule := range substringRules {
		for _, needle := range rule.needles {
			if strings.Contains(text, needle) {
				return rule.category
			}
		}
	}
	if apiErr.Status >= 500 || strings.TrimSpace(apiErr.Message) == "" {
		return CategoryConnectivity
	}
	return CategoryRejected
}

// ServerMessage returns the server-provided text of err, if any.
func ServerMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}
