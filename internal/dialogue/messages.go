package dialogue

import (
	"fmt"
	"math"
	"strings"

	"quotebot/internal/insurer"
	"quotebot/internal/models"
)

const (
	msgSignInRequired = "To calculate a quote, I need you to be signed in."
	msgLoginHandoff   = "Great! I'll take you to the login page..."
	msgRegistering    = "Creating your account..."
	msgRegistered     = "All set! You're now signed in. Let's proceed with your quote."
	msgSignedIn       = "You're signed in. Let's proceed with your quote."
	msgSignedOut      = "You have been signed out."
	msgRegisterFailed = "I could not register you right now. Please use the Login/Sign Up buttons at the top and try again."

	msgIntroInsurance   = "Insurance is protection against financial loss from accidents or risks. It's legally required in many places and offers financial protection."
	msgIntroQuestions   = "To calculate a fair premium, I'll ask about your age, driving history, car make/year, location, and usage. With Pree, quotes are instant."
	msgIntroUnderwrite  = "Underwriting: age, driving history, car make/year, location, and usage help assess risk and set your premium."
	msgIntroPremium     = "Premium = what you pay monthly/annually. Coverage = what's protected. Deductible (excess) = what you pay before insurance applies."
	msgCalculating      = "Perfect! I have all the information I need. Let me calculate your personalized insurance quote..."
	msgQuoteKenya       = "Kenya: Motor insurance is mandatory. Third-party is the minimum legal cover; Comprehensive includes theft, fire, and own damage."
	msgQuotePrivacy     = "I keep your info private and only use it to calculate your quote. I can email you a PDF summary or save this to your quote history if you'd like."
	msgChecklistDone    = "Checklist complete. You can now bind your policy."
	msgQuoteFailedVerb  = "I couldn't calculate the quote: %s. Please review your answers and try again."
	msgActionRejected   = "I couldn't complete that: %s"
	msgPolicyBound      = "Your policy %s is bound. Complete KYC and then issue it."
	msgPolicyIssued     = "Policy %s has been issued. Thank you!"
	msgWelcomeBack      = "Welcome back! Your policy %s is %s."
	msgNothingToAnswer  = "There's nothing left for me to ask. Use the actions above to continue."
	passwordMaskMinimum = 6
)

var remedies = map[insurer.Category]string{
	insurer.CategoryUnauthorized: "You need to log in to get a quote. Please sign in and try again.",
	insurer.CategoryPremium:      "The full premium has not been recorded as paid. Please complete payment before issuing the policy.",
	insurer.CategoryProposal:     "We have not received your signed proposal form yet. Please submit it and try again.",
	insurer.CategoryValuation:    "A vehicle valuation is required for this cover. Please book a valuation and try again once it is done.",
	insurer.CategoryMechanical:   "A mechanical assessment is required. Please complete the assessment and try again.",
	insurer.CategoryKYC:          "Your KYC is not complete. Please submit your ID details (national ID and date of birth) to continue.",
	insurer.CategoryCredentials:  "Those credentials were not accepted. Please check your email and password.",
	insurer.CategoryConnectivity: "I'm having trouble connecting to our servers. Please check your connection and try again.",
}

// Remedy returns the user-facing message for a failed remote call.
func Remedy(err error) string {
	category := insurer.Classify(err)
	if category == insurer.CategoryRejected {
		return fmt.Sprintf(msgActionRejected, insurer.ServerMessage(err))
	}
	if msg, ok := remedies[category]; ok {
		return msg
	}
	return remedies[insurer.CategoryConnectivity]
}

func quoteFailure(err error) string {
	if insurer.Classify(err) == insurer.CategoryRejected {
		return fmt.Sprintf(msgQuoteFailedVerb, insurer.ServerMessage(err))
	}
	return Remedy(err)
}

func registrationFailure(err error) string {
	switch insurer.Classify(err) {
	case insurer.CategoryConnectivity:
		return remedies[insurer.CategoryConnectivity]
	case insurer.CategoryCredentials:
		return remedies[insurer.CategoryCredentials] + " " + msgRegisterFailed
	default:
		return msgRegisterFailed
	}
}

func quoteMessage(res *models.QuoteResult) string {
	risk := strings.ToLower(res.RiskLevel)
	if risk == "" {
		risk = "unknown"
	}
	confidence := ""
	if res.Confidence != nil {
		confidence = fmt.Sprintf(" (confidence %d%%)", int(math.Round(*res.Confidence*100)))
	}
	return fmt.Sprintf("Based on your data, your predicted risk is %s%s. Your insurance quote is KES %s.",
		risk, confidence, formatAmount(res.Quote))
}

func greeting(name string) string {
	if name == "" {
		return "Hi there! I'm here to help you get an insurance quote."
	}
	return fmt.Sprintf("Hi %s! I'm here to help you get an insurance quote.", name)
}

func policyLabel(p *models.Policy) string {
	if p.PolicyNumber != "" {
		return p.PolicyNumber
	}
	return fmt.Sprintf("#%d", p.ID)
}

func mask(secret string) string {
	n := len(secret)
	if n < passwordMaskMinimum {
		n = passwordMaskMinimum
	}
	return strings.Repeat("•", n)
}
