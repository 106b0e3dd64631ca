package dialogue

// Phase is the active stage of the dialogue.
type Phase string

const (
	PhaseAuthGate    Phase = "auth-gate"
	PhaseDemographic Phase = "demographic-intake"
	PhaseMotor       Phase = "motor-intake"
	PhaseAddon       Phase = "addon-intake"
	PhaseQuote       Phase = "quote-pending"
	PhaseIssuance    Phase = "issuance-checklist"
	PhaseTerminal    Phase = "terminal"
)

// AuthStage is the sub-state of PhaseAuthGate.
type AuthStage string

const (
	AuthNone        AuthStage = ""
	AuthAsk         AuthStage = "ask"
	AuthName        AuthStage = "collect-name"
	AuthEmail       AuthStage = "collect-email"
	AuthPassword    AuthStage = "collect-password"
	AuthRegistering AuthStage = "registering"
	AuthHandoff     AuthStage = "handoff"
)

// Outcome reports what Submit did with a piece of user input.
type Outcome string

const (
	// Accepted: the answer was validated and applied.
	Accepted Outcome = "accepted"
	// Rejected: validation failed; only an error message was appended.
	Rejected Outcome = "rejected"
	// Answered: a knowledge-base reply was given; the question is re-offered.
	Answered Outcome = "answered"
	// Dropped: an async result is outstanding; nothing changed.
	Dropped Outcome = "dropped"
	// Ignored: blank input, or nothing is being asked.
	Ignored Outcome = "ignored"
)

// SessionContext is the caller's view of authentication. It is replaced
// wholesale through UpdateSession, never mutated in place.
type SessionContext struct {
	Authenticated bool   `json:"authenticated"`
	AccessToken   string `json:"-"`
	UserName      string `json:"user_name,omitempty"`
	Email         string `json:"email,omitempty"`
}
