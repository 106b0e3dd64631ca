package dialogue

import (
	"time"

	"quotebot/internal/models"
)

// Effect is work the caller must carry out on behalf of the machine.
// Results of asynchronous effects are fed back through the matching Apply
// method together with the Generation the effect was issued under.
type Effect interface {
	effect()
}

// Register asks the caller to create an upstream account.
type Register struct {
	Generation uint64
	Name       string
	Email      string
	Password   string
}

// LoginHandoff asks the caller to close the widget and open the external login.
type LoginHandoff struct{}

// LoadCatalog asks the caller to fetch the motor reference catalog.
type LoadCatalog struct {
	Generation uint64
}

// RequestQuote asks the caller to post Payload to the prediction endpoint.
type RequestQuote struct {
	Generation uint64
	Payload    models.QuoteRequest
}

type Bind struct {
	Generation uint64
	QuoteID    int64
	Coverage   map[string]any
}

type Issue struct {
	Generation uint64
	PolicyID   int64
}

// SessionExpired tells the caller the upstream token was rejected.
type SessionExpired struct{}

// Typing asks the caller to call FinishTyping(MessageID) after Delay.
type Typing struct {
	MessageID string
	Delay     time.Duration
}

// Checkpoint carries progress worth remembering across reloads.
type Checkpoint struct {
	QuoteID      int64
	PolicyID     int64
	PolicyStatus string
	KYCStatus    string
	Completed    bool
}

func (Register) effect()       {}
func (LoginHandoff) effect()   {}
func (LoadCatalog) effect()    {}
func (RequestQuote) effect()   {}
func (Bind) effect()           {}
func (Issue) effect()          {}
func (SessionExpired) effect() {}
func (Typing) effect()         {}
func (Checkpoint) effect()     {}
