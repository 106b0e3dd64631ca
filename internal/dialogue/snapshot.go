package dialogue

import "quotebot/internal/models"

// Snapshot is a copy of the observable machine state.
type Snapshot struct {
	Phase         Phase                `json:"phase"`
	AuthStage     AuthStage            `json:"auth_stage,omitempty"`
	Question      *QuestionSpec        `json:"question,omitempty"`
	Busy          bool                 `json:"busy"`
	Generation    uint64               `json:"generation"`
	Authenticated bool                 `json:"authenticated"`
	Slots         Slots                `json:"slots"`
	Quote         *models.QuoteResult  `json:"quote,omitempty"`
	Policy        *models.Policy       `json:"policy,omitempty"`
	Completed     bool                 `json:"completed"`
	Messages      []models.ChatMessage `json:"messages"`
}

func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Phase:         m.phase,
		AuthStage:     m.auth,
		Question:      m.current,
		Busy:          m.Busy(),
		Generation:    m.generation,
		Authenticated: m.session.Authenticated,
		Slots:         m.slots.Clone(),
		Quote:         m.quote,
		Policy:        m.policy,
		Completed:     m.completed,
		Messages:      m.Messages(),
	}
}

func (m *Machine) Phase() Phase               { return m.phase }
func (m *Machine) AuthStage() AuthStage       { return m.auth }
func (m *Machine) Current() *QuestionSpec     { return m.current }
func (m *Machine) Busy() bool                 { return m.awaiting != awaitNone }
func (m *Machine) Generation() uint64         { return m.generation }
func (m *Machine) Session() SessionContext    { return m.session }
func (m *Machine) Slots() Slots               { return m.slots.Clone() }
func (m *Machine) Quote() *models.QuoteResult { return m.quote }
func (m *Machine) Policy() *models.Policy     { return m.policy }
func (m *Machine) Completed() bool            { return m.completed }
func (m *Machine) Opened() bool               { return m.opened }

// Flags returns the issuance prerequisites answered so far.
func (m *Machine) Flags() models.IssuanceFlags { return Flags(m.slots) }

func (m *Machine) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// MessagesSince returns the messages appended after the first n.
func (m *Machine) MessagesSince(n int) []models.ChatMessage {
	if n < 0 {
		n = 0
	}
	if n >= len(m.messages) {
		return nil
	}
	out := make([]models.ChatMessage, len(m.messages)-n)
	copy(out, m.messages[n:])
	return out
}

// Message returns the message with the given id.
func (m *Machine) Message(id string) (models.ChatMessage, bool) {
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return models.ChatMessage{}, false
}
