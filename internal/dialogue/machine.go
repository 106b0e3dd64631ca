package dialogue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quotebot/internal/insurer"
	"quotebot/internal/models"
)

var (
	// ErrStale is returned by the Apply methods for results issued under an
	// earlier generation, or that the machine is no longer waiting for.
	ErrStale    = errors.New("dialogue: stale result")
	ErrBusy     = errors.New("dialogue: waiting for a previous request")
	ErrNotReady = errors.New("dialogue: action not available")
)

var errEmptyResult = errors.New("empty response")

type awaiting int

const (
	awaitNone awaiting = iota
	awaitRegister
	awaitQuote
	awaitBind
	awaitIssue
)

type Options struct {
	Features Features
	// TypingDelay is how long new bot messages stay flagged as typing.
	// Zero appends them already settled.
	TypingDelay time.Duration
	Clock       func() time.Time
	IDs         func() string
}

// Machine is the intake dialogue of one conversation. It is not safe for
// concurrent use; the owner serializes every call.
type Machine struct {
	opts    Options
	flow    flow
	session SessionContext

	opened     bool
	phase      Phase
	auth       AuthStage
	slots      Slots
	answers    []answer
	current    *QuestionSpec
	awaiting   awaiting
	generation uint64

	catalog        *models.MotorReference
	catalogLoaded  bool
	catalogPending bool
	quote          *models.QuoteResult
	policy         *models.Policy
	completed      bool

	regName  string
	regEmail string

	messages []models.ChatMessage
	seq      uint64
	effects  []Effect
}

func New(opts Options, session SessionContext) *Machine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	m := &Machine{
		opts:    opts,
		flow:    newFlow(opts.Features),
		session: session,
		phase:   PhaseAuthGate,
		slots:   Slots{},
	}
	if m.opts.IDs == nil {
		m.opts.IDs = func() string {
			m.seq++
			return "m" + strconv.FormatUint(m.seq, 10)
		}
	}
	return m
}

// Open greets the user and asks the first question. Later calls are no-ops.
func (m *Machine) Open() []Effect {
	if m.opened {
		return nil
	}
	m.opened = true
	m.start()
	return m.flush()
}

// Submit feeds one line of user input to the dialogue.
func (m *Machine) Submit(text string) (Outcome, []Effect) {
	if !m.opened {
		return Ignored, nil
	}
	if m.awaiting != awaitNone {
		return Dropped, nil
	}
	input := strings.TrimSpace(text)
	if input == "" {
		return Ignored, nil
	}

	q := m.current
	if q != nil && q.Secret {
		m.appendMessage(mask(input), models.SenderUser)
	} else {
		m.appendMessage(input, models.SenderUser)
	}

	if m.knowledgeEligible(q) {
		if reply, ok := Lookup(input); ok {
			m.say(reply)
			if q != nil {
				m.say(q.promptText())
			}
			return Answered, m.flush()
		}
	}
	if q == nil {
		m.say(msgNothingToAnswer)
		return Ignored, m.flush()
	}

	value, problem := Validate(q, input)
	if problem != "" {
		m.say(problem)
		return Rejected, m.flush()
	}
	m.accept(q, value)
	return Accepted, m.flush()
}

func (m *Machine) ApplyRegistration(gen uint64, session SessionContext, err error) ([]Effect, error) {
	if gen != m.generation || m.awaiting != awaitRegister {
		return nil, ErrStale
	}
	m.awaiting = awaitNone
	if err != nil {
		m.auth = AuthPassword
		m.say(registrationFailure(err))
		m.ask(passwordQuestion)
		return m.flush(), nil
	}
	m.session = session
	m.regName, m.regEmail = "", ""
	m.say(msgRegistered)
	m.beginIntake()
	return m.flush(), nil
}

// ApplyCatalog installs the motor reference catalog. A failed load keeps
// the built-in defaults. A pending motor question whose options changed is
// asked again.
func (m *Machine) ApplyCatalog(gen uint64, ref *models.MotorReference, err error) ([]Effect, error) {
	if gen != m.generation || !m.catalogPending {
		return nil, ErrStale
	}
	m.catalogPending = false
	m.catalogLoaded = true
	if err == nil && ref != nil {
		m.catalog = ref
	}
	if m.current != nil && (m.phase == PhaseMotor || m.phase == PhaseAddon) {
		if q := m.flow.question(m.phase, m.view()); q != nil {
			if q.Field != m.current.Field || q.promptText() != m.current.promptText() {
				m.ask(q)
			} else {
				m.current = q
			}
		}
	}
	return m.flush(), nil
}

func (m *Machine) ApplyQuote(gen uint64, res *models.QuoteResult, err error) ([]Effect, error) {
	if gen != m.generation || m.awaiting != awaitQuote {
		return nil, ErrStale
	}
	m.awaiting = awaitNone
	if err == nil && res == nil {
		err = errEmptyResult
	}
	if err != nil {
		if insurer.Classify(err) == insurer.CategoryUnauthorized {
			m.expire()
			return m.flush(), nil
		}
		m.say(quoteFailure(err))
		m.reopenLastAnswer()
		return m.flush(), nil
	}

	quote := *res
	m.quote = &quote
	m.say(quoteMessage(&quote))
	m.say(msgQuoteKenya)
	m.say(msgQuotePrivacy)
	m.emit(Checkpoint{QuoteID: quote.QuoteID})
	m.phase = PhaseIssuance
	m.advance()
	return m.flush(), nil
}

// RequestBind asks for the quoted policy to be bound with the checklist answers.
func (m *Machine) RequestBind() ([]Effect, error) {
	if m.awaiting != awaitNone {
		return nil, ErrBusy
	}
	if m.phase != PhaseTerminal || m.quote == nil || m.quote.QuoteID == 0 || m.policy != nil {
		return nil, ErrNotReady
	}
	m.awaiting = awaitBind
	m.emit(Bind{Generation: m.generation, QuoteID: m.quote.QuoteID, Coverage: BindCoverage(m.slots)})
	return m.flush(), nil
}

func (m *Machine) ApplyBind(gen uint64, policy *models.Policy, err error) ([]Effect, error) {
	if gen != m.generation || m.awaiting != awaitBind {
		return nil, ErrStale
	}
	m.awaiting = awaitNone
	if err == nil && policy == nil {
		err = errEmptyResult
	}
	if err != nil {
		m.failAction(err)
		return m.flush(), nil
	}
	p := *policy
	m.policy = &p
	m.say(fmt.Sprintf(msgPolicyBound, policyLabel(&p)))
	m.emit(Checkpoint{QuoteID: m.quote.QuoteID, PolicyID: p.ID, PolicyStatus: p.Status, KYCStatus: p.KYCStatus})
	return m.flush(), nil
}

func (m *Machine) RequestIssue() ([]Effect, error) {
	if m.awaiting != awaitNone {
		return nil, ErrBusy
	}
	if m.phase != PhaseTerminal || m.policy == nil || m.policy.Status == models.PolicyIssued {
		return nil, ErrNotReady
	}
	m.awaiting = awaitIssue
	m.emit(Issue{Generation: m.generation, PolicyID: m.policy.ID})
	return m.flush(), nil
}

func (m *Machine) ApplyIssue(gen uint64, policy *models.Policy, err error) ([]Effect, error) {
	if gen != m.generation || m.awaiting != awaitIssue {
		return nil, ErrStale
	}
	m.awaiting = awaitNone
	if err == nil && policy == nil {
		err = errEmptyResult
	}
	if err != nil {
		m.failAction(err)
		return m.flush(), nil
	}
	p := *policy
	m.policy = &p
	m.completed = true
	m.say(fmt.Sprintf(msgPolicyIssued, policyLabel(&p)))
	m.emit(Checkpoint{PolicyID: p.ID, PolicyStatus: p.Status, KYCStatus: p.KYCStatus, Completed: true})
	return m.flush(), nil
}

// UpdateSession replaces the session. Losing authentication sends the
// dialogue back to the auth gate whatever its progress; gaining it while at
// the gate starts intake.
func (m *Machine) UpdateSession(session SessionContext) []Effect {
	prev := m.session
	m.session = session
	if !m.opened {
		return nil
	}
	switch {
	case prev.Authenticated && !session.Authenticated:
		m.say(msgSignedOut)
		m.signOut()
	case !prev.Authenticated && session.Authenticated && m.phase == PhaseAuthGate:
		if m.awaiting == awaitRegister {
			m.generation++
		}
		m.awaiting = awaitNone
		m.current = nil
		m.regName, m.regEmail = "", ""
		m.say(msgSignedIn)
		m.beginIntake()
	}
	return m.flush()
}

// Reset discards all progress and restarts the conversation.
func (m *Machine) Reset() []Effect {
	m.generation++
	m.clearProgress()
	m.messages = nil
	m.opened = true
	m.start()
	return m.flush()
}

// FinishTyping settles the typing flag of message id. It reports whether
// anything changed.
func (m *Machine) FinishTyping(id string) bool {
	for i := range m.messages {
		if m.messages[i].ID == id {
			if !m.messages[i].IsTyping {
				return false
			}
			m.messages[i].IsTyping = false
			return true
		}
	}
	return false
}

// Resume jumps to the terminal phase when a bound but unissued policy is
// known from an earlier visit.
func (m *Machine) Resume(state models.ResumeState) []Effect {
	if !m.opened || !m.session.Authenticated || m.awaiting != awaitNone || m.policy != nil || m.completed {
		return nil
	}
	if state.LastPolicyID == 0 || state.PolicyStatus != models.PolicyBound || state.Completed {
		return nil
	}
	m.current = nil
	m.auth = AuthNone
	m.phase = PhaseTerminal
	m.policy = &models.Policy{
		ID:        state.LastPolicyID,
		Status:    state.PolicyStatus,
		KYCStatus: state.KYCStatus,
		QuoteID:   state.LastQuoteID,
	}
	if state.LastQuoteID != 0 {
		m.quote = &models.QuoteResult{Status: "success", QuoteID: state.LastQuoteID}
	}
	m.say(fmt.Sprintf(msgWelcomeBack, strconv.FormatInt(state.LastPolicyID, 10), state.PolicyStatus))
	return m.flush()
}

func (m *Machine) start() {
	m.loadCatalog()
	if !m.session.Authenticated {
		m.enterAuthGate()
		return
	}
	m.say(greeting(m.session.UserName))
	m.beginIntake()
}

func (m *Machine) loadCatalog() {
	if !m.opts.Features.MotorIntake || m.catalogLoaded || m.catalogPending {
		return
	}
	m.catalogPending = true
	m.emit(LoadCatalog{Generation: m.generation})
}

func (m *Machine) enterAuthGate() {
	m.phase = PhaseAuthGate
	m.auth = AuthAsk
	m.say(msgSignInRequired)
	m.ask(accountQuestion)
}

func (m *Machine) beginIntake() {
	m.auth = AuthNone
	m.phase = m.flow.first()
	m.say(msgIntroInsurance)
	m.say(msgIntroQuestions)
	m.advance()
}

func (m *Machine) accept(q *QuestionSpec, v Value) {
	m.current = nil
	if m.phase == PhaseAuthGate {
		m.acceptAuth(v)
		return
	}

	m.slots[q.Field] = v
	if m.flow.isIntake(m.phase) {
		m.answers = append(m.answers, answer{Phase: m.phase, Field: q.Field, Prompt: q.Prompt, Display: displayValue(q, v)})
	}
	if m.phase == PhaseDemographic {
		switch len(m.answers) {
		case 1:
			m.say(msgIntroUnderwrite)
		case 3:
			m.say(msgIntroPremium)
		}
	}
	m.advance()
}

func (m *Machine) acceptAuth(v Value) {
	switch m.auth {
	case AuthAsk:
		if v.Num == 1 {
			m.auth = AuthHandoff
			m.say(msgLoginHandoff)
			m.emit(LoginHandoff{})
			return
		}
		m.auth = AuthName
		m.ask(nameQuestion)
	case AuthName:
		m.regName = v.Str
		m.auth = AuthEmail
		m.ask(emailQuestion)
	case AuthEmail:
		m.regEmail = v.Str
		m.auth = AuthPassword
		m.ask(passwordQuestion)
	case AuthPassword:
		m.auth = AuthRegistering
		m.awaiting = awaitRegister
		m.say(msgRegistering)
		m.emit(Register{Generation: m.generation, Name: m.regName, Email: m.regEmail, Password: v.Str})
	}
}

// advance asks the next question of the current phase, moving through
// completed phases until one has something to ask.
func (m *Machine) advance() {
	for {
		if q := m.flow.question(m.phase, m.view()); q != nil {
			m.ask(q)
			return
		}
		if m.phase == PhaseIssuance {
			m.phase = PhaseTerminal
			m.current = nil
			m.say(msgChecklistDone)
			return
		}
		if next, ok := m.flow.after(m.phase); ok {
			m.phase = next
			continue
		}
		m.requestQuote()
		return
	}
}

func (m *Machine) requestQuote() {
	m.phase = PhaseQuote
	m.current = nil
	m.awaiting = awaitQuote
	if len(m.answers) > 0 {
		m.say(renderSummary(m.answers))
	}
	m.say(msgCalculating)
	m.emit(RequestQuote{Generation: m.generation, Payload: BuildPayload(m.slots, m.now())})
}

// reopenLastAnswer forgets the last intake answer so its question is asked
// again; answering it re-requests the quote.
func (m *Machine) reopenLastAnswer() {
	n := len(m.answers)
	if n == 0 {
		m.phase = m.flow.first()
		m.advance()
		return
	}
	last := m.answers[n-1]
	m.answers = m.answers[:n-1]
	delete(m.slots, last.Field)
	m.phase = last.Phase
	m.advance()
}

func (m *Machine) failAction(err error) {
	if insurer.Classify(err) == insurer.CategoryUnauthorized {
		m.expire()
		return
	}
	m.say(Remedy(err))
}

func (m *Machine) expire() {
	m.say(remedies[insurer.CategoryUnauthorized])
	m.session = SessionContext{}
	m.signOut()
	m.emit(SessionExpired{})
}

func (m *Machine) signOut() {
	m.generation++
	m.clearProgress()
	m.loadCatalog()
	m.enterAuthGate()
}

func (m *Machine) clearProgress() {
	m.slots = Slots{}
	m.answers = nil
	m.current = nil
	m.awaiting = awaitNone
	m.auth = AuthNone
	m.quote = nil
	m.policy = nil
	m.completed = false
	m.catalogPending = false
	m.regName, m.regEmail = "", ""
}

func (m *Machine) knowledgeEligible(q *QuestionSpec) bool {
	if q == nil {
		return true
	}
	if q.Kind == KindSelect || q.Rule != RuleNone {
		return false
	}
	return m.phase != PhaseMotor && m.phase != PhaseAddon
}

func (m *Machine) ask(q *QuestionSpec) {
	m.current = q
	m.say(q.promptText())
}

func (m *Machine) say(text string) {
	msg := m.appendMessage(text, models.SenderBot)
	if msg.IsTyping {
		m.emit(Typing{MessageID: msg.ID, Delay: m.opts.TypingDelay})
	}
}

func (m *Machine) appendMessage(text string, sender models.Sender) models.ChatMessage {
	ts := m.now()
	if n := len(m.messages); n > 0 && ts.Before(m.messages[n-1].Timestamp) {
		ts = m.messages[n-1].Timestamp
	}
	msg := models.ChatMessage{
		ID:        m.opts.IDs(),
		Text:      text,
		Sender:    sender,
		Timestamp: ts,
		IsTyping:  sender == models.SenderBot && m.opts.TypingDelay > 0,
	}
	m.messages = append(m.messages, msg)
	return msg
}

func (m *Machine) emit(e Effect) { m.effects = append(m.effects, e) }

func (m *Machine) flush() []Effect {
	out := m.effects
	m.effects = nil
	return out
}

func (m *Machine) now() time.Time { return m.opts.Clock() }

func (m *Machine) view() view {
	return view{slots: m.slots, catalog: m.catalog, quote: m.quote, now: m.now()}
}
