package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"quotebot/internal/dialogue"
	"quotebot/internal/models"
	"quotebot/internal/redis"
	"quotebot/internal/transcript"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationClosed   = errors.New("conversation closed")
	ErrVoiceDisabled        = errors.New("voice disabled")
)

// Insurer is the part of the insurer API the dialogue effects call.
type Insurer interface {
	Register(ctx context.Context, name, email, password string) (*models.AuthSession, error)
	MotorReference(ctx context.Context, token string) (*models.MotorReference, error)
	Predict(ctx context.Context, token string, payload models.QuoteRequest) (*models.QuoteResult, error)
	BindPolicy(ctx context.Context, token string, quoteID int64, coverage map[string]any) (*models.Policy, error)
	IssuePolicy(ctx context.Context, token string, policyID int64) (*models.Policy, error)
}

// Speaker synthesizes bot replies.
type Speaker interface {
	Speak(ctx context.Context, token, text string) ([]byte, error)
}

// Store persists transcripts and the visitor's upstream session.
type Store interface {
	NewMessageID() string
	AppendMessage(ctx context.Context, msg models.ChatMessage) error
	UpdateState(ctx context.Context, id, phase, status string) error
	SetRemoteID(ctx context.Context, id, remoteID string) error
	GetVisitor(ctx context.Context, id int64) (*models.Visitor, error)
	SetUpstreamSession(ctx context.Context, visitorID int64, token, userName, email string) error
	UpstreamToken(ctx context.Context, visitorID int64) (string, error)
	ClearUpstreamToken(ctx context.Context, visitorID int64) error
}

// ResumeHooks receives dialogue checkpoints.
type ResumeHooks interface {
	NoteQuote(ctx context.Context, visitorID, quoteID int64)
	NotePolicy(ctx context.Context, visitorID int64, policy models.Policy)
	Complete(ctx context.Context, visitorID int64)
}

type Deps struct {
	Insurer Insurer
	Speech  Speaker
	Store   Store
	Resume  ResumeHooks
	Mirror  *transcript.Mirror
	Redis   *redis.Client
}

type Config struct {
	Features    dialogue.Features
	TypingDelay time.Duration
	Clock       func() time.Time
	IdleTimeout time.Duration
	// QueueSize bounds the pending tasks of one conversation.
	QueueSize  int
	Dispatcher DispatcherConfig
}

// OpenRequest starts an actor for a stored conversation.
type OpenRequest struct {
	VisitorID      int64
	ConversationID string
	Session        dialogue.SessionContext
	Resume         models.ResumeState
}

// SubmitResult reports what one input did synchronously.
type SubmitResult struct {
	Outcome  dialogue.Outcome     `json:"outcome"`
	Messages []models.ChatMessage `json:"messages"`
	State    State                `json:"state"`
}

// Manager owns the live conversation actors of this instance.
type Manager struct {
	deps       Deps
	cfg        Config
	dispatcher *Dispatcher
	events     *visitorEvents
	instanceID string

	mu       sync.Mutex
	convs    map[string]*conversation
	visitors map[int64]map[string]*conversation

	// sessionSeq orders session changes; actors drop older ones.
	sessionSeq atomic.Uint64

	stopListener context.CancelFunc
}

func NewManager(deps Deps, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	m := &Manager{
		deps:       deps,
		cfg:        cfg,
		dispatcher: NewDispatcher(cfg.Dispatcher),
		events:     newVisitorEvents(deps.Redis),
		instanceID: uuid.NewString(),
		convs:      make(map[string]*conversation),
		visitors:   make(map[int64]map[string]*conversation),
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.stopListener = cancel
	m.events.startListener(ctx, m.handleVisitorEvent)
	return m
}

// Open starts the conversation actor and returns the first snapshot.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (dialogue.Snapshot, error) {
	if req.ConversationID == "" || req.VisitorID <= 0 {
		return dialogue.Snapshot{}, errors.New("conversation and visitor required")
	}
	c := newConversation(m, req.ConversationID, req.VisitorID, req.Session)
	m.mu.Lock()
	if _, exists := m.convs[c.id]; exists {
		m.mu.Unlock()
		return dialogue.Snapshot{}, errors.New("conversation already open")
	}
	m.convs[c.id] = c
	if m.visitors[c.visitorID] == nil {
		m.visitors[c.visitorID] = make(map[string]*conversation)
	}
	m.visitors[c.visitorID][c.id] = c
	m.mu.Unlock()
	go c.run(m.cfg.IdleTimeout)

	var snap dialogue.Snapshot
	err := c.call(ctx, func() {
		c.handle(c.machine.Open())
		if !req.Resume.Empty() {
			c.handle(c.machine.Resume(req.Resume))
		}
		c.startMirror()
		snap = c.machine.Snapshot()
	})
	return snap, err
}

// Submit feeds one line of user input to the conversation.
func (m *Manager) Submit(ctx context.Context, visitorID int64, convID, text string) (SubmitResult, error) {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return SubmitResult{}, err
	}
	var res SubmitResult
	err = c.call(ctx, func() {
		res = c.submit(text)
	})
	return res, err
}

func (c *conversation) submit(text string) SubmitResult {
	before := len(c.machine.Messages())
	outcome, effs := c.machine.Submit(text)
	c.handle(effs)
	msgs := c.machine.MessagesSince(before)
	for i := range msgs {
		msgs[i].ConversationID = c.id
	}
	return SubmitResult{Outcome: outcome, Messages: msgs, State: c.state()}
}

func (m *Manager) Snapshot(ctx context.Context, visitorID int64, convID string) (dialogue.Snapshot, State, error) {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return dialogue.Snapshot{}, State{}, err
	}
	var (
		snap  dialogue.Snapshot
		state State
	)
	err = c.call(ctx, func() {
		snap = c.machine.Snapshot()
		state = c.state()
	})
	return snap, state, err
}

// Subscribe streams events of the conversation until cancel is called or the
// actor stops.
func (m *Manager) Subscribe(visitorID int64, convID string) (<-chan Event, func(), error) {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return nil, nil, err
	}
	id, ch := c.subs.add()
	return ch, func() { c.subs.remove(id) }, nil
}

func (m *Manager) Reset(ctx context.Context, visitorID int64, convID string) error {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return err
	}
	return c.call(ctx, func() {
		effs := c.machine.Reset()
		c.resetTranscript()
		c.handle(effs)
	})
}

// Bind asks the insurer to bind the quoted policy.
func (m *Manager) Bind(ctx context.Context, visitorID int64, convID string) error {
	return m.action(ctx, visitorID, convID, func(c *conversation) ([]dialogue.Effect, error) {
		return c.machine.RequestBind()
	})
}

func (m *Manager) Issue(ctx context.Context, visitorID int64, convID string) error {
	return m.action(ctx, visitorID, convID, func(c *conversation) ([]dialogue.Effect, error) {
		return c.machine.RequestIssue()
	})
}

func (m *Manager) action(ctx context.Context, visitorID int64, convID string, fn func(c *conversation) ([]dialogue.Effect, error)) error {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return err
	}
	var actionErr error
	if err := c.call(ctx, func() {
		var effs []dialogue.Effect
		effs, actionErr = fn(c)
		c.handle(effs)
	}); err != nil {
		return err
	}
	return actionErr
}

// Close stops the actor and drops its queued effects; the stored transcript
// stays.
func (m *Manager) Close(visitorID int64, convID string) {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return
	}
	m.forget(c)
	c.stop()
	if n := m.dispatcher.CancelVisitor(visitorID, func(j Job) bool {
		return j.ConversationID == convID && !j.Durable
	}); n > 0 {
		debugLog("[manager] dropped %d queued jobs of closed conversation %s", n, convID)
	}
}

// Live reports whether the conversation has a running actor.
func (m *Manager) Live(visitorID int64, convID string) bool {
	_, err := m.lookup(visitorID, convID)
	return err == nil
}

// SessionChanged pushes a new upstream session to the visitor's conversations
// here and on other instances.
func (m *Manager) SessionChanged(ctx context.Context, visitorID int64, session dialogue.SessionContext) {
	m.applySession(visitorID, session, nil)
	kind := eventSession
	if !session.Authenticated {
		kind = eventLogout
	}
	m.events.publish(ctx, visitorEvent{Type: kind, VisitorID: visitorID, Origin: m.instanceID})
}

// Logout drops the upstream token and sends every conversation of the
// visitor back to the auth gate.
func (m *Manager) Logout(ctx context.Context, visitorID int64) error {
	if err := m.deps.Store.ClearUpstreamToken(ctx, visitorID); err != nil {
		return err
	}
	m.SessionChanged(ctx, visitorID, dialogue.SessionContext{})
	return nil
}

// Shutdown stops all actors and the effect pool.
func (m *Manager) Shutdown() {
	m.stopListener()
	m.mu.Lock()
	convs := make([]*conversation, 0, len(m.convs))
	for _, c := range m.convs {
		convs = append(convs, c)
	}
	m.convs = make(map[string]*conversation)
	m.visitors = make(map[int64]map[string]*conversation)
	m.mu.Unlock()
	for _, c := range convs {
		c.stop()
	}
	m.dispatcher.Stop()
}

func (m *Manager) lookup(visitorID int64, convID string) (*conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[convID]
	if !ok || c.visitorID != visitorID {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

func (m *Manager) forget(c *conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.convs[c.id]; ok && cur == c {
		delete(m.convs, c.id)
	}
	if byID := m.visitors[c.visitorID]; byID != nil {
		if cur, ok := byID[c.id]; ok && cur == c {
			delete(byID, c.id)
		}
		if len(byID) == 0 {
			delete(m.visitors, c.visitorID)
		}
	}
}

func (m *Manager) visitorConversations(visitorID int64) []*conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*conversation, 0, len(m.visitors[visitorID]))
	for _, c := range m.visitors[visitorID] {
		out = append(out, c)
	}
	return out
}

// applySession posts the session to every local conversation except skip.
// It never blocks the caller, which may itself be an actor. Each change takes
// a sequence number so a late delivery cannot undo a newer session.
func (m *Manager) applySession(visitorID int64, session dialogue.SessionContext, skip *conversation) {
	m.applySessionSeq(visitorID, session, skip, m.sessionSeq.Add(1))
}

func (m *Manager) applySessionSeq(visitorID int64, session dialogue.SessionContext, skip *conversation, seq uint64) {
	for _, c := range m.visitorConversations(visitorID) {
		if c == skip {
			continue
		}
		c := c
		go c.post(func() {
			if seq <= c.sessionSeq {
				debugLog("[conversation] %s dropped session change %d behind %d", c.id, seq, c.sessionSeq)
				return
			}
			c.sessionSeq = seq
			c.handle(c.machine.UpdateSession(session))
			c.startMirror()
		})
	}
}

// durableEffects outlive their conversation: resume notes and session expiry
// concern the visitor.
var durableEffects = map[string]bool{"checkpoint": true, "expire-session": true}

// enqueue hands fn to the dispatcher; fn runs with the conversation context.
func (m *Manager) enqueue(c *conversation, name string, fn func(ctx context.Context)) error {
	err := m.dispatcher.Submit(Job{
		Type:           Effect,
		VisitorID:      c.visitorID,
		ConversationID: c.id,
		Name:           name,
		Durable:        durableEffects[name],
		Run:            func(context.Context) { fn(c.ctx) },
	})
	if err != nil {
		slog.ErrorContext(c.ctx, "queue effect failed", "effect", name, "error", err)
	}
	return err
}

// sessionChanged is called on c's actor after c signed the visitor in.
func (m *Manager) sessionChanged(c *conversation, session dialogue.SessionContext) {
	seq := m.sessionSeq.Add(1)
	c.sessionSeq = seq
	m.applySessionSeq(c.visitorID, session, c, seq)
	m.events.publish(c.ctx, visitorEvent{Type: eventSession, VisitorID: c.visitorID, Origin: m.instanceID})
}

// sessionExpired is called on c's actor after the insurer rejected its token.
func (m *Manager) sessionExpired(c *conversation) {
	visitorID := c.visitorID
	seq := m.sessionSeq.Add(1)
	c.sessionSeq = seq
	expire := func(ctx context.Context) {
		if err := m.deps.Store.ClearUpstreamToken(ctx, visitorID); err != nil {
			slog.ErrorContext(ctx, "clear upstream token failed", "error", err)
		}
		m.applySessionSeq(visitorID, dialogue.SessionContext{}, c, seq)
		m.events.publish(ctx, visitorEvent{Type: eventLogout, VisitorID: visitorID, Origin: m.instanceID})
	}
	if err := m.enqueue(c, "expire-session", expire); err != nil {
		go expire(c.ctx)
	}
}

func (m *Manager) handleVisitorEvent(ev visitorEvent) {
	if ev.Origin == m.instanceID || len(m.visitorConversations(ev.VisitorID)) == 0 {
		return
	}
	debugLog("[manager] visitor event %s for %d from %s", ev.Type, ev.VisitorID, ev.Origin)
	switch ev.Type {
	case eventLogout:
		m.applySession(ev.VisitorID, dialogue.SessionContext{}, nil)
	case eventSession:
		session, err := m.loadSession(context.Background(), ev.VisitorID)
		if err != nil {
			slog.Warn("reload visitor session failed", "visitor_id", ev.VisitorID, "error", err)
			return
		}
		m.applySession(ev.VisitorID, session, nil)
	}
}

// loadSession rebuilds the visitor's session from the store.
func (m *Manager) loadSession(ctx context.Context, visitorID int64) (dialogue.SessionContext, error) {
	token, err := m.deps.Store.UpstreamToken(ctx, visitorID)
	if err != nil {
		return dialogue.SessionContext{}, err
	}
	if token == "" {
		return dialogue.SessionContext{}, nil
	}
	v, err := m.deps.Store.GetVisitor(ctx, visitorID)
	if err != nil {
		return dialogue.SessionContext{}, err
	}
	return dialogue.SessionContext{Authenticated: true, AccessToken: token, UserName: v.UserName, Email: v.Email}, nil
}
