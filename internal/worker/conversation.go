package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quotebot/internal/dialogue"
	"quotebot/internal/logger"
	"quotebot/internal/models"
	"quotebot/internal/speech"
)

// conversation owns one dialogue.Machine. Every access to the machine runs
// as a task on the conversation's goroutine.
type conversation struct {
	id        string
	visitorID int64
	manager   *Manager
	machine   *dialogue.Machine
	ctx       context.Context

	tasks chan func()
	done  chan struct{}
	once  sync.Once
	subs  *subscribers

	// owned by the actor goroutine
	sessionSeq uint64
	persisted  int
	lastState  State
	remoteID   string
	timers     map[string]*time.Timer
	listening  bool
	voiceOn    bool

	voice speech.Adapter

	tokenMu sync.RWMutex
	token   string
}

func newConversation(m *Manager, id string, visitorID int64, session dialogue.SessionContext) *conversation {
	c := &conversation{
		id:        id,
		visitorID: visitorID,
		manager:   m,
		tasks:     make(chan func(), m.cfg.QueueSize),
		done:      make(chan struct{}),
		subs:      newSubscribers(),
		timers:    make(map[string]*time.Timer),
		token:     session.AccessToken,
	}
	c.ctx = logger.WithLogFields(context.Background(), logger.LogFields{
		ConversationID: id,
		VisitorID:      visitorID,
		Component:      "conversation",
	})
	c.machine = dialogue.New(dialogue.Options{
		Features:    m.cfg.Features,
		TypingDelay: m.cfg.TypingDelay,
		Clock:       m.cfg.Clock,
		IDs:         m.deps.Store.NewMessageID,
	}, session)
	c.voice = speech.Unsupported{}
	if m.deps.Speech != nil {
		c.voice = speech.NewRemote(speech.SynthesizerFunc(func(ctx context.Context, text string) ([]byte, error) {
			return m.deps.Speech.Speak(ctx, c.accessToken(), text)
		}))
	}
	return c
}

func (c *conversation) run(idle time.Duration) {
	timer := time.NewTimer(idle)
	defer timer.Stop()
	defer c.shutdown()
	for {
		select {
		case task := <-c.tasks:
			task()
			c.sync()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			debugLog("[conversation] %s idle, stopping", c.id)
			c.manager.forget(c)
			return
		case <-c.done:
			return
		}
	}
}

// post queues task on the actor. It reports false when the conversation is gone.
func (c *conversation) post(task func()) bool {
	select {
	case c.tasks <- task:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the actor and waits for it.
func (c *conversation) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case c.tasks <- wrapped:
	case <-c.done:
		return ErrConversationClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrConversationClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conversation) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *conversation) shutdown() {
	c.stop()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.subs.closeAll(c.id)
}

func (c *conversation) accessToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *conversation) setAccessToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// sync persists and broadcasts whatever the last task changed.
func (c *conversation) sync() {
	c.setAccessToken(c.machine.Session().AccessToken)

	for _, msg := range c.machine.MessagesSince(c.persisted) {
		msg := msg
		msg.ConversationID = c.id
		if err := c.manager.deps.Store.AppendMessage(c.ctx, msg); err != nil {
			slog.ErrorContext(c.ctx, "persist message failed", "message_id", msg.ID, "error", err)
		}
		c.mirror(msg)
		c.subs.publish(Event{Type: EventMessage, ConversationID: c.id, Message: &msg})
	}
	c.persisted = len(c.machine.Messages())

	state := c.state()
	if !sameState(state, c.lastState) {
		if state.Phase != c.lastState.Phase || state.Completed != c.lastState.Completed || (state.Quote == nil) != (c.lastState.Quote == nil) {
			if err := c.manager.deps.Store.UpdateState(c.ctx, c.id, string(state.Phase), conversationStatus(state)); err != nil {
				slog.ErrorContext(c.ctx, "persist conversation state failed", "error", err)
			}
		}
		c.lastState = state
		st := state
		c.subs.publish(Event{Type: EventState, ConversationID: c.id, State: &st})
	}
}

func (c *conversation) state() State {
	session := c.machine.Session()
	return State{
		Phase:         c.machine.Phase(),
		AuthStage:     c.machine.AuthStage(),
		Question:      c.machine.Current(),
		Busy:          c.machine.Busy(),
		Authenticated: session.Authenticated,
		UserName:      session.UserName,
		Quote:         c.machine.Quote(),
		Policy:        c.machine.Policy(),
		Completed:     c.machine.Completed(),
		Voice:         c.voiceOn,
	}
}

func sameState(a, b State) bool {
	return a.Phase == b.Phase &&
		a.AuthStage == b.AuthStage &&
		a.Question == b.Question &&
		a.Busy == b.Busy &&
		a.Authenticated == b.Authenticated &&
		a.UserName == b.UserName &&
		a.Quote == b.Quote &&
		a.Policy == b.Policy &&
		a.Completed == b.Completed &&
		a.Voice == b.Voice
}

func conversationStatus(s State) string {
	switch {
	case s.Completed:
		return models.ConversationCompleted
	case s.Quote != nil:
		return models.ConversationQuoted
	default:
		return models.ConversationInProgress
	}
}

func (c *conversation) mirror(msg models.ChatMessage) {
	mirror := c.manager.deps.Mirror
	token := c.accessToken()
	if !mirror.Enabled() || c.remoteID == "" || token == "" {
		return
	}
	remoteID := c.remoteID
	c.manager.enqueue(c, "mirror-message", func(ctx context.Context) {
		mirror.Post(ctx, token, remoteID, msg)
	})
}

// startMirror opens the remote conversation once the visitor is signed in.
func (c *conversation) startMirror() {
	mirror := c.manager.deps.Mirror
	token := c.accessToken()
	if !mirror.Enabled() || c.remoteID != "" || token == "" {
		return
	}
	c.manager.enqueue(c, "mirror-start", func(ctx context.Context) {
		remoteID := mirror.Start(ctx, token, map[string]any{"conversation_id": c.id})
		if remoteID == "" {
			return
		}
		c.post(func() {
			c.remoteID = remoteID
			if err := c.manager.deps.Store.SetRemoteID(c.ctx, c.id, remoteID); err != nil {
				slog.WarnContext(c.ctx, "store remote conversation id failed", "error", err)
			}
		})
	})
}

// resetTranscript forgets persisted positions after the machine dropped its messages.
func (c *conversation) resetTranscript() {
	c.persisted = 0
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.subs.publish(Event{Type: EventReset, ConversationID: c.id})
}
