package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quotebot/internal/dialogue"
	"quotebot/internal/insurer"
	"quotebot/internal/models"
)

// handle carries out effects emitted by the machine. It runs on the actor;
// remote calls go to the dispatcher and come back through post.
func (c *conversation) handle(effects []dialogue.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case dialogue.Typing:
			c.scheduleTyping(e)
		case dialogue.LoadCatalog:
			c.loadCatalog(e)
		case dialogue.Register:
			c.register(e)
		case dialogue.LoginHandoff:
			c.subs.publish(Event{Type: EventHandoff, ConversationID: c.id})
		case dialogue.RequestQuote:
			c.requestQuote(e)
		case dialogue.Bind:
			c.bind(e)
		case dialogue.Issue:
			c.issue(e)
		case dialogue.SessionExpired:
			c.manager.sessionExpired(c)
		case dialogue.Checkpoint:
			c.checkpoint(e)
		default:
			slog.WarnContext(c.ctx, "unhandled dialogue effect", "effect", eff)
		}
	}
}

// apply feeds an async result back, ignoring results the machine no longer wants.
func (c *conversation) apply(name string, effects []dialogue.Effect, err error) {
	if err != nil {
		if errors.Is(err, dialogue.ErrStale) {
			debugLog("[conversation] %s dropped stale %s result", c.id, name)
			return
		}
		slog.WarnContext(c.ctx, "apply result failed", "result", name, "error", err)
		return
	}
	c.handle(effects)
}

func (c *conversation) scheduleTyping(e dialogue.Typing) {
	id := e.MessageID
	c.timers[id] = time.AfterFunc(e.Delay, func() {
		c.post(func() {
			delete(c.timers, id)
			if !c.machine.FinishTyping(id) {
				return
			}
			if msg, ok := c.machine.Message(id); ok {
				msg.ConversationID = c.id
				c.subs.publish(Event{Type: EventUpdate, ConversationID: c.id, Message: &msg})
			}
		})
	})
}

func (c *conversation) loadCatalog(e dialogue.LoadCatalog) {
	ins := c.manager.deps.Insurer
	token := c.accessToken()
	err := c.manager.enqueue(c, "catalog", func(ctx context.Context) {
		ref, err := ins.MotorReference(ctx, token)
		if err != nil {
			slog.WarnContext(c.ctx, "load motor reference failed, using defaults", "error", err)
		}
		c.post(func() {
			effs, aerr := c.machine.ApplyCatalog(e.Generation, ref, err)
			c.apply("catalog", effs, aerr)
		})
	})
	if err != nil {
		effs, aerr := c.machine.ApplyCatalog(e.Generation, nil, unavailable(err))
		c.apply("catalog", effs, aerr)
	}
}

func (c *conversation) register(e dialogue.Register) {
	ins := c.manager.deps.Insurer
	store := c.manager.deps.Store
	err := c.manager.enqueue(c, "register", func(ctx context.Context) {
		auth, err := ins.Register(ctx, e.Name, e.Email, e.Password)
		var session dialogue.SessionContext
		if err == nil {
			session = dialogue.SessionContext{
				Authenticated: true,
				AccessToken:   auth.AccessToken,
				UserName:      firstNonEmpty(auth.User.Name, e.Name),
				Email:         firstNonEmpty(auth.User.Email, e.Email),
			}
			if serr := store.SetUpstreamSession(ctx, c.visitorID, session.AccessToken, session.UserName, session.Email); serr != nil {
				slog.ErrorContext(c.ctx, "store upstream session failed", "error", serr)
			}
		}
		c.post(func() {
			effs, aerr := c.machine.ApplyRegistration(e.Generation, session, err)
			c.apply("register", effs, aerr)
			if aerr == nil && err == nil {
				c.startMirror()
				c.manager.sessionChanged(c, session)
			}
		})
	})
	if err != nil {
		effs, aerr := c.machine.ApplyRegistration(e.Generation, dialogue.SessionContext{}, unavailable(err))
		c.apply("register", effs, aerr)
	}
}

func (c *conversation) requestQuote(e dialogue.RequestQuote) {
	ins := c.manager.deps.Insurer
	token := c.accessToken()
	err := c.manager.enqueue(c, "quote", func(ctx context.Context) {
		res, err := ins.Predict(ctx, token, e.Payload)
		if err != nil {
			slog.WarnContext(c.ctx, "quote request failed", "error", err)
		}
		c.post(func() {
			effs, aerr := c.machine.ApplyQuote(e.Generation, res, err)
			c.apply("quote", effs, aerr)
		})
	})
	if err != nil {
		effs, aerr := c.machine.ApplyQuote(e.Generation, nil, unavailable(err))
		c.apply("quote", effs, aerr)
	}
}

func (c *conversation) bind(e dialogue.Bind) {
	ins := c.manager.deps.Insurer
	token := c.accessToken()
	err := c.manager.enqueue(c, "bind", func(ctx context.Context) {
		policy, err := ins.BindPolicy(ctx, token, e.QuoteID, e.Coverage)
		c.post(func() {
			effs, aerr := c.machine.ApplyBind(e.Generation, policy, err)
			c.apply("bind", effs, aerr)
		})
	})
	if err != nil {
		effs, aerr := c.machine.ApplyBind(e.Generation, nil, unavailable(err))
		c.apply("bind", effs, aerr)
	}
}

func (c *conversation) issue(e dialogue.Issue) {
	ins := c.manager.deps.Insurer
	token := c.accessToken()
	err := c.manager.enqueue(c, "issue", func(ctx context.Context) {
		policy, err := ins.IssuePolicy(ctx, token, e.PolicyID)
		c.post(func() {
			effs, aerr := c.machine.ApplyIssue(e.Generation, policy, err)
			c.apply("issue", effs, aerr)
		})
	})
	if err != nil {
		effs, aerr := c.machine.ApplyIssue(e.Generation, nil, unavailable(err))
		c.apply("issue", effs, aerr)
	}
}

// checkpoint forwards progress to the resume shim.
func (c *conversation) checkpoint(e dialogue.Checkpoint) {
	hooks := c.manager.deps.Resume
	if hooks == nil {
		return
	}
	visitorID := c.visitorID
	c.manager.enqueue(c, "checkpoint", func(ctx context.Context) {
		switch {
		case e.Completed:
			hooks.Complete(ctx, visitorID)
		case e.PolicyID != 0:
			hooks.NotePolicy(ctx, visitorID, models.Policy{
				ID:        e.PolicyID,
				Status:    e.PolicyStatus,
				QuoteID:   e.QuoteID,
				KYCStatus: e.KYCStatus,
			})
		case e.QuoteID != 0:
			hooks.NoteQuote(ctx, visitorID, e.QuoteID)
		}
	})
}

// unavailable reports a job the dispatcher refused as a connectivity failure.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", insurer.ErrUnavailable, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
