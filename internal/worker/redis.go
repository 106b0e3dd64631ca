package worker

import (
	"context"
	"log/slog"

	json "github.com/goccy/go-json"

	"quotebot/internal/redis"
)

const redisVisitorChannel = "worker:visitor-events"

const (
	eventLogout  = "logout"
	eventSession = "session"
)

type visitorEvent struct {
	Type      string `json:"type"`
	VisitorID int64  `json:"visitor_id"`
	Origin    string `json:"origin"`
}

// visitorEvents fans session changes out to the other instances.
type visitorEvents struct {
	client *redis.Client
}

func newVisitorEvents(client *redis.Client) *visitorEvents {
	return &visitorEvents{client: client}
}

// startListener decodes events from the channel until ctx is done.
func (r *visitorEvents) startListener(ctx context.Context, handler func(visitorEvent)) {
	if r == nil || !r.client.Enabled() || handler == nil {
		return
	}
	pubsub, err := r.client.Subscribe(ctx, redisVisitorChannel)
	if err != nil {
		slog.Error("subscribe visitor events failed", "error", err)
		return
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev visitorEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("visitor event decode failed", "error", err)
					continue
				}
				handler(ev)
			}
		}
	}()
}

func (r *visitorEvents) publish(ctx context.Context, ev visitorEvent) {
	if r == nil || !r.client.Enabled() {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.WarnContext(ctx, "visitor event marshal failed", "error", err)
		return
	}
	if err := r.client.Publish(ctx, redisVisitorChannel, payload); err != nil {
		slog.WarnContext(ctx, "publish visitor event failed", "error", err)
	}
}
