package transcript

import (
	"context"
	"log/slog"

	"quotebot/internal/models"
)

// RemoteConversations is the insurer's conversation persistence API.
type RemoteConversations interface {
	StartConversation(ctx context.Context, token string, prefill map[string]any) (string, error)
	PostConversationMessage(ctx context.Context, token, conversationID string, msg models.ChatMessage) error
}

// Mirror copies transcripts to the insurer on a best-effort basis. A nil
// *Mirror or one built with enabled=false does nothing.
type Mirror struct {
	remote  RemoteConversations
	enabled bool
}

func NewMirror(remote RemoteConversations, enabled bool) *Mirror {
	return &Mirror{remote: remote, enabled: enabled && remote != nil}
}

func (m *Mirror) Enabled() bool {
	return m != nil && m.enabled
}

// Start opens the remote conversation and returns its id, or "" on failure.
func (m *Mirror) Start(ctx context.Context, token string, prefill map[string]any) string {
	if !m.Enabled() || token == "" {
		return ""
	}
	id, err := m.remote.StartConversation(ctx, token, prefill)
	if err != nil {
		slog.WarnContext(ctx, "start remote conversation failed", "error", err)
		return ""
	}
	return id
}

// Post forwards one message to the remote conversation.
func (m *Mirror) Post(ctx context.Context, token, remoteID string, msg models.ChatMessage) {
	if !m.Enabled() || token == "" || remoteID == "" {
		return
	}
	if err := m.remote.PostConversationMessage(ctx, token, remoteID, msg); err != nil {
		slog.WarnContext(ctx, "mirror message failed", "remote_id", remoteID, "error", err)
	}
}
