package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"quotebot/internal/models"
)

// CreateConversation opens a new stored dialogue for the visitor.
func (s *Service) CreateConversation(ctx context.Context, visitorID int64, phase string) (*models.Conversation, error) {
	if visitorID <= 0 {
		return nil, errors.New("visitor_id is required")
	}
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		VisitorID: visitorID,
		Phase:     phase,
		Status:    models.ConversationInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, visitor_id, remote_id, phase, status, created_at, updated_at) VALUES (?, ?, '', ?, ?, ?, ?)`,
		conv.ID, visitorID, conv.Phase, conv.Status, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the visitor's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, visitorID int64) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, visitor_id, remote_id, phase, status, created_at, updated_at FROM conversations WHERE visitor_id = ? ORDER BY updated_at DESC`,
		visitorID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.VisitorID, &c.RemoteID, &c.Phase, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns one of the visitor's conversations. It returns
// sql.ErrNoRows when the id is unknown or owned by someone else.
func (s *Service) GetConversation(ctx context.Context, visitorID int64, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, visitor_id, remote_id, phase, status, created_at, updated_at FROM conversations WHERE id = ? AND visitor_id = ?`,
		id, visitorID,
	).Scan(&c.ID, &c.VisitorID, &c.RemoteID, &c.Phase, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// GetConversationWithMessages returns the header and its ordered transcript.
func (s *Service) GetConversationWithMessages(ctx context.Context, visitorID int64, id string) (*models.Conversation, []models.ChatMessage, error) {
	conv, err := s.GetConversation(ctx, visitorID, id)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		id,
	)
	if err != nil {
		return conv, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var (
			msgID  int64
			sender string
			m      models.ChatMessage
		)
		if err := rows.Scan(&msgID, &sender, &m.Text, &m.Timestamp); err != nil {
			return conv, nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID = snowflake.ID(msgID).String()
		m.ConversationID = id
		m.Sender = models.Sender(sender)
		messages = append(messages, m)
	}
	return conv, messages, rows.Err()
}

// AppendMessage stores a transcript line and touches the conversation.
// Message ids that are not snowflakes get a fresh one.
func (s *Service) AppendMessage(ctx context.Context, msg models.ChatMessage) error {
	if msg.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	id, err := snowflake.ParseString(msg.ID)
	if err != nil {
		id = s.node.Generate()
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		id.Int64(), msg.ConversationID, string(msg.Sender), msg.Text, ts,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, ts, msg.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// UpdateState records the dialogue's phase and status.
func (s *Service) UpdateState(ctx context.Context, id, phase, status string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET phase = ?, status = ?, updated_at = ? WHERE id = ?`,
		phase, status, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("update conversation state: %w", err)
	}
	return nil
}

func (s *Service) SetRemoteID(ctx context.Context, id, remoteID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET remote_id = ? WHERE id = ?`, remoteID, id); err != nil {
		return fmt.Errorf("set remote conversation id: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages for the visitor.
func (s *Service) DeleteConversation(ctx context.Context, visitorID int64, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND visitor_id = ?`, id, visitorID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}
