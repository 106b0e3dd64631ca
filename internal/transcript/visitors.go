package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"quotebot/internal/models"
)

// Service persists visitors, their conversations and transcripts.
type Service struct {
	db     *sql.DB
	node   *snowflake.Node
	cipher *tokenCipher
}

// NewService builds the transcript store. tokenKey is the 32 byte (or base64)
// key sealing upstream access tokens at rest.
func NewService(db *sql.DB, node *snowflake.Node, tokenKey string) (*Service, error) {
	if db == nil {
		return nil, errors.New("db required")
	}
	if node == nil {
		return nil, errors.New("snowflake node required")
	}
	c, err := newTokenCipher(tokenKey)
	if err != nil {
		return nil, err
	}
	return &Service{db: db, node: node, cipher: c}, nil
}

// NewMessageID returns a fresh snowflake id for a transcript message.
func (s *Service) NewMessageID() string {
	return s.node.Generate().String()
}

// CreateVisitor inserts an anonymous visitor.
func (s *Service) CreateVisitor(ctx context.Context) (*models.Visitor, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO visitors (user_name, email, created_at, updated_at) VALUES ('', '', ?, ?)`,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create visitor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("visitor id: %w", err)
	}
	return &models.Visitor{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Service) GetVisitor(ctx context.Context, id int64) (*models.Visitor, error) {
	var v models.Visitor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_name, email, created_at, updated_at FROM visitors WHERE id = ?`, id,
	).Scan(&v.ID, &v.UserName, &v.Email, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get visitor: %w", err)
	}
	return &v, nil
}

// SetUpstreamSession stores the insurer access token (encrypted) and the
// profile fields shown in greetings.
func (s *Service) SetUpstreamSession(ctx context.Context, visitorID int64, token, userName, email string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}
	sealed, err := s.cipher.Encrypt(token)
	if err != nil {
		return fmt.Errorf("encrypt upstream token: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE visitors SET upstream_token = ?, user_name = ?, email = ?, updated_at = ? WHERE id = ?`,
		sealed, strings.TrimSpace(userName), strings.TrimSpace(email), time.Now().UTC(), visitorID,
	)
	if err != nil {
		return fmt.Errorf("store upstream token: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpstreamToken returns the visitor's decrypted access token, or "" when
// none is stored. Values that fail to decrypt are treated as absent.
func (s *Service) UpstreamToken(ctx context.Context, visitorID int64) (string, error) {
	var sealed sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT upstream_token FROM visitors WHERE id = ?`, visitorID,
	).Scan(&sealed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("lookup upstream token: %w", err)
	}
	if !sealed.Valid || sealed.String == "" {
		return "", nil
	}
	token, err := s.cipher.Decrypt(sealed.String)
	if err != nil {
		return "", nil
	}
	return token, nil
}

// ClearUpstreamToken forgets the access token on logout or expiry.
func (s *Service) ClearUpstreamToken(ctx context.Context, visitorID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE visitors SET upstream_token = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), visitorID,
	); err != nil {
		return fmt.Errorf("clear upstream token: %w", err)
	}
	return nil
}
