package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"quotebot/internal/redis"
)

const redisTokenPrefix = "auth:chat_token:"

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
)

// Service issues, validates, and revokes visitor chat tokens. Tokens live in
// the chat_tokens table; redis, when enabled, caches token to visitor lookups.
type Service struct {
	db             *sql.DB
	cache          *redis.Client
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service with the supplied token lifetime.
// cache may be nil.
func NewService(db *sql.DB, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:             db,
		cache:          cache,
		tokenTTL:       ttl,
		cookieName:     "quotebot_token",
		headerName:     "Authorization",
		csrfCookieName: "quotebot_csrf",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// IssueToken mints a new random token for the visitor and persists it.
func (s *Service) IssueToken(ctx context.Context, visitorID int64) (string, error) {
	if visitorID <= 0 {
		return "", errors.New("invalid visitor id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO chat_tokens (token, visitor_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, visitorID, now, expiresAt,
		)
		if err == nil {
			s.cacheToken(ctx, token, visitorID, s.tokenTTL)
			return token, nil
		}
	}
	return "", errors.New("could not issue token")
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken verifies the token exists and has not expired, returning the visitor id.
func (s *Service) ValidateToken(ctx context.Context, chatToken string) (int64, error) {
	if chatToken == "" {
		return 0, ErrTokenRequired
	}
	if visitorID, ok := s.cachedVisitor(ctx, chatToken); ok {
		return visitorID, nil
	}

	var visitorID int64
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT visitor_id, expires_at FROM chat_tokens WHERE token = ?`, chatToken,
	).Scan(&visitorID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("lookup token: %w", err)
	}
	remaining := time.Until(expires)
	if remaining <= 0 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM chat_tokens WHERE token = ?`, chatToken)
		return 0, ErrTokenExpired
	}
	s.cacheToken(ctx, chatToken, visitorID, remaining)
	return visitorID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, chatToken string) error {
	if chatToken == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_tokens WHERE token = ?`, chatToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.dropCached(ctx, chatToken)
	return nil
}

// RevokeVisitorTokens removes all tokens belonging to the visitor.
func (s *Service) RevokeVisitorTokens(ctx context.Context, visitorID int64) error {
	if visitorID <= 0 {
		return nil
	}
	var tokens []string
	if s.cache.Enabled() {
		rows, err := s.db.QueryContext(ctx, `SELECT token FROM chat_tokens WHERE visitor_id = ?`, visitorID)
		if err != nil {
			return fmt.Errorf("list visitor tokens: %w", err)
		}
		for rows.Next() {
			var token string
			if err := rows.Scan(&token); err != nil {
				rows.Close()
				return fmt.Errorf("scan visitor token: %w", err)
			}
			tokens = append(tokens, token)
		}
		rows.Close()
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_tokens WHERE visitor_id = ?`, visitorID); err != nil {
		return fmt.Errorf("revoke visitor tokens: %w", err)
	}
	for _, token := range tokens {
		s.dropCached(ctx, token)
	}
	return nil
}

// PurgeExpired deletes tokens past their expiry and reports how many went.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Service) cacheToken(ctx context.Context, token string, visitorID int64, ttl time.Duration) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Set(ctx, redisTokenPrefix+token, strconv.FormatInt(visitorID, 10), ttl); err != nil {
		slog.WarnContext(ctx, "cache chat token failed", "error", err)
	}
}

func (s *Service) cachedVisitor(ctx context.Context, token string) (int64, bool) {
	if !s.cache.Enabled() {
		return 0, false
	}
	raw, err := s.cache.Get(ctx, redisTokenPrefix+token)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			slog.WarnContext(ctx, "read chat token cache failed", "error", err)
		}
		return 0, false
	}
	visitorID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || visitorID <= 0 {
		return 0, false
	}
	return visitorID, true
}

func (s *Service) dropCached(ctx context.Context, token string) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Del(ctx, redisTokenPrefix+token); err != nil {
		slog.WarnContext(ctx, "drop chat token cache failed", "error", err)
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing chat tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
