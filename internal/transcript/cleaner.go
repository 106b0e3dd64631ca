package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quotebot/internal/logger"
)

const (
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

// TokenPurger drops expired visitor tokens alongside old transcripts.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// StartCleaner prunes conversations idle for longer than retention and, when
// purger is set, expired chat tokens. It runs until ctx is done.
func (s *Service) StartCleaner(ctx context.Context, interval, retention time.Duration, purger TokenPurger) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "transcript-cleaner"})
	go s.cleanupLoop(ctx, interval, retention, purger)
}

func (s *Service) cleanupLoop(ctx context.Context, interval, retention time.Duration, purger TokenPurger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupOnce(ctx, retention, purger)
		}
	}
}

func (s *Service) cleanupOnce(ctx context.Context, retention time.Duration, purger TokenPurger) {
	removed, err := s.PruneConversations(ctx, time.Now().Add(-retention))
	if err != nil {
		slog.ErrorContext(ctx, "prune conversations failed", "error", err)
	} else if removed > 0 {
		slog.InfoContext(ctx, "pruned conversations", "count", removed)
	}
	if purger == nil {
		return
	}
	if n, err := purger.PurgeExpired(ctx); err != nil {
		slog.ErrorContext(ctx, "purge expired tokens failed", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "purged expired tokens", "count", n)
	}
}

// PruneConversations deletes conversations last touched before cutoff.
func (s *Service) PruneConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE updated_at < ?)`,
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
