package resume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	json "github.com/goccy/go-json"

	"quotebot/internal/models"
	"quotebot/internal/redis"
)

const (
	redisKeyPrefix = "resume:visitor:"
	redisTTL       = 30 * 24 * time.Hour
)

// Store keeps one resume record per visitor.
type Store interface {
	Load(ctx context.Context, visitorID int64) (models.ResumeState, error)
	// Merge applies an RFC 7386 merge patch to the stored record.
	Merge(ctx context.Context, visitorID int64, patch []byte) (models.ResumeState, error)
	Clear(ctx context.Context, visitorID int64) error
}

// mergeState applies patch to the encoded record and stamps UpdatedAt.
func mergeState(current, patch []byte, now time.Time) ([]byte, models.ResumeState, error) {
	if len(current) == 0 {
		current = []byte("{}")
	}
	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return nil, models.ResumeState{}, fmt.Errorf("merge resume patch: %w", err)
	}
	var state models.ResumeState
	if err := json.Unmarshal(merged, &state); err != nil {
		return nil, models.ResumeState{}, fmt.Errorf("decode resume state: %w", err)
	}
	state.UpdatedAt = now.UTC()
	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, models.ResumeState{}, fmt.Errorf("encode resume state: %w", err)
	}
	return encoded, state, nil
}

func decodeState(raw []byte) (models.ResumeState, error) {
	var state models.ResumeState
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.ResumeState{}, fmt.Errorf("decode resume state: %w", err)
	}
	return state, nil
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[int64][]byte
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64][]byte), now: time.Now}
}

func (s *MemoryStore) Load(_ context.Context, visitorID int64) (models.ResumeState, error) {
	s.mu.Lock()
	raw := s.records[visitorID]
	s.mu.Unlock()
	return decodeState(raw)
}

func (s *MemoryStore) Merge(_ context.Context, visitorID int64, patch []byte) (models.ResumeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	encoded, state, err := mergeState(s.records[visitorID], patch, s.now())
	if err != nil {
		return models.ResumeState{}, err
	}
	s.records[visitorID] = encoded
	return state, nil
}

func (s *MemoryStore) Clear(_ context.Context, visitorID int64) error {
	s.mu.Lock()
	delete(s.records, visitorID)
	s.mu.Unlock()
	return nil
}

// RedisStore keeps records in redis with a sliding 30 day TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: redisTTL, now: time.Now}
}

func redisKey(visitorID int64) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, visitorID)
}

func (s *RedisStore) load(ctx context.Context, visitorID int64) ([]byte, error) {
	raw, err := s.client.Get(ctx, redisKey(visitorID))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load resume state: %w", err)
	}
	return []byte(raw), nil
}

func (s *RedisStore) Load(ctx context.Context, visitorID int64) (models.ResumeState, error) {
	raw, err := s.load(ctx, visitorID)
	if err != nil {
		return models.ResumeState{}, err
	}
	return decodeState(raw)
}

func (s *RedisStore) Merge(ctx context.Context, visitorID int64, patch []byte) (models.ResumeState, error) {
	raw, err := s.load(ctx, visitorID)
	if err != nil {
		return models.ResumeState{}, err
	}
	encoded, state, err := mergeState(raw, patch, s.now())
	if err != nil {
		return models.ResumeState{}, err
	}
	if err := s.client.Set(ctx, redisKey(visitorID), encoded, s.ttl); err != nil {
		return models.ResumeState{}, fmt.Errorf("store resume state: %w", err)
	}
	return state, nil
}

func (s *RedisStore) Clear(ctx context.Context, visitorID int64) error {
	if err := s.client.Del(ctx, redisKey(visitorID)); err != nil {
		return fmt.Errorf("clear resume state: %w", err)
	}
	return nil
}
