package draft

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

var log = logging.Component("draft")

const (
	// Default TTL for drafts
	defaultTTL = 30 * 24 * time.Hour

	keyPrefix = "bulkmail:draft:"
	indexKey  = "bulkmail:drafts"
)

// Store persists drafts in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a draft store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, ttl: defaultTTL}
}

// WithTTL sets how long an untouched draft is kept.
func (s *Store) WithTTL(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: s.client, ttl: ttl}
}

// Save writes the draft, assigning an ID if it has none, and refreshes its TTL.
func (s *Store) Save(ctx context.Context, d Draft) (Draft, error) {
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	data, err := json.Marshal(d)
	if err != nil {
		return Draft{}, err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+d.ID, data, s.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(d.UpdatedAt.UnixMilli()), Member: d.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Get retrieves a draft by ID.
func (s *Store) Get(ctx context.Context, id string) (Draft, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, domain.ErrDraftNotFound
	}
	if err != nil {
		return Draft{}, err
	}
	return decode(data)
}

// List returns drafts, most recently updated first. Expired drafts are
// dropped from the index as they are found.
func (s *Store) List(ctx context.Context, limit int) ([]Draft, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	drafts := []Draft{}
	if len(ids) == 0 {
		return drafts, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		d, err := decode([]byte(str))
		if err != nil {
			log.Warn("skipping unreadable draft", "draft_id", ids[i], "error", err)
			continue
		}
		drafts = append(drafts, d)
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			log.Warn("failed to prune draft index", "error", err)
		}
	}
	return drafts, nil
}

// Delete removes a draft.
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keyPrefix+id)
	pipe.ZRem(ctx, indexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return domain.ErrDraftNotFound
	}
	return nil
}

func decode(data []byte) (Draft, error) {
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return Draft{}, err
	}
	return d, nil
}
