// Package progress keeps the latest progress snapshot of each campaign in
// Redis so any API instance can report on a run.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

const (
	defaultTTL = 24 * time.Hour
	keyPrefix  = "bulkmail:progress:"
	// Channel prefix for live updates
	channelPrefix = "bulkmail:progress:live:"
)

// Store reads and writes progress snapshots.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a progress store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, ttl: defaultTTL}
}

// WithTTL sets how long a snapshot outlives its last update.
func (s *Store) WithTTL(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: s.client, ttl: ttl}
}

func key(id uuid.UUID) string     { return keyPrefix + id.String() }
func channel(id uuid.UUID) string { return channelPrefix + id.String() }

// Save stores the snapshot and publishes it to live subscribers.
func (s *Store) Save(ctx context.Context, id uuid.UUID, p domain.ProgressSnapshot) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key(id), data, s.ttl)
	pipe.Publish(ctx, channel(id), data)
	_, err = pipe.Exec(ctx)
	return err
}

// Latest returns the most recent snapshot for a campaign.
// Returns domain.ErrRunNotFound if none is stored.
func (s *Store) Latest(ctx context.Context, id uuid.UUID) (domain.ProgressSnapshot, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ProgressSnapshot{}, domain.ErrRunNotFound
	}
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}

	var p domain.ProgressSnapshot
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return p, nil
}

// Delete removes a campaign's snapshot.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.client.Del(ctx, key(id)).Err()
}

// Watch streams snapshots published for a campaign until ctx is done or
// the run finishes. The channel is closed on return.
func (s *Store) Watch(ctx context.Context, id uuid.UUID) <-chan domain.ProgressSnapshot {
	out := make(chan domain.ProgressSnapshot, 16)
	sub := s.client.Subscribe(ctx, channel(id))

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var p domain.ProgressSnapshot
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
				if p.Finished() && p.Current == domain.ProgressCompleted {
					return
				}
			}
		}
	}()

	return out
}
