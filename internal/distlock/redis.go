// Package distlock provides Redis-backed locks that keep a draft from being
// dispatched twice at the same time.
package distlock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

const (
	// Default TTL for run locks
	defaultTTL = 6 * time.Hour

	// Key prefix for run locks
	keyPrefix = "bulkmail:lock:run:"
)

// ErrNotHeld is returned when releasing or extending a lock owned by someone else.
var ErrNotHeld = errors.New("lock not held")

// Release only when the stored owner matches.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

var extendScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// Locker acquires named locks.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker creates a new locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{
		client: client,
		ttl:    defaultTTL,
	}
}

// WithTTL sets a custom TTL for locks. A lock left behind by a crashed
// process expires after this long.
func (l *Locker) WithTTL(ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Locker{
		client: l.client,
		ttl:    ttl,
	}
}

// Lock is a held lock.
type Lock struct {
	locker *Locker
	key    string
	owner  string
}

// Owner returns the value stored in the lock.
func (l *Lock) Owner() string { return l.owner }

// Acquire takes the lock for name on behalf of owner.
// Returns domain.ErrRunInProgress if another owner holds it.
func (l *Locker) Acquire(ctx context.Context, name, owner string) (*Lock, error) {
	key := keyPrefix + name

	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrRunInProgress
	}

	return &Lock{locker: l, key: key, owner: owner}, nil
}

// Holder returns the current owner of name, or "" if unlocked.
func (l *Locker) Holder(ctx context.Context, name string) (string, error) {
	owner, err := l.client.Get(ctx, keyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

// Release deletes the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.owner).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Extend resets the lock TTL if it is still owned by this holder.
func (l *Lock) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.locker.client, []string{l.key}, l.owner, l.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
