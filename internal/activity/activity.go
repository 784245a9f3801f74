// Package activity tracks when each item's documentation was last queried.
// The indexer's cleanup sweep uses these timestamps to drop vector data for
// items nobody has asked about in a long time.
package activity

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// accessTTL bounds how long an access record survives without a refresh.
// An expired record means the item is eligible for cleanup.
const accessTTL = 365 * 24 * time.Hour

const keyPrefix = "docqa:item_access:"

// Tracker records and reports per-item access times. Implementations must be
// safe for concurrent use.
type Tracker interface {
	// Touch records that itemID was accessed now, refreshing its TTL.
	Touch(ctx context.Context, itemID string) error
	// LastAccess returns the item's last recorded access time. ok is false
	// when no record exists (never accessed, or the record expired).
	LastAccess(ctx context.Context, itemID string) (t time.Time, ok bool, err error)
	// Close releases the underlying connection.
	Close() error
}

// RedisTracker is a Tracker backed by Redis. Each item gets one key holding
// a Unix timestamp with a one-year TTL.
type RedisTracker struct {
	client *redis.Client
	now    func() time.Time
}

var _ Tracker = (*RedisTracker)(nil)

// NewRedisTracker connects to Redis at addr and returns a ready tracker.
func NewRedisTracker(addr, password string, db int) *RedisTracker {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisTracker{client: client, now: time.Now}
}

// Touch records that itemID was accessed now, refreshing its TTL.
func (t *RedisTracker) Touch(ctx context.Context, itemID string) error {
	ts := strconv.FormatInt(t.now().Unix(), 10)
	if err := t.client.Set(ctx, keyPrefix+itemID, ts, accessTTL).Err(); err != nil {
		return fmt.Errorf("activity: touch %s: %w", itemID, err)
	}
	return nil
}

// LastAccess returns the item's last recorded access time.
func (t *RedisTracker) LastAccess(ctx context.Context, itemID string) (time.Time, bool, error) {
	val, err := t.client.Get(ctx, keyPrefix+itemID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("activity: last access %s: %w", itemID, err)
	}

	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("activity: last access %s: malformed timestamp %q", itemID, val)
	}

	return time.Unix(ts, 0), true, nil
}

// Client exposes the underlying Redis client for readiness probes.
func (t *RedisTracker) Client() *redis.Client {
	return t.client
}

// Close closes the Redis connection.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

// MemoryTracker is an in-process Tracker for tests and setups without Redis.
type MemoryTracker struct {
	mu     sync.Mutex
	now    func() time.Time
	access map[string]time.Time
}

var _ Tracker = (*MemoryTracker)(nil)

// NewMemoryTracker returns an empty MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{now: time.Now, access: make(map[string]time.Time)}
}

// Touch records that itemID was accessed now.
func (t *MemoryTracker) Touch(_ context.Context, itemID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access[itemID] = t.now()
	return nil
}

// LastAccess returns the item's last recorded access time.
func (t *MemoryTracker) LastAccess(_ context.Context, itemID string) (time.Time, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.access[itemID]
	if ok && t.now().Sub(at) > accessTTL {
		return time.Time{}, false, nil
	}
	return at, ok, nil
}

// Close is a no-op for the in-memory tracker.
func (t *MemoryTracker) Close() error {
	return nil
}
