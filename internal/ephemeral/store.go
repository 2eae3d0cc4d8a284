// Package ephemeral implements the expiring key-value contract that the
// presence registry, operation log, and chat ring are built on: get,
// set_with_ttl, delete, list_by_prefix, right_push, trim, range, expire.
// Grounded on the Redis-caching pattern in the retrieval pack's
// redis-caching-demo module, generalized from a cache-aside JSON blob store
// into the list- and prefix-scan-based contract this spec needs.
package ephemeral

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a thin wrapper over a Redis client. Every method is a single
// Redis round trip; there is no in-process caching layer, since presence
// and the op log are meant to be shared across hub processes (§5).
type Store struct {
	client *redis.Client
}

// New wraps an already-constructed Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies the Redis connection is reachable, used at startup so a
// down ephemeral store is a fatal configuration error rather than a later
// surprise mid-session.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Get returns the raw value stored at key, and false if it does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ephemeral: get %s: %w", key, err)
	}
	return data, true, nil
}

// SetWithTTL stores value at key with an expiry, overwriting any existing
// entry unconditionally, used by presence's reconnect-evicts-prior-session
// rule, which wants a plain overwrite rather than a conditional set.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("ephemeral: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ephemeral: delete %s: %w", key, err)
	}
	return nil
}

// Expire resets key's TTL without touching its value, used to renew
// presence/op-log entries on activity (§5).
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("ephemeral: expire %s: %w", key, err)
	}
	return nil
}

// ListByPrefix returns the values of every key matching prefix+"*", used to
// list all presence entries for a room. Cursor-based SCAN rather than KEYS
// so this never blocks Redis on a large keyspace.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([][]byte, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("ephemeral: scan %s*: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("ephemeral: mget for prefix %s: %w", prefix, err)
	}

	out := make([][]byte, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue // expired between SCAN and MGET; skip rather than error
		}
		out = append(out, []byte(v.(string)))
	}
	return out, nil
}

// RightPush appends value to the list at key.
func (s *Store) RightPush(ctx context.Context, key string, value []byte) error {
	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("ephemeral: rpush %s: %w", key, err)
	}
	return nil
}

// Trim keeps only the last `keep` elements of the list at key (a Redis
// LTRIM with a negative start index).
func (s *Store) Trim(ctx context.Context, key string, keep int64) error {
	if keep <= 0 {
		return s.Delete(ctx, key)
	}
	if err := s.client.LTrim(ctx, key, -keep, -1).Err(); err != nil {
		return fmt.Errorf("ephemeral: ltrim %s: %w", key, err)
	}
	return nil
}

// Range returns the full contents of the list at key, oldest first.
func (s *Store) Range(ctx context.Context, key string) ([][]byte, error) {
	values, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ephemeral: lrange %s: %w", key, err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}
