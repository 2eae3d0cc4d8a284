package ephemeral

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

const testRedisAddr = "localhost:6379"

// newTestStore requires Redis running on localhost:6379; unit tests skip
// cleanly when it isn't available rather than failing the suite.
func newTestStore(t *testing.T, prefix string) (*Store, func()) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	cleanupKeys(ctx, client, prefix+"*")
	s := New(client)
	return s, func() {
		cleanupKeys(ctx, client, prefix+"*")
		client.Close()
	}
}

func cleanupKeys(ctx context.Context, client *redis.Client, pattern string) {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}

func TestGetSetWithTTL(t *testing.T) {
	s, cleanup := newTestStore(t, "test:kv:")
	defer cleanup()
	ctx := context.Background()

	if _, found, err := s.Get(ctx, "test:kv:absent"); err != nil || found {
		t.Fatalf("Get(absent) = found %v, err %v", found, err)
	}

	if err := s.SetWithTTL(ctx, "test:kv:a", []byte("hello"), time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}

	data, found, err := s.Get(ctx, "test:kv:a")
	if err != nil || !found {
		t.Fatalf("Get after set: found %v, err %v", found, err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q, want %q", data, "hello")
	}
}

func TestSetWithTTLOverwritesUnconditionally(t *testing.T) {
	s, cleanup := newTestStore(t, "test:overwrite:")
	defer cleanup()
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "test:overwrite:k", []byte("first"), time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	if err := s.SetWithTTL(ctx, "test:overwrite:k", []byte("second"), time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	data, found, _ := s.Get(ctx, "test:overwrite:k")
	if !found || string(data) != "second" {
		t.Fatalf("data = %q, found %v, want %q", data, found, "second")
	}
}

func TestDelete(t *testing.T) {
	s, cleanup := newTestStore(t, "test:del:")
	defer cleanup()
	ctx := context.Background()

	s.SetWithTTL(ctx, "test:del:k", []byte("v"), time.Minute)
	if err := s.Delete(ctx, "test:del:k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := s.Get(ctx, "test:del:k"); found {
		t.Fatalf("key should be gone after Delete")
	}
}

func TestListByPrefix(t *testing.T) {
	s, cleanup := newTestStore(t, "test:presence:")
	defer cleanup()
	ctx := context.Background()

	s.SetWithTTL(ctx, "test:presence:room1:u1", []byte("a"), time.Minute)
	s.SetWithTTL(ctx, "test:presence:room1:u2", []byte("b"), time.Minute)
	s.SetWithTTL(ctx, "test:presence:room2:u1", []byte("c"), time.Minute)

	values, err := s.ListByPrefix(ctx, "test:presence:room1:")
	if err != nil {
		t.Fatalf("ListByPrefix: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("len(values) = %d, want 2", len(values))
	}
}

func TestRightPushTrimAndRange(t *testing.T) {
	s, cleanup := newTestStore(t, "test:list:")
	defer cleanup()
	ctx := context.Background()

	key := "test:list:pending:file1"
	for i := 0; i < 5; i++ {
		if err := s.RightPush(ctx, key, []byte{byte('0' + i)}); err != nil {
			t.Fatalf("RightPush: %v", err)
		}
	}

	if err := s.Trim(ctx, key, 3); err != nil {
		t.Fatalf("Trim: %v", err)
	}

	values, err := s.Range(ctx, key)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("len(values) = %d, want 3", len(values))
	}
	want := []byte{'2', '3', '4'}
	for i, v := range values {
		if v[0] != want[i] {
			t.Fatalf("values[%d] = %q, want %q", i, v, []byte{want[i]})
		}
	}
}

func TestExpire(t *testing.T) {
	s, cleanup := newTestStore(t, "test:expire:")
	defer cleanup()
	ctx := context.Background()

	key := "test:expire:k"
	if err := s.SetWithTTL(ctx, key, []byte("v"), time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	if err := s.Expire(ctx, key, 50*time.Millisecond); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if _, found, _ := s.Get(ctx, key); found {
		t.Fatalf("key should have expired")
	}
}
