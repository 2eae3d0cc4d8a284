package chatlog

import (
	"context"
	"testing"
	"time"

	"github.com/collabedit/core/internal/ephemeral"
	"github.com/collabedit/core/internal/models"
	"github.com/redis/go-redis/v9"
)

const testRedisAddr = "localhost:6379"

func newTestLog(t *testing.T) (*Log, func()) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	cleanupKeys(ctx, client, "chat:*")
	return New(ephemeral.New(client)), func() {
		cleanupKeys(ctx, client, "chat:*")
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

func TestPushAndRecent(t *testing.T) {
	log, cleanup := newTestLog(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := models.ChatMessage{RoomID: "r1", UserID: "u1", Username: "alice", Body: "hi", SentAt: time.Now()}
		if err := log.Push(ctx, msg); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	recent, err := log.Recent(ctx, "r1", 50)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 5 {
		t.Fatalf("len(recent) = %d, want 5", len(recent))
	}
}

func TestRecentCapsAtRequestedCount(t *testing.T) {
	log, cleanup := newTestLog(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		log.Push(ctx, models.ChatMessage{RoomID: "r1", UserID: "u1", Body: "msg"})
	}

	recent, err := log.Recent(ctx, "r1", 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
}

func TestRingTrimsAtRingSize(t *testing.T) {
	log, cleanup := newTestLog(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < RingSize+25; i++ {
		log.Push(ctx, models.ChatMessage{RoomID: "r1", UserID: "u1", Body: "msg"})
	}

	recent, err := log.Recent(ctx, "r1", RingSize+25)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != RingSize {
		t.Fatalf("len(recent) = %d, want %d", len(recent), RingSize)
	}
}
