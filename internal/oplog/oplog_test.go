package oplog

import (
	"context"
	"testing"

	"github.com/collabedit/core/internal/ephemeral"
	"github.com/collabedit/core/internal/ot"
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
	cleanupKeys(ctx, client, "pending:*")
	return New(ephemeral.New(client)), func() {
		cleanupKeys(ctx, client, "pending:*")
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

func TestPushAndWindowPreservesOrder(t *testing.T) {
	log, cleanup := newTestLog(t)
	defer cleanup()
	ctx := context.Background()

	ops := []ot.Op{
		ot.Insert{Position: 0, Text: ot.ToUTF16("a"), UserID: "u1", Timestamp: 1},
		ot.Delete{Position: 0, Length: 1, UserID: "u2", Timestamp: 2},
		ot.Insert{Position: 1, Text: ot.ToUTF16("bc"), UserID: "u1", Timestamp: 3},
	}
	for _, op := range ops {
		if err := log.Push(ctx, "f1", op); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	window, err := log.Window(ctx, "f1")
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("len(window) = %d, want 3", len(window))
	}
	if ins, ok := window[2].(ot.Insert); !ok || ot.FromUTF16(ins.Text) != "bc" {
		t.Fatalf("window[2] = %+v, want the last pushed insert", window[2])
	}
}

func TestWindowTrimsToWindowSize(t *testing.T) {
	log, cleanup := newTestLog(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < WindowSize+20; i++ {
		op := ot.Insert{Position: 0, Text: ot.ToUTF16("x"), UserID: "u1", Timestamp: int64(i)}
		if err := log.Push(ctx, "f1", op); err != nil {
			t.Fatalf("Push[%d]: %v", i, err)
		}
	}

	window, err := log.Window(ctx, "f1")
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(window) != WindowSize {
		t.Fatalf("len(window) = %d, want %d", len(window), WindowSize)
	}
}

func TestWindowOnMissingFileIsEmptyNotError(t *testing.T) {
	log, cleanup := newTestLog(t)
	defer cleanup()

	window, err := log.Window(context.Background(), "never-touched")
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(window) != 0 {
		t.Fatalf("len(window) = %d, want 0", len(window))
	}
}

func TestReplaceCompactsWindow(t *testing.T) {
	log, cleanup := newTestLog(t)
	defer cleanup()
	ctx := context.Background()

	log.Push(ctx, "f1", ot.Insert{Position: 0, Text: ot.ToUTF16("a"), UserID: "u1", Timestamp: 1})
	log.Push(ctx, "f1", ot.Insert{Position: 1, Text: ot.ToUTF16("b"), UserID: "u1", Timestamp: 2})

	composed := ot.Compose([]ot.Op{
		ot.Insert{Position: 0, Text: ot.ToUTF16("a"), UserID: "u1", Timestamp: 1},
		ot.Insert{Position: 1, Text: ot.ToUTF16("b"), UserID: "u1", Timestamp: 2},
	})
	if err := log.Replace(ctx, "f1", composed); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	window, err := log.Window(ctx, "f1")
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(window) != 1 {
		t.Fatalf("len(window) = %d, want 1 (compose should have merged the contiguous inserts)", len(window))
	}
}
