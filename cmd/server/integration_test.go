package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/collabedit/core/internal/chatlog"
	"github.com/collabedit/core/internal/ephemeral"
	"github.com/collabedit/core/internal/hub"
	"github.com/collabedit/core/internal/identity"
	"github.com/collabedit/core/internal/models"
	"github.com/collabedit/core/internal/oplog"
	"github.com/collabedit/core/internal/presence"
	"github.com/collabedit/core/internal/store"
	"github.com/collabedit/core/internal/wsconn"
)

const testRedisAddr = "localhost:6379"

const jwtSecret = "integration-test-secret"

func mintToken(t *testing.T, userID, username string) string {
	t.Helper()
	claims := identity.Claims{UserID: userID, Username: username}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "integration.db")
	docStore, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { docStore.Close() })

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})

	eph := ephemeral.New(client)
	registryCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := hub.NewRegistry(registryCtx, hub.Deps{
		Store:         docStore,
		Presence:      presence.New(eph),
		OpLog:         oplog.New(eph),
		Chat:          chatlog.New(eph),
		RetryAttempts: 3,
		OpLogWindow:   100,
	})

	verifier := identity.NewJWTVerifier(jwtSecret)
	wsHandler := wsconn.NewHandler(registry, verifier, 5*time.Second, []string{"https://test.example.com"})

	server := httptest.NewServer(wsHandler)
	t.Cleanup(server.Close)

	if err := docStore.CreateRoom(ctx, models.Room{ID: "room1", Name: "Room One", CreatedBy: "alice", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for _, u := range []string{"alice", "bob"} {
		if err := docStore.AddMember(ctx, "room1", u); err != nil {
			t.Fatalf("AddMember(%s): %v", u, err)
		}
	}
	if err := docStore.CreateFile(ctx, models.File{ID: "file1", RoomID: "room1", Name: "main.go", Content: "package main", CreatedBy: "alice", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	return server
}

func dialAs(t *testing.T, server *httptest.Server, userID, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + mintToken(t, userID, username)
	header := map[string][]string{"Origin": {"https://test.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial as %s: %v", username, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal frame data: %v", err)
	}
	raw, err := json.Marshal(models.Frame{Event: event, Data: payload})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrameUntil(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) models.Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(timeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Event == event {
			return frame
		}
	}
	t.Fatalf("timed out waiting for event %q", event)
	return models.Frame{}
}

func TestJoinRoomReceivesSnapshot(t *testing.T) {
	server := newTestServer(t)
	conn := dialAs(t, server, "alice", "Alice")

	sendFrame(t, conn, "join-room", map[string]string{"room_id": "room1"})
	frame := readFrameUntil(t, conn, "room-files", 3*time.Second)

	var payload struct {
		Files []models.File `json:"files"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("unmarshal room-files: %v", err)
	}
	if len(payload.Files) != 1 || payload.Files[0].ID != "file1" {
		t.Fatalf("room-files = %+v, want one file1", payload.Files)
	}
}

func TestCodeChangeFansOutToOtherMember(t *testing.T) {
	server := newTestServer(t)
	alice := dialAs(t, server, "alice", "Alice")
	bob := dialAs(t, server, "bob", "Bob")

	sendFrame(t, alice, "join-room", map[string]string{"room_id": "room1"})
	readFrameUntil(t, alice, "room-files", 3*time.Second)
	sendFrame(t, bob, "join-room", map[string]string{"room_id": "room1"})
	readFrameUntil(t, bob, "room-files", 3*time.Second)

	sendFrame(t, alice, "code-change", map[string]interface{}{
		"file_id": "file1",
		"op": map[string]interface{}{
			"kind":     "insert",
			"position": 7,
			"text":     "!",
		},
	})

	frame := readFrameUntil(t, bob, "code-update", 3*time.Second)
	var payload struct {
		FileID string            `json:"file_id"`
		Op     models.Operation  `json:"op"`
		UserID string            `json:"user_id"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("unmarshal code-update: %v", err)
	}
	if payload.UserID != "alice" || payload.FileID != "file1" {
		t.Fatalf("code-update = %+v", payload)
	}
}

func TestChatMessageEchoedToSender(t *testing.T) {
	server := newTestServer(t)
	alice := dialAs(t, server, "alice", "Alice")

	sendFrame(t, alice, "join-room", map[string]string{"room_id": "room1"})
	readFrameUntil(t, alice, "room-files", 3*time.Second)

	sendFrame(t, alice, "chat-message", map[string]string{"message": "hello room"})
	frame := readFrameUntil(t, alice, "chat-message", 3*time.Second)

	var msg models.ChatMessage
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		t.Fatalf("unmarshal chat-message: %v", err)
	}
	if msg.Body != "hello room" || msg.UserID != "alice" {
		t.Fatalf("chat-message = %+v", msg)
	}
}
