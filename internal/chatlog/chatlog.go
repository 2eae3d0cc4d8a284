// Package chatlog implements the per-room chat ring: the last 100 messages,
// TTL 86400s, plain fanout with no transform (§3 ChatMessage, §6
// chat_ring_size).
package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabedit/core/internal/ephemeral"
	"github.com/collabedit/core/internal/models"
)

const (
	RingSize = 100
	TTL      = 86400 * time.Second
)

type Log struct {
	store *ephemeral.Store
}

func New(store *ephemeral.Store) *Log {
	return &Log{store: store}
}

func key(roomID string) string {
	return "chat:" + roomID
}

// Push appends msg to the room's ring, trims to RingSize, and renews TTL.
func (l *Log) Push(ctx context.Context, msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chatlog: marshal: %w", err)
	}
	k := key(msg.RoomID)
	if err := l.store.RightPush(ctx, k, data); err != nil {
		return fmt.Errorf("chatlog: push: %w", err)
	}
	if err := l.store.Trim(ctx, k, RingSize); err != nil {
		return fmt.Errorf("chatlog: trim: %w", err)
	}
	return l.store.Expire(ctx, k, TTL)
}

// Recent returns up to the most recent n messages for a room, oldest first
// the hub's GetChatHistory caps n at 50 per §4.4.
func (l *Log) Recent(ctx context.Context, roomID string, n int) ([]models.ChatMessage, error) {
	raw, err := l.store.Range(ctx, key(roomID))
	if err != nil {
		return nil, fmt.Errorf("chatlog: recent: %w", err)
	}

	if n > 0 && len(raw) > n {
		raw = raw[len(raw)-n:]
	}

	out := make([]models.ChatMessage, 0, len(raw))
	for _, entry := range raw {
		var msg models.ChatMessage
		if err := json.Unmarshal(entry, &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
