// Package oplog implements the per-file operation log (§4.3 C4): a bounded
// window of recently-applied operations used to transform late-arriving
// concurrent edits. Built on internal/ephemeral the same way
// internal/presence is.
package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabedit/core/internal/ephemeral"
	"github.com/collabedit/core/internal/models"
	"github.com/collabedit/core/internal/ot"
)

// WindowSize bounds how many operations are kept per file (§6 op_log_window).
const WindowSize = 100

// TTL is the inactivity expiry for a file's log (§6 op_log_ttl_seconds).
const TTL = 300 * time.Second

type Log struct {
	store *ephemeral.Store
}

func New(store *ephemeral.Store) *Log {
	return &Log{store: store}
}

func key(fileID string) string {
	return "pending:" + fileID
}

// wireOp is the JSON form of an ot.Op, since ot.Op is an interface and can't
// round-trip through encoding/json on its own.
type wireOp struct {
	Kind      models.OpKind `json:"kind"`
	Position  int           `json:"position"`
	Text      string        `json:"text,omitempty"`
	Length    int           `json:"length,omitempty"`
	UserID    string        `json:"user_id"`
	Timestamp int64         `json:"timestamp"`
}

func encode(op ot.Op) ([]byte, error) {
	switch v := op.(type) {
	case ot.Insert:
		return json.Marshal(wireOp{Kind: models.OpInsert, Position: v.Position, Text: ot.FromUTF16(v.Text), UserID: v.UserID, Timestamp: v.Timestamp})
	case ot.Delete:
		return json.Marshal(wireOp{Kind: models.OpDelete, Position: v.Position, Length: v.Length, UserID: v.UserID, Timestamp: v.Timestamp})
	default:
		return nil, fmt.Errorf("oplog: unknown op type %T", op)
	}
}

func decode(data []byte) (ot.Op, error) {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("oplog: decode: %w", err)
	}
	switch w.Kind {
	case models.OpInsert:
		return ot.Insert{Position: w.Position, Text: ot.ToUTF16(w.Text), UserID: w.UserID, Timestamp: w.Timestamp}, nil
	case models.OpDelete:
		return ot.Delete{Position: w.Position, Length: w.Length, UserID: w.UserID, Timestamp: w.Timestamp}, nil
	default:
		return nil, fmt.Errorf("oplog: unknown op kind %q", w.Kind)
	}
}

// Push appends op to the file's window, trims to WindowSize, and renews the
// TTL, mirroring the teacher's RPUSH/LTRIM/EXPIRE triple, just against the
// domain's operation log instead of a chat or activity feed.
func (l *Log) Push(ctx context.Context, fileID string, op ot.Op) error {
	data, err := encode(op)
	if err != nil {
		return err
	}
	k := key(fileID)
	if err := l.store.RightPush(ctx, k, data); err != nil {
		return fmt.Errorf("oplog: push: %w", err)
	}
	if err := l.store.Trim(ctx, k, WindowSize); err != nil {
		return fmt.Errorf("oplog: trim: %w", err)
	}
	if err := l.store.Expire(ctx, k, TTL); err != nil {
		return fmt.Errorf("oplog: expire: %w", err)
	}
	return nil
}

// Window returns the file's current operation window, oldest first. A
// missing or expired log returns an empty window rather than an error:
// the hub still has authoritative content in the document store, so a lost
// log only degrades transform fidelity for very late edits, never
// correctness (§4.3).
func (l *Log) Window(ctx context.Context, fileID string) ([]ot.Op, error) {
	raw, err := l.store.Range(ctx, key(fileID))
	if err != nil {
		return nil, fmt.Errorf("oplog: window: %w", err)
	}
	ops := make([]ot.Op, 0, len(raw))
	for _, entry := range raw {
		op, err := decode(entry)
		if err != nil {
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Replace overwrites the file's window with a composed (compacted)
// sequence, used when a long same-user edit burst would otherwise push the
// window against WindowSize without losing any transform fidelity.
func (l *Log) Replace(ctx context.Context, fileID string, ops []ot.Op) error {
	k := key(fileID)
	if err := l.store.Delete(ctx, k); err != nil {
		return fmt.Errorf("oplog: replace delete: %w", err)
	}
	for _, op := range ops {
		data, err := encode(op)
		if err != nil {
			return err
		}
		if err := l.store.RightPush(ctx, k, data); err != nil {
			return fmt.Errorf("oplog: replace push: %w", err)
		}
	}
	return l.store.Expire(ctx, k, TTL)
}
