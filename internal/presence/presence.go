// Package presence implements the per-room registry of connected
// participants (§4.3 C3). It is a thin domain layer over internal/ephemeral,
// generalized from the teacher's in-memory WSClient.Rooms bookkeeping into a
// store that can be shared across hub processes.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabedit/core/internal/ephemeral"
	"github.com/collabedit/core/internal/models"
)

// TTL is how long a presence entry survives without a refresh (§6 default
// presence_ttl_seconds).
const TTL = 3600 * time.Second

// Registry tracks live presence records in the ephemeral store.
type Registry struct {
	store *ephemeral.Store
}

func New(store *ephemeral.Store) *Registry {
	return &Registry{store: store}
}

func key(roomID, userID string) string {
	return fmt.Sprintf("presence:%s:%s", roomID, userID)
}

// Put upserts a presence record, refreshing its TTL. A reconnecting user
// overwrites whatever was there before. SetWithTTL is an unconditional
// write, so the prior session is evicted within this one call (§8.5).
func (r *Registry) Put(ctx context.Context, p models.Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("presence: marshal: %w", err)
	}
	return r.store.SetWithTTL(ctx, key(p.RoomID, p.UserID), data, TTL)
}

// Drop removes a user's presence from a room, on explicit leave.
func (r *Registry) Drop(ctx context.Context, roomID, userID string) error {
	return r.store.Delete(ctx, key(roomID, userID))
}

// List returns every live presence entry for a room. Expired/missing
// entries are skipped, not errored: presence loss is acceptable data loss
// per §5, never a correctness failure.
func (r *Registry) List(ctx context.Context, roomID string) ([]models.Presence, error) {
	prefix := fmt.Sprintf("presence:%s:", roomID)
	raw, err := r.store.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("presence: list %s: %w", roomID, err)
	}

	out := make([]models.Presence, 0, len(raw))
	for _, entry := range raw {
		var p models.Presence
		if err := json.Unmarshal(entry, &p); err != nil {
			continue // malformed entries are dropped rather than failing the whole list
		}
		out = append(out, p)
	}
	return out, nil
}

// Get returns a single user's presence in a room, if live.
func (r *Registry) Get(ctx context.Context, roomID, userID string) (models.Presence, bool, error) {
	data, found, err := r.store.Get(ctx, key(roomID, userID))
	if err != nil || !found {
		return models.Presence{}, found, err
	}
	var p models.Presence
	if err := json.Unmarshal(data, &p); err != nil {
		return models.Presence{}, false, fmt.Errorf("presence: unmarshal: %w", err)
	}
	return p, true, nil
}
