// Package hub implements the Room Hub (§4.4 C5): the single goroutine that
// serializes every mutation and fanout for one room. Grounded on the
// asadovsky-goatee hub's run-loop shape (a select over subscribe/
// unsubscribe/broadcast channels, one goroutine owning all room state) and
// the teacher's WSHandler central-registry pattern, redesigned per §9's
// "shared-state mutation from many connections" note: membership, presence
// cache, and color assignment all become fields only the hub goroutine
// touches, so there is nothing left to guard with a mutex: the mailbox
// channel is the only synchronization primitive.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/collabedit/core/internal/chatlog"
	"github.com/collabedit/core/internal/color"
	"github.com/collabedit/core/internal/errs"
	"github.com/collabedit/core/internal/models"
	"github.com/collabedit/core/internal/oplog"
	"github.com/collabedit/core/internal/presence"
	"github.com/collabedit/core/internal/store"
)

// mailboxSize bounds how many pending requests a hub will queue before a
// submitting session blocks; deliberately generous since the hub drains it
// strictly FIFO (§5 Ordering).
const mailboxSize = 256

// idleDrain is how long a hub with zero members waits before it shuts
// itself down (§5 "hub shutdown drains inbound queues for up to 2s").
const idleDrain = 2 * time.Second

// Sink is the outbound half of a session, as seen by the hub. wsconn.Session
// implements this; the hub never touches a socket directly.
type Sink interface {
	SessionID() string
	UserID() string
	// Enqueue attempts to deliver frame to the session's outbound queue.
	// It returns false if the queue was full (§4.4 Backpressure).
	Enqueue(frame []byte) bool
	// Disconnect forces the session closed, used when a CodeUpdate drop
	// or a full outbound queue means the peer must refetch canonical state.
	Disconnect(reason string)
}

// Deps are the shared, cross-room collaborators every hub is built from.
type Deps struct {
	Store         store.DocumentStore
	Presence      *presence.Registry
	OpLog         *oplog.Log
	Chat          *chatlog.Log
	RetryAttempts int
	OpLogWindow   int
}

// Hub is the serialization point for one room (§4.4). Every field below is
// read and written only from run's goroutine.
type Hub struct {
	roomID  string
	deps    Deps
	mailbox chan hubMsg

	members       map[string]*member    // session id -> member
	colors        *color.Allocator
	lastVersionAt map[string]time.Time // file id -> last append_version time

	done chan struct{}
}

type member struct {
	sink     Sink
	userID   string
	username string
	color    string
	fileID   string
	cursor   int
}

// New constructs a hub for roomID. Callers should use Registry rather than
// calling this directly, so idle teardown and lookup stay centralized.
func New(roomID string, deps Deps) *Hub {
	return &Hub{
		roomID:        roomID,
		deps:          deps,
		mailbox:       make(chan hubMsg, mailboxSize),
		members:       make(map[string]*member),
		colors:        color.NewAllocator(),
		lastVersionAt: make(map[string]time.Time),
		done:          make(chan struct{}),
	}
}

// Run is the hub's goroutine body. It returns once the room has had zero
// members for idleDrain, signalling the caller (Registry) to tear it down.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	var idleTimer *time.Timer
	var idleC <-chan time.Time

	armIdle := func() {
		if idleTimer != nil {
			idleTimer.Stop()
		}
		if len(h.members) == 0 {
			idleTimer = time.NewTimer(idleDrain)
			idleC = idleTimer.C
		} else {
			idleC = nil
		}
	}
	armIdle()

	for {
		select {
		case <-ctx.Done():
			// §5: a shutting-down hub drains its inbound queue for up to 2s
			// before disconnecting everyone, so a request submitted in the
			// same instant as shutdown still gets a reply instead of
			// hanging its caller forever.
			h.drainMailbox(ctx, idleDrain)
			h.shutdown("server shutting down")
			return
		case <-idleC:
			if len(h.members) != 0 {
				continue
			}
			// The idle timer and a just-submitted message (e.g. a Join
			// that raced Registry.Get returning this hub) can both become
			// ready in the same select; drain whatever already landed in
			// the mailbox before committing to teardown so it is never
			// silently dropped.
			h.drainMailbox(ctx, 0)
			if len(h.members) == 0 {
				return
			}
			armIdle()
		case msg := <-h.mailbox:
			msg.apply(ctx, h)
			armIdle()
		}
	}
}

// drainMailbox applies every message already queued on the mailbox. A zero
// wait only drains what is immediately available without blocking;
// otherwise it keeps draining for up to wait since the last message
// received.
func (h *Hub) drainMailbox(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		for {
			select {
			case msg := <-h.mailbox:
				msg.apply(ctx, h)
			default:
				return
			}
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case msg := <-h.mailbox:
			msg.apply(ctx, h)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(wait)
		case <-timer.C:
			return
		}
	}
}

// Submit enqueues msg on the hub's mailbox, blocking only if the mailbox
// itself is full (never on downstream I/O, since that happens on the hub
// goroutine after the send completes).
func (h *Hub) Submit(msg hubMsg) {
	h.mailbox <- msg
}

// isAlive reports whether Run is still executing, i.e. whether Submit is
// safe to call. Used by Registry.Get to avoid handing a caller a hub that
// has already decided to tear itself down.
func (h *Hub) isAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Hub) shutdown(reason string) {
	for id, m := range h.members {
		h.broadcast(encodeFrame("user-left", userEventPayload{UserID: m.userID, Username: m.username}), id, tierChatHistory)
	}
	for id, m := range h.members {
		h.deps.Presence.Drop(context.Background(), h.roomID, m.userID)
		m.sink.Disconnect(reason)
		delete(h.members, id)
	}
}

// broadcast delivers frame to every member except skipSessionID (pass "" to
// include everyone). Overload handling follows §4.4: the caller names which
// drop tier frame belongs to.
func (h *Hub) broadcast(frame []byte, skipSessionID string, tier dropTier) {
	for id, m := range h.members {
		if id == skipSessionID {
			continue
		}
		if !m.sink.Enqueue(frame) {
			h.handleOverload(id, m, tier)
		}
	}
}

// dropTier orders what gets sacrificed when a peer's outbound queue is full
// (§4.4 Backpressure): cursor updates first, then chat history replays,
// then the peer's connection itself.
type dropTier int

const (
	tierCursor dropTier = iota
	tierChatHistory
	tierCodeUpdate
)

func (h *Hub) handleOverload(sessionID string, m *member, tier dropTier) {
	switch tier {
	case tierCursor, tierChatHistory:
		slog.Warn("hub: dropped message to overloaded peer", "room_id", h.roomID, "session_id", sessionID, "tier", tier)
		return
	default:
		// A CodeUpdate could not be delivered: the peer's view of the file
		// is no longer reconcilable by replay, so force a reconnect (§4.4).
		slog.Warn("hub: disconnecting overloaded peer", "room_id", h.roomID, "session_id", sessionID)
		m.sink.Disconnect("overloaded")
		delete(h.members, sessionID)
	}
}

func (h *Hub) sendTo(sessionID string, frame []byte) {
	m, ok := h.members[sessionID]
	if !ok {
		return
	}
	if !m.sink.Enqueue(frame) {
		h.handleOverload(sessionID, m, tierChatHistory)
	}
}

// encodeFrame marshals the §6 {event,data} envelope.
func encodeFrame(event string, data interface{}) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("hub: failed to marshal frame payload", "event", event, "error", err)
		payload = []byte("null")
	}
	raw, err := json.Marshal(models.Frame{Event: event, Data: payload})
	if err != nil {
		slog.Error("hub: failed to marshal frame", "event", event, "error", err)
		return nil
	}
	return raw
}

func errorFrame(err error) []byte {
	return encodeFrame("error", models.ErrorResponse{Error: err.Error(), Code: errs.Code(err)})
}

// newUUID centralizes id generation so every hub-minted id (chat messages,
// file ids created via the live channel) goes through the same call.
func newUUID() string { return uuid.NewString() }

func wrapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case err == store.ErrNotFound:
		return fmt.Errorf("%w: %v", errs.ErrNotFound, err)
	case err == store.ErrConflict:
		return fmt.Errorf("%w: %v", errs.ErrTransient, err)
	default:
		return fmt.Errorf("%w: %v", errs.ErrTransient, err)
	}
}
