// Package wsconn implements the Session Endpoint (§4.5 C6): the
// per-connection state machine that authenticates a websocket upgrade,
// dispatches inbound frames to a room hub, and forwards hub events back
// out to the socket. Grounded directly on the teacher's
// internal/handler/ws.go readPump/writePump pair (read deadline, ping/pong,
// bounded Send channel, NextWriter framing), with the dispatch switch's
// cases replaced by §4.4's inbound contract and an explicit connection
// state machine added where the teacher tracked state implicitly through
// nil checks (§9).
package wsconn

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/collabedit/core/internal/errs"
	"github.com/collabedit/core/internal/hub"
	"github.com/collabedit/core/internal/identity"
	"github.com/collabedit/core/internal/models"
	"github.com/collabedit/core/internal/ot"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 32 * 1024
	outboundQueue  = 256
)

// state is the §4.5 connection state machine.
type state int32

const (
	stateConnecting state = iota
	stateAuthenticated
	stateInRoom
	stateClosed
)

// Handler upgrades HTTP connections to the single websocket channel the
// whole protocol runs over, and owns every dependency a Session needs.
type Handler struct {
	Registry    *hub.Registry
	Verifier    identity.Verifier
	IdleTimeout time.Duration

	upgrader websocket.Upgrader
	origins  *originChecker
}

// NewHandler constructs a Handler. allowedOrigins must name full https
// origins (§6 frontend_origin); the handshake is rejected otherwise.
func NewHandler(registry *hub.Registry, verifier identity.Verifier, idleTimeout time.Duration, allowedOrigins []string) *Handler {
	h := &Handler{
		Registry:    registry,
		Verifier:    verifier,
		IdleTimeout: idleTimeout,
		origins:     newOriginChecker(allowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.origins.check,
	}
	return h
}

// bearerToken extracts the token from the Authorization header, falling
// back to a query parameter for browser websocket clients that cannot set
// headers on the upgrade request.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP implements the §4.5 Connecting -> Authenticated transition
// before the upgrade completes: a connection that fails identity
// verification never becomes a websocket at all.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	ident, err := h.Verifier.Verify(r.Context(), token)
	if err != nil {
		slog.Warn("wsconn: identity verification failed", "error", err)
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("wsconn: upgrade failed", "error", err)
		return
	}

	sess := &Session{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, outboundQueue),
		closeSignal: make(chan struct{}),
		userID:      ident.UserID,
		username:    ident.Username,
		registry:    h.Registry,
		idleTimeout: h.IdleTimeout,
	}
	sess.state.Store(int32(stateAuthenticated))

	slog.Info("wsconn: connected", "conn_id", sess.id, "user_id", sess.userID)

	go sess.writePump()
	sess.readPump()
}

// Session is one live websocket connection; it implements hub.Sink so a
// room hub can address it without importing this package.
type Session struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	username string

	registry    *hub.Registry
	idleTimeout time.Duration

	state    atomicState
	roomID   string
	roomHub  *hub.Hub
	roomMu   sync.Mutex

	closeOnce   sync.Once
	closeSignal chan struct{}
}

// atomicState is a thin int32 wrapper so reads from the write pump never
// race with writes from the read pump without needing a full mutex.
type atomicState struct{ v atomic.Int32 }

func (a *atomicState) Store(v int32) { a.v.Store(v) }
func (a *atomicState) Load() int32   { return a.v.Load() }

func (s *Session) SessionID() string { return s.id }
func (s *Session) UserID() string    { return s.userID }

func (s *Session) Enqueue(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Disconnect is called from a hub's goroutine (never this session's own)
// to force a close: a full outbound queue or a room shutdown (§4.4, §5).
func (s *Session) Disconnect(reason string) {
	s.closeOnce.Do(func() {
		slog.Info("wsconn: forced disconnect", "conn_id", s.id, "reason", reason)
		close(s.closeSignal)
	})
}

func (s *Session) readPump() {
	defer s.onClose()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendError(errs.ErrProtocolViolation)
			return
		}

		if err := s.dispatch(frame); err != nil {
			if errors.Is(err, errs.ErrProtocolViolation) {
				s.sendError(err)
				return
			}
			s.sendError(err)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker((s.idleTimeout * 9) / 10)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closeSignal:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "disconnected"))
			return
		}
	}
}

func (s *Session) onClose() {
	s.state.Store(int32(stateClosed))
	s.roomMu.Lock()
	h := s.roomHub
	s.roomMu.Unlock()
	if h != nil {
		h.Submit(hub.LeaveMsg{SessionID: s.id})
	}
	close(s.send)
	slog.Info("wsconn: disconnected", "conn_id", s.id, "user_id", s.userID)
}

func (s *Session) sendError(err error) {
	s.Enqueue(encodeFrame("error", models.ErrorResponse{Error: err.Error(), Code: errs.Code(err)}))
}

func encodeFrame(event string, data interface{}) []byte {
	payload, _ := json.Marshal(data)
	raw, _ := json.Marshal(models.Frame{Event: event, Data: payload})
	return raw
}

// dispatch is the §4.5 tagged-union inbound frame dispatch, gated by the
// connection's current state.
func (s *Session) dispatch(frame models.Frame) error {
	st := state(s.state.Load())

	switch frame.Event {
	case eventJoinRoom:
		if st != stateAuthenticated {
			return errs.ErrProtocolViolation
		}
		return s.handleJoinRoom(frame.Data)
	case eventLeaveRoom:
		if st != stateInRoom {
			return errs.ErrProtocolViolation
		}
		return s.handleLeaveRoom()
	case eventCodeChange:
		if st != stateInRoom {
			return errs.ErrProtocolViolation
		}
		return s.handleCodeChange(frame.Data)
	case eventCursorPosition:
		if st != stateInRoom {
			return errs.ErrProtocolViolation
		}
		return s.handleCursorPosition(frame.Data)
	case eventChatMessage:
		if st != stateInRoom {
			return errs.ErrProtocolViolation
		}
		return s.handleChatMessage(frame.Data)
	case eventGetChatHistory:
		if st != stateInRoom {
			return errs.ErrProtocolViolation
		}
		s.roomHub.Submit(hub.GetChatHistoryMsg{SessionID: s.id})
		return nil
	case eventCreateFile:
		if st != stateInRoom {
			return errs.ErrProtocolViolation
		}
		return s.handleCreateFile(frame.Data)
	case eventDeleteFile:
		if st != stateInRoom {
			return errs.ErrProtocolViolation
		}
		return s.handleDeleteFile(frame.Data)
	case eventRenameFile:
		if st != stateInRoom {
			return errs.ErrProtocolViolation
		}
		return s.handleRenameFile(frame.Data)
	case eventGetFileVersions:
		if st != stateInRoom {
			return errs.ErrProtocolViolation
		}
		return s.handleGetFileVersions(frame.Data)
	default:
		return errs.ErrProtocolViolation
	}
}

func (s *Session) handleJoinRoom(data json.RawMessage) error {
	var d joinRoomData
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		return errs.ErrProtocolViolation
	}

	h := s.registry.Get(d.RoomID)
	reply := make(chan error, 1)
	h.Submit(hub.JoinMsg{Sink: s, UserID: s.userID, Username: s.username, Reply: reply})
	if err := <-reply; err != nil {
		return err
	}

	s.roomMu.Lock()
	s.roomID, s.roomHub = d.RoomID, h
	s.roomMu.Unlock()
	s.state.Store(int32(stateInRoom))
	return nil
}

func (s *Session) handleLeaveRoom() error {
	s.roomMu.Lock()
	h := s.roomHub
	s.roomHub, s.roomID = nil, ""
	s.roomMu.Unlock()

	if h != nil {
		h.Submit(hub.LeaveMsg{SessionID: s.id})
	}
	s.state.Store(int32(stateAuthenticated))
	return nil
}

func (s *Session) handleCodeChange(data json.RawMessage) error {
	var d codeChangeData
	if err := json.Unmarshal(data, &d); err != nil || d.FileID == "" {
		return errs.ErrProtocolViolation
	}
	op, err := toOTOp(d.Op, s.userID)
	if err != nil {
		return errs.ErrProtocolViolation
	}

	reply := make(chan error, 1)
	s.roomHub.Submit(hub.CodeChangeMsg{SessionID: s.id, FileID: d.FileID, Op: op, Now: time.Now(), Reply: reply})
	return <-reply
}

func (s *Session) handleCursorPosition(data json.RawMessage) error {
	var d cursorPositionData
	if err := json.Unmarshal(data, &d); err != nil || d.FileID == "" {
		return errs.ErrProtocolViolation
	}
	s.roomHub.Submit(hub.CursorPositionMsg{SessionID: s.id, FileID: d.FileID, Line: d.Line, Column: d.Column})
	return nil
}

func (s *Session) handleChatMessage(data json.RawMessage) error {
	var d chatMessageData
	if err := json.Unmarshal(data, &d); err != nil || d.Message == "" {
		return errs.ErrProtocolViolation
	}
	s.roomHub.Submit(hub.ChatMessageMsg{SessionID: s.id, Body: d.Message, CodeSnippet: d.CodeSnippet, Now: time.Now()})
	return nil
}

func (s *Session) handleCreateFile(data json.RawMessage) error {
	var d createFileData
	if err := json.Unmarshal(data, &d); err != nil || d.Name == "" {
		return errs.ErrProtocolViolation
	}
	reply := make(chan hub.CreateFileResult, 1)
	s.roomHub.Submit(hub.CreateFileMsg{SessionID: s.id, Name: d.Name, Language: d.Language, Now: time.Now(), Reply: reply})
	res := <-reply
	return res.Err
}

func (s *Session) handleDeleteFile(data json.RawMessage) error {
	var d deleteFileData
	if err := json.Unmarshal(data, &d); err != nil || d.FileID == "" {
		return errs.ErrProtocolViolation
	}
	reply := make(chan error, 1)
	s.roomHub.Submit(hub.DeleteFileMsg{SessionID: s.id, FileID: d.FileID, Reply: reply})
	return <-reply
}

func (s *Session) handleRenameFile(data json.RawMessage) error {
	var d renameFileData
	if err := json.Unmarshal(data, &d); err != nil || d.FileID == "" || d.NewName == "" {
		return errs.ErrProtocolViolation
	}
	reply := make(chan error, 1)
	s.roomHub.Submit(hub.RenameFileMsg{SessionID: s.id, FileID: d.FileID, NewName: d.NewName, Reply: reply})
	return <-reply
}

func (s *Session) handleGetFileVersions(data json.RawMessage) error {
	var d getFileVersionsData
	if err := json.Unmarshal(data, &d); err != nil || d.FileID == "" {
		return errs.ErrProtocolViolation
	}
	reply := make(chan hub.FileVersionsResult, 1)
	s.roomHub.Submit(hub.GetFileVersionsMsg{SessionID: s.id, FileID: d.FileID, Reply: reply})
	res := <-reply
	if res.Err != nil {
		return res.Err
	}
	s.Enqueue(encodeFrame("file-versions", fileVersionsPayload{FileID: d.FileID, Versions: res.Versions}))
	return nil
}

func toOTOp(op models.Operation, userID string) (ot.Op, error) {
	switch op.Kind {
	case models.OpInsert:
		return ot.Insert{Position: op.Position, Text: ot.ToUTF16(op.Text), UserID: userID, Timestamp: op.Timestamp}, nil
	case models.OpDelete:
		return ot.Delete{Position: op.Position, Length: op.Length, UserID: userID, Timestamp: op.Timestamp}, nil
	default:
		return nil, errors.New("wsconn: unknown operation kind")
	}
}
