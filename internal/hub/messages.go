package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/collabedit/core/internal/errs"
	"github.com/collabedit/core/internal/models"
	"github.com/collabedit/core/internal/ot"
	"github.com/collabedit/core/internal/store"
)

// hubMsg is the tagged-union of inbound operations a session submits to a
// hub (§4.4's inbound contract). Each variant implements apply, executed
// only on the hub's own goroutine, applying the "dynamic dispatch on
// Operation.type" fix from §9 applied to the hub's request surface: an
// exhaustive set of concrete types instead of a string-switch.
type hubMsg interface {
	apply(ctx context.Context, h *Hub)
}

// JoinMsg is §4.4 Join: verify membership, allocate color, upsert
// presence, snapshot the room to the joiner, announce to everyone else.
type JoinMsg struct {
	Sink     Sink
	UserID   string
	Username string
	Reply    chan<- error
}

func (m JoinMsg) apply(ctx context.Context, h *Hub) {
	isMember, err := h.deps.Store.IsMember(ctx, h.roomID, m.UserID)
	if err != nil {
		m.Reply <- wrapStoreErr(err)
		return
	}
	if !isMember {
		m.Reply <- errs.ErrForbidden
		return
	}

	assignedColor := h.colors.Allocate(m.UserID)
	mem := &member{sink: m.Sink, userID: m.UserID, username: m.Username, color: assignedColor}
	h.members[m.Sink.SessionID()] = mem

	if err := h.deps.Presence.Put(ctx, models.Presence{
		RoomID: h.roomID, UserID: m.UserID, Username: m.Username,
		SessionID: m.Sink.SessionID(), Color: assignedColor,
	}); err != nil {
		slog.Warn("hub: presence upsert failed", "room_id", h.roomID, "user_id", m.UserID, "error", err)
	}
	if err := h.deps.Store.TouchRoomActivity(ctx, h.roomID); err != nil {
		slog.Warn("hub: touch room activity failed", "room_id", h.roomID, "error", err)
	}

	users, err := h.deps.Presence.List(ctx, h.roomID)
	if err != nil {
		slog.Warn("hub: presence list failed", "room_id", h.roomID, "error", err)
	}
	files, err := h.deps.Store.ListFiles(ctx, h.roomID)
	if err != nil {
		m.Reply <- wrapStoreErr(err)
		return
	}

	h.sendTo(m.Sink.SessionID(), encodeFrame("room-users", roomUsersPayload{Users: users}))
	h.sendTo(m.Sink.SessionID(), encodeFrame("room-files", roomFilesPayload{Files: files}))
	h.broadcast(encodeFrame("user-joined", userEventPayload{UserID: m.UserID, Username: m.Username, Color: assignedColor}), m.Sink.SessionID(), tierChatHistory)

	m.Reply <- nil
}

// LeaveMsg is §4.4 Leave: drop presence and announce departure. Also the
// path a dropped/disconnected session arrives through (§8 S6).
type LeaveMsg struct {
	SessionID string
}

func (m LeaveMsg) apply(ctx context.Context, h *Hub) {
	mem, ok := h.members[m.SessionID]
	if !ok {
		return
	}
	delete(h.members, m.SessionID)
	h.colors.Release(mem.userID)
	if err := h.deps.Presence.Drop(ctx, h.roomID, mem.userID); err != nil {
		slog.Warn("hub: presence drop failed", "room_id", h.roomID, "user_id", mem.userID, "error", err)
	}
	h.broadcast(encodeFrame("user-left", userEventPayload{UserID: mem.userID, Username: mem.username}), "", tierChatHistory)
}

// versionCoalesceWindow is the §8.6 "short window" within which repeated
// edits to the same file share one recorded version: any two saves at
// least this far apart must both be recorded, so this stays at one second
// rather than tracking the (much coarser) op-log window.
const versionCoalesceWindow = time.Second

// CodeChangeMsg is §4.4 CodeChange, the OT core path.
type CodeChangeMsg struct {
	SessionID string
	FileID    string
	Op        ot.Op
	Now       time.Time
	Reply     chan<- error
}

func (m CodeChangeMsg) apply(ctx context.Context, h *Hub) {
	mem, ok := h.members[m.SessionID]
	if !ok {
		m.Reply <- errs.ErrForbidden
		return
	}

	window, err := h.deps.OpLog.Window(ctx, m.FileID)
	if err != nil {
		slog.Warn("hub: oplog window fetch failed", "file_id", m.FileID, "error", err)
		window = nil
	}
	transformed := ot.TransformAgainst(m.Op, window)

	var file models.File
	err = store.Retry(ctx, h.deps.RetryAttempts, func(ctx context.Context) error {
		var retryErr error
		file, retryErr = h.deps.Store.LoadFile(ctx, m.FileID)
		return retryErr
	})
	if err != nil {
		m.Reply <- wrapStoreErr(err)
		return
	}

	content := ot.ToUTF16(file.Content)
	newContent := ot.FromUTF16(ot.Apply(content, transformed))

	last, hasLast := h.lastVersionAt[m.FileID]
	shouldAppendVersion := !hasLast || m.Now.Sub(last) >= versionCoalesceWindow

	err = store.Retry(ctx, h.deps.RetryAttempts, func(ctx context.Context) error {
		return h.deps.Store.SaveContent(ctx, m.FileID, newContent)
	})
	if err != nil {
		m.Reply <- wrapStoreErr(err)
		return
	}
	if shouldAppendVersion {
		if verr := store.Retry(ctx, h.deps.RetryAttempts, func(ctx context.Context) error {
			return h.deps.Store.AppendVersion(ctx, m.FileID, file.Content, mem.userID)
		}); verr != nil {
			slog.Warn("hub: append version failed", "file_id", m.FileID, "error", verr)
		} else {
			h.lastVersionAt[m.FileID] = m.Now
		}
	}

	if err := h.deps.OpLog.Push(ctx, m.FileID, transformed); err != nil {
		slog.Warn("hub: oplog push failed", "file_id", m.FileID, "error", err)
	}
	if len(window)+1 >= h.deps.OpLogWindow {
		if composed := ot.Compose(append(append([]ot.Op{}, window...), transformed)); len(composed) < len(window)+1 {
			if rerr := h.deps.OpLog.Replace(ctx, m.FileID, composed); rerr != nil {
				slog.Warn("hub: oplog compose-replace failed", "file_id", m.FileID, "error", rerr)
			}
		}
	}

	h.broadcast(encodeFrame("code-update", codeUpdatePayload{FileID: m.FileID, Op: wireOpOf(transformed), UserID: mem.userID}), m.SessionID, tierCodeUpdate)
	m.Reply <- nil
}

// CursorPositionMsg is §4.4 CursorPosition: presence update, fanout to
// peers only (never echoed back to the sender).
type CursorPositionMsg struct {
	SessionID string
	FileID    string
	Line      int
	Column    int
}

func (m CursorPositionMsg) apply(ctx context.Context, h *Hub) {
	mem, ok := h.members[m.SessionID]
	if !ok {
		return
	}
	mem.fileID = m.FileID
	mem.cursor = m.Line*1_000_000 + m.Column // compact encoding for the presence cache only; wire payload carries line/column separately

	if err := h.deps.Presence.Put(ctx, models.Presence{
		RoomID: h.roomID, UserID: mem.userID, Username: mem.username,
		SessionID: m.SessionID, Color: mem.color, FileID: m.FileID, Cursor: mem.cursor,
	}); err != nil {
		slog.Warn("hub: presence cursor update failed", "room_id", h.roomID, "user_id", mem.userID, "error", err)
	}

	h.broadcast(encodeFrame("cursor-update", cursorUpdatePayload{UserID: mem.userID, FileID: m.FileID, Line: m.Line, Column: m.Column, Color: mem.color}), m.SessionID, tierCursor)
}

// ChatMessageMsg is §4.4 ChatMessage: stamped, pushed to the ring, fanned
// out to everyone including the sender so they see the authoritative copy.
type ChatMessageMsg struct {
	SessionID   string
	Body        string
	CodeSnippet string
	Now         time.Time
}

func (m ChatMessageMsg) apply(ctx context.Context, h *Hub) {
	mem, ok := h.members[m.SessionID]
	if !ok {
		return
	}
	msg := models.ChatMessage{
		ID: newUUID(), RoomID: h.roomID, UserID: mem.userID, Username: mem.username,
		Body: m.Body, CodeSnippet: m.CodeSnippet, SentAt: m.Now,
	}
	if err := h.deps.Chat.Push(ctx, msg); err != nil {
		slog.Warn("hub: chat push failed", "room_id", h.roomID, "error", err)
	}
	h.broadcast(encodeFrame("chat-message", msg), "", tierChatHistory)
}

// GetChatHistoryMsg is §4.4 GetChatHistory: a single-recipient read, not
// broadcast.
type GetChatHistoryMsg struct {
	SessionID string
}

const chatHistoryLimit = 50

func (m GetChatHistoryMsg) apply(ctx context.Context, h *Hub) {
	if _, ok := h.members[m.SessionID]; !ok {
		return
	}
	messages, err := h.deps.Chat.Recent(ctx, h.roomID, chatHistoryLimit)
	if err != nil {
		slog.Warn("hub: chat history fetch failed", "room_id", h.roomID, "error", err)
		messages = nil
	}
	h.sendTo(m.SessionID, encodeFrame("chat-history", chatHistoryPayload{Messages: messages}))
}

// CreateFileMsg is §4.4 CreateFile: the single canonical file-creation
// path (§9 "duplicate file-creation paths": any REST facade must call
// into this rather than writing the store directly).
type CreateFileMsg struct {
	SessionID string
	Name      string
	Language  string
	Now       time.Time
	Reply     chan<- CreateFileResult
}

type CreateFileResult struct {
	File models.File
	Err  error
}

func (m CreateFileMsg) apply(ctx context.Context, h *Hub) {
	mem, ok := h.members[m.SessionID]
	if !ok {
		m.Reply <- CreateFileResult{Err: errs.ErrForbidden}
		return
	}
	file := models.File{
		ID: newUUID(), RoomID: h.roomID, Name: m.Name, Content: "",
		CreatedBy: mem.userID, CreatedAt: m.Now, UpdatedAt: m.Now,
	}
	if err := store.Retry(ctx, h.deps.RetryAttempts, func(ctx context.Context) error {
		return h.deps.Store.CreateFile(ctx, file)
	}); err != nil {
		m.Reply <- CreateFileResult{Err: wrapStoreErr(err)}
		return
	}
	h.broadcast(encodeFrame("file-created", fileEventPayload{File: file}), "", tierChatHistory)
	m.Reply <- CreateFileResult{File: file}
}

// DeleteFileMsg is §4.4 DeleteFile.
type DeleteFileMsg struct {
	SessionID string
	FileID    string
	Reply     chan<- error
}

func (m DeleteFileMsg) apply(ctx context.Context, h *Hub) {
	if _, ok := h.members[m.SessionID]; !ok {
		m.Reply <- errs.ErrForbidden
		return
	}
	if err := store.Retry(ctx, h.deps.RetryAttempts, func(ctx context.Context) error {
		return h.deps.Store.DeleteFile(ctx, m.FileID)
	}); err != nil {
		m.Reply <- wrapStoreErr(err)
		return
	}
	h.broadcast(encodeFrame("file-deleted", fileDeletedPayload{FileID: m.FileID}), "", tierChatHistory)
	m.Reply <- nil
}

// RenameFileMsg is the supplemented rename operation (SPEC_FULL.md,
// grounded on the teacher's owner-gated mutate-then-broadcast
// RegenerateInviteCode pattern).
type RenameFileMsg struct {
	SessionID string
	FileID    string
	NewName   string
	Reply     chan<- error
}

func (m RenameFileMsg) apply(ctx context.Context, h *Hub) {
	if _, ok := h.members[m.SessionID]; !ok {
		m.Reply <- errs.ErrForbidden
		return
	}
	if err := store.Retry(ctx, h.deps.RetryAttempts, func(ctx context.Context) error {
		return h.deps.Store.RenameFile(ctx, m.FileID, m.NewName)
	}); err != nil {
		m.Reply <- wrapStoreErr(err)
		return
	}
	h.broadcast(encodeFrame("file-renamed", fileRenamedPayload{FileID: m.FileID, NewName: m.NewName}), "", tierChatHistory)
	m.Reply <- nil
}

// GetFileVersionsMsg is the supplemented version-listing read (SPEC_FULL.md
// §8 scenario S5).
type GetFileVersionsMsg struct {
	SessionID string
	FileID    string
	Reply     chan<- FileVersionsResult
}

type FileVersionsResult struct {
	Versions []models.FileVersion
	Err      error
}

func (m GetFileVersionsMsg) apply(ctx context.Context, h *Hub) {
	if _, ok := h.members[m.SessionID]; !ok {
		m.Reply <- FileVersionsResult{Err: errs.ErrForbidden}
		return
	}
	versions, err := h.deps.Store.FileVersions(ctx, m.FileID)
	if err != nil {
		m.Reply <- FileVersionsResult{Err: wrapStoreErr(err)}
		return
	}
	m.Reply <- FileVersionsResult{Versions: versions}
}

// --- wire payload shapes for the outbound frames named in §6 ---

type roomUsersPayload struct {
	Users []models.Presence `json:"users"`
}

type roomFilesPayload struct {
	Files []models.File `json:"files"`
}

type userEventPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Color    string `json:"color,omitempty"`
}

type codeUpdatePayload struct {
	FileID string            `json:"file_id"`
	Op     models.Operation  `json:"op"`
	UserID string            `json:"user_id"`
}

type cursorUpdatePayload struct {
	UserID string `json:"user_id"`
	FileID string `json:"file_id"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Color  string `json:"color"`
}

type chatHistoryPayload struct {
	Messages []models.ChatMessage `json:"messages"`
}

type fileEventPayload struct {
	File models.File `json:"file"`
}

type fileDeletedPayload struct {
	FileID string `json:"file_id"`
}

type fileRenamedPayload struct {
	FileID  string `json:"file_id"`
	NewName string `json:"new_name"`
}

func wireOpOf(op ot.Op) models.Operation {
	switch v := op.(type) {
	case ot.Insert:
		return models.Operation{Kind: models.OpInsert, Position: v.Position, Text: ot.FromUTF16(v.Text), UserID: v.UserID, Timestamp: v.Timestamp}
	case ot.Delete:
		return models.Operation{Kind: models.OpDelete, Position: v.Position, Length: v.Length, UserID: v.UserID, Timestamp: v.Timestamp}
	default:
		return models.Operation{}
	}
}
