package wsconn

import "github.com/collabedit/core/internal/models"

// Inbound event names (§6).
const (
	eventJoinRoom        = "join-room"
	eventLeaveRoom       = "leave-room"
	eventCodeChange      = "code-change"
	eventCursorPosition  = "cursor-position"
	eventChatMessage     = "chat-message"
	eventGetChatHistory  = "get-chat-history"
	eventCreateFile      = "create-file"
	eventDeleteFile      = "delete-file"
	eventRenameFile      = "rename-file"
	eventGetFileVersions = "get-file-versions"
)

type joinRoomData struct {
	RoomID string `json:"room_id"`
}

type leaveRoomData struct {
	RoomID string `json:"room_id"`
}

type codeChangeData struct {
	FileID string           `json:"file_id"`
	Op     models.Operation `json:"op"`
}

type cursorPositionData struct {
	FileID string `json:"file_id"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

type chatMessageData struct {
	Message     string `json:"message"`
	CodeSnippet string `json:"code_snippet,omitempty"`
}

type createFileData struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

type deleteFileData struct {
	FileID string `json:"file_id"`
}

type renameFileData struct {
	FileID  string `json:"file_id"`
	NewName string `json:"new_name"`
}

type getFileVersionsData struct {
	FileID string `json:"file_id"`
}

type fileVersionsPayload struct {
	FileID   string                `json:"file_id"`
	Versions []models.FileVersion  `json:"versions"`
}
