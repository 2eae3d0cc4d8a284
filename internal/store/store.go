// Package store implements the narrow document-store contract the room hub
// consumes: file content, version history, room membership. It never knows
// about operational transform, presence, or the wire protocol.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/collabedit/core/internal/models"
)

var (
	// ErrNotFound is returned when a room, file, or membership row does not
	// exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write loses a compare-and-swap style
	// race against a concurrent writer outside the hub (should not happen
	// in normal operation, since the hub serializes writes per file).
	ErrConflict = errors.New("store: conflict")
)

// DocumentStore is the durable-storage contract consumed by internal/hub.
// Every method may return a transient error; callers that need the §5
// retry policy should route through Retry.
type DocumentStore interface {
	CreateRoom(ctx context.Context, room models.Room) error
	RoomByID(ctx context.Context, roomID string) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error

	AddMember(ctx context.Context, roomID, userID string) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	IsMember(ctx context.Context, roomID, userID string) (bool, error)

	CreateFile(ctx context.Context, file models.File) error
	LoadFile(ctx context.Context, fileID string) (models.File, error)
	ListFiles(ctx context.Context, roomID string) ([]models.File, error)
	RenameFile(ctx context.Context, fileID, newName string) error
	DeleteFile(ctx context.Context, fileID string) error

	// SaveContent overwrites a file's canonical content and bumps updated_at.
	SaveContent(ctx context.Context, fileID, content string) error
	// AppendVersion records content as it stood before the edit that is
	// about to be applied, trimming the ring to the most recent 50 rows.
	// A call that fails leaves no row behind, so retrying it after a failure
	// records the version once; every successful call adds a new row, even
	// when its content matches the previous one.
	AppendVersion(ctx context.Context, fileID, content, userID string) error
	// FileVersions returns the version ring, most recent first.
	FileVersions(ctx context.Context, fileID string) ([]models.FileVersion, error)

	// TouchRoomActivity marks a room as recently active, used by the idle
	// reaper to decide what is safe to sweep.
	TouchRoomActivity(ctx context.Context, roomID string) error
	// InactiveRoomIDs returns rooms whose last activity predates the cutoff.
	InactiveRoomIDs(ctx context.Context, olderThan time.Duration) ([]string, error)
}
