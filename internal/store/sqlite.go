package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/collabedit/core/internal/models"

	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

// maxFileVersions bounds the per-file version ring (§3 FileVersion).
const maxFileVersions = 50

// SQLiteStore is the default DocumentStore, grounded on the teacher's
// internal/db/db.go: same WAL/busy_timeout/foreign_keys pragmas, same
// versioned-migration shape via PRAGMA user_version.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and migrates, if needed) a SQLite-backed store at dsn.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := createTablesInTx(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func createTablesInTx(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_by TEXT NOT NULL,
			invite_code TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_activity_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT REFERENCES rooms(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (room_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS file_versions (
			file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			version INTEGER NOT NULL,
			content TEXT NOT NULL,
			author TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (file_id, version)
		);

		CREATE INDEX IF NOT EXISTS idx_room_members_room ON room_members(room_id);
		CREATE INDEX IF NOT EXISTS idx_files_room ON files(room_id);
		CREATE INDEX IF NOT EXISTS idx_file_versions_file ON file_versions(file_id, version DESC);
		CREATE INDEX IF NOT EXISTS idx_rooms_last_activity ON rooms(last_activity_at);
	`)
	return err
}

func (s *SQLiteStore) CreateRoom(ctx context.Context, room models.Room) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (id, name, created_by, invite_code, created_at, last_activity_at) VALUES (?, ?, ?, ?, ?, ?)",
		room.ID, room.Name, room.CreatedBy, room.InviteCode, room.CreatedAt, room.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) RoomByID(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_by, invite_code, created_at FROM rooms WHERE id = ?", roomID,
	).Scan(&room.ID, &room.Name, &room.CreatedBy, &room.InviteCode, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Room{}, ErrNotFound
	}
	return room, err
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", roomID)
	return err
}

func (s *SQLiteStore) AddMember(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)",
		roomID, userID, time.Now(),
	)
	return err
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM room_members WHERE room_id = ? AND user_id = ?", roomID, userID,
	)
	return err
}

func (s *SQLiteStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM room_members WHERE room_id = ? AND user_id = ?", roomID, userID,
	).Scan(&count)
	return count > 0, err
}

func (s *SQLiteStore) CreateFile(ctx context.Context, file models.File) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO files (id, room_id, name, content, created_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		file.ID, file.RoomID, file.Name, file.Content, file.CreatedBy, file.CreatedAt, file.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) LoadFile(ctx context.Context, fileID string) (models.File, error) {
	var f models.File
	err := s.db.QueryRowContext(ctx,
		"SELECT id, room_id, name, content, created_by, created_at, updated_at FROM files WHERE id = ?", fileID,
	).Scan(&f.ID, &f.RoomID, &f.Name, &f.Content, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.File{}, ErrNotFound
	}
	return f, err
}

func (s *SQLiteStore) ListFiles(ctx context.Context, roomID string) ([]models.File, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, room_id, name, content, created_by, created_at, updated_at FROM files WHERE room_id = ? ORDER BY created_at",
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.File
	for rows.Next() {
		var f models.File
		if err := rows.Scan(&f.ID, &f.RoomID, &f.Name, &f.Content, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) RenameFile(ctx context.Context, fileID, newName string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE files SET name = ?, updated_at = ? WHERE id = ?", newName, time.Now(), fileID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", fileID)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

func (s *SQLiteStore) SaveContent(ctx context.Context, fileID, content string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE files SET content = ?, updated_at = ? WHERE id = ?", content, time.Now(), fileID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

// AppendVersion writes prior content as a new ring entry and trims anything
// beyond the most recent maxFileVersions rows, in one transaction so a crash
// between insert and trim can never leave the ring over-long. Mirrors the
// teacher's CreateSession session-cap eviction pattern.
func (s *SQLiteStore) AppendVersion(ctx context.Context, fileID, content, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var nextVersion int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM file_versions WHERE file_id = ?", fileID,
	).Scan(&nextVersion)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO file_versions (file_id, version, content, author, created_at) VALUES (?, ?, ?, ?, ?)",
		fileID, nextVersion, content, userID, time.Now(),
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM file_versions WHERE file_id = ? AND version NOT IN (
			SELECT version FROM file_versions WHERE file_id = ? ORDER BY version DESC LIMIT ?
		)`, fileID, fileID, maxFileVersions,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) FileVersions(ctx context.Context, fileID string) ([]models.FileVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT file_id, version, content, author, created_at FROM file_versions WHERE file_id = ? ORDER BY version DESC",
		fileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []models.FileVersion
	for rows.Next() {
		var v models.FileVersion
		if err := rows.Scan(&v.FileID, &v.Version, &v.Content, &v.Author, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *SQLiteStore) TouchRoomActivity(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET last_activity_at = ? WHERE id = ?", time.Now(), roomID,
	)
	return err
}

func (s *SQLiteStore) InactiveRoomIDs(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM rooms WHERE last_activity_at < ?", time.Now().Add(-olderThan),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func checkRowsAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
