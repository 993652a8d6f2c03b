package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studynotes-server/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type documentStore struct {
	db *sql.DB
}

type Store interface {
	core.DocumentStore
	core.RoomIndex
	core.SnapshotStore
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		room_id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		last_active INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		name TEXT,
		created_by TEXT,
		created_at INTEGER NOT NULL,
		content TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS snapshots_room_id ON snapshots (room_id, created_at);`,
}

func NewDocumentStore(dataSourceName string) Store {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open sqlite database")
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			logrus.WithError(err).Fatal("Failed to create sqlite schema")
		}
	}

	return &documentStore{db}
}

func (s *documentStore) Load(ctx context.Context, roomID string) (*core.Document, error) {
	log := logrus.WithField("room_id", roomID)
	log.Debug("Retrieving document")

	var (
		content   string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT content, updated_at FROM documents WHERE room_id = ?", roomID).Scan(&content, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("No document stored for room")
			return nil, fmt.Errorf("room %s: %w", roomID, core.ErrDocumentNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	log.Debug("Document retrieved successfully")
	return &core.Document{Content: content, UpdatedAt: time.UnixMilli(updatedAt)}, nil
}

func (s *documentStore) Save(ctx context.Context, roomID string, document *core.Document) error {
	log := logrus.WithFields(logrus.Fields{
		"room_id":     roomID,
		"data_length": len(document.Content),
	})
	if roomID == "" {
		return core.ErrInvalidRoomID
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (room_id, content, updated_at) VALUES (?, ?, ?) ON CONFLICT(room_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at",
		roomID, document.Content, time.Now().UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to save document")
		return err
	}
	log.Debug("Document saved successfully")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return core.ErrInvalidRoomID
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (room_id, last_active) VALUES (?, ?) ON CONFLICT(room_id) DO UPDATE SET last_active = excluded.last_active",
		roomID, time.Now().UnixMilli())
	return err
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT room_id, last_active FROM rooms ORDER BY last_active DESC, room_id ASC")
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close room rows")
		}
	}()

	var rooms []core.Room
	for rows.Next() {
		var room core.Room
		if err := rows.Scan(&room.ID, &room.LastActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// CreateSnapshot stores a named copy of content, dropping the room's oldest
// snapshots beyond core.MaxSnapshotsPerRoom.
func (s *documentStore) CreateSnapshot(ctx context.Context, roomID, name, createdBy, content string) (string, error) {
	id := ulid.Make().String()
	log := logrus.WithFields(logrus.Fields{
		"snapshot_id": id,
		"room_id":     roomID,
		"data_length": len(content),
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO snapshots (id, room_id, name, created_by, created_at, content) VALUES (?, ?, ?, ?, ?, ?)",
		id, roomID, name, createdBy, int64(ulid.Now()), content)
	if err != nil {
		log.WithError(err).Error("Failed to create snapshot")
		return "", err
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM snapshots WHERE room_id = ? AND id NOT IN (SELECT id FROM snapshots WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT ?)",
		roomID, roomID, core.MaxSnapshotsPerRoom)
	if err != nil {
		log.WithError(err).Error("Failed to trim old snapshots")
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	log.Info("Snapshot created successfully")
	return id, nil
}

func (s *documentStore) ListSnapshots(ctx context.Context, roomID string) ([]core.Snapshot, error) {
	log := logrus.WithField("room_id", roomID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, room_id, name, created_by, created_at FROM snapshots WHERE room_id = ? ORDER BY created_at DESC, id DESC",
		roomID)
	if err != nil {
		log.WithError(err).Error("Failed to list snapshots")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close snapshot rows")
		}
	}()

	var snapshots []core.Snapshot
	for rows.Next() {
		var snapshot core.Snapshot
		var name, createdBy sql.NullString
		if err := rows.Scan(&snapshot.ID, &snapshot.RoomID, &name, &createdBy, &snapshot.CreatedAt); err != nil {
			log.WithError(err).Error("Failed to scan snapshot")
			continue
		}
		snapshot.Name = name.String
		snapshot.CreatedBy = createdBy.String
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func (s *documentStore) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	var snapshot core.Snapshot
	var name, createdBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, room_id, name, created_by, created_at, content FROM snapshots WHERE id = ?",
		id).Scan(&snapshot.ID, &snapshot.RoomID, &name, &createdBy, &snapshot.CreatedAt, &snapshot.Content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("snapshot %s: %w", id, core.ErrSnapshotNotFound)
		}
		logrus.WithError(err).WithField("snapshot_id", id).Error("Failed to retrieve snapshot")
		return nil, err
	}
	snapshot.Name = name.String
	snapshot.CreatedBy = createdBy.String
	return &snapshot, nil
}

func (s *documentStore) DeleteSnapshot(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		logrus.WithError(err).WithField("snapshot_id", id).Error("Failed to delete snapshot")
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("snapshot %s: %w", id, core.ErrSnapshotNotFound)
	}
	return nil
}
