package core

import (
	"context"
	"errors"
	"net/url"
	"time"
	"unicode/utf8"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidRoomID    = errors.New("invalid room id")
)

type (
	// Document is the persisted text of one room.
	Document struct {
		Content   string
		UpdatedAt time.Time
	}

	// DocumentStore is the storage collaborator of the sync engine. Save may be
	// called with content that has since been superseded; callers reconcile
	// versions themselves.
	DocumentStore interface {
		Load(ctx context.Context, roomID string) (*Document, error)
		Save(ctx context.Context, roomID string, document *Document) error
	}

	Room struct {
		ID         string
		LastActive int64
	}

	// RoomIndex records when rooms were last active. Stores implement it
	// optionally.
	RoomIndex interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
	}

	Snapshot struct {
		ID        string `json:"id"`
		RoomID    string `json:"room_id"`
		Name      string `json:"name"`
		CreatedBy string `json:"created_by"`
		CreatedAt int64  `json:"created_at"`
		Content   string `json:"content,omitempty"`
	}

	// SnapshotStore keeps named copies of a room's document.
	SnapshotStore interface {
		CreateSnapshot(ctx context.Context, roomID, name, createdBy, content string) (string, error)
		ListSnapshots(ctx context.Context, roomID string) ([]Snapshot, error)
		GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
		DeleteSnapshot(ctx context.Context, id string) error
	}
)

// MaxSnapshotsPerRoom bounds how many snapshots a room keeps; the oldest is
// dropped when a new one would exceed it.
const MaxSnapshotsPerRoom = 10

// MaxRoomIDLength bounds room ids in bytes. Escaped for a file name, the
// longest id still fits the usual 255 byte limit.
const MaxRoomIDLength = 80

// ValidRoomID reports whether id can be used as a room key. Room ids are
// opaque; stores that need path-safe names escape them with RoomKey.
func ValidRoomID(id string) bool {
	return id != "" && len(id) <= MaxRoomIDLength && utf8.ValidString(id)
}

// RoomKey escapes a room id into a single path segment.
func RoomKey(id string) string {
	return url.PathEscape(id)
}

// RoomIDFromKey reverses RoomKey.
func RoomIDFromKey(key string) (string, error) {
	return url.PathUnescape(key)
}
