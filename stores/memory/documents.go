package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"studynotes-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type documentStore struct {
	mu        sync.RWMutex
	documents map[string]core.Document
	rooms     map[string]int64
	snapshots map[string]core.Snapshot
}

// Store is the in-memory backend. It keeps documents, room activity and
// snapshots until the process exits.
type Store interface {
	core.DocumentStore
	core.RoomIndex
	core.SnapshotStore
}

func NewDocumentStore() Store {
	return &documentStore{
		documents: make(map[string]core.Document),
		rooms:     make(map[string]int64),
		snapshots: make(map[string]core.Snapshot),
	}
}

func (s *documentStore) Load(ctx context.Context, roomID string) (*core.Document, error) {
	log := logrus.WithField("room_id", roomID)

	s.mu.RLock()
	doc, ok := s.documents[roomID]
	s.mu.RUnlock()

	if ok {
		log.Debug("Document retrieved successfully")
		return &doc, nil
	}

	log.Debug("No document stored for room")
	return nil, fmt.Errorf("room %s: %w", roomID, core.ErrDocumentNotFound)
}

func (s *documentStore) Save(ctx context.Context, roomID string, document *core.Document) error {
	if roomID == "" {
		return core.ErrInvalidRoomID
	}

	doc := core.Document{Content: document.Content, UpdatedAt: time.Now()}
	s.mu.Lock()
	s.documents[roomID] = doc
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"room_id":     roomID,
		"data_length": len(doc.Content),
	}).Debug("Document saved successfully")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return core.ErrInvalidRoomID
	}

	s.mu.Lock()
	s.rooms[roomID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})

	return rooms, nil
}

func (s *documentStore) CreateSnapshot(ctx context.Context, roomID, name, createdBy, content string) (string, error) {
	if roomID == "" {
		return "", core.ErrInvalidRoomID
	}

	id := ulid.Make().String()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.roomSnapshotsLocked(roomID)
	for len(existing) >= core.MaxSnapshotsPerRoom {
		delete(s.snapshots, existing[len(existing)-1].ID)
		existing = existing[:len(existing)-1]
	}

	s.snapshots[id] = core.Snapshot{
		ID:        id,
		RoomID:    roomID,
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: int64(ulid.Now()),
		Content:   content,
	}

	logrus.WithFields(logrus.Fields{
		"snapshot_id": id,
		"room_id":     roomID,
	}).Info("Snapshot created successfully")
	return id, nil
}

// roomSnapshotsLocked returns a room's snapshots, newest first.
func (s *documentStore) roomSnapshotsLocked(roomID string) []core.Snapshot {
	var out []core.Snapshot
	for _, snap := range s.snapshots {
		if snap.RoomID == roomID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

func (s *documentStore) ListSnapshots(ctx context.Context, roomID string) ([]core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.roomSnapshotsLocked(roomID)
	for i := range snaps {
		snaps[i].Content = ""
	}
	return snaps, nil
}

func (s *documentStore) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	s.mu.RLock()
	snap, ok := s.snapshots[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", id, core.ErrSnapshotNotFound)
	}
	return &snap, nil
}

func (s *documentStore) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[id]; !ok {
		return fmt.Errorf("snapshot %s: %w", id, core.ErrSnapshotNotFound)
	}
	delete(s.snapshots, id)
	return nil
}
