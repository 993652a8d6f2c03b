package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"studynotes-server/core"

	"github.com/sirupsen/logrus"
)

const (
	fileExt = ".txt"
	tmpExt  = ".tmp"
)

type documentStore struct {
	basePath string
}

// Store keeps one text file per room. The file's modification time doubles
// as the room's last activity.
type Store interface {
	core.DocumentStore
	core.RoomIndex
}

func NewDocumentStore(basePath string) Store {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		logrus.WithError(err).WithField("base_path", basePath).Fatal("Failed to create base directory")
	}
	return &documentStore{basePath: basePath}
}

func (s *documentStore) path(roomID string) (string, error) {
	if !core.ValidRoomID(roomID) {
		return "", core.ErrInvalidRoomID
	}
	return filepath.Join(s.basePath, core.RoomKey(roomID)+fileExt), nil
}

func (s *documentStore) Load(ctx context.Context, roomID string) (*core.Document, error) {
	filePath, err := s.path(roomID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"room_id": roomID, "file_path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("No document stored for room")
			return nil, fmt.Errorf("room %s: %w", roomID, core.ErrDocumentNotFound)
		}
		log.WithError(err).Error("Failed to read document")
		return nil, err
	}

	doc := &core.Document{Content: string(data)}
	if info, err := os.Stat(filePath); err == nil {
		doc.UpdatedAt = info.ModTime()
	}
	log.Debug("Document retrieved successfully")
	return doc, nil
}

// Save writes to a temp file and renames it so readers never see a partial
// document.
func (s *documentStore) Save(ctx context.Context, roomID string, document *core.Document) error {
	filePath, err := s.path(roomID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"room_id": roomID, "file_path": filePath})

	tmp, err := os.CreateTemp(s.basePath, "save-*"+tmpExt)
	if err != nil {
		log.WithError(err).Error("Failed to create temp file")
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(document.Content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		log.WithError(err).Error("Failed to write document")
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		log.WithError(err).Error("Failed to replace document")
		return err
	}

	log.WithField("data_length", len(document.Content)).Debug("Document saved successfully")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if !core.ValidRoomID(roomID) {
		return core.ErrInvalidRoomID
	}
	return nil
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	rooms := make([]core.Room, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, tmpExt) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		roomID, err := core.RoomIDFromKey(strings.TrimSuffix(name, fileExt))
		if err != nil {
			logrus.WithError(err).Warnf("Unexpected file name %s, skipping", name)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logrus.WithError(err).Warnf("Failed to stat %s, skipping", name)
			continue
		}
		rooms = append(rooms, core.Room{
			ID:         roomID,
			LastActive: info.ModTime().UnixMilli(),
		})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})
	return rooms, nil
}
