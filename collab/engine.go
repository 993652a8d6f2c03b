package collab

import (
	"context"
	"errors"
	"fmt"

	"studynotes-server/core"

	"github.com/sirupsen/logrus"
)

// Engine applies edits to rooms and fans them out to participants.
type Engine struct {
	rooms *Registry
	store core.DocumentStore
}

func NewEngine(rooms *Registry) *Engine {
	return &Engine{rooms: rooms, store: rooms.store}
}

// Join attaches p to the room and returns the room's latest content.
func (e *Engine) Join(ctx context.Context, roomID string, p Participant) (Snapshot, error) {
	var snap Snapshot
	err := e.rooms.withRoom(ctx, roomID, func(room *Room) error {
		var err error
		snap, err = room.attach(p)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}

	logrus.WithFields(logrus.Fields{
		"room_id":        roomID,
		"participant_id": p.ID(),
		"version":        snap.Version,
	}).Info("Participant joined")
	return snap, nil
}

// Leave detaches a participant. The last one out triggers a flush and
// eviction in the background.
func (e *Engine) Leave(roomID, participantID string) {
	room := e.rooms.lookup(roomID)
	if room == nil {
		return
	}

	remaining := room.detach(participantID)
	logrus.WithFields(logrus.Fields{
		"room_id":        roomID,
		"participant_id": participantID,
		"remaining":      remaining,
	}).Info("Participant left")

	if remaining == 0 {
		e.rooms.releaseAsync(room)
	}
}

// ApplyEdit replaces the room's content with content. Edits for a room that
// is not live load it first instead of failing.
func (e *Engine) ApplyEdit(ctx context.Context, roomID, participantID, content string) (int64, error) {
	var version int64
	err := e.rooms.withRoom(ctx, roomID, func(room *Room) error {
		var err error
		version, err = room.apply(participantID, content)
		return err
	})
	return version, err
}

// Snapshot returns the live content of a room, or the stored document when
// nobody has the room open.
func (e *Engine) Snapshot(ctx context.Context, roomID string) (Snapshot, error) {
	if !core.ValidRoomID(roomID) {
		return Snapshot{}, core.ErrInvalidRoomID
	}
	if room := e.rooms.lookup(roomID); room != nil {
		return room.snapshot(), nil
	}

	doc, err := e.store.Load(ctx, roomID)
	if errors.Is(err, core.ErrDocumentNotFound) {
		return Snapshot{RoomID: roomID, Status: StatusClean}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return Snapshot{RoomID: roomID, Content: doc.Content, Status: StatusClean}, nil
}

// Save persists a live room now instead of waiting for the quiet period.
func (e *Engine) Save(ctx context.Context, roomID string) (Snapshot, error) {
	room := e.rooms.lookup(roomID)
	if room == nil {
		return e.Snapshot(ctx, roomID)
	}
	if err := room.Flush(ctx); err != nil {
		return room.snapshot(), err
	}
	return room.snapshot(), nil
}

// Participants lists the ids attached to a live room.
func (e *Engine) Participants(roomID string) []string {
	room := e.rooms.lookup(roomID)
	if room == nil {
		return nil
	}
	return room.participantIDs()
}

func (e *Engine) ActiveRooms() map[string]int {
	return e.rooms.ActiveRooms()
}

// Close flushes every room.
func (e *Engine) Close(ctx context.Context) error {
	return e.rooms.FlushAll(ctx)
}
