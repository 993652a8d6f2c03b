package collab

import (
	"context"
	"errors"
	"sync"

	"studynotes-server/core"

	"github.com/sirupsen/logrus"
)

// Registry maps room ids to live rooms. Its lock guards the map only.
type Registry struct {
	store core.DocumentStore
	index core.RoomIndex
	cfg   Config

	mu    sync.Mutex
	rooms map[string]*Room
	// closing stops new evictions once FlushAll has started waiting on wg.
	closing bool
	wg      sync.WaitGroup
}

func NewRegistry(store core.DocumentStore, cfg Config) *Registry {
	reg := &Registry{
		store: store,
		cfg:   cfg.withDefaults(),
		rooms: make(map[string]*Room),
	}
	if index, ok := store.(core.RoomIndex); ok {
		reg.index = index
	}
	return reg
}

// getOrCreate returns the live room, loading it from storage on first use.
// Concurrent callers share one load.
func (reg *Registry) getOrCreate(ctx context.Context, roomID string) (*Room, error) {
	if !core.ValidRoomID(roomID) {
		return nil, core.ErrInvalidRoomID
	}

	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if !ok {
		room = newRoom(roomID, reg.store, reg.index, reg.cfg)
		room.onIdle = reg.releaseAsync
		reg.rooms[roomID] = room
	}
	reg.mu.Unlock()

	if !ok {
		room.load(context.WithoutCancel(ctx))
		if room.loadErr != nil {
			reg.mu.Lock()
			if reg.rooms[roomID] == room {
				delete(reg.rooms, roomID)
			}
			reg.mu.Unlock()
		}
	}

	select {
	case <-room.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if room.loadErr != nil {
		return nil, room.loadErr
	}
	return room, nil
}

// lookup returns the live room or nil without loading anything.
func (reg *Registry) lookup(roomID string) *Room {
	reg.mu.Lock()
	room := reg.rooms[roomID]
	reg.mu.Unlock()

	if room == nil {
		return nil
	}
	<-room.ready
	if room.loadErr != nil {
		return nil
	}
	return room
}

// withRoom runs fn against the live room, retrying when fn races with the
// room being retired.
func (reg *Registry) withRoom(ctx context.Context, roomID string, fn func(*Room) error) error {
	for {
		room, err := reg.getOrCreate(ctx, roomID)
		if err != nil {
			return err
		}
		err = fn(room)
		if !errors.Is(err, errRoomClosed) {
			return err
		}
	}
}

func (reg *Registry) releaseAsync(room *Room) {
	reg.mu.Lock()
	if reg.closing {
		reg.mu.Unlock()
		logrus.WithField("room_id", room.id).Debug("Shutting down, room stays live")
		return
	}
	reg.wg.Add(1)
	reg.mu.Unlock()

	go func() {
		defer reg.wg.Done()
		reg.release(room)
	}()
}

// release flushes the room and drops it if it is still empty and clean.
func (reg *Registry) release(room *Room) {
	log := logrus.WithField("room_id", room.id)
	if err := room.Flush(context.Background()); err != nil {
		log.WithError(err).Warn("Flush before eviction failed, keeping room")
		return
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.rooms[room.id] != room || !room.retire() {
		return
	}
	delete(reg.rooms, room.id)
	log.Info("Room evicted")
}

// ActiveRooms returns the participant count of every live room.
func (reg *Registry) ActiveRooms() map[string]int {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.Unlock()

	counts := make(map[string]int, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		counts[room.id] = len(room.participants)
		room.mu.Unlock()
	}
	return counts
}

// FlushAll saves every dirty room and waits for background evictions.
// Rooms that go idle afterwards are no longer evicted.
func (reg *Registry) FlushAll(ctx context.Context) error {
	reg.mu.Lock()
	reg.closing = true
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.Unlock()

	var errs []error
	for _, room := range rooms {
		select {
		case <-room.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		if room.loadErr != nil {
			continue
		}
		if err := room.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		reg.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
