package collab

import (
	"context"
	"errors"
	"sort"
	"sync"

	"studynotes-server/core"

	"github.com/sirupsen/logrus"
)

var errRoomClosed = errors.New("room closed")

// Room serializes every operation on one RoomState: edits, coalescer
// transitions, save completions and broadcasts.
type Room struct {
	id    string
	store core.DocumentStore
	index core.RoomIndex
	cfg   Config
	log   *logrus.Entry

	// ready is closed once the initial load finished; loadErr is set before.
	ready   chan struct{}
	loadErr error

	mu           sync.Mutex
	state        RoomState
	saver        *coalescer
	timer        Timer
	saveDone     chan struct{}
	lastSaveErr  error
	participants map[string]Participant
	closed       bool

	// onIdle runs after a successful save leaves the room clean and empty.
	onIdle func(*Room)
}

func newRoom(id string, store core.DocumentStore, index core.RoomIndex, cfg Config) *Room {
	return &Room{
		id:           id,
		store:        store,
		index:        index,
		cfg:          cfg,
		log:          logrus.WithField("room_id", id),
		ready:        make(chan struct{}),
		state:        newRoomState(id, ""),
		saver:        newCoalescer(cfg.QuietPeriod, cfg.MaxBackoff),
		participants: make(map[string]Participant),
	}
}

func (r *Room) ID() string {
	return r.id
}

// load fills the room from storage. A missing document is an empty room.
func (r *Room) load(ctx context.Context) {
	defer close(r.ready)

	doc, err := r.store.Load(ctx, r.id)
	switch {
	case errors.Is(err, core.ErrDocumentNotFound):
		r.log.Debug("No stored document, starting empty")
	case err != nil:
		r.log.WithError(err).Error("Failed to load document")
		r.loadErr = err
		return
	default:
		r.mu.Lock()
		r.state = newRoomState(r.id, doc.Content)
		r.mu.Unlock()
		r.log.WithField("content_length", len(doc.Content)).Info("Document loaded")
	}
	r.touch(ctx)
}

func (r *Room) touch(ctx context.Context) {
	if r.index == nil {
		return
	}
	if err := r.index.TouchRoom(ctx, r.id); err != nil {
		r.log.WithError(err).Warn("Failed to touch room")
	}
}

func (r *Room) attach(p Participant) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Snapshot{}, errRoomClosed
	}
	r.participants[p.ID()] = p
	return r.state.snapshot(), nil
}

// detach returns the number of participants left.
func (r *Room) detach(participantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.participants, participantID)
	return len(r.participants)
}

func (r *Room) participantIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.snapshot()
}

// apply runs one edit end to end: overwrite, fan-out to everyone but the
// originator, then re-arm the coalescer.
func (r *Room) apply(participantID, content string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, errRoomClosed
	}

	version := r.state.apply(content)
	update := Update{RoomID: r.id, Content: content, Version: version}
	for id, p := range r.participants {
		if id != participantID {
			p.SendUpdate(update)
		}
	}

	if next, ok := r.saver.edited(version); ok {
		r.scheduleLocked(next)
	}

	r.log.WithFields(logrus.Fields{
		"participant_id": participantID,
		"version":        version,
	}).Debug("Edit applied")
	return version, nil
}

func (r *Room) scheduleLocked(next rearm) {
	if r.timer != nil {
		r.timer.Stop()
	}
	token := next.token
	r.timer = r.cfg.Clock.AfterFunc(next.delay, func() {
		r.fire(token)
	})
}

func (r *Room) fire(token saveToken) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.saver.fire(token) {
		return
	}
	r.timer = nil
	r.startSaveLocked()
}

func (r *Room) broadcastLocked(event SaveEvent, version int64) {
	status := Status{RoomID: r.id, Status: event, Version: version}
	for _, p := range r.participants {
		p.SendStatus(status)
	}
}

// startSaveLocked captures the current content and writes it in the
// background. The coalescer has already moved to saving.
func (r *Room) startSaveLocked() {
	content, version := r.state.Content, r.state.Version
	r.state.beginSave()
	r.broadcastLocked(EventSaving, version)

	done := make(chan struct{})
	r.saveDone = done
	go r.persist(content, version, done)
}

func (r *Room) persist(content string, version int64, done chan struct{}) {
	ctx := context.Background()
	if r.cfg.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SaveTimeout)
		defer cancel()
	}

	err := r.store.Save(ctx, r.id, &core.Document{Content: content})

	r.mu.Lock()
	r.lastSaveErr = err
	next, rearmed := r.saver.completed(version, r.state.Version, err)
	log := r.log.WithField("version", version)
	switch {
	case err != nil:
		r.state.saveFailed()
		r.broadcastLocked(EventSaveFailed, version)
		log.WithError(err).WithField("retry_in", next.delay).Warn("Save failed")
	case rearmed:
		r.state.saved(version)
		r.broadcastLocked(EventDirty, r.state.Version)
		log.WithField("current_version", r.state.Version).Debug("Saved stale version, re-arming")
	default:
		r.state.saved(version)
		r.broadcastLocked(EventSaved, version)
		log.Info("Document saved")
	}
	if rearmed {
		r.scheduleLocked(next)
	}
	idle := !rearmed && len(r.participants) == 0
	r.saveDone = nil
	close(done)
	r.mu.Unlock()

	if err == nil {
		r.touch(ctx)
	}
	if idle && r.onIdle != nil {
		r.onIdle(r)
	}
}

// requestSave skips the quiet period and returns a channel closed when the
// save that covers the current content resolves, or nil if the room is clean.
func (r *Room) requestSave() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saver.force() {
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
		r.startSaveLocked()
	}
	return r.saveDone
}

// Flush saves until the room is clean. It stops at the first failed save;
// the retry timer stays armed in that case.
func (r *Room) Flush(ctx context.Context) error {
	for {
		done := r.requestSave()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		r.mu.Lock()
		err := r.lastSaveErr
		r.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// retire marks an empty, clean room closed. The caller holds the registry
// lock, so no participant can attach through the registry meanwhile.
func (r *Room) retire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.participants) > 0 || r.saver.phase != phaseIdle {
		return false
	}
	r.closed = true
	return true
}
