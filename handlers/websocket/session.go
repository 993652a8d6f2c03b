package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"studynotes-server/collab"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

const (
	eventJoin       = "join-room"
	eventLeave      = "leave-room"
	eventUpdate     = "document-update"
	eventSave       = "document-save"
	eventStatus     = "document-status"
	eventUserChange = "room-user-change"

	requestTimeout = 30 * time.Second
)

var (
	errMissingPayload = errors.New("payload is required")
	errMissingRoomID  = errors.New("room id is required")
	errMissingContent = errors.New("content is required")
)

// Engine is the part of the sync engine a session talks to.
type Engine interface {
	Join(ctx context.Context, roomID string, p collab.Participant) (collab.Snapshot, error)
	Leave(roomID, participantID string)
	ApplyEdit(ctx context.Context, roomID, participantID, content string) (int64, error)
	Save(ctx context.Context, roomID string) (collab.Snapshot, error)
	Participants(roomID string) []string
}

// transport is what a session needs from its socket.
type transport interface {
	Emit(event string, args ...any) error
	EmitToRoom(roomID, event string, args ...any) error
	JoinRoom(roomID string)
	LeaveRoom(roomID string)
}

type roomMessage struct {
	RoomID string `mapstructure:"roomId"`
}

type editMessage struct {
	RoomID  string  `mapstructure:"roomId"`
	Content *string `mapstructure:"content"`
}

// session adapts one socket to the engine. It owns no document state.
type session struct {
	id     string
	engine Engine
	out    transport
	log    *logrus.Entry

	// mu serializes every emit to the socket and guards rooms.
	mu    sync.Mutex
	rooms map[string]*roomBuffer
}

// roomBuffer holds updates that arrive between attaching to a room and
// sending the join snapshot, so the client never sees them out of order.
type roomBuffer struct {
	joining bool
	queued  []collab.Update
}

func newSession(id string, engine Engine, out transport) *session {
	return &session{
		id:     id,
		engine: engine,
		out:    out,
		log:    logrus.WithField("participant_id", id),
		rooms:  make(map[string]*roomBuffer),
	}
}

func (s *session) ID() string {
	return s.id
}

func (s *session) SendUpdate(u collab.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if buf, ok := s.rooms[u.RoomID]; ok && buf.joining {
		buf.queued = append(buf.queued, u)
		return
	}
	s.emitLocked(eventUpdate, u)
}

func (s *session) SendStatus(st collab.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(eventStatus, st)
}

func (s *session) emitLocked(event string, payload any) {
	if err := s.out.Emit(event, payload); err != nil {
		s.log.WithError(err).WithField("event", event).Warn("Failed to emit")
	}
}

func (s *session) joined(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// dispatch routes one inbound socket event.
func (s *session) dispatch(event string, datas []any) {
	ack, args := extractAck(datas)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch event {
	case eventJoin:
		s.handleJoin(ctx, ack, args)
	case eventUpdate:
		s.handleEdit(ctx, ack, args)
	case eventSave:
		s.handleSave(ctx, ack, args)
	case eventLeave:
		s.handleLeave(ack, args)
	default:
		s.log.WithField("event", event).Warn("Unknown event")
	}
}

func decodeMessage(args []any, out any) error {
	if len(args) == 0 || args[0] == nil {
		return errMissingPayload
	}
	input := args[0]
	if roomID, ok := input.(string); ok {
		input = map[string]any{"roomId": roomID}
	}
	return mapstructure.Decode(input, out)
}

func (s *session) handleJoin(ctx context.Context, ack ackInvoker, args []any) {
	var msg roomMessage
	if err := decodeMessage(args, &msg); err != nil || msg.RoomID == "" {
		s.fail(ack, eventJoin+"-ack", orDefault(err, errMissingRoomID))
		return
	}

	snap, err := s.join(ctx, msg.RoomID, true)
	if err != nil {
		s.fail(ack, eventJoin+"-ack", err)
		return
	}

	// Rooms call into the session under their own lock, so never ask the
	// engine anything while holding s.mu.
	participants := s.engine.Participants(msg.RoomID)

	s.mu.Lock()
	payload := map[string]any{
		"status":       "ok",
		"roomId":       snap.RoomID,
		"content":      snap.Content,
		"version":      snap.Version,
		"saveStatus":   string(snap.Status),
		"participants": participants,
	}
	respondLocked(s, ack, eventJoin+"-ack", payload, nil)
	if buf, ok := s.rooms[msg.RoomID]; ok {
		for _, u := range buf.queued {
			if u.Version > snap.Version {
				s.emitLocked(eventUpdate, u)
			}
		}
		buf.queued = nil
		buf.joining = false
	}
	s.mu.Unlock()

	s.broadcastPresence(msg.RoomID)
}

// join attaches the session to a room. With buffered set, updates are held
// until the caller has sent the snapshot.
func (s *session) join(ctx context.Context, roomID string, buffered bool) (collab.Snapshot, error) {
	s.mu.Lock()
	if _, ok := s.rooms[roomID]; !ok {
		s.rooms[roomID] = &roomBuffer{}
	}
	s.rooms[roomID].joining = buffered
	s.mu.Unlock()

	snap, err := s.engine.Join(ctx, roomID, s)
	if err != nil {
		s.mu.Lock()
		delete(s.rooms, roomID)
		s.mu.Unlock()
		s.log.WithError(err).WithField("room_id", roomID).Warn("Join failed")
		return collab.Snapshot{}, err
	}
	s.out.JoinRoom(roomID)
	return snap, nil
}

func (s *session) handleEdit(ctx context.Context, ack ackInvoker, args []any) {
	var msg editMessage
	err := decodeMessage(args, &msg)
	switch {
	case err != nil:
	case msg.RoomID == "":
		err = errMissingRoomID
	case msg.Content == nil:
		err = errMissingContent
	}
	if err != nil {
		s.fail(ack, "", err)
		return
	}

	if !s.joined(msg.RoomID) {
		// Edits can overtake their join; attach without sending a snapshot
		// that would clobber the client's newer text.
		if _, err := s.join(ctx, msg.RoomID, false); err != nil {
			s.fail(ack, "", err)
			return
		}
		s.broadcastPresence(msg.RoomID)
	}

	version, err := s.engine.ApplyEdit(ctx, msg.RoomID, s.id, *msg.Content)
	if err != nil {
		s.log.WithError(err).WithField("room_id", msg.RoomID).Error("Failed to apply edit")
		s.fail(ack, "", err)
		return
	}
	s.respond(ack, "", map[string]any{"status": "ok", "version": version}, nil)
}

func (s *session) handleSave(ctx context.Context, ack ackInvoker, args []any) {
	var msg roomMessage
	if err := decodeMessage(args, &msg); err != nil || msg.RoomID == "" {
		s.fail(ack, eventSave+"-ack", orDefault(err, errMissingRoomID))
		return
	}

	snap, err := s.engine.Save(ctx, msg.RoomID)
	payload := map[string]any{
		"status":     "ok",
		"roomId":     msg.RoomID,
		"version":    snap.Version,
		"saveStatus": string(snap.Status),
	}
	if err != nil {
		payload["status"] = "error"
		payload["error"] = err.Error()
	}
	s.respond(ack, eventSave+"-ack", payload, err)
}

func (s *session) handleLeave(ack ackInvoker, args []any) {
	var msg roomMessage
	if err := decodeMessage(args, &msg); err != nil || msg.RoomID == "" {
		s.fail(ack, eventLeave+"-ack", orDefault(err, errMissingRoomID))
		return
	}

	s.leave(msg.RoomID)
	s.respond(ack, eventLeave+"-ack", map[string]any{"status": "ok", "roomId": msg.RoomID}, nil)
}

func (s *session) leave(roomID string) {
	s.mu.Lock()
	_, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.engine.Leave(roomID, s.id)
	s.out.LeaveRoom(roomID)
	s.broadcastPresence(roomID)
}

// close detaches the session from every room it joined.
func (s *session) close() {
	s.mu.Lock()
	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	s.mu.Unlock()

	sort.Strings(rooms)
	for _, id := range rooms {
		s.leave(id)
	}
}

func (s *session) broadcastPresence(roomID string) {
	participants := s.engine.Participants(roomID)
	if len(participants) == 0 {
		return
	}
	if err := s.out.EmitToRoom(roomID, eventUserChange, participants); err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Warn("Failed to emit presence")
	}
}

func (s *session) respond(ack ackInvoker, event string, payload map[string]any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	respondLocked(s, ack, event, payload, err)
}

func respondLocked(s *session, ack ackInvoker, event string, payload map[string]any, err error) {
	if ack != nil {
		ack(err, payload)
	}
	if event != "" {
		s.emitLocked(event, payload)
	}
}

func (s *session) fail(ack ackInvoker, event string, err error) {
	s.respond(ack, event, map[string]any{
		"status": "error",
		"error":  err.Error(),
	}, err)
}

func orDefault(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
