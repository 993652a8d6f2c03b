package collab

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studynotes-server/core"
)

// fakeClock records timers and fires them only when told to.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// active returns the timers that are neither stopped nor fired.
func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireAll runs every active timer and returns how many fired.
func (c *fakeClock) fireAll() int {
	timers := c.active()
	c.mu.Lock()
	for _, t := range timers {
		t.fired = true
	}
	c.mu.Unlock()
	for _, t := range timers {
		t.f()
	}
	return len(timers)
}

type saveCall struct {
	roomID  string
	content string
}

// fakeStore is an in-memory DocumentStore with failure injection and an
// optional gate that holds saves until released.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]string
	saves    []saveCall
	failNext int
	loadErr  error
	gate     chan struct{}
	latency  time.Duration

	inFlight    int32
	maxInFlight int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]string)}
}

func (s *fakeStore) Load(ctx context.Context, roomID string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	content, ok := s.docs[roomID]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	return &core.Document{Content: content}, nil
}

func (s *fakeStore) Save(ctx context.Context, roomID string, doc *core.Document) error {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		max := atomic.LoadInt32(&s.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxInFlight, max, n) {
			break
		}
	}

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, saveCall{roomID: roomID, content: doc.Content})
	if s.failNext > 0 {
		s.failNext--
		return errors.New("storage unavailable")
	}
	s.docs[roomID] = doc.Content
	return nil
}

func (s *fakeStore) saveCalls() []saveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]saveCall, len(s.saves))
	copy(out, s.saves)
	return out
}

func (s *fakeStore) hold() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

func (s *fakeStore) unhold(gate chan struct{}) {
	s.mu.Lock()
	s.gate = nil
	s.mu.Unlock()
	close(gate)
}

// recorder is a Participant that keeps everything it receives.
type recorder struct {
	id string

	mu       sync.Mutex
	updates  []Update
	statuses []SaveEvent
}

func newRecorder(id string) *recorder {
	return &recorder{id: id}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) SendUpdate(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) SendStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s.Status)
}

func (r *recorder) gotUpdates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *recorder) gotStatuses() []SaveEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SaveEvent, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func newTestEngine(t *testing.T, store *fakeStore) (*Engine, *Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	reg := NewRegistry(store, Config{
		QuietPeriod: 2 * time.Second,
		MaxBackoff:  16 * time.Second,
		Clock:       clock,
	})
	return NewEngine(reg), reg, clock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func roomPhase(r *Room) savePhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saver.phase
}

func roomState(r *Room) RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
