package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"studynotes-server/core"
)

type staticActive map[string]int

func (s staticActive) ActiveRooms() map[string]int { return s }

type mockIndex struct {
	rooms []core.Room
	err   error
}

func (m *mockIndex) ListRooms(ctx context.Context) ([]core.Room, error) {
	return m.rooms, m.err
}

func (m *mockIndex) TouchRoom(ctx context.Context, roomID string) error {
	return nil
}

func decodeRooms(t *testing.T, rec *httptest.ResponseRecorder) []RoomInfo {
	t.Helper()
	var got []RoomInfo
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return got
}

func ids(rooms []RoomInfo) []string {
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.ID)
	}
	return out
}

func TestHandleList_MergesAndSorts(t *testing.T) {
	active := staticActive{"live-a": 1, "live-b": 3}
	index := &mockIndex{rooms: []core.Room{
		{ID: "live-a", LastActive: 50},
		{ID: "old", LastActive: 10},
		{ID: "recent", LastActive: 90},
	}}
	rec := httptest.NewRecorder()

	HandleList(active, index)(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	got := decodeRooms(t, rec)
	want := []string{"live-b", "live-a", "recent", "old"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Errorf("room order = %v, want %v", ids(got), want)
	}
	if got[1].LastActive == nil || *got[1].LastActive != 50 {
		t.Errorf("live-a lastActive = %v, want 50", got[1].LastActive)
	}
	if got[0].LastActive != nil {
		t.Errorf("live-b lastActive = %v, want none", *got[0].LastActive)
	}
}

func TestHandleList_IndexFailureStillListsLiveRooms(t *testing.T) {
	rec := httptest.NewRecorder()

	HandleList(staticActive{"r1": 2}, &mockIndex{err: errors.New("db down")})(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	got := decodeRooms(t, rec)
	if len(got) != 1 || got[0].ID != "r1" || got[0].Users != 2 {
		t.Errorf("rooms = %+v, want only r1 with 2 users", got)
	}
}

func TestHandleList_EmptyIsArray(t *testing.T) {
	rec := httptest.NewRecorder()

	HandleList(staticActive{}, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("Body = %q, want an empty JSON array", body)
	}
}
