package collab

// SaveStatus is the persistence state of a room's in-memory document.
type SaveStatus string

const (
	StatusClean  SaveStatus = "clean"
	StatusDirty  SaveStatus = "dirty"
	StatusSaving SaveStatus = "saving"
)

// RoomState is the authoritative document of one room. It is only touched
// under the owning Room's lock.
type RoomState struct {
	RoomID           string
	Content          string
	Version          int64
	Status           SaveStatus
	LastSavedVersion int64
}

// Snapshot is a read-only copy of a room's document.
type Snapshot struct {
	RoomID  string     `json:"roomId"`
	Content string     `json:"content"`
	Version int64      `json:"version"`
	Status  SaveStatus `json:"saveStatus"`
}

func newRoomState(roomID, content string) RoomState {
	return RoomState{
		RoomID:  roomID,
		Content: content,
		Status:  StatusClean,
	}
}

// apply overwrites the content with no merge against earlier edits.
func (s *RoomState) apply(content string) int64 {
	s.Content = content
	s.Version++
	s.Status = StatusDirty
	return s.Version
}

func (s *RoomState) beginSave() {
	s.Status = StatusSaving
}

// saved records a successful write of version. The room is clean only if no
// edit was applied since that version was captured.
func (s *RoomState) saved(version int64) {
	if version > s.LastSavedVersion {
		s.LastSavedVersion = version
	}
	if s.LastSavedVersion == s.Version {
		s.Status = StatusClean
	} else {
		s.Status = StatusDirty
	}
}

func (s *RoomState) saveFailed() {
	s.Status = StatusDirty
}

func (s *RoomState) snapshot() Snapshot {
	return Snapshot{
		RoomID:  s.RoomID,
		Content: s.Content,
		Version: s.Version,
		Status:  s.Status,
	}
}
