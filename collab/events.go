package collab

// SaveEvent is broadcast to every participant of a room when a save starts
// or resolves. EventDirty follows a save that landed while newer edits were
// already waiting.
type SaveEvent string

const (
	EventSaving     SaveEvent = "saving"
	EventSaved      SaveEvent = "saved"
	EventSaveFailed SaveEvent = "save-failed"
	EventDirty      SaveEvent = "dirty"
)

type (
	Update struct {
		RoomID  string `json:"roomId"`
		Content string `json:"content"`
		Version int64  `json:"version"`
	}

	Status struct {
		RoomID  string    `json:"roomId"`
		Status  SaveEvent `json:"status"`
		Version int64     `json:"version"`
	}

	// Participant receives a room's broadcasts. Deliveries happen inside the
	// room's critical section, in the order edits were applied, so
	// implementations must not block or call back into the engine.
	Participant interface {
		ID() string
		SendUpdate(u Update)
		SendStatus(s Status)
	}
)
