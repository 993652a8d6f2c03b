package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"studynotes-server/collab"
	"studynotes-server/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	CreateSnapshotRequest struct {
		Name      string `json:"name"`
		CreatedBy string `json:"created_by"`
	}

	CreateSnapshotResponse struct {
		ID string `json:"id"`
	}

	RestoreSnapshotResponse struct {
		RoomID  string `json:"roomId"`
		Version int64  `json:"version"`
	}

	// Engine is what the snapshot endpoints need from the sync engine.
	Engine interface {
		Snapshot(ctx context.Context, roomID string) (collab.Snapshot, error)
		ApplyEdit(ctx context.Context, roomID, participantID, content string) (int64, error)
	}
)

// HandleCreateSnapshot captures the room's current content under a name.
func HandleCreateSnapshot(store core.SnapshotStore, engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		var req CreateSnapshotRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				logrus.WithField("error", err).Error("Failed to decode request")
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
		}

		live, err := engine.Snapshot(r.Context(), roomID)
		if err != nil {
			if errors.Is(err, core.ErrInvalidRoomID) {
				http.Error(w, "Invalid room id", http.StatusBadRequest)
				return
			}
			logrus.WithFields(logrus.Fields{"error": err, "room_id": roomID}).Error("Failed to read room content")
			http.Error(w, "Failed to create snapshot", http.StatusInternalServerError)
			return
		}

		id, err := store.CreateSnapshot(r.Context(), roomID, req.Name, req.CreatedBy, live.Content)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "room_id": roomID}).Error("Failed to create snapshot")
			http.Error(w, "Failed to create snapshot", http.StatusInternalServerError)
			return
		}

		logrus.WithFields(logrus.Fields{
			"room_id":     roomID,
			"snapshot_id": id,
			"version":     live.Version,
		}).Info("Snapshot created")
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateSnapshotResponse{ID: id})
	}
}

// HandleListSnapshots lists a room's snapshots, newest first, without content.
func HandleListSnapshots(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		snapshots, err := store.ListSnapshots(r.Context(), roomID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list snapshots")
			http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
			return
		}

		if snapshots == nil {
			snapshots = []core.Snapshot{}
		}

		render.JSON(w, r, snapshots)
	}
}

// HandleGetSnapshotCount returns the count of snapshots for a room
func HandleGetSnapshotCount(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		snapshots, err := store.ListSnapshots(r.Context(), roomID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list snapshots")
			http.Error(w, "Failed to get snapshot count", http.StatusInternalServerError)
			return
		}

		render.JSON(w, r, map[string]int{"count": len(snapshots)})
	}
}

// HandleGetSnapshot retrieves a specific snapshot
func HandleGetSnapshot(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshotID := chi.URLParam(r, "snapshotId")

		snapshot, err := store.GetSnapshot(r.Context(), snapshotID)
		if err != nil {
			writeLookupError(w, snapshotID, "Failed to get snapshot", err)
			return
		}

		render.JSON(w, r, snapshot)
	}
}

// HandleDeleteSnapshot deletes a snapshot
func HandleDeleteSnapshot(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshotID := chi.URLParam(r, "snapshotId")

		if err := store.DeleteSnapshot(r.Context(), snapshotID); err != nil {
			writeLookupError(w, snapshotID, "Failed to delete snapshot", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRestoreSnapshot writes the snapshot's content back into its room as
// an ordinary edit, so connected participants receive it and the save
// coalescer persists it.
func HandleRestoreSnapshot(store core.SnapshotStore, engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshotID := chi.URLParam(r, "snapshotId")

		snapshot, err := store.GetSnapshot(r.Context(), snapshotID)
		if err != nil {
			writeLookupError(w, snapshotID, "Failed to get snapshot", err)
			return
		}

		version, err := engine.ApplyEdit(r.Context(), snapshot.RoomID, "snapshot:"+snapshot.ID, snapshot.Content)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"room_id":     snapshot.RoomID,
				"snapshot_id": snapshotID,
			}).Error("Failed to restore snapshot")
			http.Error(w, "Failed to restore snapshot", http.StatusInternalServerError)
			return
		}

		logrus.WithFields(logrus.Fields{
			"room_id":     snapshot.RoomID,
			"snapshot_id": snapshotID,
			"version":     version,
		}).Info("Snapshot restored")
		render.JSON(w, r, RestoreSnapshotResponse{RoomID: snapshot.RoomID, Version: version})
	}
}

func writeLookupError(w http.ResponseWriter, snapshotID, msg string, err error) {
	if errors.Is(err, core.ErrSnapshotNotFound) {
		http.Error(w, "Snapshot not found", http.StatusNotFound)
		return
	}
	logrus.WithFields(logrus.Fields{"error": err, "snapshot_id": snapshotID}).Error(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}
