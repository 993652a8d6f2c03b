package documents

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"studynotes-server/collab"
	"studynotes-server/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Engine is what the document endpoints need from the sync engine.
type Engine interface {
	Snapshot(ctx context.Context, roomID string) (collab.Snapshot, error)
	Save(ctx context.Context, roomID string) (collab.Snapshot, error)
}

// HandleGet returns the latest content of a room without joining it.
func HandleGet(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		snap, err := engine.Snapshot(r.Context(), roomID)
		if err != nil {
			writeError(w, r, roomID, "Failed to get document", err)
			return
		}

		render.JSON(w, r, snap)
	}
}

// HandleExport sends the room's text as a downloadable file.
func HandleExport(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		snap, err := engine.Snapshot(r.Context(), roomID)
		if err != nil {
			writeError(w, r, roomID, "Failed to export document", err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		disposition := mime.FormatMediaType("attachment", map[string]string{
			"filename": fmt.Sprintf("study-notes-%s.txt", roomID),
		})
		w.Header().Set("Content-Disposition", disposition)
		if _, err := w.Write([]byte(snap.Content)); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("Failed to write export")
		}
	}
}

// HandleSave persists a live room immediately and reports the result.
func HandleSave(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		snap, err := engine.Save(r.Context(), roomID)
		if err != nil {
			writeError(w, r, roomID, "Failed to save document", err)
			return
		}

		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"version": snap.Version,
		}).Info("Document saved on request")
		render.JSON(w, r, snap)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, roomID, msg string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, core.ErrInvalidRoomID) {
		status = http.StatusBadRequest
	}

	logrus.WithFields(logrus.Fields{
		"error":   err,
		"room_id": roomID,
	}).Error(msg)
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
