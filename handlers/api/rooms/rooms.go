package rooms

import (
	"context"
	"net/http"
	"sort"

	"studynotes-server/core"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// ActiveRooms reports participant counts of live rooms.
type ActiveRooms interface {
	ActiveRooms() map[string]int
}

type RoomInfo struct {
	ID         string `json:"id"`
	Users      int    `json:"users"`
	LastActive *int64 `json:"lastActive,omitempty"`
}

// HandleList merges live rooms with the rooms the store remembers. Busy rooms
// come first, then the most recently active.
func HandleList(active ActiveRooms, index core.RoomIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, listRooms(r.Context(), active, index))
	}
}

func listRooms(ctx context.Context, active ActiveRooms, index core.RoomIndex) []RoomInfo {
	roomMap := make(map[string]*RoomInfo)
	for id, count := range active.ActiveRooms() {
		roomMap[id] = &RoomInfo{ID: id, Users: count}
	}

	if index != nil {
		if storedRooms, err := index.ListRooms(ctx); err != nil {
			logrus.WithError(err).Warn("failed to list rooms from index")
		} else {
			for _, room := range storedRooms {
				entry, exists := roomMap[room.ID]
				if !exists {
					entry = &RoomInfo{ID: room.ID}
					roomMap[room.ID] = entry
				}
				if room.LastActive > 0 {
					lastActive := room.LastActive
					entry.LastActive = &lastActive
				}
			}
		}
	}

	roomList := make([]RoomInfo, 0, len(roomMap))
	for _, entry := range roomMap {
		roomList = append(roomList, *entry)
	}

	sort.Slice(roomList, func(i, j int) bool {
		if roomList[i].Users != roomList[j].Users {
			return roomList[i].Users > roomList[j].Users
		}
		li, lj := lastActive(roomList[i]), lastActive(roomList[j])
		if li != lj {
			return li > lj
		}
		return roomList[i].ID < roomList[j].ID
	})
	return roomList
}

func lastActive(room RoomInfo) int64 {
	if room.LastActive == nil {
		return 0
	}
	return *room.LastActive
}
