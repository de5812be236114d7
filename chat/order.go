package chat

import (
	"time"

	"github.com/warp/slot-admin/generic"
)

// RoomOrder puts active rooms first, then closed, then archived, and
// within a status the most recently updated room first.
var RoomOrder = generic.StatusOrder[Room]{
	Weight:    func(r Room) int { return generic.RoomWeights.Of(string(r.Status)) },
	Direction: generic.Descending,
	Recency:   func(r Room) time.Time { return r.UpdatedAt },
}

// SortRooms orders rooms in place with RoomOrder.
func SortRooms(rooms []Room) {
	RoomOrder.Sort(rooms)
}
