/*
sort.go - Status-then-recency ordering shared by rooms and requests

PURPOSE:
  Chat rooms and withdrawal/levelup requests are listed with the same shape
  of ordering: a status weight first, then most recent first. Only the
  direction of the status key differs:

    rooms:     active(3) > closed(2) > archived(1) > other(0)   weight DESC
    requests:  pending(0) < approved(1) < rejected(2)           weight ASC

  The recency key (updatedAt for rooms, createdAt for requests) is always
  descending.

STABILITY:
  Sort uses a stable sort so that items equal on both keys keep their
  previous relative order. This makes it safe to re-sort the whole list after
  a single item changed (e.g. one room's updatedAt was bumped by a realtime
  message) without refetching.

SEE ALSO:
  - chat/session.go: re-sorts the local room list after every merge
  - cash/withdrawal.go: List orders pending requests first
*/
package generic

import (
	"sort"
	"time"
)

// Direction of the status key.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// StatusOrder orders items of type T by a status weight and then by recency.
type StatusOrder[T any] struct {
	Weight    func(T) int
	Direction Direction
	Recency   func(T) time.Time
}

// Less reports whether a sorts before b.
func (o StatusOrder[T]) Less(a, b T) bool {
	wa, wb := o.Weight(a), o.Weight(b)
	if wa != wb {
		if o.Direction == Descending {
			return wa > wb
		}
		return wa < wb
	}
	return o.Recency(a).After(o.Recency(b))
}

// Sort orders items in place.
func (o StatusOrder[T]) Sort(items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		return o.Less(items[i], items[j])
	})
}

// Sorted returns a sorted copy of items.
func (o StatusOrder[T]) Sorted(items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	o.Sort(out)
	return out
}

// WeightTable maps a status string to its weight; unknown statuses get 0.
type WeightTable map[string]int

func (w WeightTable) Of(status string) int {
	return w[status]
}

var (
	// RoomWeights: active rooms first.
	RoomWeights = WeightTable{"active": 3, "closed": 2, "archived": 1}

	// RequestWeights: pending requests first (used with Ascending).
	RequestWeights = WeightTable{"pending": 0, "approved": 1, "rejected": 2}
)
