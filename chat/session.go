/*
session.go - Chat Realtime Reconciliation

PURPOSE:
  One viewer's local chat state: the room list and the open room's message
  list. Direct user actions (page loads, optimistic sends) and the realtime
  handler both merge into this single container.

REALTIME EVENT PIPELINE (ApplyEvent):
  1. self-echo   senderID == viewer            -> drop (already inserted)
  2. staleness   timestamp <= watermark        -> drop
  3. dedup       id already held               -> drop
  4. insert      ordered by timestamp, after equal timestamps
  5. room cache  lastMessage/lastMessageTime/updatedAt, then re-sort
                 (also for rooms other than the open one)

  The watermark is set to now() when the open room changes. It is NOT reset
  when the realtime connection reconnects, so events delivered during a gap
  are not backfilled.

STALE RESULTS:
  OpenRoom returns a Ticket. Message pages applied with a ticket from an
  earlier OpenRoom are discarded, so a slow load for a room the viewer has
  already left cannot overwrite the current room.

INVARIANTS:
  - no two messages share an ID
  - messages are non-decreasing by Timestamp; ties keep insertion order

SEE ALSO:
  - service.go: produces the pages and messages merged here
  - order.go: RoomOrder
  - realtime/client.go: feeds ApplyEvent from a websocket
*/
package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/warp/slot-admin/generic"
)

// AutoscrollThreshold is the distance from the bottom, in pixels, within
// which a new message keeps the view pinned to the bottom.
const AutoscrollThreshold = 150

// Ticket identifies one OpenRoom call.
type Ticket struct {
	RoomID string
	gen    uint64
}

// Session is the local state container for one viewer.
type Session struct {
	mu sync.Mutex

	userID string
	clock  generic.Clock

	rooms []Room

	openRoom  string
	gen       uint64
	watermark time.Time
	messages  []Message
	seen      map[string]struct{}
}

// NewSession creates an empty session for the viewing user.
func NewSession(userID string, clock generic.Clock) *Session {
	return &Session{
		userID: userID,
		clock:  clock,
		seen:   make(map[string]struct{}),
	}
}

// OpenRoom switches the open room, clears the message list and moves the
// watermark to now.
func (s *Session) OpenRoom(roomID string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.openRoom = roomID
	s.watermark = s.clock.Now()
	s.messages = nil
	s.seen = make(map[string]struct{})
	return Ticket{RoomID: roomID, gen: s.gen}
}

// Current returns the ticket of the open room.
func (s *Session) Current() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Ticket{RoomID: s.openRoom, gen: s.gen}
}

// Watermark returns the current staleness boundary.
func (s *Session) Watermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// =============================================================================
// ROOM LIST
// =============================================================================

// ApplyRoomPage merges a room page. Page 0 replaces the list; later pages
// are appended. Rooms already held are replaced by the fetched copy.
func (s *Session) ApplyRoomPage(page int, p generic.PageOf[Room]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page == 0 {
		s.rooms = nil
	}
	for _, r := range p.Items {
		if i := s.roomIndex(r.ID); i >= 0 {
			s.rooms[i] = r
			continue
		}
		s.rooms = append(s.rooms, r)
	}
	SortRooms(s.rooms)
}

// Rooms returns a copy of the ordered room list.
func (s *Session) Rooms() []Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// SetRoomStatus records a status change made by this viewer.
func (s *Session) SetRoomStatus(roomID string, status RoomStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.roomIndex(roomID); i >= 0 {
		s.rooms[i].Status = status
		s.rooms[i].UpdatedAt = s.clock.Now()
		SortRooms(s.rooms)
	}
}

func (s *Session) roomIndex(id string) int {
	for i := range s.rooms {
		if s.rooms[i].ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// MESSAGE LIST
// =============================================================================

// ApplyMessagePage merges a message page for the room named by t. It
// returns false and changes nothing when t is stale.
//
// Page 0 replaces the list, keeping only held messages newer than the page
// (sent or received while the page was loading). Later pages hold older
// messages and are prepended.
func (s *Session) ApplyMessagePage(t Ticket, page int, p generic.PageOf[Message]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.gen != s.gen || t.RoomID != s.openRoom {
		return false
	}

	incoming := make([]Message, 0, len(p.Items))
	ids := make(map[string]struct{}, len(p.Items))
	for _, m := range p.Items {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		incoming = append(incoming, m)
	}

	var merged []Message
	if page == 0 {
		var newest time.Time
		for _, m := range incoming {
			if m.Timestamp.After(newest) {
				newest = m.Timestamp
			}
		}
		merged = incoming
		for _, m := range s.messages {
			if _, dup := ids[m.ID]; dup {
				continue
			}
			if len(incoming) == 0 || m.Timestamp.After(newest) {
				merged = append(merged, m)
			}
		}
	} else {
		merged = make([]Message, 0, len(incoming)+len(s.messages))
		for _, m := range incoming {
			if _, held := s.seen[m.ID]; !held {
				merged = append(merged, m)
			}
		}
		merged = append(merged, s.messages...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	s.messages = merged
	s.seen = make(map[string]struct{}, len(merged))
	for _, m := range merged {
		s.seen[m.ID] = struct{}{}
	}
	return true
}

// Messages returns a copy of the open room's message list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// AddOptimistic inserts the viewer's own message before the write is
// confirmed. It reports whether the message list changed.
func (s *Session) AddOptimistic(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(m)
}

// ApplyEvent merges one realtime INSERT event. It reports whether the event
// was accepted.
func (s *Session) ApplyEvent(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.SenderID == s.userID {
		return false
	}
	if !m.Timestamp.After(s.watermark) {
		return false
	}
	if m.RoomID != s.openRoom {
		s.touchRoomLocked(m)
		return true
	}
	return s.mergeLocked(m)
}

func (s *Session) mergeLocked(m Message) bool {
	if m.RoomID == s.openRoom {
		if _, dup := s.seen[m.ID]; dup {
			return false
		}
		s.insertLocked(m)
	}
	s.touchRoomLocked(m)
	return m.RoomID == s.openRoom
}

// insertLocked places m after every message with an equal or earlier
// timestamp.
func (s *Session) insertLocked(m Message) {
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Timestamp.After(m.Timestamp)
	})
	s.messages = append(s.messages, Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
	s.seen[m.ID] = struct{}{}
}

// touchRoomLocked updates the room cache for m and re-sorts the room list.
func (s *Session) touchRoomLocked(m Message) {
	i := s.roomIndex(m.RoomID)
	if i < 0 {
		return
	}
	ts := m.Timestamp
	r := &s.rooms[i]
	r.LastMessageID = m.ID
	r.LastMessage = m.Content
	r.LastMessageTime = &ts
	if ts.After(r.UpdatedAt) {
		r.UpdatedAt = ts
	}
	SortRooms(s.rooms)
}

// =============================================================================
// PRESENTATION
// =============================================================================

// ShouldAutoscroll reports whether the view should jump to the newest
// message: the viewer was near the bottom, or the newest message is theirs.
func (s *Session) ShouldAutoscroll(distanceFromBottom float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if distanceFromBottom <= AutoscrollThreshold {
		return true
	}
	n := len(s.messages)
	return n > 0 && s.messages[n-1].SenderID == s.userID
}
