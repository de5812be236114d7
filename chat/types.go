/*
Package chat implements the operator support chat: the room/message store
accessor and the per-viewer realtime reconciliation state.

KEY CONCEPTS:
  - Room: a support conversation. Status active | closed | archived; only
    active rooms accept new messages. LastMessageID/LastMessage/
    LastMessageTime are a denormalized cache maintained by this package and
    may lag the message table (the message insert always happens first).
  - Message: immutable once written. IDs are generated before the write so a
    sender can insert optimistically; two messages with the same ID are the
    same message.
  - Participant: lazily created {room, user} pair with a last-read pointer.
  - Session: one viewer's local room list + message list, merged from user
    actions and realtime events (session.go).

SEE ALSO:
  - service.go: Store accessor (list/send/status/join/read)
  - session.go: Optimistic insert + realtime reconciliation
  - order.go: Room sort policy
  - realtime/: fan-out of INSERT events
*/
package chat

import (
	"time"

	"github.com/warp/slot-admin/generic"
)

// Placeholder copy.
const (
	DefaultRoomName       = "채팅방"
	AttachmentOnlyContent = "파일을 보냈습니다."
)

// =============================================================================
// ROOM
// =============================================================================

type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomClosed   RoomStatus = "closed"
	RoomArchived RoomStatus = "archived"
)

// Valid reports whether s is one of the three stored statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomActive, RoomClosed, RoomArchived:
		return true
	}
	return false
}

type Room struct {
	ID        string
	Name      string
	Status    RoomStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	LastMessageID   string
	LastMessage     string
	LastMessageTime *time.Time
}

// DisplayName returns Name or the default room name.
func (r Room) DisplayName() string {
	if r.Name == "" {
		return DefaultRoomName
	}
	return r.Name
}

// RoomFilter narrows ListRooms. Empty Status means all.
type RoomFilter struct {
	Status RoomStatus
}

// =============================================================================
// MESSAGE
// =============================================================================

type SenderRole string

const (
	SenderUser     SenderRole = "user"
	SenderOperator SenderRole = "operator"
	SenderAdmin    SenderRole = "admin"
	SenderSystem   SenderRole = "system"
)

// SenderRoleOf maps an actor role onto a message sender role.
func SenderRoleOf(r generic.Role) SenderRole {
	switch r {
	case generic.RoleAdmin:
		return SenderAdmin
	case generic.RoleOperator:
		return SenderOperator
	case generic.RoleSystem:
		return SenderSystem
	default:
		return SenderUser
	}
}

type MessageStatus string

// MessageSent is the only status this system produces.
const MessageSent MessageStatus = "sent"

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

// Attachment references an uploaded file by opaque URL.
type Attachment struct {
	ID        string
	MessageID string
	Type      AttachmentType
	URL       string
	Name      string
	Size      int64
}

type Message struct {
	ID          string
	RoomID      string
	SenderID    string
	SenderName  string
	SenderRole  SenderRole
	Content     string
	Timestamp   time.Time
	Status      MessageStatus
	Attachments []Attachment
}

// =============================================================================
// PARTICIPANT
// =============================================================================

type Participant struct {
	RoomID            string
	UserID            string
	Role              SenderRole
	JoinedAt          time.Time
	LastReadMessageID string
	LastSeen          *time.Time
}
