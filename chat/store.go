package chat

import (
	"context"
	"time"

	"github.com/warp/slot-admin/generic"
)

// Store persists rooms, messages and participants.
type Store interface {
	// GetRoom returns (nil, nil) when the room does not exist.
	GetRoom(ctx context.Context, roomID string) (*Room, error)

	// ListRooms returns one page ordered by UpdatedAt descending and the
	// total matching count. LastMessage fields are not populated.
	ListRooms(ctx context.Context, filter RoomFilter, page generic.Page) ([]Room, int, error)

	// MessagesByID resolves many messages in one lookup. Unknown IDs are
	// absent from the result.
	MessagesByID(ctx context.Context, ids []string) (map[string]Message, error)

	// ListMessages returns one page ordered by Timestamp descending
	// (newest first) and the room's total message count.
	ListMessages(ctx context.Context, roomID string, page generic.Page) ([]Message, int, error)

	InsertMessage(ctx context.Context, m Message) error

	// LinkLastMessage points the room at messageID and bumps UpdatedAt.
	LinkLastMessage(ctx context.Context, roomID, messageID string, at time.Time) error

	UpdateRoomStatus(ctx context.Context, roomID string, status RoomStatus, at time.Time) error

	// EnsureParticipant creates the {room, user} row if missing and reports
	// whether it was created.
	EnsureParticipant(ctx context.Context, p Participant) (bool, error)

	MarkRead(ctx context.Context, roomID, userID, messageID string, at time.Time) error
}

// Publisher fans a stored message out to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}
