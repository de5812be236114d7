/*
service.go - Chat Room/Message Store Accessor

WRITE ORDERING:
  A message is always inserted before the room is pointed at it:

    InsertMessage(m)            <- failure: return error, nothing written
    LinkLastMessage(room, m.ID) <- failure: logged, message still delivered
    Publish(m)                  <- best-effort

  A room whose LastMessageID references a missing message is worse than a
  message that is not yet "last", so the room cache may lag until the next
  successful send.

RESENDS:
  Clients may supply the message id. A retried send whose id is already
  stored for the same room and sender returns the stored message and writes
  nothing else. The same id from another room or sender is a validation
  error.

PAGINATION:
  Rooms come back newest-updated first; callers merge pages and re-sort with
  RoomOrder. Messages are read newest first so page 0 is the latest window,
  then reversed so every page is oldest -> newest.

SEE ALSO:
  - session.go: merges these results with realtime events
  - store.go: Store, Publisher
*/
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/slot-admin/generic"
)

// SystemSenderID authors status-change announcements.
const (
	SystemSenderID   = "system"
	SystemSenderName = "시스템"
)

// statusNotice is the fixed announcement posted for each target status.
var statusNotice = map[RoomStatus]string{
	RoomClosed:   "상담이 종료되었습니다. 더 이상 메시지를 보낼 수 없습니다.",
	RoomArchived: "채팅방이 보관 처리되었습니다. 이제 읽기만 가능합니다.",
	RoomActive:   "상담이 다시 시작되었습니다.",
}

// Service is the Chat Room/Message Store Accessor.
type Service struct {
	Store      Store
	Publisher  Publisher // optional
	BestEffort *generic.BestEffort
	Logger     generic.Logger
	Clock      generic.Clock
}

// NewService wires a chat service. publisher may be nil.
func NewService(store Store, publisher Publisher, logger generic.Logger) *Service {
	if logger == nil {
		logger = generic.NopLogger()
	}
	return &Service{
		Store:      store,
		Publisher:  publisher,
		BestEffort: generic.NewBestEffort(logger),
		Logger:     logger,
	}
}

// =============================================================================
// READS
// =============================================================================

// ListRooms returns one page of rooms with the last-message cache resolved
// in a single batched lookup.
func (s *Service) ListRooms(ctx context.Context, filter RoomFilter, page generic.Page) (generic.PageOf[Room], error) {
	page = page.Normalize(20)
	if filter.Status != "" && !filter.Status.Valid() {
		return generic.PageOf[Room]{}, generic.NewValidationError("status", "unknown room status "+string(filter.Status))
	}

	rooms, total, err := s.Store.ListRooms(ctx, filter, page)
	if err != nil {
		return generic.PageOf[Room]{}, generic.RemoteIO("list rooms", err)
	}

	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r.LastMessageID != "" {
			ids = append(ids, r.LastMessageID)
		}
	}
	var last map[string]Message
	if len(ids) > 0 {
		last, err = s.Store.MessagesByID(ctx, ids)
		if err != nil {
			return generic.PageOf[Room]{}, generic.RemoteIO("resolve last messages", err)
		}
	}

	for i := range rooms {
		rooms[i].Name = rooms[i].DisplayName()
		if m, ok := last[rooms[i].LastMessageID]; ok {
			ts := m.Timestamp
			rooms[i].LastMessage = m.Content
			rooms[i].LastMessageTime = &ts
		}
	}
	return generic.PageOf[Room]{Items: rooms, Total: total, HasMore: page.HasMore(total)}, nil
}

// ListMessages returns one page of a room's messages in chronological order.
// Page 0 is the most recent window.
func (s *Service) ListMessages(ctx context.Context, roomID string, page generic.Page) (generic.PageOf[Message], error) {
	page = page.Normalize(30)
	msgs, total, err := s.Store.ListMessages(ctx, roomID, page)
	if err != nil {
		return generic.PageOf[Message]{}, generic.RemoteIO("list messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return generic.PageOf[Message]{Items: msgs, Total: total, HasMore: page.HasMore(total)}, nil
}

// =============================================================================
// WRITES
// =============================================================================

// SendInput is one outgoing message. ID may be pre-generated by the caller
// for optimistic display; it is generated here otherwise.
type SendInput struct {
	ID          string
	RoomID      string
	Sender      generic.Actor
	Content     string
	Attachments []Attachment
}

// NewMessageID returns a fresh message id.
func NewMessageID() string {
	return uuid.NewString()
}

// SendMessage writes a message to an active room.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		if len(in.Attachments) == 0 {
			return Message{}, generic.NewValidationError("content", "message is empty")
		}
		content = AttachmentOnlyContent
	}

	room, err := s.activeRoom(ctx, in.RoomID)
	if err != nil {
		return Message{}, err
	}

	id := in.ID
	if id == "" {
		id = NewMessageID()
	}
	msg := Message{
		ID:          id,
		RoomID:      room.ID,
		SenderID:    in.Sender.ID,
		SenderName:  in.Sender.FullName,
		SenderRole:  SenderRoleOf(in.Sender.Role),
		Content:     content,
		Timestamp:   s.Clock.Now(),
		Status:      MessageSent,
		Attachments: attachmentsFor(id, in.Attachments),
	}

	if err := s.write(ctx, msg); err != nil {
		if errors.Is(err, generic.ErrDuplicate) {
			return s.resent(ctx, msg)
		}
		return Message{}, err
	}
	return msg, nil
}

// resent resolves a send whose id is already stored.
func (s *Service) resent(ctx context.Context, msg Message) (Message, error) {
	found, err := s.Store.MessagesByID(ctx, []string{msg.ID})
	if err != nil {
		return Message{}, generic.RemoteIO("get message", err)
	}
	stored, ok := found[msg.ID]
	if !ok || stored.RoomID != msg.RoomID || stored.SenderID != msg.SenderID {
		return Message{}, generic.NewValidationError("id", "message id "+msg.ID+" is already in use")
	}
	return stored, nil
}

// SetRoomStatus changes a room's status and posts the matching system
// announcement. It is the only status mutator.
func (s *Service) SetRoomStatus(ctx context.Context, roomID string, status RoomStatus, actor generic.Actor) (Message, error) {
	if !status.Valid() {
		return Message{}, generic.NewValidationError("status", "unknown room status "+string(status))
	}
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return Message{}, generic.RemoteIO("get room", err)
	}
	if room == nil {
		return Message{}, &generic.NotFoundError{Kind: "room", ID: roomID}
	}

	now := s.Clock.Now()
	if err := s.Store.UpdateRoomStatus(ctx, roomID, status, now); err != nil {
		return Message{}, generic.RemoteIO("update room status", err)
	}

	msg := Message{
		ID:         NewMessageID(),
		RoomID:     roomID,
		SenderID:   SystemSenderID,
		SenderName: SystemSenderName,
		SenderRole: SenderSystem,
		Content:    statusNotice[status],
		Timestamp:  now,
		Status:     MessageSent,
	}
	if err := s.write(ctx, msg); err != nil {
		return Message{}, err
	}

	generic.LogEvent(s.Logger, "room_status_changed", map[string]any{
		"room_id":  roomID,
		"from":     string(room.Status),
		"to":       string(status),
		"actor_id": actor.ID,
	})
	return msg, nil
}

// JoinRoom registers actor as a participant in the background. Failure is
// logged and never reaches the caller.
func (s *Service) JoinRoom(ctx context.Context, roomID string, actor generic.Actor) {
	p := Participant{
		RoomID:   roomID,
		UserID:   actor.ID,
		Role:     SenderRoleOf(actor.Role),
		JoinedAt: s.Clock.Now(),
	}
	s.BestEffort.Go(ctx, "chat_join_room", func(ctx context.Context) error {
		created, err := s.Store.EnsureParticipant(ctx, p)
		if err == nil && created {
			generic.LogEvent(s.Logger, "participant_created", map[string]any{
				"room_id": roomID,
				"user_id": actor.ID,
			})
		}
		return err
	})
}

// MarkRead moves userID's last-read pointer in roomID.
func (s *Service) MarkRead(ctx context.Context, roomID, userID, messageID string) error {
	if messageID == "" {
		return generic.NewValidationError("message_id", "required")
	}
	if err := s.Store.MarkRead(ctx, roomID, userID, messageID, s.Clock.Now()); err != nil {
		return generic.RemoteIO("mark read", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) activeRoom(ctx context.Context, roomID string) (*Room, error) {
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, generic.RemoteIO("get room", err)
	}
	if room == nil {
		return nil, &generic.NotFoundError{Kind: "room", ID: roomID}
	}
	if room.Status != RoomActive {
		return nil, generic.NewValidationError("room", "room is "+string(room.Status)).WithCause(generic.ErrRoomNotActive)
	}
	return room, nil
}

// write inserts msg, then links the room to it, then publishes it.
func (s *Service) write(ctx context.Context, msg Message) error {
	if err := s.Store.InsertMessage(ctx, msg); err != nil {
		return generic.RemoteIO("insert message", err)
	}
	if err := s.Store.LinkLastMessage(ctx, msg.RoomID, msg.ID, msg.Timestamp); err != nil {
		generic.LogEvent(s.Logger, "room_link_failed", map[string]any{
			"room_id":    msg.RoomID,
			"message_id": msg.ID,
			"error":      err.Error(),
		})
	}
	if s.Publisher != nil {
		s.BestEffort.Do(ctx, "chat_publish", func(ctx context.Context) error {
			return s.Publisher.Publish(ctx, msg)
		})
	}
	return nil
}

func attachmentsFor(messageID string, in []Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	for i, a := range in {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Type == "" {
			a.Type = AttachmentFile
		}
		a.MessageID = messageID
		out[i] = a
	}
	return out
}
