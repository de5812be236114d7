/*
Package realtime fans stored chat messages out to websocket subscribers.

FLOW:
  chat.Service.SendMessage
        │ Publish(msg)                     (Hub implements chat.Publisher)
        ▼
  Broker ── local: deliver in process
        └── redis: PUBLISH chat:room:<id>  → every instance PSUBSCRIBEs
        │
        ▼
  Hub.Deliver(roomID, payload) → subscribers of that room only
        │
        ▼
  websocket client → chat.Session.ApplyEvent

WIRE FORMAT:
  {"type":"INSERT","table":"messages","room_id":"r1","record":{...}}

  Only INSERT events on messages are produced. Slow subscribers whose send
  buffer is full are disconnected rather than blocking the publisher.

SEE ALSO:
  - hub.go, redis.go, handler.go, client.go
  - chat/session.go: consumer of events
*/
package realtime

import (
	"time"

	"github.com/warp/slot-admin/chat"
)

const (
	EventInsert   = "INSERT"
	TableMessages = "messages"
)

// Event is one realtime notification.
type Event struct {
	Type   string        `json:"type"`
	Table  string        `json:"table"`
	RoomID string        `json:"room_id"`
	Record MessageRecord `json:"record"`
}

// MessageRecord is the JSON shape of a chat message.
type MessageRecord struct {
	ID          string             `json:"id"`
	RoomID      string             `json:"room_id"`
	SenderID    string             `json:"sender_id"`
	SenderName  string             `json:"sender_name"`
	SenderRole  string             `json:"sender_role"`
	Content     string             `json:"content"`
	Timestamp   time.Time          `json:"timestamp"`
	Status      string             `json:"status"`
	Attachments []AttachmentRecord `json:"attachments,omitempty"`
}

// AttachmentRecord is the JSON shape of an attachment.
type AttachmentRecord struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
}

// InsertEvent wraps m as an INSERT event.
func InsertEvent(m chat.Message) Event {
	return Event{Type: EventInsert, Table: TableMessages, RoomID: m.RoomID, Record: RecordOf(m)}
}

// RecordOf converts a message to its wire shape.
func RecordOf(m chat.Message) MessageRecord {
	rec := MessageRecord{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderRole: string(m.SenderRole),
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		Status:     string(m.Status),
	}
	for _, a := range m.Attachments {
		rec.Attachments = append(rec.Attachments, AttachmentRecord{
			ID:        a.ID,
			MessageID: a.MessageID,
			Type:      string(a.Type),
			URL:       a.URL,
			Name:      a.Name,
			Size:      a.Size,
		})
	}
	return rec
}

// Message converts the wire shape back to a chat message.
func (r MessageRecord) Message() chat.Message {
	m := chat.Message{
		ID:         r.ID,
		RoomID:     r.RoomID,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		SenderRole: chat.SenderRole(r.SenderRole),
		Content:    r.Content,
		Timestamp:  r.Timestamp,
		Status:     chat.MessageStatus(r.Status),
	}
	for _, a := range r.Attachments {
		m.Attachments = append(m.Attachments, chat.Attachment{
			ID:        a.ID,
			MessageID: a.MessageID,
			Type:      chat.AttachmentType(a.Type),
			URL:       a.URL,
			Name:      a.Name,
			Size:      a.Size,
		})
	}
	return m
}
