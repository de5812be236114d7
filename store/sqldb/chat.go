package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/slot-admin/chat"
	"github.com/warp/slot-admin/generic"
)

// =============================================================================
// ROOMS
// =============================================================================

// CreateRoom inserts a room. Rooms are opened by the user application; this
// is used by seeding and tests.
func (s *Store) CreateRoom(ctx context.Context, r chat.Room) error {
	status := r.Status
	if status == "" {
		status = chat.RoomActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_rooms (id, name, status, last_message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Name, string(status), nullString(r.LastMessageID),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return insertError("chat room", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*chat.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, last_message_id, created_at, updated_at
		FROM chat_rooms WHERE id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanRoom(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRooms returns one page ordered by updatedAt desc. LastMessage is left
// empty; the service resolves it in one batched lookup.
func (s *Store) ListRooms(ctx context.Context, filter chat.RoomFilter, page generic.Page) ([]chat.Room, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_rooms WHERE ($1 = '' OR status = $1)", string(filter.Status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count rooms: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, last_message_id, created_at, updated_at
		FROM chat_rooms
		WHERE ($1 = '' OR status = $1)
		ORDER BY updated_at DESC, id ASC
		LIMIT $2 OFFSET $3`,
		string(filter.Status), page.Size, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var out []chat.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func scanRoom(rows *sql.Rows) (chat.Room, error) {
	var (
		r             chat.Room
		status        string
		lastMessageID sql.NullString
		createdAt     string
		updatedAt     string
	)
	if err := rows.Scan(&r.ID, &r.Name, &status, &lastMessageID, &createdAt, &updatedAt); err != nil {
		return r, fmt.Errorf("failed to scan room: %w", err)
	}
	r.Status = chat.RoomStatus(status)
	r.LastMessageID = lastMessageID.String

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	return r, nil
}

func (s *Store) LinkLastMessage(ctx context.Context, roomID, messageID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chat_rooms SET last_message_id = $2, updated_at = $3 WHERE id = $1",
		roomID, messageID, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("failed to link last message: %w", err)
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return &generic.NotFoundError{Kind: "room", ID: roomID}
	}
	return nil
}

func (s *Store) UpdateRoomStatus(ctx context.Context, roomID string, status chat.RoomStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chat_rooms SET status = $2, updated_at = $3 WHERE id = $1",
		roomID, string(status), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return &generic.NotFoundError{Kind: "room", ID: roomID}
	}
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

const messageColumns = "id, room_id, sender_id, sender_name, sender_role, content, status, created_at"

// InsertMessage writes the message and its attachments in one transaction.
func (s *Store) InsertMessage(ctx context.Context, m chat.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status := m.Status
	if status == "" {
		status = chat.MessageSent
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.RoomID, m.SenderID, m.SenderName, string(m.SenderRole), m.Content,
		string(status), formatTime(m.Timestamp),
	); err != nil {
		return insertError("message", err)
	}
	for _, a := range m.Attachments {
		if err := insertAttachment(ctx, tx, m.ID, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertAttachment(ctx context.Context, db execer, messageID string, a chat.Attachment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_attachments (id, message_id, type, url, name, size)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, messageID, string(a.Type), a.URL, a.Name, a.Size,
	)
	if err != nil {
		return insertError("attachment", err)
	}
	return nil
}

// MessagesByID resolves ids in one query. Missing ids are absent from the map.
func (s *Store) MessagesByID(ctx context.Context, ids []string) (map[string]chat.Message, error) {
	out := make(map[string]chat.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	msgs, err := s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM chat_messages WHERE id IN ("+placeholders(1, len(ids))+")",
		args...)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

// ListMessages returns one page of roomID's messages, newest first.
func (s *Store) ListMessages(ctx context.Context, roomID string, page generic.Page) ([]chat.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_messages WHERE room_id = $1", roomID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	msgs, err := s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		roomID, page.Size, page.Offset(),
	)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// queryMessages runs query and attaches each message's attachments. The
// message rows are closed before the attachment lookup, which keeps it safe
// on a single-connection pool.
func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	var msgs []chat.Message
	for rows.Next() {
		var (
			m          chat.Message
			senderRole string
			status     string
			createdAt  string
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &senderRole,
			&m.Content, &status, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.SenderRole = chat.SenderRole(senderRole)
		m.Status = chat.MessageStatus(status)
		if m.Timestamp, err = parseTime(createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(msgs) == 0 {
		return msgs, nil
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	attachments, err := s.attachmentsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Attachments = attachments[msgs[i].ID]
	}
	return msgs, nil
}

func (s *Store) attachmentsFor(ctx context.Context, messageIDs []string) (map[string][]chat.Attachment, error) {
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, type, url, name, size FROM chat_attachments
		WHERE message_id IN (`+placeholders(1, len(messageIDs))+`)
		ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]chat.Attachment)
	for rows.Next() {
		var (
			a   chat.Attachment
			typ string
		)
		if err := rows.Scan(&a.ID, &a.MessageID, &typ, &a.URL, &a.Name, &a.Size); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.Type = chat.AttachmentType(typ)
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	return out, rows.Err()
}

// =============================================================================
// PARTICIPANTS
// =============================================================================

// EnsureParticipant inserts p unless the {room, user} row exists. It reports
// whether a row was created.
func (s *Store) EnsureParticipant(ctx context.Context, p chat.Participant) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_participants (room_id, user_id, role, joined_at, last_read_message_id, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, user_id) DO NOTHING`,
		p.RoomID, p.UserID, string(p.Role), formatTime(p.JoinedAt),
		nullString(p.LastReadMessageID), nullTime(p.LastSeen),
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure participant: %w", err)
	}
	return affected(res)
}

// MarkRead moves the read pointer, creating the participant row if needed.
func (s *Store) MarkRead(ctx context.Context, roomID, userID, messageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_participants (room_id, user_id, role, joined_at, last_read_message_id, last_seen)
		VALUES ($1, $2, $3, $4, $5, $4)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			last_read_message_id = excluded.last_read_message_id,
			last_seen = excluded.last_seen`,
		roomID, userID, string(chat.SenderOperator), formatTime(at), nullString(messageID),
	)
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	return nil
}

// Participant returns the {room, user} row, or nil.
func (s *Store) Participant(ctx context.Context, roomID, userID string) (*chat.Participant, error) {
	var (
		p        chat.Participant
		role     string
		joinedAt string
		lastRead sql.NullString
		lastSeen sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, user_id, role, joined_at, last_read_message_id, last_seen
		FROM chat_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID,
	).Scan(&p.RoomID, &p.UserID, &role, &joinedAt, &lastRead, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	p.Role = chat.SenderRole(role)
	p.LastReadMessageID = lastRead.String
	if p.JoinedAt, err = parseTime(joinedAt); err != nil {
		return nil, err
	}
	if p.LastSeen, err = parseNullTime(lastSeen); err != nil {
		return nil, err
	}
	return &p, nil
}
