package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/slot-admin/generic"
	"github.com/warp/slot-admin/levelup"
	"github.com/warp/slot-admin/notify"
)

// =============================================================================
// USERS
// =============================================================================

// SaveUser upserts the user read model.
func (s *Store) SaveUser(ctx context.Context, u levelup.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, role) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET full_name = excluded.full_name, role = excluded.role`,
		u.ID, u.FullName, u.Role,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*levelup.User, error) {
	var u levelup.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, full_name, role FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.FullName, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) SetUserRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET role = $2 WHERE id = $1", userID, role)
	if err != nil {
		return fmt.Errorf("failed to set user role: %w", err)
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return &generic.NotFoundError{Kind: "user", ID: userID}
	}
	return nil
}

// =============================================================================
// LEVELUP REQUESTS (levelup.Store)
// =============================================================================

const levelupColumns = `id, user_id, current_role, requested_role, status, rejected_reason,
	processed_by, processed_at, created_at`

// CreateLevelup inserts a request. Used by seeding and tests.
func (s *Store) CreateLevelup(ctx context.Context, r levelup.Request) error {
	status := r.Status
	if status == "" {
		status = levelup.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO levelup_requests (`+levelupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.UserID, r.CurrentRole, r.RequestedRole, string(status),
		nullString(r.RejectedReason), nullString(r.ProcessedBy), nullTime(r.ProcessedAt),
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return insertError("levelup request", err)
	}
	return nil
}

func (s *Store) GetLevelup(ctx context.Context, id string) (*levelup.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+levelupColumns+" FROM levelup_requests WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get levelup: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanLevelup(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) TransitionLevelup(ctx context.Context, id string, t levelup.Transition) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE levelup_requests
		SET status = $2, processed_by = $3, processed_at = $4, rejected_reason = $5
		WHERE id = $1 AND status = 'pending'`,
		id, string(t.To), nullString(t.ProcessedBy), formatTime(t.ProcessedAt), nullString(t.RejectedReason),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition levelup: %w", err)
	}
	return affected(res)
}

func (s *Store) ListLevelups(ctx context.Context, filter levelup.Filter, page generic.Page) ([]levelup.Request, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM levelup_requests WHERE ($1 = '' OR status = $1)", string(filter.Status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count levelups: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+levelupColumns+` FROM levelup_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY `+requestOrder+`
		LIMIT $2 OFFSET $3`,
		string(filter.Status), page.Size, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list levelups: %w", err)
	}
	defer rows.Close()

	var out []levelup.Request
	for rows.Next() {
		r, err := scanLevelup(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func scanLevelup(rows *sql.Rows) (levelup.Request, error) {
	var (
		r              levelup.Request
		status         string
		rejectedReason sql.NullString
		processedBy    sql.NullString
		processedAt    sql.NullString
		createdAt      string
	)
	if err := rows.Scan(&r.ID, &r.UserID, &r.CurrentRole, &r.RequestedRole, &status,
		&rejectedReason, &processedBy, &processedAt, &createdAt); err != nil {
		return r, fmt.Errorf("failed to scan levelup: %w", err)
	}
	r.Status = levelup.Status(status)
	r.RejectedReason = rejectedReason.String
	r.ProcessedBy = processedBy.String

	var err error
	if r.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	return r, nil
}

// =============================================================================
// NOTIFICATIONS (notify.Store)
// =============================================================================

func (s *Store) InsertNotification(ctx context.Context, n notify.Notification) error {
	var data sql.NullString
	if len(n.Data) > 0 {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("failed to encode notification data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, data, formatTime(n.CreatedAt),
	)
	if err != nil {
		return insertError("notification", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, page generic.Page) ([]notify.Notification, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = $1", userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, data_json, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		userID, page.Size, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var (
			n         notify.Notification
			typ       string
			data      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &data, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = notify.Type(typ)
		if n.Data, err = unmarshalDetails(data); err != nil {
			return nil, 0, err
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}
