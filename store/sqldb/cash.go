package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/slot-admin/cash"
	"github.com/warp/slot-admin/generic"
)

// =============================================================================
// BALANCES (cash.BalanceStore)
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, userID string) (*cash.Balance, error) {
	var (
		b         cash.Balance
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, paid_balance, free_balance, total_balance, updated_at
		FROM user_balances WHERE user_id = $1`, userID,
	).Scan(&b.UserID, &b.Paid, &b.Free, &b.Total, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveBalance writes paid, free, total and updatedAt in one statement.
func (s *Store) SaveBalance(ctx context.Context, b cash.Balance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, paid_balance, free_balance, total_balance, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			paid_balance = excluded.paid_balance,
			free_balance = excluded.free_balance,
			total_balance = excluded.total_balance,
			updated_at = excluded.updated_at`,
		b.UserID, b.Paid, b.Free, b.Total, formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// CreditPaid runs the read-add-write in one transaction. On PostgreSQL the
// row is held with FOR UPDATE; SQLite takes the database write lock up front
// when the row may be created, and otherwise fails a stale writer with
// SQLITE_BUSY instead of overwriting.
func (s *Store) CreditPaid(ctx context.Context, userID string, amount int64, create bool, at time.Time) (*cash.Balance, *cash.Balance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	created := false
	if create {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_balances (user_id, paid_balance, free_balance, total_balance, updated_at)
			VALUES ($1, 0, 0, 0, $2)
			ON CONFLICT (user_id) DO NOTHING`,
			userID, formatTime(at),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create balance: %w", err)
		}
		if created, err = affected(res); err != nil {
			return nil, nil, err
		}
	}

	var (
		before    cash.Balance
		updatedAt string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, paid_balance, free_balance, total_balance, updated_at
		FROM user_balances WHERE user_id = $1`+s.forUpdate(), userID,
	).Scan(&before.UserID, &before.Paid, &before.Free, &before.Total, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	if created {
		before = cash.Balance{UserID: userID}
	} else if before.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, nil, err
	}

	after := before
	after.Paid = before.Paid + amount
	after.Total = after.Paid + before.Free
	after.UpdatedAt = at
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_balances
		SET paid_balance = $2, total_balance = $3, updated_at = $4
		WHERE user_id = $1`,
		userID, after.Paid, after.Total, formatTime(at),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to credit balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit credit: %w", err)
	}
	return &before, &after, nil
}

func (s *Store) ListBalances(ctx context.Context) ([]cash.Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, paid_balance, free_balance, total_balance, updated_at
		FROM user_balances ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []cash.Balance
	for rows.Next() {
		var (
			b         cash.Balance
			updatedAt string
		)
		if err := rows.Scan(&b.UserID, &b.Paid, &b.Free, &b.Total, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) AppendHistory(ctx context.Context, h cash.CashHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_cash_history
		(id, user_id, transaction_type, amount, description, transaction_at, reference_id, balance_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.UserID, string(h.TransactionType), h.Amount, h.Description,
		formatTime(h.TransactionAt), nullString(h.ReferenceID), nullString(h.BalanceType),
	)
	if err != nil {
		return insertError("cash history", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, userID string, page generic.Page) ([]cash.CashHistory, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_cash_history WHERE user_id = $1", userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cash history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, transaction_type, amount, description, transaction_at, reference_id, balance_type
		FROM user_cash_history
		WHERE user_id = $1
		ORDER BY transaction_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		userID, page.Size, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cash history: %w", err)
	}
	defer rows.Close()

	var out []cash.CashHistory
	for rows.Next() {
		var (
			h           cash.CashHistory
			txType      string
			at          string
			referenceID sql.NullString
			balanceType sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.UserID, &txType, &h.Amount, &h.Description, &at, &referenceID, &balanceType); err != nil {
			return nil, 0, fmt.Errorf("failed to scan cash history: %w", err)
		}
		h.TransactionType = cash.TransactionType(txType)
		if h.TransactionAt, err = parseTime(at); err != nil {
			return nil, 0, err
		}
		h.ReferenceID = referenceID.String
		h.BalanceType = balanceType.String
		out = append(out, h)
	}
	return out, total, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, a cash.BalanceAuditLog) error {
	details, err := marshalDetails(a.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO balance_audit_logs
		(id, user_id, change_type, old_paid_balance, new_paid_balance, old_free_balance,
		 new_free_balance, change_amount, details_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.UserID, string(a.ChangeType), a.OldPaidBalance, a.NewPaidBalance,
		a.OldFreeBalance, a.NewFreeBalance, a.ChangeAmount, details, formatTime(a.CreatedAt),
	)
	if err != nil {
		return insertError("balance audit log", err)
	}
	return nil
}

// Audits returns userID's audit rows, oldest first.
func (s *Store) Audits(ctx context.Context, userID string) ([]cash.BalanceAuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, change_type, old_paid_balance, new_paid_balance, old_free_balance,
		       new_free_balance, change_amount, details_json, created_at
		FROM balance_audit_logs
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var out []cash.BalanceAuditLog
	for rows.Next() {
		var (
			a          cash.BalanceAuditLog
			changeType string
			details    sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &changeType, &a.OldPaidBalance, &a.NewPaidBalance,
			&a.OldFreeBalance, &a.NewFreeBalance, &a.ChangeAmount, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		a.ChangeType = cash.ChangeType(changeType)
		if a.Details, err = unmarshalDetails(details); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// WITHDRAWALS (cash.WithdrawalStore)
// =============================================================================

const withdrawalColumns = `id, user_id, amount, fee_amount, status, rejected_reason,
	processed_at, processed_by, rejected_at, created_at`

// CreateWithdrawal inserts a new request. Requests are created by the user
// application; this is used by seeding and tests.
func (s *Store) CreateWithdrawal(ctx context.Context, w cash.WithdrawalRequest) error {
	var fee sql.NullInt64
	if w.FeeAmount != nil {
		fee = sql.NullInt64{Int64: *w.FeeAmount, Valid: true}
	}
	status := w.Status
	if status == "" {
		status = cash.WithdrawalPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.UserID, w.Amount, fee, string(status), nullString(w.RejectedReason),
		nullTime(w.ProcessedAt), nullString(w.ProcessedBy), nullTime(w.RejectedAt), formatTime(w.CreatedAt),
	)
	if err != nil {
		return insertError("withdrawal request", err)
	}
	return nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*cash.WithdrawalRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	w, err := scanWithdrawal(rows)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// TransitionWithdrawal applies t only while the row is still pending.
func (s *Store) TransitionWithdrawal(ctx context.Context, id string, t cash.WithdrawalTransition) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, processed_at = $3, processed_by = $4, rejected_reason = $5, rejected_at = $6
		WHERE id = $1 AND status = 'pending'`,
		id, string(t.To), nullTime(t.ProcessedAt), nullString(t.ProcessedBy),
		nullString(t.RejectedReason), nullTime(t.RejectedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	return affected(res)
}

func (s *Store) ListWithdrawals(ctx context.Context, filter cash.WithdrawalFilter, page generic.Page) ([]cash.WithdrawalRequest, int, error) {
	const where = `WHERE ($1 = '' OR status = $1) AND ($2 = '' OR user_id = $2)`

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM withdrawal_requests "+where,
		string(filter.Status), filter.UserID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count withdrawals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests "+where+`
		ORDER BY `+requestOrder+`
		LIMIT $3 OFFSET $4`,
		string(filter.Status), filter.UserID, page.Size, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []cash.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, w)
	}
	return out, total, rows.Err()
}

func scanWithdrawal(rows *sql.Rows) (cash.WithdrawalRequest, error) {
	var (
		w              cash.WithdrawalRequest
		fee            sql.NullInt64
		status         string
		rejectedReason sql.NullString
		processedAt    sql.NullString
		processedBy    sql.NullString
		rejectedAt     sql.NullString
		createdAt      string
	)
	if err := rows.Scan(&w.ID, &w.UserID, &w.Amount, &fee, &status, &rejectedReason,
		&processedAt, &processedBy, &rejectedAt, &createdAt); err != nil {
		return w, fmt.Errorf("failed to scan withdrawal: %w", err)
	}
	if fee.Valid {
		v := fee.Int64
		w.FeeAmount = &v
	}
	w.Status = cash.WithdrawalStatus(status)
	w.RejectedReason = rejectedReason.String
	w.ProcessedBy = processedBy.String

	var err error
	if w.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return w, err
	}
	if w.RejectedAt, err = parseNullTime(rejectedAt); err != nil {
		return w, err
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return w, err
	}
	return w, nil
}

func (s *Store) AppendAdminLog(ctx context.Context, l cash.AdminActionLog) error {
	details, err := marshalDetails(l.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO admin_action_logs (id, admin_id, action, target_id, details_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.AdminID, l.Action, l.TargetID, details, formatTime(l.CreatedAt),
	)
	if err != nil {
		return insertError("admin action log", err)
	}
	return nil
}

// AdminLogs returns the admin actions recorded against targetID, oldest first.
func (s *Store) AdminLogs(ctx context.Context, targetID string) ([]cash.AdminActionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, admin_id, action, target_id, details_json, created_at
		FROM admin_action_logs WHERE target_id = $1
		ORDER BY created_at ASC, id ASC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin logs: %w", err)
	}
	defer rows.Close()

	var out []cash.AdminActionLog
	for rows.Next() {
		var (
			l         cash.AdminActionLog
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.AdminID, &l.Action, &l.TargetID, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin log: %w", err)
		}
		if l.Details, err = unmarshalDetails(details); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// WITHDRAW SETTINGS (cash.SettingsStore)
// =============================================================================

// The global setting is the single row with id = 1.
const globalSettingID = 1

func (s *Store) GetGlobalSetting(ctx context.Context) (*cash.WithdrawSetting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT '', min_request_amount, min_request_percentage, updated_at
		FROM withdraw_global_settings WHERE id = $1`, globalSettingID)
	return scanSetting(row)
}

func (s *Store) SaveGlobalSetting(ctx context.Context, ws cash.WithdrawSetting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdraw_global_settings (id, min_request_amount, min_request_percentage, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			min_request_amount = excluded.min_request_amount,
			min_request_percentage = excluded.min_request_percentage,
			updated_at = excluded.updated_at`,
		globalSettingID, ws.MinRequestAmount, ws.MinRequestPercentage.String(), formatTime(ws.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save global setting: %w", err)
	}
	return nil
}

func (s *Store) GetUserSetting(ctx context.Context, userID string) (*cash.WithdrawSetting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, min_request_amount, min_request_percentage, updated_at
		FROM withdraw_user_settings WHERE user_id = $1`, userID)
	return scanSetting(row)
}

func (s *Store) SaveUserSetting(ctx context.Context, ws cash.WithdrawSetting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdraw_user_settings (user_id, min_request_amount, min_request_percentage, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			min_request_amount = excluded.min_request_amount,
			min_request_percentage = excluded.min_request_percentage,
			updated_at = excluded.updated_at`,
		ws.UserID, ws.MinRequestAmount, ws.MinRequestPercentage.String(), formatTime(ws.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save user setting: %w", err)
	}
	return nil
}

func (s *Store) DeleteUserSetting(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM withdraw_user_settings WHERE user_id = $1", userID,
	); err != nil {
		return fmt.Errorf("failed to delete user setting: %w", err)
	}
	return nil
}

func scanSetting(row *sql.Row) (*cash.WithdrawSetting, error) {
	var (
		ws        cash.WithdrawSetting
		pct       string
		updatedAt string
	)
	err := row.Scan(&ws.UserID, &ws.MinRequestAmount, &pct, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdraw setting: %w", err)
	}
	if ws.MinRequestPercentage, err = decimal.NewFromString(pct); err != nil {
		return nil, fmt.Errorf("bad percentage %q: %w", pct, err)
	}
	if ws.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &ws, nil
}

// =============================================================================
// JSON COLUMNS
// =============================================================================

func marshalDetails(details map[string]any) (sql.NullString, error) {
	if len(details) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode details: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalDetails(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, fmt.Errorf("failed to decode details: %w", err)
	}
	return out, nil
}
