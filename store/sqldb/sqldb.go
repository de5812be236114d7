/*
Package sqldb provides a database/sql implementation of every store interface.

PURPOSE:
  One Store serves SQLite (mattn/go-sqlite3) and PostgreSQL (lib/pq or
  pgx/stdlib). The SQL is written once: $N placeholders, TEXT ids, TEXT
  timestamps and ON CONFLICT upserts are understood by both dialects.

INTERFACES IMPLEMENTED:
  cash.BalanceStore, cash.WithdrawalStore, cash.SettingsStore
  chat.Store
  levelup.Store
  notify.Store

TIMESTAMPS:
  Stored as fixed-width UTC text (2006-01-02T15:04:05.000000Z) so that text
  ordering equals time ordering on every dialect. Sub-microsecond precision
  is dropped.

CONDITIONAL TRANSITIONS:
  Withdrawal and levelup transitions are single
    UPDATE ... WHERE id = $1 AND status = 'pending'
  statements. RowsAffected() == 0 means another writer got there first.

KEY TABLES:
  user_balances:       one row per user, total = paid + free
  user_cash_history:   append-only user ledger
  balance_audit_logs:  append-only admin snapshots
  withdrawal_requests: pending -> approved | rejected
  chat_rooms, chat_messages, chat_attachments, chat_participants
  levelup_requests, users, notifications

USAGE:
  store, err := sqldb.Open("sqlite3", "file:slot-admin.db?_foreign_keys=on&_journal_mode=WAL")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on Open(). Statements are idempotent
  (CREATE ... IF NOT EXISTS).

SEE ALSO:
  - store/memory: In-memory implementation for tests
  - cash/store.go, chat/store.go: Interface definitions
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/slot-admin/generic"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = generic.ErrDuplicate

// requestOrder sorts review queues across pages: pending first, then
// approved, then rejected, each newest first.
const requestOrder = `CASE status WHEN 'pending' THEN 0 WHEN 'approved' THEN 1 ELSE 2 END,
		created_at DESC, id ASC`

// Store implements all storage interfaces over database/sql.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects with driver and dsn, then migrates the schema.
// Use ":memory:" with DriverSQLite for a throwaway database.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres, DriverPgx:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// :memory: is per connection, and SQLite has a single writer anyway.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db, driver: driver}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

// forUpdate is the row-lock suffix for SELECTs inside a transaction.
// SQLite has no row locks and a single writer.
func (s *Store) forUpdate() string {
	if s.driver == DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS user_balances (
		user_id TEXT PRIMARY KEY,
		paid_balance BIGINT NOT NULL DEFAULT 0,
		free_balance BIGINT NOT NULL DEFAULT 0,
		total_balance BIGINT NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`,

	// Append-only: no UPDATE or DELETE is ever issued against these two.
	`CREATE TABLE IF NOT EXISTS user_cash_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		transaction_at TEXT NOT NULL,
		reference_id TEXT,
		balance_type TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cash_history_user_time
		ON user_cash_history(user_id, transaction_at)`,
	`CREATE TABLE IF NOT EXISTS balance_audit_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		change_type TEXT NOT NULL,
		old_paid_balance BIGINT NOT NULL,
		new_paid_balance BIGINT NOT NULL,
		old_free_balance BIGINT NOT NULL,
		new_free_balance BIGINT NOT NULL,
		change_amount BIGINT NOT NULL,
		details_json TEXT,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount BIGINT NOT NULL,
		fee_amount BIGINT,
		status TEXT NOT NULL DEFAULT 'pending',
		rejected_reason TEXT,
		processed_at TEXT,
		processed_by TEXT,
		rejected_at TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_status_created
		ON withdrawal_requests(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_user
		ON withdrawal_requests(user_id)`,
	`CREATE TABLE IF NOT EXISTS admin_action_logs (
		id TEXT PRIMARY KEY,
		admin_id TEXT NOT NULL,
		action TEXT NOT NULL,
		target_id TEXT NOT NULL,
		details_json TEXT,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS withdraw_global_settings (
		id INTEGER PRIMARY KEY,
		min_request_amount BIGINT NOT NULL DEFAULT 0,
		min_request_percentage TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS withdraw_user_settings (
		user_id TEXT PRIMARY KEY,
		min_request_amount BIGINT NOT NULL DEFAULT 0,
		min_request_percentage TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS chat_rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		last_message_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_rooms_updated
		ON chat_rooms(updated_at)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		sender_role TEXT NOT NULL,
		content TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'sent',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_room_created
		ON chat_messages(room_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS chat_attachments (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		type TEXT NOT NULL,
		url TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		size BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_attachments_message
		ON chat_attachments(message_id)`,
	`CREATE TABLE IF NOT EXISTS chat_participants (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		last_read_message_id TEXT,
		last_seen TEXT,
		PRIMARY KEY (room_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user'
	)`,
	`CREATE TABLE IF NOT EXISTS levelup_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		current_role TEXT NOT NULL,
		requested_role TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		rejected_reason TEXT,
		processed_by TEXT,
		processed_at TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_levelups_status_created
		ON levelup_requests(status, created_at)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		data_json TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user_created
		ON notifications(user_id, created_at)`,
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// Reset deletes every row. Used by tests and the dev seed endpoint.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"user_balances", "user_cash_history", "balance_audit_logs",
		"withdrawal_requests", "admin_action_logs",
		"withdraw_global_settings", "withdraw_user_settings",
		"chat_rooms", "chat_messages", "chat_attachments", "chat_participants",
		"users", "levelup_requests", "notifications",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// placeholders returns "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

// affected reports whether res touched at least one row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// isUniqueViolation recognizes unique-constraint failures from every
// supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// insertError wraps err, mapping unique violations to ErrDuplicate.
func insertError(what string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to insert %s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("failed to insert %s: %w", what, err)
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return strings.TrimSpace(stmt[:i])
	}
	return stmt
}
