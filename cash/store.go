package cash

import (
	"context"
	"time"

	"github.com/warp/slot-admin/generic"
)

// BalanceStore persists balances and the two append-only logs.
// GetBalance returns (nil, nil) when the user has no balance row.
type BalanceStore interface {
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	SaveBalance(ctx context.Context, b Balance) error

	// CreditPaid atomically adds amount to the paid balance and sets
	// total = paid + free, returning the row before and after. A missing row
	// is created from zero when create is true; otherwise nothing is written
	// and both results are nil.
	CreditPaid(ctx context.Context, userID string, amount int64, create bool, at time.Time) (before, after *Balance, err error)
	AppendHistory(ctx context.Context, h CashHistory) error
	ListHistory(ctx context.Context, userID string, page generic.Page) ([]CashHistory, int, error)
	AppendAudit(ctx context.Context, a BalanceAuditLog) error
	ListBalances(ctx context.Context) ([]Balance, error)
}

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error)

	// TransitionWithdrawal applies t only if the row is still pending
	// (UPDATE ... WHERE id = ? AND status = 'pending'). It reports whether a
	// row was updated; false means another actor got there first.
	TransitionWithdrawal(ctx context.Context, id string, t WithdrawalTransition) (bool, error)

	// ListWithdrawals pages in RequestOrder over the whole filtered set,
	// so a pending request is never pushed past newer processed ones.
	ListWithdrawals(ctx context.Context, filter WithdrawalFilter, page generic.Page) ([]WithdrawalRequest, int, error)
	AppendAdminLog(ctx context.Context, l AdminActionLog) error
}

// SettingsStore persists withdraw settings. Getters return (nil, nil) when absent.
type SettingsStore interface {
	GetGlobalSetting(ctx context.Context) (*WithdrawSetting, error)
	SaveGlobalSetting(ctx context.Context, s WithdrawSetting) error
	GetUserSetting(ctx context.Context, userID string) (*WithdrawSetting, error)
	SaveUserSetting(ctx context.Context, s WithdrawSetting) error
	DeleteUserSetting(ctx context.Context, userID string) error
}

// Notifier delivers user-facing withdrawal notifications. Callers treat
// every call as best-effort.
type Notifier interface {
	NotifyWithdrawalApproved(ctx context.Context, userID string, amount, fee int64) error
	NotifyWithdrawalRejected(ctx context.Context, userID string, amount int64, reason string) error
}
