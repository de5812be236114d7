/*
Package cash implements the user balance ledger and the withdrawal approval
state machine.

KEY CONCEPTS:
  - Balance: paid/free/total cash per user. Total == Paid + Free always.
  - CashHistory: append-only user-facing ledger rows (signed amount,
    positive = credit to the user)
  - BalanceAuditLog: append-only admin-facing before/after snapshots,
    written best-effort
  - WithdrawalRequest: pending -> approved | pending -> rejected, terminal
  - WithdrawSetting: minimum request rules, per-user override over global

SEE ALSO:
  - ledger.go: Balance Ledger Accessor
  - withdrawal.go: Withdrawal Request State Machine
  - settings.go: setting resolution and eligibility
*/
package cash

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE
// =============================================================================

// Balance is a user's cash balance in currency units.
type Balance struct {
	UserID    string
	Paid      int64
	Free      int64
	Total     int64
	UpdatedAt time.Time
}

// Consistent reports whether Total == Paid + Free.
func (b Balance) Consistent() bool {
	return b.Total == b.Paid+b.Free
}

// TransactionType classifies a CashHistory row.
type TransactionType string

const (
	TxCharge     TransactionType = "charge"
	TxWithdrawal TransactionType = "withdrawal"
	TxPurchase   TransactionType = "purchase"
	TxRefund     TransactionType = "refund"
	TxFree       TransactionType = "free"
)

// CashHistory is an immutable user-facing ledger row.
type CashHistory struct {
	ID              string
	UserID          string
	TransactionType TransactionType
	Amount          int64 // signed; positive = credit
	Description     string
	TransactionAt   time.Time
	ReferenceID     string // optional
	BalanceType     string // optional ("paid", "free")
}

// ChangeType of a BalanceAuditLog row.
type ChangeType string

const (
	ChangeIncrease ChangeType = "increase"
	ChangeDecrease ChangeType = "decrease"
)

// BalanceAuditLog is an append-only admin-facing snapshot of a balance change.
type BalanceAuditLog struct {
	ID             string
	UserID         string
	ChangeType     ChangeType
	OldPaidBalance int64
	NewPaidBalance int64
	OldFreeBalance int64
	NewFreeBalance int64
	ChangeAmount   int64
	Details        map[string]any
	CreatedAt      time.Time
}

// =============================================================================
// WITHDRAWAL REQUEST
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// WithdrawalRequest is a user's request to withdraw paid cash. The debit
// happened when the request was created; rejection credits it back.
type WithdrawalRequest struct {
	ID             string
	UserID         string
	Amount         int64
	FeeAmount      *int64
	Status         WithdrawalStatus
	RejectedReason string
	ProcessedAt    *time.Time
	ProcessedBy    string
	RejectedAt     *time.Time
	CreatedAt      time.Time
}

// Fee returns the fee or 0 when unset.
func (w WithdrawalRequest) Fee() int64 {
	if w.FeeAmount == nil {
		return 0
	}
	return *w.FeeAmount
}

// NetAmount is what the user receives after the fee.
func (w WithdrawalRequest) NetAmount() int64 {
	return w.Amount - w.Fee()
}

// WithdrawalTransition is the write applied by a conditional
// pending -> approved|rejected update.
type WithdrawalTransition struct {
	To             WithdrawalStatus
	ProcessedAt    *time.Time
	ProcessedBy    string
	RejectedReason string
	RejectedAt     *time.Time
}

// WithdrawalFilter narrows List.
type WithdrawalFilter struct {
	Status WithdrawalStatus // empty = all
	UserID string          // empty = all
}

// AdminActionLog records an admin decision. Written best-effort.
type AdminActionLog struct {
	ID        string
	AdminID   string
	Action    string
	TargetID  string
	Details   map[string]any
	CreatedAt time.Time
}

// =============================================================================
// WITHDRAW SETTINGS
// =============================================================================

// WithdrawSetting holds the minimum request rules. UserID is empty for the
// global singleton.
type WithdrawSetting struct {
	UserID               string
	MinRequestAmount     int64
	MinRequestPercentage decimal.Decimal
	UpdatedAt            time.Time
}
