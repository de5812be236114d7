/*
ledger.go - Balance Ledger Accessor

PURPOSE:
  Reads and writes a user's paid/free/total balance and appends immutable
  history rows. This accessor never swallows errors: store failures come
  back as generic.RemoteIOError and the caller decides what is recoverable.

INVARIANT:
  Total == Paid + Free after every mutation performed here. Credits compute
  the new total from the new paid amount and the current free amount rather
  than adding to the stored total, so a row that was inconsistent before is
  repaired by the next write.

ATOMICITY:
  The read-add-write of a credit runs inside one store transaction
  (BalanceStore.CreditPaid), so concurrent credits from several server
  instances all land.

READ SEMANTICS:
  GetBalance never fails with "not found": a user without a row has a zeroed
  balance. CreditExistingPaid is the exception used by withdrawal rejection,
  where crediting an account that has no ledger row is an error.

SEE ALSO:
  - withdrawal.go: rejection credits the withdrawn amount back
  - store.go: BalanceStore
*/
package cash

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/slot-admin/generic"
)

// Ledger is the Balance Ledger Accessor.
type Ledger struct {
	Store BalanceStore
	Clock generic.Clock
}

// NewLedger creates a ledger over store.
func NewLedger(store BalanceStore) *Ledger {
	return &Ledger{Store: store}
}

// GetBalance returns the user's balance, or a zeroed balance if none exists.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (Balance, error) {
	b, err := l.Store.GetBalance(ctx, userID)
	if err != nil {
		return Balance{}, generic.RemoteIO("get balance", err)
	}
	if b == nil {
		return Balance{UserID: userID}, nil
	}
	return *b, nil
}

// HasBalance reports whether userID has a balance row.
func (l *Ledger) HasBalance(ctx context.Context, userID string) (bool, error) {
	b, err := l.Store.GetBalance(ctx, userID)
	if err != nil {
		return false, generic.RemoteIO("get balance", err)
	}
	return b != nil, nil
}

// CreditPaid adds amount to the paid balance, creating the row if needed.
// It returns the balance before and after the write.
func (l *Ledger) CreditPaid(ctx context.Context, userID string, amount int64) (before, after Balance, err error) {
	return l.credit(ctx, userID, amount, true)
}

// CreditExistingPaid is CreditPaid for flows where a missing balance row is
// an error (ErrBalanceNotFound) rather than a zero.
func (l *Ledger) CreditExistingPaid(ctx context.Context, userID string, amount int64) (before, after Balance, err error) {
	return l.credit(ctx, userID, amount, false)
}

func (l *Ledger) credit(ctx context.Context, userID string, amount int64, create bool) (Balance, Balance, error) {
	if amount <= 0 {
		return Balance{}, Balance{}, generic.NewValidationError("amount", "must be positive").WithCause(generic.ErrInvalidAmount)
	}

	before, after, err := l.Store.CreditPaid(ctx, userID, amount, create, l.Clock.Now())
	if err != nil {
		return Balance{}, Balance{}, generic.RemoteIO("credit balance", err)
	}
	if after == nil {
		return Balance{}, Balance{}, fmt.Errorf("%w: user %s", generic.ErrBalanceNotFound, userID)
	}
	return *before, *after, nil
}

// AppendHistory appends one immutable history row. Call it exactly once per
// logical credit or debit.
func (l *Ledger) AppendHistory(ctx context.Context, h CashHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.TransactionAt.IsZero() {
		h.TransactionAt = l.Clock.Now()
	}
	if err := l.Store.AppendHistory(ctx, h); err != nil {
		return generic.RemoteIO("append cash history", err)
	}
	return nil
}

// History returns one page of the user's history, newest first.
func (l *Ledger) History(ctx context.Context, userID string, page generic.Page) (generic.PageOf[CashHistory], error) {
	page = page.Normalize(30)
	rows, total, err := l.Store.ListHistory(ctx, userID, page)
	if err != nil {
		return generic.PageOf[CashHistory]{}, generic.RemoteIO("list cash history", err)
	}
	return generic.PageOf[CashHistory]{Items: rows, Total: total, HasMore: page.HasMore(total)}, nil
}

// AppendAudit appends one admin-facing audit row.
func (l *Ledger) AppendAudit(ctx context.Context, a BalanceAuditLog) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.Clock.Now()
	}
	if err := l.Store.AppendAudit(ctx, a); err != nil {
		return generic.RemoteIO("append balance audit", err)
	}
	return nil
}

// Inconsistent returns every stored balance whose total does not equal
// paid + free.
func (l *Ledger) Inconsistent(ctx context.Context) ([]Balance, error) {
	all, err := l.Store.ListBalances(ctx)
	if err != nil {
		return nil, generic.RemoteIO("list balances", err)
	}
	var bad []Balance
	for _, b := range all {
		if !b.Consistent() {
			bad = append(bad, b)
		}
	}
	return bad, nil
}
