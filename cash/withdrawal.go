/*
withdrawal.go - Withdrawal Request State Machine

STATES:
  pending ──approve──▶ approved   (terminal)
  pending ──reject───▶ rejected   (terminal)

  No transition leaves approved or rejected. Every transition is a
  conditional update guarded by status = 'pending' at the storage layer, so
  two admins acting on the same request concurrently cannot both succeed.

APPROVE:
  1. Load request; non-pending -> AlreadyProcessed (approved vs rejected)
  2. CAS pending -> approved, processedAt/processedBy
  3. best-effort admin action log {withdrawAmount, feeAmount, netAmount, userId}
  4. best-effort "withdrawal approved" notification
  No balance change: the debit happened when the request was created.

REJECT:
  1. Load request; non-pending -> AlreadyProcessed
  2. amount must be positive (ErrInvalidAmount)
  3. balance row must exist (ErrBalanceNotFound); the request stays pending
  4. CAS pending -> rejected, rejectedReason/rejectedAt
  5. atomic credit of amount back to the paid balance
  6. best-effort history row  +amount "출금 반려 (사유: ...)"
  7. best-effort balance audit row
  8. best-effort "withdrawal rejected" notification

  Steps 3-5 decide the outcome. Failures in 6-8 are logged by BestEffort
  and never mask a successful rejection. Balance rows are never deleted, so
  a row seen in step 3 is still there in step 5.

SEE ALSO:
  - ledger.go: CreditExistingPaid
  - generic/besteffort.go
*/
package cash

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/slot-admin/generic"
)

// WithdrawalService orchestrates approve/reject.
type WithdrawalService struct {
	Store      WithdrawalStore
	Ledger     *Ledger
	Notifier   Notifier
	BestEffort *generic.BestEffort
	Logger     generic.Logger
	Clock      generic.Clock
}

// NewWithdrawalService wires a service. notifier may be nil.
func NewWithdrawalService(store WithdrawalStore, ledger *Ledger, notifier Notifier, logger generic.Logger) *WithdrawalService {
	if logger == nil {
		logger = generic.NopLogger()
	}
	return &WithdrawalService{
		Store:      store,
		Ledger:     ledger,
		Notifier:   notifier,
		BestEffort: generic.NewBestEffort(logger),
		Logger:     logger,
	}
}

// RequestOrder lists pending requests first, then newest first.
var RequestOrder = generic.StatusOrder[WithdrawalRequest]{
	Weight:    func(w WithdrawalRequest) int { return generic.RequestWeights.Of(string(w.Status)) },
	Direction: generic.Ascending,
	Recency:   func(w WithdrawalRequest) time.Time { return w.CreatedAt },
}

// Approve moves a pending request to approved.
func (s *WithdrawalService) Approve(ctx context.Context, requestID, adminID string) (WithdrawalRequest, error) {
	req, err := s.loadPending(ctx, requestID)
	if err != nil {
		return WithdrawalRequest{}, err
	}

	now := s.Clock.Now()
	applied, err := s.Store.TransitionWithdrawal(ctx, requestID, WithdrawalTransition{
		To:          WithdrawalApproved,
		ProcessedAt: &now,
		ProcessedBy: adminID,
	})
	if err != nil {
		return WithdrawalRequest{}, generic.RemoteIO("approve withdrawal", err)
	}
	if !applied {
		return WithdrawalRequest{}, s.lostRace(ctx, requestID)
	}

	s.BestEffort.Do(ctx, "withdrawal_admin_log", func(ctx context.Context) error {
		return s.Store.AppendAdminLog(ctx, AdminActionLog{
			ID:       uuid.NewString(),
			AdminID:  adminID,
			Action:   "withdrawal_approve",
			TargetID: requestID,
			Details: map[string]any{
				"withdrawAmount": req.Amount,
				"feeAmount":      req.Fee(),
				"netAmount":      req.NetAmount(),
				"userId":         req.UserID,
			},
			CreatedAt: now,
		})
	})
	s.notify(ctx, "withdrawal_approved_notification", func(ctx context.Context, n Notifier) error {
		return n.NotifyWithdrawalApproved(ctx, req.UserID, req.Amount, req.Fee())
	})

	generic.LogEvent(s.Logger, "withdrawal_approved", map[string]any{
		"withdrawal_id": requestID,
		"user_id":       req.UserID,
		"amount":        req.Amount,
		"admin_id":      adminID,
	})
	return req, nil
}

// Reject moves a pending request to rejected and credits the amount back.
func (s *WithdrawalService) Reject(ctx context.Context, requestID, reason string) (WithdrawalRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return WithdrawalRequest{}, generic.NewValidationError("reason", "rejection reason is required")
	}

	req, err := s.loadPending(ctx, requestID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if req.Amount <= 0 {
		return WithdrawalRequest{}, generic.NewValidationError("amount", fmt.Sprintf("invalid withdrawal amount %d", req.Amount)).WithCause(generic.ErrInvalidAmount)
	}
	ok, err := s.Ledger.HasBalance(ctx, req.UserID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if !ok {
		return WithdrawalRequest{}, fmt.Errorf("%w: user %s", generic.ErrBalanceNotFound, req.UserID)
	}

	now := s.Clock.Now()
	applied, err := s.Store.TransitionWithdrawal(ctx, requestID, WithdrawalTransition{
		To:             WithdrawalRejected,
		RejectedReason: reason,
		RejectedAt:     &now,
	})
	if err != nil {
		return WithdrawalRequest{}, generic.RemoteIO("reject withdrawal", err)
	}
	if !applied {
		return WithdrawalRequest{}, s.lostRace(ctx, requestID)
	}

	before, after, err := s.Ledger.CreditExistingPaid(ctx, req.UserID, req.Amount)
	if err != nil {
		// The status already moved; an operator reconciles the balance.
		generic.LogEvent(s.Logger, "withdrawal_reject_credit_failed", map[string]any{
			"withdrawal_id": requestID,
			"user_id":       req.UserID,
			"amount":        req.Amount,
			"error":         err.Error(),
		})
		return WithdrawalRequest{}, err
	}

	s.BestEffort.Do(ctx, "withdrawal_reject_history", func(ctx context.Context) error {
		return s.Ledger.AppendHistory(ctx, CashHistory{
			UserID:          req.UserID,
			TransactionType: TxWithdrawal,
			Amount:          req.Amount,
			Description:     fmt.Sprintf("출금 반려 (사유: %s)", reason),
			TransactionAt:   now,
			ReferenceID:     requestID,
		})
	})
	s.BestEffort.Do(ctx, "withdrawal_reject_audit", func(ctx context.Context) error {
		return s.Ledger.AppendAudit(ctx, BalanceAuditLog{
			UserID:         req.UserID,
			ChangeType:     ChangeIncrease,
			OldPaidBalance: before.Paid,
			NewPaidBalance: after.Paid,
			OldFreeBalance: before.Free,
			NewFreeBalance: after.Free,
			ChangeAmount:   req.Amount,
			Details: map[string]any{
				"reason":        "withdrawal_rejected",
				"withdrawalId":  requestID,
				"rejectReason":  reason,
				"previousTotal": before.Total,
				"newTotal":      after.Total,
			},
			CreatedAt: now,
		})
	})
	s.notify(ctx, "withdrawal_rejected_notification", func(ctx context.Context, n Notifier) error {
		return n.NotifyWithdrawalRejected(ctx, req.UserID, req.Amount, reason)
	})

	req.Status = WithdrawalRejected
	req.RejectedReason = reason
	req.RejectedAt = &now

	generic.LogEvent(s.Logger, "withdrawal_rejected", map[string]any{
		"withdrawal_id": requestID,
		"user_id":       req.UserID,
		"amount":        req.Amount,
		"paid_after":    after.Paid,
	})
	return req, nil
}

// List returns one page of requests ordered pending-first, newest first.
func (s *WithdrawalService) List(ctx context.Context, filter WithdrawalFilter, page generic.Page) (generic.PageOf[WithdrawalRequest], error) {
	page = page.Normalize(20)
	rows, total, err := s.Store.ListWithdrawals(ctx, filter, page)
	if err != nil {
		return generic.PageOf[WithdrawalRequest]{}, generic.RemoteIO("list withdrawals", err)
	}
	RequestOrder.Sort(rows)
	return generic.PageOf[WithdrawalRequest]{Items: rows, Total: total, HasMore: page.HasMore(total)}, nil
}

// Get returns a single request.
func (s *WithdrawalService) Get(ctx context.Context, requestID string) (WithdrawalRequest, error) {
	req, err := s.Store.GetWithdrawal(ctx, requestID)
	if err != nil {
		return WithdrawalRequest{}, generic.RemoteIO("get withdrawal", err)
	}
	if req == nil {
		return WithdrawalRequest{}, &generic.NotFoundError{Kind: "withdrawal", ID: requestID}
	}
	return *req, nil
}

func (s *WithdrawalService) loadPending(ctx context.Context, requestID string) (WithdrawalRequest, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if req.Status != WithdrawalPending {
		return WithdrawalRequest{}, &generic.AlreadyProcessedError{Kind: "withdrawal", ID: requestID, Status: string(req.Status)}
	}
	return req, nil
}

// lostRace re-reads a request whose conditional update matched no row so
// the error names the state the other actor left it in.
func (s *WithdrawalService) lostRace(ctx context.Context, requestID string) error {
	status := "processed"
	if req, err := s.Store.GetWithdrawal(ctx, requestID); err == nil && req != nil {
		status = string(req.Status)
	}
	return &generic.AlreadyProcessedError{Kind: "withdrawal", ID: requestID, Status: status}
}

func (s *WithdrawalService) notify(ctx context.Context, name string, fn func(context.Context, Notifier) error) {
	if s.Notifier == nil {
		return
	}
	s.BestEffort.Do(ctx, name, func(ctx context.Context) error {
		return fn(ctx, s.Notifier)
	})
}
