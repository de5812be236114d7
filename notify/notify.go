// Package notify persists user-facing notifications. Every caller treats a
// notification as best-effort: failures are returned here and dropped by the
// caller's generic.BestEffort.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/warp/slot-admin/generic"
)

// Type classifies a Notification.
type Type string

const (
	TypeWithdrawal Type = "withdrawal"
	TypeRoleChange Type = "role_change"
)

// Notification is one message shown to a user.
type Notification struct {
	ID        string
	UserID    string
	Type      Type
	Title     string
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}

// Store persists notifications.
type Store interface {
	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, userID string, page generic.Page) ([]Notification, int, error)
}

// Service builds and stores notifications.
type Service struct {
	Store Store
	Clock generic.Clock
}

// NewService creates a notification service over store.
func NewService(store Store) *Service {
	return &Service{Store: store}
}

// NotifyWithdrawalApproved tells userID their withdrawal was paid out.
func (s *Service) NotifyWithdrawalApproved(ctx context.Context, userID string, amount, fee int64) error {
	msg := fmt.Sprintf("%s 출금 요청이 승인되었습니다.", Won(amount))
	if fee > 0 {
		msg = fmt.Sprintf("%s 출금 요청이 승인되었습니다. (수수료 %s, 실수령액 %s)", Won(amount), Won(fee), Won(amount-fee))
	}
	return s.send(ctx, Notification{
		UserID:  userID,
		Type:    TypeWithdrawal,
		Title:   "출금 승인",
		Message: msg,
		Data: map[string]any{
			"status": "approved",
			"amount": amount,
			"fee":    fee,
		},
	})
}

// NotifyWithdrawalRejected tells userID their withdrawal was refused and
// the amount returned to their balance.
func (s *Service) NotifyWithdrawalRejected(ctx context.Context, userID string, amount int64, reason string) error {
	return s.send(ctx, Notification{
		UserID:  userID,
		Type:    TypeWithdrawal,
		Title:   "출금 반려",
		Message: fmt.Sprintf("%s 출금 요청이 반려되었습니다. 사유: %s", Won(amount), reason),
		Data: map[string]any{
			"status": "rejected",
			"amount": amount,
			"reason": reason,
		},
	})
}

// NotifyRoleChange tells userID their role changed. labels maps role codes
// to display names; unknown codes are shown as-is.
func (s *Service) NotifyRoleChange(ctx context.Context, userID, oldRole, newRole string, labels map[string]string) error {
	label := func(r string) string {
		if l, ok := labels[r]; ok {
			return l
		}
		return r
	}
	return s.send(ctx, Notification{
		UserID:  userID,
		Type:    TypeRoleChange,
		Title:   "등급 변경",
		Message: fmt.Sprintf("회원 등급이 %s에서 %s(으)로 변경되었습니다.", label(oldRole), label(newRole)),
		Data: map[string]any{
			"oldRole": oldRole,
			"newRole": newRole,
		},
	})
}

// List returns userID's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, page generic.Page) (generic.PageOf[Notification], error) {
	page = page.Normalize(20)
	rows, total, err := s.Store.ListNotifications(ctx, userID, page)
	if err != nil {
		return generic.PageOf[Notification]{}, generic.RemoteIO("list notifications", err)
	}
	return generic.PageOf[Notification]{Items: rows, Total: total, HasMore: page.HasMore(total)}, nil
}

func (s *Service) send(ctx context.Context, n Notification) error {
	if n.UserID == "" {
		return generic.NewValidationError("user_id", "required")
	}
	n.ID = uuid.NewString()
	n.CreatedAt = s.Clock.Now()
	if err := s.Store.InsertNotification(ctx, n); err != nil {
		return generic.RemoteIO("insert notification", err)
	}
	return nil
}

// Won formats an amount with thousands separators, e.g. 20000 -> "20,000원".
func Won(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	out := make([]byte, 0, len(digits)+len(digits)/3+1)
	if neg {
		out = append(out, '-')
	}
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	return string(out) + "원"
}
