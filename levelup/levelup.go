/*
Package levelup reviews role-upgrade requests.

STATES:
  pending ──approve──▶ approved   (user's role set to RequestedRole)
  pending ──reject───▶ rejected

  Transitions use the same conditional pending-only update as withdrawals.
  The role-change notification is best-effort.

SEE ALSO:
  - cash/withdrawal.go: the same state machine shape for withdrawals
  - notify/: NotifyRoleChange
*/
package levelup

import (
	"context"
	"strings"
	"time"

	"github.com/warp/slot-admin/generic"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// RoleLabels are the display names used in role-change notifications.
var RoleLabels = map[string]string{
	"user":        "일반회원",
	"advertiser":  "광고주",
	"agency":      "대행사",
	"distributor": "총판",
	"operator":    "운영자",
	"admin":       "관리자",
}

// Request asks for userID's role to become RequestedRole.
type Request struct {
	ID             string
	UserID         string
	CurrentRole    string
	RequestedRole  string
	Status         Status
	RejectedReason string
	ProcessedBy    string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
}

// User is the minimal user read model needed for a role change.
type User struct {
	ID       string
	FullName string
	Role     string
}

// Transition is the write applied by a conditional pending-only update.
type Transition struct {
	To             Status
	ProcessedBy    string
	ProcessedAt    time.Time
	RejectedReason string
}

// Filter narrows List. Empty Status means all.
type Filter struct {
	Status Status
}

// Store persists levelup requests and user roles.
type Store interface {
	GetLevelup(ctx context.Context, id string) (*Request, error)
	TransitionLevelup(ctx context.Context, id string, t Transition) (bool, error)
	// ListLevelups pages in Order over the whole filtered set.
	ListLevelups(ctx context.Context, filter Filter, page generic.Page) ([]Request, int, error)
	GetUser(ctx context.Context, id string) (*User, error)
	SetUserRole(ctx context.Context, userID, role string) error
}

// Notifier sends the role-change notification.
type Notifier interface {
	NotifyRoleChange(ctx context.Context, userID, oldRole, newRole string, labels map[string]string) error
}

// Order lists pending requests first, then newest first.
var Order = generic.StatusOrder[Request]{
	Weight:    func(r Request) int { return generic.RequestWeights.Of(string(r.Status)) },
	Direction: generic.Ascending,
	Recency:   func(r Request) time.Time { return r.CreatedAt },
}

// Service reviews levelup requests.
type Service struct {
	Store      Store
	Notifier   Notifier
	BestEffort *generic.BestEffort
	Logger     generic.Logger
	Clock      generic.Clock
}

// NewService wires a levelup service. notifier may be nil.
func NewService(store Store, notifier Notifier, logger generic.Logger) *Service {
	if logger == nil {
		logger = generic.NopLogger()
	}
	return &Service{
		Store:      store,
		Notifier:   notifier,
		BestEffort: generic.NewBestEffort(logger),
		Logger:     logger,
	}
}

// Approve grants the requested role.
func (s *Service) Approve(ctx context.Context, id, adminID string) (Request, error) {
	req, err := s.loadPending(ctx, id)
	if err != nil {
		return Request{}, err
	}

	user, err := s.Store.GetUser(ctx, req.UserID)
	if err != nil {
		return Request{}, generic.RemoteIO("get user", err)
	}
	if user == nil {
		return Request{}, &generic.NotFoundError{Kind: "user", ID: req.UserID}
	}

	now := s.Clock.Now()
	if err := s.transition(ctx, id, Transition{To: StatusApproved, ProcessedBy: adminID, ProcessedAt: now}); err != nil {
		return Request{}, err
	}
	if err := s.Store.SetUserRole(ctx, req.UserID, req.RequestedRole); err != nil {
		generic.LogEvent(s.Logger, "levelup_role_update_failed", map[string]any{
			"levelup_id": id,
			"user_id":    req.UserID,
			"error":      err.Error(),
		})
		return Request{}, generic.RemoteIO("set user role", err)
	}

	if s.Notifier != nil {
		oldRole := user.Role
		s.BestEffort.Do(ctx, "levelup_role_notification", func(ctx context.Context) error {
			return s.Notifier.NotifyRoleChange(ctx, req.UserID, oldRole, req.RequestedRole, RoleLabels)
		})
	}

	req.Status = StatusApproved
	req.ProcessedBy = adminID
	req.ProcessedAt = &now
	generic.LogEvent(s.Logger, "levelup_approved", map[string]any{
		"levelup_id": id,
		"user_id":    req.UserID,
		"from":       user.Role,
		"to":         req.RequestedRole,
	})
	return req, nil
}

// Reject refuses the request. reason is required.
func (s *Service) Reject(ctx context.Context, id, adminID, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, generic.NewValidationError("reason", "rejection reason is required")
	}
	req, err := s.loadPending(ctx, id)
	if err != nil {
		return Request{}, err
	}

	now := s.Clock.Now()
	if err := s.transition(ctx, id, Transition{To: StatusRejected, ProcessedBy: adminID, ProcessedAt: now, RejectedReason: reason}); err != nil {
		return Request{}, err
	}
	req.Status = StatusRejected
	req.RejectedReason = reason
	req.ProcessedBy = adminID
	req.ProcessedAt = &now
	return req, nil
}

// List returns one page ordered pending-first, newest first.
func (s *Service) List(ctx context.Context, filter Filter, page generic.Page) (generic.PageOf[Request], error) {
	page = page.Normalize(20)
	rows, total, err := s.Store.ListLevelups(ctx, filter, page)
	if err != nil {
		return generic.PageOf[Request]{}, generic.RemoteIO("list levelups", err)
	}
	Order.Sort(rows)
	return generic.PageOf[Request]{Items: rows, Total: total, HasMore: page.HasMore(total)}, nil
}

func (s *Service) loadPending(ctx context.Context, id string) (Request, error) {
	req, err := s.Store.GetLevelup(ctx, id)
	if err != nil {
		return Request{}, generic.RemoteIO("get levelup", err)
	}
	if req == nil {
		return Request{}, &generic.NotFoundError{Kind: "levelup", ID: id}
	}
	if req.Status != StatusPending {
		return Request{}, &generic.AlreadyProcessedError{Kind: "levelup", ID: id, Status: string(req.Status)}
	}
	return *req, nil
}

func (s *Service) transition(ctx context.Context, id string, t Transition) error {
	applied, err := s.Store.TransitionLevelup(ctx, id, t)
	if err != nil {
		return generic.RemoteIO("transition levelup", err)
	}
	if applied {
		return nil
	}
	status := "processed"
	if req, err := s.Store.GetLevelup(ctx, id); err == nil && req != nil {
		status = string(req.Status)
	}
	return &generic.AlreadyProcessedError{Kind: "levelup", ID: id, Status: status}
}
