/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types in cash,
  chat, levelup and notify carry no JSON tags; this file is the only place
  the wire format is decided.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Paged wrappers

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked by
  decodeAndValidate (handlers.go) before any domain call.

TIME FORMAT:
  RFC3339 with nanoseconds, always UTC.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/slot-admin/cash"
	"github.com/warp/slot-admin/chat"
	"github.com/warp/slot-admin/levelup"
	"github.com/warp/slot-admin/notify"
)

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// PageResponse wraps one page of items.
type PageResponse[T any] struct {
	Items    []T  `json:"items"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// =============================================================================
// CHAT
// =============================================================================

// RoomDTO is a chat room in list responses.
type RoomDTO struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	LastMessageID   string  `json:"last_message_id,omitempty"`
	LastMessage     string  `json:"last_message,omitempty"`
	LastMessageTime *string `json:"last_message_time,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func toRoomDTO(r chat.Room) RoomDTO {
	return RoomDTO{
		ID:              r.ID,
		Name:            r.DisplayName(),
		Status:          string(r.Status),
		LastMessageID:   r.LastMessageID,
		LastMessage:     r.LastMessage,
		LastMessageTime: formatTimePtr(r.LastMessageTime),
		CreatedAt:       formatTime(r.CreatedAt),
		UpdatedAt:       formatTime(r.UpdatedAt),
	}
}

// AttachmentDTO is a message attachment.
type AttachmentDTO struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type" validate:"omitempty,oneof=image file"`
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name"`
	Size int64  `json:"size" validate:"gte=0"`
}

// MessageDTO is a chat message.
type MessageDTO struct {
	ID          string          `json:"id"`
	RoomID      string          `json:"room_id"`
	SenderID    string          `json:"sender_id"`
	SenderName  string          `json:"sender_name"`
	SenderRole  string          `json:"sender_role"`
	Content     string          `json:"content"`
	Timestamp   string          `json:"timestamp"`
	Status      string          `json:"status"`
	Attachments []AttachmentDTO `json:"attachments,omitempty"`
}

func toMessageDTO(m chat.Message) MessageDTO {
	dto := MessageDTO{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderRole: string(m.SenderRole),
		Content:    m.Content,
		Timestamp:  formatTime(m.Timestamp),
		Status:     string(m.Status),
	}
	for _, a := range m.Attachments {
		dto.Attachments = append(dto.Attachments, AttachmentDTO{
			ID:   a.ID,
			Type: string(a.Type),
			URL:  a.URL,
			Name: a.Name,
			Size: a.Size,
		})
	}
	return dto
}

// SendMessageRequest is the body of POST /api/chat/rooms/{id}/messages.
// ID is optional; clients that insert optimistically send their own.
type SendMessageRequest struct {
	ID          string          `json:"id" validate:"omitempty,uuid"`
	Content     string          `json:"content" validate:"max=5000"`
	Attachments []AttachmentDTO `json:"attachments" validate:"max=10,dive"`
}

func (r SendMessageRequest) attachments() []chat.Attachment {
	var out []chat.Attachment
	for _, a := range r.Attachments {
		out = append(out, chat.Attachment{
			Type: chat.AttachmentType(a.Type),
			URL:  a.URL,
			Name: a.Name,
			Size: a.Size,
		})
	}
	return out
}

// SetRoomStatusRequest is the body of POST /api/chat/rooms/{id}/status.
type SetRoomStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active closed archived"`
}

// MarkReadRequest is the body of POST /api/chat/rooms/{id}/read.
type MarkReadRequest struct {
	MessageID string `json:"message_id" validate:"required"`
}

// =============================================================================
// WITHDRAWALS / BALANCES
// =============================================================================

// WithdrawalDTO is a withdrawal request.
type WithdrawalDTO struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Amount         int64   `json:"amount"`
	FeeAmount      *int64  `json:"fee_amount,omitempty"`
	NetAmount      int64   `json:"net_amount"`
	Status         string  `json:"status"`
	RejectedReason string  `json:"rejected_reason,omitempty"`
	ProcessedAt    *string `json:"processed_at,omitempty"`
	ProcessedBy    string  `json:"processed_by,omitempty"`
	RejectedAt     *string `json:"rejected_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func toWithdrawalDTO(w cash.WithdrawalRequest) WithdrawalDTO {
	return WithdrawalDTO{
		ID:             w.ID,
		UserID:         w.UserID,
		Amount:         w.Amount,
		FeeAmount:      w.FeeAmount,
		NetAmount:      w.NetAmount(),
		Status:         string(w.Status),
		RejectedReason: w.RejectedReason,
		ProcessedAt:    formatTimePtr(w.ProcessedAt),
		ProcessedBy:    w.ProcessedBy,
		RejectedAt:     formatTimePtr(w.RejectedAt),
		CreatedAt:      formatTime(w.CreatedAt),
	}
}

// RejectRequest is the body of the withdrawal and levelup reject endpoints.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// BalanceDTO is a user's balance.
type BalanceDTO struct {
	UserID    string  `json:"user_id"`
	Paid      int64   `json:"paid_balance"`
	Free      int64   `json:"free_balance"`
	Total     int64   `json:"total_balance"`
	UpdatedAt *string `json:"updated_at,omitempty"`
}

// InconsistentBalancesResponse is the on-demand check plus, when the
// monitor runs, its last result.
type InconsistentBalancesResponse struct {
	Balances       []BalanceDTO `json:"balances"`
	LastCheckAt    *string      `json:"last_check_at,omitempty"`
	LastCheckFound *int         `json:"last_check_found,omitempty"`
	NextCheckAt    *string      `json:"next_check_at,omitempty"`
}

func toBalanceDTO(b cash.Balance) BalanceDTO {
	dto := BalanceDTO{UserID: b.UserID, Paid: b.Paid, Free: b.Free, Total: b.Total}
	if !b.UpdatedAt.IsZero() {
		dto.UpdatedAt = formatTimePtr(&b.UpdatedAt)
	}
	return dto
}

// CashHistoryDTO is one user-facing ledger row.
type CashHistoryDTO struct {
	ID              string `json:"id"`
	TransactionType string `json:"transaction_type"`
	Amount          int64  `json:"amount"`
	Description     string `json:"description"`
	TransactionAt   string `json:"transaction_at"`
	ReferenceID     string `json:"reference_id,omitempty"`
	BalanceType     string `json:"balance_type,omitempty"`
}

func toCashHistoryDTO(h cash.CashHistory) CashHistoryDTO {
	return CashHistoryDTO{
		ID:              h.ID,
		TransactionType: string(h.TransactionType),
		Amount:          h.Amount,
		Description:     h.Description,
		TransactionAt:   formatTime(h.TransactionAt),
		ReferenceID:     h.ReferenceID,
		BalanceType:     h.BalanceType,
	}
}

// WithdrawSettingDTO is a resolved or stored withdraw setting.
type WithdrawSettingDTO struct {
	UserID               string          `json:"user_id,omitempty"`
	MinRequestAmount     int64           `json:"min_request_amount"`
	MinRequestPercentage decimal.Decimal `json:"min_request_percentage"`
	MinimumForUser       *int64          `json:"minimum_for_user,omitempty"`
	UpdatedAt            *string         `json:"updated_at,omitempty"`
}

func toWithdrawSettingDTO(s cash.WithdrawSetting) WithdrawSettingDTO {
	dto := WithdrawSettingDTO{
		UserID:               s.UserID,
		MinRequestAmount:     s.MinRequestAmount,
		MinRequestPercentage: s.MinRequestPercentage,
	}
	if !s.UpdatedAt.IsZero() {
		dto.UpdatedAt = formatTimePtr(&s.UpdatedAt)
	}
	return dto
}

// SaveWithdrawSettingRequest is the body of the settings PUT endpoints.
type SaveWithdrawSettingRequest struct {
	MinRequestAmount     int64           `json:"min_request_amount" validate:"gte=0"`
	MinRequestPercentage decimal.Decimal `json:"min_request_percentage"`
}

// =============================================================================
// LEVELUPS / NOTIFICATIONS
// =============================================================================

// LevelupDTO is a role-upgrade request.
type LevelupDTO struct {
	ID                 string  `json:"id"`
	UserID             string  `json:"user_id"`
	CurrentRole        string  `json:"current_role"`
	CurrentRoleLabel   string  `json:"current_role_label"`
	RequestedRole      string  `json:"requested_role"`
	RequestedRoleLabel string  `json:"requested_role_label"`
	Status             string  `json:"status"`
	RejectedReason     string  `json:"rejected_reason,omitempty"`
	ProcessedBy        string  `json:"processed_by,omitempty"`
	ProcessedAt        *string `json:"processed_at,omitempty"`
	CreatedAt          string  `json:"created_at"`
}

func toLevelupDTO(r levelup.Request) LevelupDTO {
	label := func(role string) string {
		if l, ok := levelup.RoleLabels[role]; ok {
			return l
		}
		return role
	}
	return LevelupDTO{
		ID:                 r.ID,
		UserID:             r.UserID,
		CurrentRole:        r.CurrentRole,
		CurrentRoleLabel:   label(r.CurrentRole),
		RequestedRole:      r.RequestedRole,
		RequestedRoleLabel: label(r.RequestedRole),
		Status:             string(r.Status),
		RejectedReason:     r.RejectedReason,
		ProcessedBy:        r.ProcessedBy,
		ProcessedAt:        formatTimePtr(r.ProcessedAt),
		CreatedAt:          formatTime(r.CreatedAt),
	}
}

// NotificationDTO is one user notification.
type NotificationDTO struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func toNotificationDTO(n notify.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		CreatedAt: formatTime(n.CreatedAt),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}
