/*
handlers.go - HTTP API handlers for the admin dashboard backend

PURPOSE:
  Exposes the chat, withdrawal, balance, settings, levelup and notification
  services via REST. Handles HTTP request/response, JSON serialization and
  validation, and delegates to the domain packages.

ENDPOINTS:
  Chat (operator or admin):
    GET    /api/chat/rooms                    List rooms
    GET    /api/chat/rooms/{id}/messages      Message page, oldest to newest
    POST   /api/chat/rooms/{id}/messages      Send a message
    POST   /api/chat/rooms/{id}/status        Close / archive / reactivate
    POST   /api/chat/rooms/{id}/join          Lazy participant creation
    POST   /api/chat/rooms/{id}/read          Move the read pointer

  Withdrawals (admin):
    GET    /api/withdrawals                   List requests
    GET    /api/withdrawals/export            .xlsx export
    POST   /api/withdrawals/{id}/approve      Approve
    POST   /api/withdrawals/{id}/reject       Reject and refund

  Balances and settings (admin):
    GET    /api/balances/{userID}             Current balance
    GET    /api/balances/{userID}/history     Cash history
    GET    /api/balances/inconsistent         Rows where total != paid + free
    GET    /api/withdraw-settings/{userID}    Effective setting
    PUT    /api/withdraw-settings/global      Save global setting
    PUT    /api/withdraw-settings/users/{userID}
    DELETE /api/withdraw-settings/users/{userID}

  Levelups and notifications (admin):
    GET    /api/levelups                      List requests
    POST   /api/levelups/{id}/approve
    POST   /api/levelups/{id}/reject
    GET    /api/notifications/{userID}

ARCHITECTURE:
  Handler struct holds every service, built over one Store by NewHandler.

REQUEST FLOW:
  1. Parse HTTP request (URL params, query, JSON body)
  2. Validate input (validator tags on *Request types)
  3. Call the domain service
  4. Serialize response DTO
  5. Map errors (writeDomainError)

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"}:
  - 400: Validation errors, invalid input
  - 403: Actor lacks the capability
  - 404: Resource not found
  - 409: Already processed, room not active
  - 502: Storage failure
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/slot-admin/auth"
	"github.com/warp/slot-admin/cash"
	"github.com/warp/slot-admin/chat"
	"github.com/warp/slot-admin/export"
	"github.com/warp/slot-admin/generic"
	"github.com/warp/slot-admin/levelup"
	"github.com/warp/slot-admin/notify"
	"github.com/warp/slot-admin/realtime"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API needs from persistence.
type Store interface {
	cash.BalanceStore
	cash.WithdrawalStore
	cash.SettingsStore
	chat.Store
	levelup.Store
	notify.Store
	Seeder
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       Store
	Chat        *chat.Service
	Withdrawals *cash.WithdrawalService
	Ledger      *cash.Ledger
	Settings    *cash.Settings
	Levelups    *levelup.Service
	Notify      *notify.Service
	Realtime    *realtime.Handler
	Verifier    *auth.Verifier
	Logger      generic.Logger

	// Monitor, when set, adds the periodic check's timing to
	// ListInconsistentBalances.
	Monitor *BalanceCheckScheduler

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires every service over store. Chat messages are published
// to hub; websocket and REST auth use verifier.
func NewHandler(store Store, hub *realtime.Hub, verifier *auth.Verifier, logger generic.Logger) *Handler {
	if logger == nil {
		logger = generic.NopLogger()
	}
	notifier := notify.NewService(store)
	ledger := cash.NewLedger(store)
	return &Handler{
		Store:       store,
		Chat:        chat.NewService(store, hub, logger),
		Withdrawals: cash.NewWithdrawalService(store, ledger, notifier, logger),
		Ledger:      ledger,
		Settings:    cash.NewSettings(store, ledger),
		Levelups:    levelup.NewService(store, notifier, logger),
		Notify:      notifier,
		Realtime:    realtime.NewHandler(hub, verifier, logger),
		Verifier:    verifier,
		Logger:      logger,
		validate:    validator.New(),
	}
}

// SetClock points every service at clock.
func (h *Handler) SetClock(clock generic.Clock) {
	h.Chat.Clock = clock
	h.Withdrawals.Clock = clock
	h.Ledger.Clock = clock
	h.Settings.Clock = clock
	h.Levelups.Clock = clock
	h.Notify.Clock = clock
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CHAT HANDLERS
// =============================================================================

// ListRooms returns one page of rooms.
// GET /api/chat/rooms?status=&page=&page_size=
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	filter := chat.RoomFilter{Status: chat.RoomStatus(r.URL.Query().Get("status"))}

	result, err := h.Chat.ListRooms(r.Context(), filter, page)
	if err != nil {
		writeDomainError(w, "Failed to list rooms", err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result, page.Normalize(20), toRoomDTO))
}

// ListMessages returns one page of a room's messages, oldest first.
// GET /api/chat/rooms/{id}/messages?page=&page_size=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	result, err := h.Chat.ListMessages(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		writeDomainError(w, "Failed to list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result, page.Normalize(30), toMessageDTO))
}

// SendMessage sends a message as the current actor.
// POST /api/chat/rooms/{id}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	actor, _ := auth.ActorFrom(r.Context())

	msg, err := h.Chat.SendMessage(r.Context(), chat.SendInput{
		ID:          req.ID,
		RoomID:      chi.URLParam(r, "id"),
		Sender:      actor,
		Content:     req.Content,
		Attachments: req.attachments(),
	})
	if err != nil {
		writeDomainError(w, "Failed to send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageDTO(msg))
}

// SetRoomStatus changes a room's status and returns the system message.
// POST /api/chat/rooms/{id}/status
func (h *Handler) SetRoomStatus(w http.ResponseWriter, r *http.Request) {
	var req SetRoomStatusRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	actor, _ := auth.ActorFrom(r.Context())

	notice, err := h.Chat.SetRoomStatus(r.Context(), chi.URLParam(r, "id"), chat.RoomStatus(req.Status), actor)
	if err != nil {
		writeDomainError(w, "Failed to change room status", err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageDTO(notice))
}

// JoinRoom records the actor as a participant in the background.
// POST /api/chat/rooms/{id}/join
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	h.Chat.JoinRoom(r.Context(), chi.URLParam(r, "id"), actor)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// MarkRead moves the actor's read pointer.
// POST /api/chat/rooms/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	actor, _ := auth.ActorFrom(r.Context())

	if err := h.Chat.MarkRead(r.Context(), chi.URLParam(r, "id"), actor.ID, req.MessageID); err != nil {
		writeDomainError(w, "Failed to mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// WITHDRAWAL HANDLERS
// =============================================================================

func parseWithdrawalFilter(r *http.Request) (cash.WithdrawalFilter, error) {
	status := cash.WithdrawalStatus(r.URL.Query().Get("status"))
	switch status {
	case "", cash.WithdrawalPending, cash.WithdrawalApproved, cash.WithdrawalRejected:
	default:
		return cash.WithdrawalFilter{}, generic.NewValidationError("status", "unknown withdrawal status "+string(status))
	}
	return cash.WithdrawalFilter{Status: status, UserID: r.URL.Query().Get("user_id")}, nil
}

// ListWithdrawals returns one page of requests, pending first.
// GET /api/withdrawals?status=&user_id=&page=&page_size=
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	filter, err := parseWithdrawalFilter(r)
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}

	result, err := h.Withdrawals.List(r.Context(), filter, page)
	if err != nil {
		writeDomainError(w, "Failed to list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result, page.Normalize(20), toWithdrawalDTO))
}

// ExportWithdrawals streams every matching request as an .xlsx workbook.
// GET /api/withdrawals/export?status=&user_id=
func (h *Handler) ExportWithdrawals(w http.ResponseWriter, r *http.Request) {
	filter, err := parseWithdrawalFilter(r)
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}

	var all []cash.WithdrawalRequest
	for page := (generic.Page{Index: 0, Size: 200}); ; page.Index++ {
		result, err := h.Withdrawals.List(r.Context(), filter, page)
		if err != nil {
			writeDomainError(w, "Failed to list withdrawals", err)
			return
		}
		all = append(all, result.Items...)
		if !result.HasMore {
			break
		}
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, export.WithdrawalSheet(all)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build export", err)
		return
	}

	filename := export.FileName("withdrawals", h.Withdrawals.Clock.Now())
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// ApproveWithdrawal approves a pending request.
// POST /api/withdrawals/{id}/approve
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	req, err := h.Withdrawals.Approve(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		writeDomainError(w, "Failed to approve withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(req))
}

// RejectWithdrawal rejects a pending request and refunds the amount.
// POST /api/withdrawals/{id}/reject
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if !h.decodeAndValidate(w, r, &body) {
		return
	}

	req, err := h.Withdrawals.Reject(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(req))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns a user's balance, zeroed when absent.
// GET /api/balances/{userID}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Ledger.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// GetHistory returns a user's cash history, newest first.
// GET /api/balances/{userID}/history?page=&page_size=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	result, err := h.Ledger.History(r.Context(), chi.URLParam(r, "userID"), page)
	if err != nil {
		writeDomainError(w, "Failed to get history", err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result, page.Normalize(30), toCashHistoryDTO))
}

// ListInconsistentBalances returns every balance where total != paid + free.
// GET /api/balances/inconsistent
func (h *Handler) ListInconsistentBalances(w http.ResponseWriter, r *http.Request) {
	bad, err := h.Ledger.Inconsistent(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to check balances", err)
		return
	}
	dtos := make([]BalanceDTO, len(bad))
	for i, b := range bad {
		dtos[i] = toBalanceDTO(b)
	}
	resp := InconsistentBalancesResponse{Balances: dtos}
	if h.Monitor != nil && h.Monitor.Enabled {
		if at, last := h.Monitor.LastRun(); !at.IsZero() {
			resp.LastCheckAt = formatTimePtr(&at)
			n := len(last)
			resp.LastCheckFound = &n
		}
		next := h.Monitor.GetNextRunTime()
		resp.NextCheckAt = formatTimePtr(&next)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// WITHDRAW SETTINGS HANDLERS
// =============================================================================

// GetWithdrawSetting returns the effective setting and the resulting
// minimum request amount for a user.
// GET /api/withdraw-settings/{userID}
func (h *Handler) GetWithdrawSetting(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	setting, err := h.Settings.Effective(r.Context(), userID)
	if err != nil {
		writeDomainError(w, "Failed to get withdraw setting", err)
		return
	}
	floor, err := h.Settings.MinimumFor(r.Context(), userID)
	if err != nil {
		writeDomainError(w, "Failed to get withdraw setting", err)
		return
	}
	dto := toWithdrawSettingDTO(setting)
	dto.MinimumForUser = &floor
	writeJSON(w, http.StatusOK, dto)
}

// SaveGlobalWithdrawSetting replaces the global setting.
// PUT /api/withdraw-settings/global
func (h *Handler) SaveGlobalWithdrawSetting(w http.ResponseWriter, r *http.Request) {
	var req SaveWithdrawSettingRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	saved, err := h.Settings.SaveGlobal(r.Context(), req.MinRequestAmount, req.MinRequestPercentage)
	if err != nil {
		writeDomainError(w, "Failed to save withdraw setting", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawSettingDTO(saved))
}

// SaveUserWithdrawSetting writes a per-user override.
// PUT /api/withdraw-settings/users/{userID}
func (h *Handler) SaveUserWithdrawSetting(w http.ResponseWriter, r *http.Request) {
	var req SaveWithdrawSettingRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	saved, err := h.Settings.SaveUser(r.Context(), chi.URLParam(r, "userID"), req.MinRequestAmount, req.MinRequestPercentage)
	if err != nil {
		writeDomainError(w, "Failed to save withdraw setting", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawSettingDTO(saved))
}

// DeleteUserWithdrawSetting removes a per-user override.
// DELETE /api/withdraw-settings/users/{userID}
func (h *Handler) DeleteUserWithdrawSetting(w http.ResponseWriter, r *http.Request) {
	if err := h.Settings.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeDomainError(w, "Failed to delete withdraw setting", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEVELUP HANDLERS
// =============================================================================

// ListLevelups returns one page of role-upgrade requests, pending first.
// GET /api/levelups?status=&page=&page_size=
func (h *Handler) ListLevelups(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	status := levelup.Status(r.URL.Query().Get("status"))
	switch status {
	case "", levelup.StatusPending, levelup.StatusApproved, levelup.StatusRejected:
	default:
		writeError(w, http.StatusBadRequest, "Invalid filter", fmt.Errorf("unknown levelup status %q", status))
		return
	}

	result, err := h.Levelups.List(r.Context(), levelup.Filter{Status: status}, page)
	if err != nil {
		writeDomainError(w, "Failed to list levelups", err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result, page.Normalize(20), toLevelupDTO))
}

// ApproveLevelup grants the requested role.
// POST /api/levelups/{id}/approve
func (h *Handler) ApproveLevelup(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	req, err := h.Levelups.Approve(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		writeDomainError(w, "Failed to approve levelup", err)
		return
	}
	writeJSON(w, http.StatusOK, toLevelupDTO(req))
}

// RejectLevelup refuses a request.
// POST /api/levelups/{id}/reject
func (h *Handler) RejectLevelup(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if !h.decodeAndValidate(w, r, &body) {
		return
	}
	actor, _ := auth.ActorFrom(r.Context())

	req, err := h.Levelups.Reject(r.Context(), chi.URLParam(r, "id"), actor.ID, body.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject levelup", err)
		return
	}
	writeJSON(w, http.StatusOK, toLevelupDTO(req))
}

// ListNotifications returns a user's notifications, newest first.
// GET /api/notifications/{userID}?page=&page_size=
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	result, err := h.Notify.List(r.Context(), chi.URLParam(r, "userID"), page)
	if err != nil {
		writeDomainError(w, "Failed to list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result, page.Normalize(20), toNotificationDTO))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the generic error taxonomy to an HTTP status.
// Room-not-active is a ValidationError with a more specific cause, so the
// state checks come first.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var ap *generic.AlreadyProcessedError
	switch {
	case errors.As(err, &ap):
		writeError(w, http.StatusConflict, fmt.Sprintf("%s is already %s", ap.Kind, ap.Status), err)
	case errors.Is(err, generic.ErrRoomNotActive):
		writeError(w, http.StatusConflict, "Room is not active", err)
	case errors.Is(err, generic.ErrForbidden):
		writeError(w, http.StatusForbidden, message, err)
	case errors.Is(err, generic.ErrValidation), errors.Is(err, generic.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, generic.ErrRemoteIO):
		writeError(w, http.StatusBadGateway, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// decodeAndValidate reads the JSON body into dst and runs its validator
// tags. It writes the 400 response itself and reports whether to continue.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// parsePage reads ?page= (zero-based) and ?page_size=. Missing values fall
// back to the service defaults.
func parsePage(w http.ResponseWriter, r *http.Request) (generic.Page, bool) {
	var page generic.Page
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid page", err)
			return page, false
		}
		page.Index = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid page_size", err)
			return page, false
		}
		page.Size = n
	}
	return page, true
}

func toPageResponse[T, D any](p generic.PageOf[T], page generic.Page, conv func(T) D) PageResponse[D] {
	items := make([]D, len(p.Items))
	for i, item := range p.Items {
		items[i] = conv(item)
	}
	return PageResponse[D]{
		Items:    items,
		Total:    p.Total,
		Page:     page.Index,
		PageSize: page.Size,
		HasMore:  p.HasMore,
	}
}
