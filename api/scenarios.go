/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	dashboard data. Each scenario creates users, balances, withdrawal
	requests, chat rooms or levelup requests that exercise one screen.

AVAILABLE SCENARIOS:

	withdrawal-queue:  Pending, approved and rejected withdrawals with balances
	support-chat:      Active, closed and archived rooms with a conversation
	levelup-queue:     Pending role-upgrade requests
	broken-balance:    A balance where total != paid + free

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create users and balances
 3. Create requests / rooms / messages directly through the Seeder

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "withdrawal-queue"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Store interface
  - store/sqldb, store/memory: Seeder implementations
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/slot-admin/cash"
	"github.com/warp/slot-admin/chat"
	"github.com/warp/slot-admin/levelup"
)

// Seeder writes rows that the services never create themselves.
type Seeder interface {
	Reset(ctx context.Context) error
	CreateWithdrawal(ctx context.Context, w cash.WithdrawalRequest) error
	CreateRoom(ctx context.Context, r chat.Room) error
	CreateLevelup(ctx context.Context, r levelup.Request) error
	SaveUser(ctx context.Context, u levelup.User) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "withdrawal-queue",
		Name:        "Withdrawal Queue",
		Description: "Pending, approved and rejected withdrawals with matching balances",
	},
	{
		ID:          "support-chat",
		Name:        "Support Chat",
		Description: "Active, closed and archived rooms with a short conversation",
	},
	{
		ID:          "levelup-queue",
		Name:        "Levelup Queue",
		Description: "Pending advertiser and agency upgrade requests",
	},
	{
		ID:          "broken-balance",
		Name:        "Broken Balance",
		Description: "One balance where total != paid + free, for the balance monitor",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "withdrawal-queue":
		load = h.loadWithdrawalQueueScenario
	case "support-chat":
		load = h.loadSupportChatScenario
	case "levelup-queue":
		load = h.loadLevelupQueueScenario
	case "broken-balance":
		load = h.loadBrokenBalanceScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every table.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadWithdrawalQueueScenario(ctx context.Context) error {
	now := h.Withdrawals.Clock.Now()

	// Global floor: 10,000원 or 10% of the paid balance
	if err := h.Store.SaveGlobalSetting(ctx, cash.WithdrawSetting{
		MinRequestAmount:     10000,
		MinRequestPercentage: decimal.NewFromInt(10),
		UpdatedAt:            now,
	}); err != nil {
		return err
	}

	users := []struct {
		id, name   string
		paid, free int64
	}{
		{"user-001", "김민수", 150000, 5000},
		{"user-002", "이지은", 80000, 0},
		{"user-003", "박서준", 0, 12000},
	}
	for _, u := range users {
		if err := h.Store.SaveUser(ctx, levelup.User{ID: u.id, FullName: u.name, Role: "user"}); err != nil {
			return err
		}
		if err := h.Store.SaveBalance(ctx, cash.Balance{
			UserID:    u.id,
			Paid:      u.paid,
			Free:      u.free,
			Total:     u.paid + u.free,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
	}

	fee := int64(500)
	processed := now.Add(-24 * time.Hour)
	requests := []cash.WithdrawalRequest{
		{ID: "wd-001", UserID: "user-001", Amount: 50000, FeeAmount: &fee, Status: cash.WithdrawalPending, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "wd-002", UserID: "user-002", Amount: 20000, Status: cash.WithdrawalPending, CreatedAt: now.Add(-90 * time.Minute)},
		{ID: "wd-003", UserID: "user-001", Amount: 30000, FeeAmount: &fee, Status: cash.WithdrawalApproved,
			ProcessedAt: &processed, ProcessedBy: "admin-001", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "wd-004", UserID: "user-003", Amount: 15000, Status: cash.WithdrawalRejected,
			RejectedReason: "계좌 정보 불일치", RejectedAt: &processed, CreatedAt: now.Add(-72 * time.Hour)},
	}
	for _, req := range requests {
		if err := h.Store.CreateWithdrawal(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSupportChatScenario(ctx context.Context) error {
	now := h.Chat.Clock.Now()

	rooms := []chat.Room{
		{ID: "room-001", Name: "김민수", Status: chat.RoomActive, CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-3 * time.Hour)},
		{ID: "room-002", Name: "이지은", Status: chat.RoomClosed, CreatedAt: now.Add(-26 * time.Hour), UpdatedAt: now.Add(-25 * time.Hour)},
		{ID: "room-003", Status: chat.RoomArchived, CreatedAt: now.Add(-240 * time.Hour), UpdatedAt: now.Add(-200 * time.Hour)},
	}
	for _, room := range rooms {
		if err := h.Store.CreateRoom(ctx, room); err != nil {
			return err
		}
	}

	conversation := []struct {
		id, senderID, name string
		role               chat.SenderRole
		content            string
		offset             time.Duration
	}{
		{"msg-001", "user-001", "김민수", chat.SenderUser, "출금 요청이 아직 처리되지 않았어요.", -3 * time.Hour},
		{"msg-002", "operator-001", "상담원", chat.SenderOperator, "확인해 보겠습니다. 잠시만 기다려 주세요.", -170 * time.Minute},
		{"msg-003", "user-001", "김민수", chat.SenderUser, "감사합니다.", -165 * time.Minute},
	}
	for _, c := range conversation {
		at := now.Add(c.offset)
		msg := chat.Message{
			ID:         c.id,
			RoomID:     "room-001",
			SenderID:   c.senderID,
			SenderName: c.name,
			SenderRole: c.role,
			Content:    c.content,
			Timestamp:  at,
			Status:     chat.MessageSent,
		}
		if err := h.Store.InsertMessage(ctx, msg); err != nil {
			return err
		}
		if err := h.Store.LinkLastMessage(ctx, "room-001", c.id, at); err != nil {
			return err
		}
	}

	closedAt := now.Add(-25 * time.Hour)
	closing := chat.Message{
		ID:         "msg-004",
		RoomID:     "room-002",
		SenderID:   "operator-001",
		SenderName: "상담원",
		SenderRole: chat.SenderSystem,
		Content:    "상담이 종료되었습니다.",
		Timestamp:  closedAt,
		Status:     chat.MessageSent,
	}
	if err := h.Store.InsertMessage(ctx, closing); err != nil {
		return err
	}
	return h.Store.LinkLastMessage(ctx, "room-002", closing.ID, closedAt)
}

func (h *Handler) loadLevelupQueueScenario(ctx context.Context) error {
	now := h.Levelups.Clock.Now()

	users := []levelup.User{
		{ID: "user-101", FullName: "최유나", Role: "user"},
		{ID: "user-102", FullName: "정하늘", Role: "advertiser"},
		{ID: "user-103", FullName: "한도윤", Role: "user"},
	}
	for _, u := range users {
		if err := h.Store.SaveUser(ctx, u); err != nil {
			return err
		}
	}

	requests := []levelup.Request{
		{ID: "lv-001", UserID: "user-101", CurrentRole: "user", RequestedRole: "advertiser", Status: levelup.StatusPending, CreatedAt: now.Add(-5 * time.Hour)},
		{ID: "lv-002", UserID: "user-102", CurrentRole: "advertiser", RequestedRole: "agency", Status: levelup.StatusPending, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "lv-003", UserID: "user-103", CurrentRole: "user", RequestedRole: "advertiser", Status: levelup.StatusRejected,
			RejectedReason: "사업자 정보 미제출", ProcessedBy: "admin-001", CreatedAt: now.Add(-72 * time.Hour)},
	}
	for _, req := range requests {
		if err := h.Store.CreateLevelup(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadBrokenBalanceScenario(ctx context.Context) error {
	now := h.Ledger.Clock.Now()

	balances := []cash.Balance{
		{UserID: "user-201", Paid: 40000, Free: 1000, Total: 41000, UpdatedAt: now},
		// Written outside the ledger; total drifted
		{UserID: "user-202", Paid: 25000, Free: 0, Total: 30000, UpdatedAt: now},
	}
	for _, b := range balances {
		if err := h.Store.SaveBalance(ctx, b); err != nil {
			return err
		}
	}
	return nil
}
