/*
handlers_test.go - HTTP tests for the admin API

Tests for:
- Auth gating (401 without token, 403 for the wrong role)
- Chat send/list/status/join/read flow
- Withdrawal reject/approve, 409 on the second decision, .xlsx export
- Withdraw settings, levelups, notifications
- Rate limiting, scenarios, balance monitor
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/slot-admin/auth"
	"github.com/warp/slot-admin/cash"
	"github.com/warp/slot-admin/chat"
	"github.com/warp/slot-admin/export"
	"github.com/warp/slot-admin/generic"
	"github.com/warp/slot-admin/levelup"
	"github.com/warp/slot-admin/realtime"
	"github.com/warp/slot-admin/store/memory"
	"github.com/xuri/excelize/v2"
	"golang.org/x/time/rate"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	t        *testing.T
	store    *memory.Memory
	handler  *Handler
	verifier *auth.Verifier
	srv      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, RouterOptions{RateLimit: rate.Inf, RateBurst: 1})
}

func newTestEnvWith(t *testing.T, opts RouterOptions) *testEnv {
	t.Helper()
	store := memory.New()
	verifier := auth.NewVerifier("test-secret")
	h := NewHandler(store, realtime.NewHub(nil, nil), verifier, nil)
	h.SetClock(func() time.Time { return t0 })

	srv := httptest.NewServer(NewRouter(h, opts))
	t.Cleanup(srv.Close)
	return &testEnv{t: t, store: store, handler: h, verifier: verifier, srv: srv}
}

func (e *testEnv) token(role generic.Role) string {
	e.t.Helper()
	token, err := e.verifier.IssueToken(generic.Actor{ID: string(role) + "-001", FullName: "테스터", Role: role}, time.Hour)
	require.NoError(e.t, err)
	return token
}

// do sends a request as role. An empty role sends no token.
func (e *testEnv) do(method, path string, role generic.Role, body any) *http.Response {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(e.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(role))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) seedBalance(userID string, paid, free int64) {
	require.NoError(e.t, e.store.SaveBalance(context.Background(), cash.Balance{UserID: userID, Paid: paid, Free: free, Total: paid + free, UpdatedAt: t0}))
}

// =============================================================================
// AUTH
// =============================================================================

func TestAPI_Health(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/chat/rooms", "", nil)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_RoleGating(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		role   generic.Role
		status int
	}{
		{"user cannot open chat", "/api/chat/rooms", generic.RoleUser, http.StatusForbidden},
		{"operator opens chat", "/api/chat/rooms", generic.RoleOperator, http.StatusOK},
		{"admin opens chat", "/api/chat/rooms", generic.RoleAdmin, http.StatusOK},
		{"operator cannot review withdrawals", "/api/withdrawals", generic.RoleOperator, http.StatusForbidden},
		{"admin reviews withdrawals", "/api/withdrawals", generic.RoleAdmin, http.StatusOK},
		{"operator cannot load scenarios", "/api/scenarios", generic.RoleOperator, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(http.MethodGet, tt.path, tt.role, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

// =============================================================================
// CHAT
// =============================================================================

func TestChat_SendAndList(t *testing.T) {
	// GIVEN: An active room
	env := newTestEnv(t)
	env.store.PutRoom(chat.Room{ID: "room-1", Name: "김민수", Status: chat.RoomActive, CreatedAt: t0, UpdatedAt: t0})

	// WHEN: An operator sends a message
	resp := env.do(http.MethodPost, "/api/chat/rooms/room-1/messages", generic.RoleOperator, SendMessageRequest{Content: "  안녕하세요  "})

	// THEN: The stored message is returned with the operator's role
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[MessageDTO](t, resp)
	assert.Equal(t, "안녕하세요", sent.Content)
	assert.Equal(t, "operator", sent.SenderRole)
	assert.Equal(t, "operator-001", sent.SenderID)
	assert.NotEmpty(t, sent.ID)

	// AND: It is listed and linked as the room's last message
	resp = env.do(http.MethodGet, "/api/chat/rooms/room-1/messages", generic.RoleOperator, nil)
	msgs := decode[PageResponse[MessageDTO]](t, resp)
	require.Len(t, msgs.Items, 1)
	assert.Equal(t, sent.ID, msgs.Items[0].ID)
	assert.Equal(t, 30, msgs.PageSize)

	resp = env.do(http.MethodGet, "/api/chat/rooms", generic.RoleAdmin, nil)
	rooms := decode[PageResponse[RoomDTO]](t, resp)
	require.Len(t, rooms.Items, 1)
	assert.Equal(t, "안녕하세요", rooms.Items[0].LastMessage)
}

func TestChat_SendKeepsClientID(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutRoom(chat.Room{ID: "room-1", Status: chat.RoomActive, CreatedAt: t0, UpdatedAt: t0})
	id := chat.NewMessageID()

	resp := env.do(http.MethodPost, "/api/chat/rooms/room-1/messages", generic.RoleOperator, SendMessageRequest{
		ID:          id,
		Attachments: []AttachmentDTO{{Type: "image", URL: "https://cdn.example.com/a.png", Name: "a.png", Size: 10}},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[MessageDTO](t, resp)
	assert.Equal(t, id, sent.ID)
	assert.Equal(t, chat.AttachmentOnlyContent, sent.Content)
	require.Len(t, sent.Attachments, 1)
	assert.Equal(t, "image", sent.Attachments[0].Type)
}

func TestChat_RetriedSendIsIdempotent(t *testing.T) {
	// GIVEN: A message sent with a client id
	env := newTestEnv(t)
	env.store.PutRoom(chat.Room{ID: "room-1", Status: chat.RoomActive, CreatedAt: t0, UpdatedAt: t0})
	body := SendMessageRequest{ID: chat.NewMessageID(), Content: "입금 확인 부탁드립니다"}
	resp := env.do(http.MethodPost, "/api/chat/rooms/room-1/messages", generic.RoleOperator, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[MessageDTO](t, resp)

	// WHEN: The client retries the same send
	resp = env.do(http.MethodPost, "/api/chat/rooms/room-1/messages", generic.RoleOperator, body)

	// THEN: The stored message is returned and the room holds one copy
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	again := decode[MessageDTO](t, resp)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Timestamp, again.Timestamp)
	assert.Len(t, env.store.Messages("room-1"), 1)
}

func TestChat_SendValidation(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutRoom(chat.Room{ID: "room-1", Status: chat.RoomActive, CreatedAt: t0, UpdatedAt: t0})

	tests := []struct {
		name string
		body SendMessageRequest
	}{
		{"blank content without attachments", SendMessageRequest{Content: "   "}},
		{"client id not a uuid", SendMessageRequest{ID: "abc", Content: "hi"}},
		{"attachment without url", SendMessageRequest{Content: "hi", Attachments: []AttachmentDTO{{Name: "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(http.MethodPost, "/api/chat/rooms/room-1/messages", generic.RoleOperator, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, env.store.Messages("room-1"))
}

func TestChat_ClosedRoomRejectsMessages(t *testing.T) {
	// GIVEN: An active room
	env := newTestEnv(t)
	env.store.PutRoom(chat.Room{ID: "room-1", Status: chat.RoomActive, CreatedAt: t0, UpdatedAt: t0})

	// WHEN: The room is closed
	resp := env.do(http.MethodPost, "/api/chat/rooms/room-1/status", generic.RoleOperator, SetRoomStatusRequest{Status: "closed"})

	// THEN: The system announcement is returned
	require.Equal(t, http.StatusOK, resp.StatusCode)
	notice := decode[MessageDTO](t, resp)
	assert.Equal(t, "system", notice.SenderRole)

	// AND: Further messages are refused with 409
	resp = env.do(http.MethodPost, "/api/chat/rooms/room-1/messages", generic.RoleOperator, SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Len(t, env.store.Messages("room-1"), 1)
}

func TestChat_UnknownRoom(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/chat/rooms/missing/messages", generic.RoleOperator, SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(http.MethodPost, "/api/chat/rooms/missing/status", generic.RoleOperator, SetRoomStatusRequest{Status: "archived"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChat_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/chat/rooms?status=deleted", generic.RoleOperator, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodPost, "/api/chat/rooms/room-1/status", generic.RoleOperator, SetRoomStatusRequest{Status: "deleted"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodGet, "/api/chat/rooms?page=-1", generic.RoleOperator, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_JoinAndMarkRead(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutRoom(chat.Room{ID: "room-1", Status: chat.RoomActive, CreatedAt: t0, UpdatedAt: t0})

	// WHEN: The operator opens the room
	resp := env.do(http.MethodPost, "/api/chat/rooms/room-1/join", generic.RoleOperator, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.handler.Chat.BestEffort.Wait()

	// THEN: A participant row exists
	p, ok := env.store.Participant("room-1", "operator-001")
	require.True(t, ok)
	assert.Equal(t, chat.SenderOperator, p.Role)

	// WHEN: The operator reads up to a message
	resp = env.do(http.MethodPost, "/api/chat/rooms/room-1/read", generic.RoleOperator, MarkReadRequest{MessageID: "m-9"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	p, _ = env.store.Participant("room-1", "operator-001")
	assert.Equal(t, "m-9", p.LastReadMessageID)

	// AND: A missing message id is refused
	resp = env.do(http.MethodPost, "/api/chat/rooms/room-1/read", generic.RoleOperator, MarkReadRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

func pendingWithdrawal(id, userID string, amount int64) cash.WithdrawalRequest {
	return cash.WithdrawalRequest{ID: id, UserID: userID, Amount: amount, Status: cash.WithdrawalPending, CreatedAt: t0.Add(-time.Hour)}
}

func TestWithdrawals_RejectRefundsOnce(t *testing.T) {
	// GIVEN: A pending 20,000 request and a balance of 10,000 paid
	env := newTestEnv(t)
	env.store.PutWithdrawal(pendingWithdrawal("wd-1", "user-1", 20000))
	env.seedBalance("user-1", 10000, 500)

	// WHEN: An admin rejects it
	resp := env.do(http.MethodPost, "/api/withdrawals/wd-1/reject", generic.RoleAdmin, RejectRequest{Reason: "계좌 오류"})

	// THEN: The request is rejected and the amount is back in paid
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decode[WithdrawalDTO](t, resp)
	assert.Equal(t, "rejected", dto.Status)
	assert.Equal(t, "계좌 오류", dto.RejectedReason)
	require.NotNil(t, dto.RejectedAt)

	resp = env.do(http.MethodGet, "/api/balances/user-1", generic.RoleAdmin, nil)
	bal := decode[BalanceDTO](t, resp)
	assert.Equal(t, int64(30000), bal.Paid)
	assert.Equal(t, int64(30500), bal.Total)

	// WHEN: A second reject arrives
	resp = env.do(http.MethodPost, "/api/withdrawals/wd-1/reject", generic.RoleAdmin, RejectRequest{Reason: "again"})

	// THEN: 409 and no second credit
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	b, err := env.store.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), b.Paid)

	// AND: Exactly one history row is visible
	resp = env.do(http.MethodGet, "/api/balances/user-1/history", generic.RoleAdmin, nil)
	history := decode[PageResponse[CashHistoryDTO]](t, resp)
	require.Len(t, history.Items, 1)
	assert.Equal(t, "wd-1", history.Items[0].ReferenceID)
	assert.Equal(t, int64(20000), history.Items[0].Amount)
}

func TestWithdrawals_RejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutWithdrawal(pendingWithdrawal("wd-1", "user-1", 20000))

	resp := env.do(http.MethodPost, "/api/withdrawals/wd-1/reject", generic.RoleAdmin, RejectRequest{})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	w, err := env.store.GetWithdrawal(context.Background(), "wd-1")
	require.NoError(t, err)
	assert.Equal(t, cash.WithdrawalPending, w.Status)
}

func TestWithdrawals_RejectWithoutBalance(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutWithdrawal(pendingWithdrawal("wd-1", "user-1", 20000))

	resp := env.do(http.MethodPost, "/api/withdrawals/wd-1/reject", generic.RoleAdmin, RejectRequest{Reason: "계좌 오류"})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	w, err := env.store.GetWithdrawal(context.Background(), "wd-1")
	require.NoError(t, err)
	assert.Equal(t, cash.WithdrawalPending, w.Status)
}

func TestWithdrawals_ApproveThenReject(t *testing.T) {
	// GIVEN: A pending request with a fee
	env := newTestEnv(t)
	fee := int64(500)
	w := pendingWithdrawal("wd-1", "user-1", 20000)
	w.FeeAmount = &fee
	env.store.PutWithdrawal(w)

	// WHEN: It is approved
	resp := env.do(http.MethodPost, "/api/withdrawals/wd-1/approve", generic.RoleAdmin, nil)

	// THEN: Net amount and processor are reported
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decode[WithdrawalDTO](t, resp)
	assert.Equal(t, "approved", dto.Status)
	assert.Equal(t, int64(19500), dto.NetAmount)
	assert.Equal(t, "admin-001", dto.ProcessedBy)
	require.Len(t, env.store.AdminLogs(), 1)

	// AND: A later reject is a conflict
	resp = env.do(http.MethodPost, "/api/withdrawals/wd-1/reject", generic.RoleAdmin, RejectRequest{Reason: "late"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Contains(t, body.Error, "approved")
}

func TestWithdrawals_UnknownRequest(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/withdrawals/missing/approve", generic.RoleAdmin, nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWithdrawals_ListFilters(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutWithdrawal(pendingWithdrawal("wd-1", "user-1", 10000))
	env.store.PutWithdrawal(pendingWithdrawal("wd-2", "user-2", 10000))
	done := pendingWithdrawal("wd-3", "user-1", 10000)
	done.Status = cash.WithdrawalApproved
	env.store.PutWithdrawal(done)

	resp := env.do(http.MethodGet, "/api/withdrawals?status=pending", generic.RoleAdmin, nil)
	page := decode[PageResponse[WithdrawalDTO]](t, resp)
	assert.Equal(t, 2, page.Total)

	resp = env.do(http.MethodGet, "/api/withdrawals?user_id=user-1&page_size=1", generic.RoleAdmin, nil)
	page = decode[PageResponse[WithdrawalDTO]](t, resp)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)
	assert.True(t, page.HasMore)

	resp = env.do(http.MethodGet, "/api/withdrawals?status=cancelled", generic.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWithdrawals_Export(t *testing.T) {
	// GIVEN: Three requests
	env := newTestEnv(t)
	for _, id := range []string{"wd-1", "wd-2", "wd-3"} {
		env.store.PutWithdrawal(pendingWithdrawal(id, "user-1", 10000))
	}

	// WHEN: The export is downloaded
	resp := env.do(http.MethodGet, "/api/withdrawals/export", generic.RoleAdmin, nil)

	// THEN: It is a workbook with a header row plus one row per request
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.ContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "withdrawals_20250310.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

// =============================================================================
// BALANCES / SETTINGS
// =============================================================================

func TestBalances_MissingIsZero(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/balances/nobody", generic.RoleAdmin, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	bal := decode[BalanceDTO](t, resp)
	assert.Equal(t, "nobody", bal.UserID)
	assert.Zero(t, bal.Total)
	assert.Nil(t, bal.UpdatedAt)
}

func TestBalances_Inconsistent(t *testing.T) {
	env := newTestEnv(t)
	env.seedBalance("user-1", 100, 0)
	require.NoError(t, env.store.SaveBalance(context.Background(), cash.Balance{UserID: "user-2", Paid: 100, Total: 150, UpdatedAt: t0}))

	resp := env.do(http.MethodGet, "/api/balances/inconsistent", generic.RoleAdmin, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]BalanceDTO](t, resp)
	require.Len(t, body["balances"], 1)
	assert.Equal(t, "user-2", body["balances"][0].UserID)
}

func TestWithdrawSettings_GlobalAndOverride(t *testing.T) {
	// GIVEN: A user with 200,000 paid
	env := newTestEnv(t)
	env.seedBalance("user-1", 200000, 0)

	// WHEN: The global setting is 10,000 or 10%
	resp := env.do(http.MethodPut, "/api/withdraw-settings/global", generic.RoleAdmin, SaveWithdrawSettingRequest{
		MinRequestAmount:     10000,
		MinRequestPercentage: decimal.NewFromInt(10),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// THEN: The user's floor is the larger of the two
	resp = env.do(http.MethodGet, "/api/withdraw-settings/user-1", generic.RoleAdmin, nil)
	dto := decode[WithdrawSettingDTO](t, resp)
	require.NotNil(t, dto.MinimumForUser)
	assert.Equal(t, int64(20000), *dto.MinimumForUser)

	// WHEN: A per-user override is saved
	resp = env.do(http.MethodPut, "/api/withdraw-settings/users/user-1", generic.RoleAdmin, SaveWithdrawSettingRequest{
		MinRequestAmount:     50000,
		MinRequestPercentage: decimal.Zero,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/api/withdraw-settings/user-1", generic.RoleAdmin, nil)
	dto = decode[WithdrawSettingDTO](t, resp)
	assert.Equal(t, int64(50000), *dto.MinimumForUser)

	// WHEN: The override is deleted, the global setting applies again
	resp = env.do(http.MethodDelete, "/api/withdraw-settings/users/user-1", generic.RoleAdmin, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(http.MethodGet, "/api/withdraw-settings/user-1", generic.RoleAdmin, nil)
	dto = decode[WithdrawSettingDTO](t, resp)
	assert.Equal(t, int64(20000), *dto.MinimumForUser)
}

func TestWithdrawSettings_RejectsNegativeAmount(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPut, "/api/withdraw-settings/global", generic.RoleAdmin, SaveWithdrawSettingRequest{MinRequestAmount: -1})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// LEVELUPS / NOTIFICATIONS
// =============================================================================

func TestLevelups_ApproveNotifiesUser(t *testing.T) {
	// GIVEN: A pending advertiser upgrade
	env := newTestEnv(t)
	env.store.PutUser(levelup.User{ID: "user-1", FullName: "최유나", Role: "user"})
	env.store.PutLevelup(levelup.Request{ID: "lv-1", UserID: "user-1", CurrentRole: "user", RequestedRole: "advertiser", Status: levelup.StatusPending, CreatedAt: t0})

	// WHEN: An admin approves it
	resp := env.do(http.MethodPost, "/api/levelups/lv-1/approve", generic.RoleAdmin, nil)

	// THEN: The role changes and the user is notified
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decode[LevelupDTO](t, resp)
	assert.Equal(t, "approved", dto.Status)
	assert.Equal(t, "광고주", dto.RequestedRoleLabel)

	u, err := env.store.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "advertiser", u.Role)

	resp = env.do(http.MethodGet, "/api/notifications/user-1", generic.RoleAdmin, nil)
	notes := decode[PageResponse[NotificationDTO]](t, resp)
	require.Len(t, notes.Items, 1)
	assert.Contains(t, notes.Items[0].Message, "광고주")

	// AND: A second decision is a conflict
	resp = env.do(http.MethodPost, "/api/levelups/lv-1/reject", generic.RoleAdmin, RejectRequest{Reason: "late"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLevelups_ListFilter(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutLevelup(levelup.Request{ID: "lv-1", UserID: "u1", CurrentRole: "user", RequestedRole: "advertiser", Status: levelup.StatusPending, CreatedAt: t0})
	env.store.PutLevelup(levelup.Request{ID: "lv-2", UserID: "u2", CurrentRole: "user", RequestedRole: "advertiser", Status: levelup.StatusRejected, CreatedAt: t0})

	resp := env.do(http.MethodGet, "/api/levelups?status=pending", generic.RoleAdmin, nil)
	page := decode[PageResponse[LevelupDTO]](t, resp)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "lv-1", page.Items[0].ID)

	resp = env.do(http.MethodGet, "/api/levelups?status=done", generic.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// RATE LIMIT
// =============================================================================

func TestRateLimit_Returns429(t *testing.T) {
	env := newTestEnvWith(t, RouterOptions{RateLimit: rate.Every(time.Hour), RateBurst: 2})

	for i := 0; i < 2; i++ {
		resp := env.do(http.MethodGet, "/api/chat/rooms", generic.RoleOperator, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.do(http.MethodGet, "/api/chat/rooms", generic.RoleOperator, nil)

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Health is outside the limited group
	resp = env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit_SweepsIdleClients(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 1)
	now := t0
	rl.now = func() time.Time { return now }

	assert.True(t, rl.get("10.0.0.1").Allow())
	assert.False(t, rl.get("10.0.0.1").Allow())

	now = now.Add(11 * time.Minute)
	assert.True(t, rl.get("10.0.0.1").Allow(), "idle limiter should be dropped")
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_LoadAndReset(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/scenarios", generic.RoleAdmin, nil)
	list := decode[[]ScenarioDTO](t, resp)
	require.Len(t, list, len(scenarios))

	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			resp := env.do(http.MethodPost, "/api/scenarios/load", generic.RoleAdmin, LoadScenarioRequest{ScenarioID: s.ID})
			require.Equal(t, http.StatusOK, resp.StatusCode)

			resp = env.do(http.MethodGet, "/api/scenarios/current", generic.RoleAdmin, nil)
			current := decode[ScenarioDTO](t, resp)
			assert.Equal(t, s.ID, current.ID)
		})
	}

	// Loading twice does not trip duplicate ids
	resp = env.do(http.MethodPost, "/api/scenarios/load", generic.RoleAdmin, LoadScenarioRequest{ScenarioID: "withdrawal-queue"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(http.MethodPost, "/api/scenarios/load", generic.RoleAdmin, LoadScenarioRequest{ScenarioID: "withdrawal-queue"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/api/withdrawals", generic.RoleAdmin, nil)
	page := decode[PageResponse[WithdrawalDTO]](t, resp)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, "pending", page.Items[0].Status)

	resp = env.do(http.MethodPost, "/api/scenarios/reset", generic.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/api/scenarios/current", generic.RoleAdmin, nil)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(raw)))

	resp = env.do(http.MethodGet, "/api/withdrawals", generic.RoleAdmin, nil)
	page = decode[PageResponse[WithdrawalDTO]](t, resp)
	assert.Zero(t, page.Total)
}

func TestScenarios_Unknown(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/scenarios/load", generic.RoleAdmin, LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// BALANCE MONITOR
// =============================================================================

func TestBalanceCheckScheduler_FindsBrokenBalance(t *testing.T) {
	// GIVEN: The broken-balance scenario
	env := newTestEnv(t)
	resp := env.do(http.MethodPost, "/api/scenarios/load", generic.RoleAdmin, LoadScenarioRequest{ScenarioID: "broken-balance"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// WHEN: The monitor runs
	scheduler := NewBalanceCheckScheduler(env.handler.Ledger, nil)
	bad := scheduler.RunNow()

	// THEN: Only the drifted balance is reported
	require.Len(t, bad, 1)
	assert.Equal(t, "user-202", bad[0].UserID)

	at, last := scheduler.LastRun()
	assert.Equal(t, t0, at)
	assert.Len(t, last, 1)
}

func TestBalances_InconsistentReportsLastCheck(t *testing.T) {
	// GIVEN: A monitor attached to the handler that already ran once
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveBalance(context.Background(), cash.Balance{UserID: "user-2", Paid: 100, Total: 150, UpdatedAt: t0}))
	scheduler := NewBalanceCheckScheduler(env.handler.Ledger, nil)
	env.handler.Monitor = scheduler
	scheduler.RunNow()

	// WHEN: Admins ask for inconsistent balances
	resp := env.do(http.MethodGet, "/api/balances/inconsistent", generic.RoleAdmin, nil)

	// THEN: The on-demand result comes with the monitor's last run
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[InconsistentBalancesResponse](t, resp)
	require.Len(t, body.Balances, 1)
	require.NotNil(t, body.LastCheckAt)
	assert.Equal(t, "2025-03-10T09:00:00Z", *body.LastCheckAt)
	require.NotNil(t, body.LastCheckFound)
	assert.Equal(t, 1, *body.LastCheckFound)
	require.NotNil(t, body.NextCheckAt)
	assert.Equal(t, "2025-03-10T10:00:00Z", *body.NextCheckAt)
}

func TestBalanceCheckScheduler_StartStop(t *testing.T) {
	env := newTestEnv(t)
	env.seedBalance("user-1", 100, 0)

	scheduler := NewBalanceCheckScheduler(env.handler.Ledger, nil)
	scheduler.CheckInterval = 10 * time.Millisecond
	scheduler.Start()

	assert.Eventually(t, func() bool {
		at, _ := scheduler.LastRun()
		return !at.IsZero()
	}, time.Second, 5*time.Millisecond)

	scheduler.Stop()
	scheduler.Stop()
}

func TestBalanceCheckScheduler_Disabled(t *testing.T) {
	env := newTestEnv(t)

	scheduler := NewBalanceCheckScheduler(env.handler.Ledger, nil)
	scheduler.Enabled = false
	scheduler.Start()
	scheduler.Stop()

	at, _ := scheduler.LastRun()
	assert.True(t, at.IsZero())
}
