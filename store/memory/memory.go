// Package memory provides an in-memory implementation of every store
// interface (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/slot-admin/cash"
	"github.com/warp/slot-admin/chat"
	"github.com/warp/slot-admin/generic"
	"github.com/warp/slot-admin/levelup"
	"github.com/warp/slot-admin/notify"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements cash.BalanceStore, cash.WithdrawalStore,
// cash.SettingsStore, chat.Store, levelup.Store and notify.Store.
type Memory struct {
	mu sync.RWMutex

	balances    map[string]cash.Balance
	history     []cash.CashHistory
	audits      []cash.BalanceAuditLog
	withdrawals map[string]cash.WithdrawalRequest
	adminLogs   []cash.AdminActionLog
	global      *cash.WithdrawSetting
	userSetting map[string]cash.WithdrawSetting

	rooms        map[string]chat.Room
	messages     map[string][]chat.Message // by room, ascending Timestamp
	messageIndex map[string]chat.Message
	participants map[participantKey]chat.Participant

	levelups      map[string]levelup.Request
	users         map[string]levelup.User
	notifications []notify.Notification

	failures map[string]error
}

// ErrDuplicate is returned when a Create* or Insert* call reuses an existing ID.
var ErrDuplicate = generic.ErrDuplicate

type participantKey struct {
	RoomID string
	UserID string
}

func New() *Memory {
	return &Memory{
		balances:     make(map[string]cash.Balance),
		withdrawals:  make(map[string]cash.WithdrawalRequest),
		userSetting:  make(map[string]cash.WithdrawSetting),
		rooms:        make(map[string]chat.Room),
		messages:     make(map[string][]chat.Message),
		messageIndex: make(map[string]chat.Message),
		participants: make(map[participantKey]chat.Participant),
		levelups:     make(map[string]levelup.Request),
		users:        make(map[string]levelup.User),
		failures:     make(map[string]error),
	}
}

// FailOn makes every later call to the named method return err. A nil err
// clears the failure.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *Memory) fail(method string) error {
	return m.failures[method]
}

// Reset drops all data. Injected failures are kept.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := New()
	m.history = nil
	m.audits = nil
	m.adminLogs = nil
	m.global = nil
	m.notifications = nil
	m.balances = fresh.balances
	m.withdrawals = fresh.withdrawals
	m.userSetting = fresh.userSetting
	m.rooms = fresh.rooms
	m.messages = fresh.messages
	m.messageIndex = fresh.messageIndex
	m.participants = fresh.participants
	m.levelups = fresh.levelups
	m.users = fresh.users
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, userID string) (*cash.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetBalance"); err != nil {
		return nil, err
	}
	b, ok := m.balances[userID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) SaveBalance(_ context.Context, b cash.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SaveBalance"); err != nil {
		return err
	}
	m.balances[b.UserID] = b
	return nil
}

func (m *Memory) CreditPaid(_ context.Context, userID string, amount int64, create bool, at time.Time) (*cash.Balance, *cash.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreditPaid"); err != nil {
		return nil, nil, err
	}
	before, ok := m.balances[userID]
	if !ok {
		if !create {
			return nil, nil, nil
		}
		before = cash.Balance{UserID: userID}
	}
	after := before
	after.Paid = before.Paid + amount
	after.Total = after.Paid + before.Free
	after.UpdatedAt = at
	m.balances[userID] = after
	return &before, &after, nil
}

func (m *Memory) ListBalances(_ context.Context) ([]cash.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListBalances"); err != nil {
		return nil, err
	}
	out := make([]cash.Balance, 0, len(m.balances))
	for _, b := range m.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) AppendHistory(_ context.Context, h cash.CashHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AppendHistory"); err != nil {
		return err
	}
	m.history = append(m.history, h)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, userID string, page generic.Page) ([]cash.CashHistory, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListHistory"); err != nil {
		return nil, 0, err
	}
	var rows []cash.CashHistory
	for _, h := range m.history {
		if h.UserID == userID {
			rows = append(rows, h)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TransactionAt.After(rows[j].TransactionAt) })
	return window(rows, page), len(rows), nil
}

// History returns every history row for userID in append order.
func (m *Memory) History(userID string) []cash.CashHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []cash.CashHistory
	for _, h := range m.history {
		if h.UserID == userID {
			rows = append(rows, h)
		}
	}
	return rows
}

func (m *Memory) AppendAudit(_ context.Context, a cash.BalanceAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AppendAudit"); err != nil {
		return err
	}
	m.audits = append(m.audits, a)
	return nil
}

// Audits returns every audit row in append order.
func (m *Memory) Audits() []cash.BalanceAuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]cash.BalanceAuditLog(nil), m.audits...)
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// PutWithdrawal seeds a request.
func (m *Memory) PutWithdrawal(w cash.WithdrawalRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals[w.ID] = w
}

// CreateWithdrawal inserts a request, failing on a duplicate ID.
func (m *Memory) CreateWithdrawal(_ context.Context, w cash.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.withdrawals[w.ID]; ok {
		return ErrDuplicate
	}
	if w.Status == "" {
		w.Status = cash.WithdrawalPending
	}
	m.withdrawals[w.ID] = w
	return nil
}

func (m *Memory) GetWithdrawal(_ context.Context, id string) (*cash.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetWithdrawal"); err != nil {
		return nil, err
	}
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *Memory) TransitionWithdrawal(_ context.Context, id string, t cash.WithdrawalTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TransitionWithdrawal"); err != nil {
		return false, err
	}
	w, ok := m.withdrawals[id]
	if !ok || w.Status != cash.WithdrawalPending {
		return false, nil
	}
	w.Status = t.To
	switch t.To {
	case cash.WithdrawalApproved:
		w.ProcessedAt = t.ProcessedAt
		w.ProcessedBy = t.ProcessedBy
	case cash.WithdrawalRejected:
		w.RejectedReason = t.RejectedReason
		w.RejectedAt = t.RejectedAt
	}
	m.withdrawals[id] = w
	return true, nil
}

func (m *Memory) ListWithdrawals(_ context.Context, filter cash.WithdrawalFilter, page generic.Page) ([]cash.WithdrawalRequest, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListWithdrawals"); err != nil {
		return nil, 0, err
	}
	var rows []cash.WithdrawalRequest
	for _, w := range m.withdrawals {
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && w.UserID != filter.UserID {
			continue
		}
		rows = append(rows, w)
	}
	sort.Slice(rows, func(i, j int) bool {
		return requestLess(string(rows[i].Status), string(rows[j].Status), rows[i].CreatedAt, rows[j].CreatedAt, rows[i].ID, rows[j].ID)
	})
	return window(rows, page), len(rows), nil
}

func (m *Memory) AppendAdminLog(_ context.Context, l cash.AdminActionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AppendAdminLog"); err != nil {
		return err
	}
	m.adminLogs = append(m.adminLogs, l)
	return nil
}

// AdminLogs returns every admin action row in append order.
func (m *Memory) AdminLogs() []cash.AdminActionLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]cash.AdminActionLog(nil), m.adminLogs...)
}

// =============================================================================
// WITHDRAW SETTINGS
// =============================================================================

func (m *Memory) GetGlobalSetting(_ context.Context) (*cash.WithdrawSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetGlobalSetting"); err != nil {
		return nil, err
	}
	if m.global == nil {
		return nil, nil
	}
	s := *m.global
	return &s, nil
}

func (m *Memory) SaveGlobalSetting(_ context.Context, s cash.WithdrawSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SaveGlobalSetting"); err != nil {
		return err
	}
	s.UserID = ""
	m.global = &s
	return nil
}

func (m *Memory) GetUserSetting(_ context.Context, userID string) (*cash.WithdrawSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetUserSetting"); err != nil {
		return nil, err
	}
	s, ok := m.userSetting[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) SaveUserSetting(_ context.Context, s cash.WithdrawSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SaveUserSetting"); err != nil {
		return err
	}
	m.userSetting[s.UserID] = s
	return nil
}

func (m *Memory) DeleteUserSetting(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteUserSetting"); err != nil {
		return err
	}
	delete(m.userSetting, userID)
	return nil
}

// =============================================================================
// CHAT
// =============================================================================

// PutRoom seeds a room.
func (m *Memory) PutRoom(r chat.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = r
}

// CreateRoom inserts a room, failing on a duplicate ID.
func (m *Memory) CreateRoom(_ context.Context, r chat.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.ID]; ok {
		return ErrDuplicate
	}
	if r.Status == "" {
		r.Status = chat.RoomActive
	}
	m.rooms[r.ID] = r
	return nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (*chat.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetRoom"); err != nil {
		return nil, err
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) ListRooms(_ context.Context, filter chat.RoomFilter, page generic.Page) ([]chat.Room, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListRooms"); err != nil {
		return nil, 0, err
	}
	var rows []chat.Room
	for _, r := range m.rooms {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		r.LastMessage = ""
		r.LastMessageTime = nil
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
	return window(rows, page), len(rows), nil
}

func (m *Memory) MessagesByID(_ context.Context, ids []string) (map[string]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("MessagesByID"); err != nil {
		return nil, err
	}
	out := make(map[string]chat.Message, len(ids))
	for _, id := range ids {
		if msg, ok := m.messageIndex[id]; ok {
			out[id] = msg
		}
	}
	return out, nil
}

func (m *Memory) ListMessages(_ context.Context, roomID string, page generic.Page) ([]chat.Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListMessages"); err != nil {
		return nil, 0, err
	}
	asc := m.messages[roomID]
	desc := make([]chat.Message, len(asc))
	for i := range asc {
		desc[len(asc)-1-i] = asc[i]
	}
	return window(desc, page), len(asc), nil
}

func (m *Memory) InsertMessage(_ context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertMessage"); err != nil {
		return err
	}
	if _, ok := m.messageIndex[msg.ID]; ok {
		return ErrDuplicate
	}
	msgs := m.messages[msg.RoomID]

	// Binary search for insertion point, after equal timestamps.
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].Timestamp.After(msg.Timestamp)
	})
	msgs = append(msgs, chat.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	m.messages[msg.RoomID] = msgs
	m.messageIndex[msg.ID] = msg
	return nil
}

// Messages returns every stored message of roomID, oldest first.
func (m *Memory) Messages(roomID string) []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]chat.Message(nil), m.messages[roomID]...)
}

func (m *Memory) LinkLastMessage(_ context.Context, roomID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("LinkLastMessage"); err != nil {
		return err
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return &generic.NotFoundError{Kind: "room", ID: roomID}
	}
	r.LastMessageID = messageID
	r.UpdatedAt = at
	m.rooms[roomID] = r
	return nil
}

func (m *Memory) UpdateRoomStatus(_ context.Context, roomID string, status chat.RoomStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateRoomStatus"); err != nil {
		return err
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return &generic.NotFoundError{Kind: "room", ID: roomID}
	}
	r.Status = status
	r.UpdatedAt = at
	m.rooms[roomID] = r
	return nil
}

func (m *Memory) EnsureParticipant(_ context.Context, p chat.Participant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("EnsureParticipant"); err != nil {
		return false, err
	}
	k := participantKey{RoomID: p.RoomID, UserID: p.UserID}
	if _, ok := m.participants[k]; ok {
		return false, nil
	}
	m.participants[k] = p
	return true, nil
}

func (m *Memory) MarkRead(_ context.Context, roomID, userID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MarkRead"); err != nil {
		return err
	}
	k := participantKey{RoomID: roomID, UserID: userID}
	p, ok := m.participants[k]
	if !ok {
		p = chat.Participant{RoomID: roomID, UserID: userID, Role: chat.SenderOperator, JoinedAt: at}
	}
	p.LastReadMessageID = messageID
	p.LastSeen = &at
	m.participants[k] = p
	return nil
}

// Participant returns the {room, user} row if present.
func (m *Memory) Participant(roomID, userID string) (chat.Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[participantKey{RoomID: roomID, UserID: userID}]
	return p, ok
}

// =============================================================================
// LEVELUP
// =============================================================================

// PutLevelup seeds a levelup request.
func (m *Memory) PutLevelup(r levelup.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levelups[r.ID] = r
}

// PutUser seeds a user.
func (m *Memory) PutUser(u levelup.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// CreateLevelup inserts a request, failing on a duplicate ID.
func (m *Memory) CreateLevelup(_ context.Context, r levelup.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.levelups[r.ID]; ok {
		return ErrDuplicate
	}
	if r.Status == "" {
		r.Status = levelup.StatusPending
	}
	m.levelups[r.ID] = r
	return nil
}

// SaveUser upserts a user.
func (m *Memory) SaveUser(_ context.Context, u levelup.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetLevelup(_ context.Context, id string) (*levelup.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetLevelup"); err != nil {
		return nil, err
	}
	r, ok := m.levelups[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) TransitionLevelup(_ context.Context, id string, t levelup.Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TransitionLevelup"); err != nil {
		return false, err
	}
	r, ok := m.levelups[id]
	if !ok || r.Status != levelup.StatusPending {
		return false, nil
	}
	at := t.ProcessedAt
	r.Status = t.To
	r.ProcessedBy = t.ProcessedBy
	r.ProcessedAt = &at
	r.RejectedReason = t.RejectedReason
	m.levelups[id] = r
	return true, nil
}

func (m *Memory) ListLevelups(_ context.Context, filter levelup.Filter, page generic.Page) ([]levelup.Request, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListLevelups"); err != nil {
		return nil, 0, err
	}
	var rows []levelup.Request
	for _, r := range m.levelups {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		return requestLess(string(rows[i].Status), string(rows[j].Status), rows[i].CreatedAt, rows[j].CreatedAt, rows[i].ID, rows[j].ID)
	})
	return window(rows, page), len(rows), nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*levelup.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) SetUserRole(_ context.Context, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SetUserRole"); err != nil {
		return err
	}
	u, ok := m.users[userID]
	if !ok {
		return &generic.NotFoundError{Kind: "user", ID: userID}
	}
	u.Role = role
	m.users[userID] = u
	return nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (m *Memory) InsertNotification(_ context.Context, n notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertNotification"); err != nil {
		return err
	}
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, userID string, page generic.Page) ([]notify.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListNotifications"); err != nil {
		return nil, 0, err
	}
	var rows []notify.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			rows = append(rows, m.notifications[i])
		}
	}
	return window(rows, page), len(rows), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// requestLess orders review queues across pages: status weight, then
// newest first, then id.
func requestLess(statusA, statusB string, createdA, createdB time.Time, idA, idB string) bool {
	if wa, wb := generic.RequestWeights.Of(statusA), generic.RequestWeights.Of(statusB); wa != wb {
		return wa < wb
	}
	if !createdA.Equal(createdB) {
		return createdA.After(createdB)
	}
	return idA < idB
}

// window returns the rows of page, or nil past the end.
func window[T any](rows []T, page generic.Page) []T {
	start := page.Offset()
	if page.Size <= 0 || start >= len(rows) {
		return nil
	}
	end := start + page.Size
	if end > len(rows) {
		end = len(rows)
	}
	out := make([]T, end-start)
	copy(out, rows[start:end])
	return out
}
