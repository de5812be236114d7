package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/warp/slot-admin/chat"
	"github.com/warp/slot-admin/generic"
)

// SendBuffer is the per-subscriber outbound queue length.
const SendBuffer = 256

// Broker carries published payloads to every instance's Hub.
type Broker interface {
	Publish(ctx context.Context, roomID string, payload []byte) error

	// Run delivers payloads published by any instance until ctx is done.
	Run(ctx context.Context, deliver func(roomID string, payload []byte)) error
}

// Client is one websocket subscriber of one room.
type Client struct {
	RoomID string
	UserID string
	Send   chan []byte
}

// NewClient creates a subscriber with a buffered send queue.
func NewClient(roomID, userID string) *Client {
	return &Client{RoomID: roomID, UserID: userID, Send: make(chan []byte, SendBuffer)}
}

// Hub keeps per-room subscriber sets.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	broker Broker
	logger generic.Logger
}

// NewHub creates a hub. A nil broker delivers in process only.
func NewHub(broker Broker, logger generic.Logger) *Hub {
	if logger == nil {
		logger = generic.NopLogger()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		broker: broker,
		logger: logger,
	}
}

// Register subscribes c to its room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[c.RoomID]
	if !ok {
		set = make(map[*Client]struct{})
		h.rooms[c.RoomID] = set
	}
	set[c] = struct{}{}
	h.logger.Printf("WS: %s joined room %s (room total: %d)", c.UserID, c.RoomID, len(set))
}

// Unregister removes c and closes its send queue. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.rooms[c.RoomID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.Send)
	if len(set) == 0 {
		delete(h.rooms, c.RoomID)
	}
}

// Subscribers returns the number of local subscribers of roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Publish implements chat.Publisher.
func (h *Hub) Publish(ctx context.Context, m chat.Message) error {
	data, err := json.Marshal(InsertEvent(m))
	if err != nil {
		return err
	}
	if h.broker == nil {
		h.Deliver(m.RoomID, data)
		return nil
	}
	return h.broker.Publish(ctx, m.RoomID, data)
}

// Deliver sends payload to every local subscriber of roomID. Subscribers
// whose queue is full are dropped.
func (h *Hub) Deliver(roomID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomID] {
		select {
		case c.Send <- payload:
		default:
			h.logger.Printf("WS: dropping slow subscriber %s in room %s", c.UserID, roomID)
			h.removeLocked(c)
		}
	}
}

// Run pumps the broker into Deliver until ctx is done. It returns
// immediately when the hub has no broker.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}
	return h.broker.Run(ctx, h.Deliver)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.rooms {
		for c := range set {
			h.removeLocked(c)
		}
	}
}
