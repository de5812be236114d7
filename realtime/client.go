package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/warp/slot-admin/chat"
)

// Subscription is a client-side connection to one room's event stream.
type Subscription struct {
	conn *websocket.Conn
}

// Dial connects to a /ws/rooms/{id} endpoint with a bearer token.
func Dial(ctx context.Context, url, token string) (*Subscription, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Subscription{conn: conn}, nil
}

// Next blocks until the next INSERT event arrives.
func (s *Subscription) Next() (Event, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return Event{}, err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type == EventInsert && ev.Table == TableMessages {
			return ev, nil
		}
	}
}

// Feed applies every received event to session until the connection
// closes or ctx is done. onAccept, if set, is called for accepted events.
func (s *Subscription) Feed(ctx context.Context, session *chat.Session, onAccept func(chat.Message)) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		ev, err := s.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		m := ev.Record.Message()
		if session.ApplyEvent(m) && onAccept != nil {
			onAccept(m)
		}
	}
}

// Close closes the connection.
func (s *Subscription) Close() error {
	return s.conn.Close()
}
