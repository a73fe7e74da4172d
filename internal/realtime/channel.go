package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gasflow/orderflow/internal/identity"
)

const (
	// Time allowed to read the next message from the peer; the server
	// pings inside this window.
	pongWait = 60 * time.Second

	// Time allowed to write the close frame on shutdown.
	writeWait = 10 * time.Second

	// Maximum inbound frame size.
	maxMessageSize = 64 * 1024
)

// Channel subscribes to the push event stream for one identity.
type Channel struct {
	wsURL  string
	logger *slog.Logger
}

// NewChannel creates a Channel dialing the event stream at wsURL
// (e.g. ws://host/ws/orders).
func NewChannel(wsURL string, logger *slog.Logger) *Channel {
	return &Channel{wsURL: wsURL, logger: logger}
}

// Subscribe dials the stream and returns a channel of decoded events.
// The channel closes when the connection drops, a frame cannot be read,
// or ctx is cancelled. Undecodable frames are logged and skipped so one
// malformed push cannot kill the stream.
func (c *Channel) Subscribe(ctx context.Context, id identity.Identity) (<-chan Event, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	if id.IsGuest() {
		q.Set("guest", id.GuestID)
	} else {
		q.Set("token", id.Token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial event stream: %w", err)
	}

	events := make(chan Event, 16)
	go c.readPump(ctx, conn, events)
	return events, nil
}

// readPump reads frames until error or cancellation, decoding each into
// the events channel.
func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn, events chan<- Event) {
	defer close(events)
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("event stream closed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable event", "error", err)
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
