package wcferry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// dialTimeout bounds the WebSocket handshake.
	dialTimeout = 10 * time.Second

	// writeTimeout bounds a single outgoing frame.
	writeTimeout = 10 * time.Second

	// eventBuffer is the channel depth between the read loop and the
	// consumer. Backpressure beyond this blocks the read loop.
	eventBuffer = 64
)

// Client is a connection to the gateway. One read loop feeds Events;
// writes are serialized by a mutex.
type Client struct {
	url    string
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	events    chan Event
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the gateway WebSocket endpoint and starts the read
// loop.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wcferry: dial %s: HTTP %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("wcferry: dial %s: %w", url, err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return nil, fmt.Errorf("wcferry: unexpected handshake status %d", resp.StatusCode)
	}

	c := &Client{
		url:    url,
		logger: logger,
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the stream of gateway events. The channel closes when
// the connection drops or Close is called.
func (c *Client) Events() <-chan Event {
	return c.events
}

// readLoop decodes frames until the connection dies.
func (c *Client) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Deliberate close, not an error.
			default:
				c.logger.Warn("gateway read failed", "error", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("malformed gateway frame", "error", err, "frame", string(data))
			continue
		}
		c.events <- ev
	}
}

// SendText sends a text reply to a chat or user.
func (c *Client) SendText(receiver, content string) error {
	frame, err := json.Marshal(sendTextRequest{
		Type:     "send_text",
		Receiver: receiver,
		Content:  content,
	})
	if err != nil {
		return fmt.Errorf("wcferry: marshal send_text: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("wcferry: send to %s: %w", receiver, err)
	}
	return nil
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
