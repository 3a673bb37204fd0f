package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// ErrStalled reports a connection whose heartbeat went unanswered.
var ErrStalled = errors.New("connection stalled: heartbeat timed out")

// WSOptions configure the heartbeat.
type WSOptions struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// WSClient handles WebSocket communication with the store stream.
type WSClient struct {
	url    string
	token  string
	logger *events.Logger

	// Connection state
	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool

	// Channels
	messages chan *models.StreamMessage
	errors   chan error
	done     chan struct{}

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWSClient creates a WebSocket client. http(s) URLs are converted to ws(s).
func NewWSClient(wsURL, token string, opts WSOptions, logger *events.Logger) *WSClient {
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:]
	}

	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 10 * time.Second
	}

	return &WSClient{
		url:          wsURL,
		token:        token,
		logger:       logger.WithField("component", "ws_client"),
		messages:     make(chan *models.StreamMessage, 100),
		errors:       make(chan error, 10),
		done:         make(chan struct{}),
		pingInterval: opts.PingInterval,
		pongTimeout:  opts.PongTimeout,
	}
}

// Connect establishes WebSocket connection.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}
	if c.closed {
		return models.ErrClosed
	}

	c.logger.WithField("url", c.url).Info("Connecting to WebSocket")

	target := c.url
	if c.token != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "auth=" + url.QueryEscape(c.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return &models.BackendError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Message:    fmt.Sprintf("websocket connect failed: %v", err),
			}
		}
		return &models.TransportError{Op: "DIAL", URL: c.url, Err: err}
	}

	c.conn = conn

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Info("WebSocket connected")
	return nil
}

// Send writes one stream message.
func (c *WSClient) Send(msg *models.StreamMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.logger.WithFields(map[string]interface{}{
		"op":   msg.Op,
		"id":   msg.ID,
		"path": msg.Path,
	}).Debug("Sending stream message")

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Op, err)
	}

	return nil
}

// Messages returns the message channel. It is closed when the connection ends.
func (c *WSClient) Messages() <-chan *models.StreamMessage {
	return c.messages
}

// Errors returns the error channel.
func (c *WSClient) Errors() <-chan error {
	return c.errors
}

// Done is closed when the client is closed.
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

func (c *WSClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLoop reads messages from WebSocket.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.Close()
		close(c.messages)
		close(c.errors)
	}()

	deadline := c.pongTimeout + c.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		c.logger.Debug("Received pong")
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.reportReadError(err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		msg, err := models.ParseStreamMessage(data)
		if err != nil {
			c.logger.WithError(err).Warn("Dropping malformed stream message")
			continue
		}

		c.logger.WithFields(map[string]interface{}{
			"op":  msg.Op,
			"id":  msg.ID,
			"seq": msg.Seq,
		}).Debug("Received stream message")

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) reportReadError(err error) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		err = ErrStalled
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		err = fmt.Errorf("server closed stream: %w", err)
	}

	c.logger.WithError(err).Error("WebSocket read error")

	select {
	case c.errors <- err:
	default:
	}
}

// pingLoop sends periodic pings.
func (c *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.logger.Debug("Sending ping")
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pongTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Warn("Ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}
