package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

const (
	outboundBuffer = 256
	writeWait      = 10 * time.Second
)

// streamConn is one websocket client and its listens.
type streamConn struct {
	s      *Server
	conn   *websocket.Conn
	logger *events.Logger

	out  chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	handles map[int64]store.Handle
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		events.FromContext(r.Context()).WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &streamConn{
		s:       s,
		conn:    conn,
		logger:  events.FromContext(r.Context()).WithField("remote", r.RemoteAddr),
		out:     make(chan []byte, outboundBuffer),
		done:    make(chan struct{}),
		handles: make(map[int64]store.Handle),
	}

	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()

	c.logger.Info("Stream client connected")

	go c.writeLoop()
	c.readLoop()
}

func (c *streamConn) readLoop() {
	defer c.close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Debug("Stream read ended")
			}
			return
		}

		msg, err := models.ParseStreamMessage(data)
		if err != nil {
			c.send(&models.StreamMessage{Op: models.StreamError, Code: "bad_request", Message: err.Error()})
			continue
		}

		switch msg.Op {
		case models.StreamListen:
			c.listen(msg)
		case models.StreamUnlisten:
			c.unlisten(msg.ID)
		default:
			c.send(&models.StreamMessage{Op: models.StreamError, ID: msg.ID, Code: "bad_request", Message: "unexpected op " + string(msg.Op)})
		}
	}
}

func (c *streamConn) listen(msg *models.StreamMessage) {
	id := msg.ID
	q := store.Query{
		Path:        msg.Path,
		OrderBy:     msg.OrderBy,
		EqualTo:     msg.EqualTo,
		LimitToLast: msg.LimitToLast,
	}

	// A repeated id replaces the earlier listen.
	c.unlisten(id)

	h, err := c.s.store.Subscribe(context.Background(), q, store.Listener{
		OnSnapshot: func(snap store.Snapshot) {
			c.send(&models.StreamMessage{
				Op:       models.StreamSnapshot,
				ID:       id,
				Path:     snap.Path,
				Seq:      snap.Seq,
				Children: snap.Children,
			})
		},
		OnError: func(err error) {
			c.send(&models.StreamMessage{Op: models.StreamError, ID: id, Code: "listen_failed", Message: err.Error()})
		},
	})
	if err != nil {
		c.send(&models.StreamMessage{Op: models.StreamError, ID: id, Code: "listen_failed", Message: err.Error()})
		return
	}

	c.mu.Lock()
	c.handles[id] = h
	c.mu.Unlock()

	c.logger.WithFields(map[string]interface{}{
		"listen": id,
		"path":   q.Path,
	}).Debug("Listen attached")
}

func (c *streamConn) unlisten(id int64) {
	c.mu.Lock()
	h, ok := c.handles[id]
	delete(c.handles, id)
	c.mu.Unlock()

	if ok {
		h.Close()
	}
}

// send queues a message. A client that cannot keep up is disconnected and
// re-syncs on reconnect.
func (c *streamConn) send(msg *models.StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Error("Encode stream message failed")
		return
	}

	select {
	case <-c.done:
	case c.out <- data:
	default:
		c.logger.Warn("Stream client too slow, disconnecting")
		c.close()
	}
}

func (c *streamConn) writeLoop() {
	for {
		select {
		case data := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.WithError(err).Debug("Stream write failed")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *streamConn) close() {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		handles := c.handles
		c.handles = make(map[int64]store.Handle)
		c.mu.Unlock()

		for _, h := range handles {
			h.Close()
		}
		c.conn.Close()

		c.s.connMu.Lock()
		delete(c.s.conns, c)
		c.s.connMu.Unlock()

		c.logger.Info("Stream client disconnected")
	})
}

// DropStreams disconnects every stream client, as a network outage would.
func (s *Server) DropStreams() int {
	s.connMu.Lock()
	conns := make([]*streamConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	for _, c := range conns {
		c.close()
	}
	return len(conns)
}
