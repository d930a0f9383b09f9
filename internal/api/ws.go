package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// errSendQueueFull marks a client whose outbound queue overflowed. The
// broadcaster drops a subscriber on any Send error, so the value only needs
// to be non-nil and descriptive.
var errSendQueueFull = errors.New("websocket send queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is same-origin-agnostic: BYOK means credentials never live in
	// cookies, so cross-origin reads expose nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var pingFrame = []byte(`{"type":"ping"}`)

// wsClient adapts one WebSocket connection to the broadcaster's Subscriber
// interface. Outbound events queue on a buffered channel; a full queue marks
// the client stale and Send errors, which makes the broadcaster drop it.
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	activity  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:     conn,
		send:     make(chan []byte, 64),
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Send queues payload for the write pump. Never blocks: a slow client loses
// its connection, not the broadcaster its throughput.
func (c *wsClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close tears the connection down and wakes both pumps. Implements io.Closer
// so the broadcaster can release the socket when it drops the subscriber.
func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
	return nil
}

// handleWS upgrades the connection and streams engine events. The server
// sends a ping frame after heartbeat idle time; any client frame resets the
// timer. Dead connections are dropped silently; reconnect is client-driven.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	s.engine.Broadcaster().Register(client)
	s.logger.Debug("websocket client connected", "clients", s.engine.Broadcaster().SubscriberCount())

	go s.readPump(client)
	go s.writePump(client)
}

// readPump consumes client frames: their only purpose is resetting the
// heartbeat timer. A read error means the peer is gone.
func (s *Server) readPump(c *wsClient) {
	defer s.dropClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		select {
		case c.activity <- struct{}{}:
		default:
		}
	}
}

// writePump drains the send queue and emits heartbeat pings after idle
// periods. Exits on the first write failure.
func (s *Server) writePump(c *wsClient) {
	defer s.dropClient(c)
	idle := time.NewTimer(s.heartbeat)
	defer idle.Stop()

	resetIdle := func() {
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.heartbeat)
	}

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			resetIdle()
		case <-c.activity:
			resetIdle()
		case <-idle.C:
			if err := c.conn.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
				return
			}
			idle.Reset(s.heartbeat)
		}
	}
}

func (s *Server) dropClient(c *wsClient) {
	c.dropOnce.Do(func() {
		_ = c.Close()
		s.engine.Broadcaster().Unregister(c)
		s.logger.Debug("websocket client disconnected", "clients", s.engine.Broadcaster().SubscriberCount())
	})
}
