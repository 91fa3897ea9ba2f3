package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const statusPushInterval = 5 * time.Second

// statusConn streams pipeline status snapshots to one client.
type statusConn struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	server *Server
	done   chan struct{}
	once   sync.Once
}

// handleStatusSocket upgrades the request and streams periodic status
// snapshots until the client disconnects.
func (s *Server) handleStatusSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := &statusConn{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
		done:   make(chan struct{}),
	}

	go wsConn.writePump()
	go wsConn.pushStatusLoop()
	go wsConn.readPump()
}

func (c *statusConn) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump drains client frames so pings and close frames are processed.
// Inbound payloads are ignored; the feed is one-way.
func (c *statusConn) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump delivers queued messages and keeps the connection alive with
// periodic pings.
func (c *statusConn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// pushStatusLoop queues a snapshot immediately and then on every tick.
func (c *statusConn) pushStatusLoop() {
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	c.pushSnapshot()
	for {
		select {
		case <-ticker.C:
			c.pushSnapshot()
		case <-c.done:
			return
		}
	}
}

func (c *statusConn) pushSnapshot() {
	status, err := c.server.pipeline.Snapshot()
	if err != nil {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case c.send <- data:
	default:
		c.server.logger.Debug("websocket buffer full, dropping status frame")
	}
}
