package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection limits and timeouts.
const (
	maxReadMessageSize = 64 * 1024
	writeTimeout       = 10 * time.Second
	readTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
	sendBufferSize     = 256
)

// Roles a bound connection can hold.
const (
	RoleHost        = "host"
	RoleParticipant = "participant"
)

// Client is one live WebSocket connection. The binding fields (code, userID,
// role) form the connection registry entry and are guarded by the hub mutex,
// not the client's own.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	// Registry binding, guarded by Hub.mu.
	code   string
	userID string
	role   string
}

// enqueue hands a pre-encoded frame to the write pump. Fan-out is
// best-effort: a full buffer or a closed client drops the frame rather than
// blocking the mutation that triggered it.
func (c *Client) enqueue(log *zap.Logger, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		log.Debug("client send buffer full, dropping frame", zap.String("client_id", c.id))
	}
}

func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) writePump(log *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug("write error", zap.String("client_id", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("read error", zap.String("client_id", c.id), zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleMessage(c, message)
	}
}
