package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codedeck/backend/internal/protocol"
	"github.com/codedeck/backend/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one live websocket connection. The hub never touches the
// underlying conn; frames cross the send channel and the inbound queue.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	id          string
	ord         uint64
	joined      map[string]bool
	rateLimiter *ratelimit.Limiter
}

// PumpLimits bounds how fast one connection may push events.
type PumpLimits struct {
	MessagesPerSecond float64
	MessageBurst      int
}

// ServeWS upgrades the request and hands the connection to the hub. The
// connection carries no identity until its first join event.
func ServeWS(hub *Hub, limits PumpLimits, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		id:          uuid.NewString(),
		joined:      make(map[string]bool),
		rateLimiter: ratelimit.NewLimiter(limits.MessagesPerSecond, limits.MessageBurst),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("websocket read error", "socket_id", c.id, "err", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				slog.Warn("rate limit exceeded",
					"socket_id", c.id, "warnings", rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				slog.Warn("disconnecting client for sustained rate abuse", "socket_id", c.id)
				return
			}
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			slog.Warn("invalid frame dropped", "socket_id", c.id, "err", err)
			continue
		}

		c.hub.inbound <- &inboundEvent{sender: c, env: env}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// queue hands a frame to the write pump without ever blocking the caller; a
// connection that cannot drain its buffer loses frames rather than stalling
// the room.
func (c *Client) queue(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("send buffer full, frame dropped", "socket_id", c.id)
	}
}

func (c *Client) sendEvent(event protocol.Event, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("encode send failed", "event", event, "err", err)
		return
	}
	c.queue(data)
}
