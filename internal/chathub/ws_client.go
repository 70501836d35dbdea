package chathub

import (
	"anonchat/backend/internal/models"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

var ErrClientClosed = errors.New("web client closed")

// WebSocketClient is one browser connection of a web session.
type WebSocketClient struct {
	ID   int64
	Conn *websocket.Conn
	Hub  *WebHub
	Send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketClient(id int64, conn *websocket.Conn, hub *WebHub) *WebSocketClient {
	return &WebSocketClient{
		ID:   id,
		Conn: conn,
		Hub:  hub,
		Send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Run registers the client and starts its pumps. It returns when the
// connection is closed.
func (c *WebSocketClient) Run(ctx context.Context) {
	c.Hub.Register(c)
	go c.writePump()
	c.readPump(ctx)
}

// Close stops the write pump, which closes the connection.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *WebSocketClient) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.Send <- frame:
		return nil
	default:
		return ErrClientBackpressure
	}
}

// readPump handles inbound frames in order, one at a time.
func (c *WebSocketClient) readPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Str("module", "chathub.web").Int64("session_id", c.ID).Err(err).Msg("error reading message")
			}
			return
		}

		var in models.Inbound
		if err := json.Unmarshal(message, &in); err != nil {
			log.Debug().Str("module", "chathub.web").Int64("session_id", c.ID).Err(err).Msg("bad inbound frame")
			in = models.Inbound{Kind: models.KindOther}
		}
		if in.Kind == "" {
			in.Kind = models.KindText
		}
		c.Hub.handle(ctx, c, in)
	}
}

// writePump пише кадри з каналу Send у WebSocket і шле ping.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
