package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	// maxMessageSize fits a body of MaxContentLength runes with every rune
	// escaped as a JSON surrogate pair, plus the envelope and media fields.
	maxMessageSize = 64 << 10
	sendBufferSize = 256
)

// Client is one websocket connection. Read feeds decoded frames to the
// event loop; Write drains the send buffer.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *slog.Logger
	// authId, when set, is authenticated before the first frame is read.
	authId   string
	send     chan ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.With("client_id", id),
		send:       make(chan ServerMessage, sendBufferSize),
		stop:       make(chan struct{}),
	}
}

// Send queues msg without blocking. It reports false when the buffer is full
// or the client has stopped.
func (c *Client) Send(msg ServerMessage) bool {
	return c.queueMessage(msg)
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Error("failed to serialize message", "type", msg.Type(), "error", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	if c.authId != "" {
		if !c.chatServer.dispatch(clientEvent{conn: c, msg: &Auth{OdId: c.authId}}) {
			return
		}
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("ws read failed", "error", err)
			}
			return
		}

		msg, err := ParseClientMessage(raw)
		if err != nil {
			c.log.Debug("dropped client frame", "error", err)
			continue
		}

		if !c.chatServer.dispatch(clientEvent{conn: c, msg: msg}) {
			return
		}
	}
}

func (c *Client) queueMessage(msg ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full", "type", msg.Type())
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("write message failed", "error", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup runs once the read pump has exited.
func (c *Client) cleanup() {
	c.chatServer.disconnect(c)
	c.chatServer.removeClient(c)
	c.stopClient()
}
