package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/askwhyharsh/safezone/pkg/logger"
)

// IncomingHandler processes messages read from a client.
type IncomingHandler interface {
	handleIncoming(c *Client, msg *IncomingMessage)
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	// send carries events and is owned by the hub, which closes it.
	send chan *Message
	// direct carries replies from the read side and is never closed.
	direct    chan *Message
	userID    string
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	handler   IncomingHandler
	logger    logger.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, sessionID string, handler IncomingHandler, log logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan *Message, 256),
		direct:    make(chan *Message, 16),
		userID:    userID,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		handler:   handler,
		logger:    log,
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.cancel()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", "user_id", c.userID, "error", err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Reply(NewErrorMessage("Invalid message format", "INVALID_FORMAT"))
			continue
		}

		if c.handler != nil {
			c.handler.handleIncoming(c, &msg)
		}
	}
}

func (c *Client) WritePump() {
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
			if err := c.write(message); err != nil {
				return
			}

		case message := <-c.direct:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.write(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) write(message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		c.logger.Error("Failed to marshal websocket message", "type", message.Type, "error", err)
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Reply queues a message for this client only. It drops the message when
// the client is not keeping up.
func (c *Client) Reply(msg *Message) {
	select {
	case c.direct <- msg:
	default:
	}
}

// Close ends the connection from the server side.
func (c *Client) Close() {
	c.cancel()
	c.conn.Close()
}

func (c *Client) UserID() string { return c.userID }
