package websocket

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InboundFunc handles a frame sent by the client.
type InboundFunc func(ctx context.Context, client *Client, payload []byte)

type Client struct {
	ID       string
	UserID   primitive.ObjectID
	UserType string

	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	channels []string
	opts     Options
	inbound  InboundFunc
}

func NewClient(hub *Hub, conn *websocket.Conn, userID primitive.ObjectID, userType string, channels []string, opts Options) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		UserType: userType,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, opts.SendBufferSize),
		channels: channels,
		opts:     opts,
	}
}

func (c *Client) Channels() []string {
	return append([]string(nil), c.channels...)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).WithField("connection_id", c.ID).Warn("WebSocket read failed")
			}
			return
		}

		if c.inbound != nil {
			c.inbound(ctx, c, payload)
		}
	}
}

// writePump sends one frame per message so each frame is a complete
// JSON document.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
