package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Options struct {
	ReadBufferSize    int
	WriteBufferSize   int
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	MaxMessageSize    int64
	SendBufferSize    int
	MaxConnections    int
	EnableCompression bool
	AllowedOrigins    []string
}

func DefaultOptions() Options {
	return Options{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     54 * time.Second,
		PongTimeout:      60 * time.Second,
		MaxMessageSize:   4096,
		SendBufferSize:   64,
		AllowedOrigins:   []string{"*"},
	}
}

// ChannelResolver lists the channels a newly connected user joins.
type ChannelResolver func(userID primitive.ObjectID, userType string) []string

type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     Options
	channels ChannelResolver
	inbound  InboundFunc
	ctx      context.Context
}

// NewHandler serves connections until ctx is done; ctx is also handed to
// the inbound callback.
func NewHandler(ctx context.Context, hub *Hub, opts Options, channels ChannelResolver) *Handler {
	h := &Handler{
		hub:      hub,
		opts:     opts,
		channels: channels,
		ctx:      ctx,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    opts.ReadBufferSize,
		WriteBufferSize:   opts.WriteBufferSize,
		HandshakeTimeout:  opts.HandshakeTimeout,
		EnableCompression: opts.EnableCompression,
		CheckOrigin:       h.checkOrigin,
	}
	return h
}

func (h *Handler) OnInbound(fn InboundFunc) {
	h.inbound = fn
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	userObjectID, ok := userID.(primitive.ObjectID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}
	userType := c.GetString("user_type")

	if h.opts.MaxConnections > 0 && h.hub.ConnectionCount() >= h.opts.MaxConnections {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many connections"})
		return
	}

	channels := h.channels(userObjectID, userType)
	if len(channels) == 0 {
		c.JSON(http.StatusForbidden, gin.H{"error": "No channels for user type"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, userObjectID, userType, channels, h.opts)
	client.inbound = h.inbound
	if err := h.hub.Register(client); err != nil {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h.ctx)
}
