// Package websocket is the push transport. Every connection joins one or
// more named channels; publishing to a channel reaches every connection in it.
package websocket

import (
	"context"
	"errors"
	"sync"

	"ridedispatch/pkg/logger"
)

var ErrHubClosed = errors.New("websocket hub closed")

// Publisher delivers a payload to every subscriber of channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type message struct {
	channel string
	payload []byte
}

type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}
	closeOnce  sync.Once
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 256),
		done:       make(chan struct{}),
		logger:     log.WithField("component", "websocket_hub"),
	}
}

// Run owns the client and room maps until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.sendToRoom(msg)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	select {
	case h.broadcast <- message{channel: channel, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) Subscribers(channel string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[channel])
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	for _, channel := range client.channels {
		if h.rooms[channel] == nil {
			h.rooms[channel] = make(map[*Client]bool)
		}
		h.rooms[channel][client] = true
	}

	h.logger.WithFields(logger.Fields{
		"connection_id": client.ID,
		"user_id":       client.UserID.Hex(),
		"channels":      client.channels,
	}).Debug("Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for _, channel := range client.channels {
		if room, exists := h.rooms[channel]; exists {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, channel)
			}
		}
	}

	h.logger.WithField("connection_id", client.ID).Debug("Client unregistered")
}

func (h *Hub) sendToRoom(msg message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	room, exists := h.rooms[msg.channel]
	if !exists {
		return
	}

	for client := range room {
		select {
		case client.send <- msg.payload:
		default:
			h.logger.WithField("connection_id", client.ID).Warn("Dropping slow websocket client")
			h.removeLocked(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mutex.Lock()
		defer h.mutex.Unlock()
		for client := range h.clients {
			h.removeLocked(client)
		}
	})
}
