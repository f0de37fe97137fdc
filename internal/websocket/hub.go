package websocket

import (
	"context"
	"sync"

	"github.com/askwhyharsh/safezone/internal/events"
	"github.com/askwhyharsh/safezone/internal/storage"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

const activeUsersKey = "ws:active"

// EventSource is satisfied by events.Broadcaster.
type EventSource interface {
	Subscribe(userID string) (uint64, <-chan events.Event)
	Unsubscribe(id uint64)
}

// Hub routes events to the connections of the user they belong to. A user
// may have several connections open (phone and watch, say). Only the Run
// goroutine sends on or closes a client's send channel.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	source     EventSource
	redis      storage.RedisClient
	logger     logger.Logger
	mu         sync.RWMutex
	ctx        context.Context
	done       chan struct{}
}

func NewHub(ctx context.Context, source EventSource, redisClient storage.RedisClient, log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     source,
		redis:      redisClient,
		logger:     log,
		ctx:        ctx,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	id, stream := h.source.Subscribe("")
	defer h.source.Unsubscribe(id)
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case e, ok := <-stream:
			if !ok {
				h.shutdown()
				return
			}
			h.dispatch(e)
		case <-h.ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Register adds a client. It reports false once Run has returned.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	set, ok := h.clients[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.userID] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()

	if err := h.redis.SAdd(h.ctx, activeUsersKey, client.userID); err != nil {
		h.logger.Warn("Failed to track active user", "user_id", client.userID, "error", err)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	set, ok := h.clients[client.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, client)
	close(client.send)
	last := len(set) == 0
	if last {
		delete(h.clients, client.userID)
	}
	h.mu.Unlock()

	if last {
		_ = h.redis.SRem(h.ctx, activeUsersKey, client.userID)
	}
}

func (h *Hub) dispatch(e events.Event) {
	msg := NewEventMessage(e)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[e.UserID] {
		select {
		case client.send <- msg:
		default:
			// Client's send buffer is full; drop it and let it reconnect.
			h.logger.Warn("Dropping slow websocket client", "user_id", client.userID)
			close(client.send)
			delete(h.clients[e.UserID], client)
		}
	}
	if len(h.clients[e.UserID]) == 0 {
		delete(h.clients, e.UserID)
	}
}

// ClientCount returns the number of open connections for userID, or of all
// users when userID is empty.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if userID != "" {
		return len(h.clients[userID])
	}
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, set := range h.clients {
		for client := range set {
			close(client.send)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
}
