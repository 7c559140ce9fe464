package ws

import (
	"context"
	"sync"

	"github.com/schoolinbox/internal/logger"
)

// PresenceListener is notified when a user's first socket connects and their
// last socket disconnects. The inbox manager mounts and releases engines on
// these edges.
type PresenceListener interface {
	UserConnected(userID string)
	UserDisconnected(userID string)
}

// Hub fans badge updates out to every open dashboard socket of a user.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int
	presence PresenceListener

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int, presence PresenceListener) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		presence:   presence,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	first := false
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
		first = true
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	logger.Debugf("ws connected user=%s conn=%s", c.userID, c.id)
	if first && h.presence != nil {
		h.presence.UserConnected(c.userID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	logger.Debugf("ws disconnected user=%s conn=%s", c.userID, c.id)
	if lastClient && h.presence != nil {
		h.presence.UserDisconnected(c.userID)
	}
}

// SendToUser delivers a message to every open socket of one user. A full send
// buffer drops the message for that socket rather than blocking the hub.
func (h *Hub) SendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, 2)
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		logger.Errorf("ws send buffer full user=%s, dropping %s", c.userID, msg.Type)
	}
}

// HasClients reports whether the user has at least one open socket. Users
// without one get their badge update via webpush instead.
func (h *Hub) HasClients(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}
