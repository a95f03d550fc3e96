// internal/handlers/hub.go
package handlers

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/room"
	"github.com/sirupsen/logrus"
)

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Client is one socket's presence in the hub.
type Client struct {
	ID       string
	PlayerID uuid.UUID
	OutChan  chan Message

	log        logrus.FieldLogger
	mu         sync.Mutex
	closed     bool
	overflowed bool
}

// Write queues msg without blocking. A closed queue drops the message. A full queue drops it
// and closes the queue, marking the client overflowed.
func (c *Client) Write(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.OutChan <- msg:
		return true
	default:
		c.log.WithFields(logrus.Fields{"conn": c.ID, "type": msg.Type}).Warn("outbound queue full, closing connection")
		c.closed = true
		c.overflowed = true
		close(c.OutChan)
		return false
	}
}

// Overflowed reports whether the client was cut off for falling behind.
func (c *Client) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowed
}

// WriteError queues an error event.
func (c *Client) WriteError(code, message string) {
	c.Write(Message{Type: room.EventError, Payload: map[string]string{"code": code, "message": message}})
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.OutChan)
	}
}

// Hub routes bus events to subscribed sockets. It implements room.Bus.
type Hub struct {
	log       logrus.FieldLogger
	queueSize int

	mu      sync.RWMutex
	clients map[string]*Client
	topics  map[room.Topic]map[string]*Client
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:       log.WithField("component", "hub"),
		queueSize: 64,
		clients:   make(map[string]*Client),
		topics:    make(map[room.Topic]map[string]*Client),
	}
}

// Register adds a socket with an empty subscription set.
func (h *Hub) Register(id string) *Client {
	c := &Client{ID: id, OutChan: make(chan Message, h.queueSize), log: h.log}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

// Authenticate records the player behind a socket and subscribes it to the player's topic and
// the lobby.
func (h *Hub) Authenticate(id string, playerID uuid.UUID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		c.PlayerID = playerID
	}
	h.mu.Unlock()
	if ok {
		h.Subscribe(id, room.PlayerTopic(playerID), room.LobbyTopic)
	}
}

// Subscribe adds topics to a registered socket.
func (h *Hub) Subscribe(id string, topics ...room.Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	for _, t := range topics {
		subs, ok := h.topics[t]
		if !ok {
			subs = make(map[string]*Client)
			h.topics[t] = subs
		}
		subs[id] = c
	}
}

// Unsubscribe removes topics from a socket.
func (h *Hub) Unsubscribe(id string, topics ...room.Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		h.unsubscribeLocked(id, t)
	}
}

func (h *Hub) unsubscribeLocked(id string, t room.Topic) {
	subs, ok := h.topics[t]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.topics, t)
	}
}

// Remove drops a socket from every topic and closes its queue.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	for t := range h.topics {
		h.unsubscribeLocked(id, t)
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// Publish queues the event on every socket subscribed to topic. A socket too slow to keep
// up is cut off rather than allowed to stall the room.
func (h *Hub) Publish(_ context.Context, topic room.Topic, event string, payload any) error {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.topics[topic]))
	for _, c := range h.topics[topic] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg := Message{Type: event, Payload: payload}
	for _, c := range targets {
		c.Write(msg)
	}
	return nil
}

// Subscribers reports how many sockets listen on topic.
func (h *Hub) Subscribers(topic room.Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
