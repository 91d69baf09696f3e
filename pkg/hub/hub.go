// Package hub fans panel events out to websocket subscribers using a
// channel-based broadcast loop. All connection writes happen on the
// subscriber's own write pump.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/Tenemo/bob/internal/log"
)

// Hub tracks subscribers and broadcasts messages to all of them.
type Hub struct {
	name string

	subscribers map[*Subscriber]bool

	broadcast  chan Message
	register   chan *Subscriber
	unregister chan *Subscriber

	mu sync.RWMutex
}

// New creates a hub. Call Run in a goroutine before broadcasting.
func New(name string) *Hub {
	return &Hub{
		name:        name,
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan Message, 256),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
	}
}

// Run is the hub's main loop. It owns the subscriber map.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			count := len(h.subscribers)
			h.mu.Unlock()
			log.Debug("hub subscriber connected", "hub", h.name, "total", count)

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			// Full lock: the slow-subscriber path mutates the map.
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub.send <- msg:
				default:
					// Subscriber cannot keep up. Drop it rather than
					// stall every other connection.
					close(sub.send)
					delete(h.subscribers, sub)
					log.Warn("hub dropped slow subscriber", "hub", h.name)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for all subscribers, dropping it if the
// broadcast queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		log.Warn("hub broadcast queue full", "hub", h.name)
	}
}

// BroadcastJSON encodes v and broadcasts it as a text message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(Message{Type: TextMessage, Data: data})
	return nil
}

// BroadcastBinary broadcasts raw bytes, e.g. a JPEG frame.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(Message{Type: BinaryMessage, Data: data})
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
