package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Subscribers only send pongs
	// and close frames.
	maxMessageSize = 4 * 1024
)

// MessageType selects the websocket frame type for a broadcast.
type MessageType int

const (
	// TextMessage carries JSON-encoded payloads.
	TextMessage MessageType = iota
	// BinaryMessage carries raw bytes such as JPEG frames.
	BinaryMessage
)

// Message is one broadcast payload.
type Message struct {
	Type MessageType
	Data []byte
}

// Subscriber is a single websocket connection attached to a hub.
type Subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewSubscriber registers a connection with the hub.
func NewSubscriber(h *Hub, conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		hub:  h,
		conn: conn,
		send: make(chan Message, 256),
	}
	h.register <- sub
	return sub
}

// Run services the connection until it closes. Call it from the
// websocket handler; it blocks.
func (s *Subscriber) Run() {
	go s.writePump()
	s.readPump()
}

// readPump drains inbound frames to detect disconnection and keep the
// pong handler fed.
func (s *Subscriber) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only goroutine that writes to the connection.
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if msg.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := s.conn.WriteMessage(wsType, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
