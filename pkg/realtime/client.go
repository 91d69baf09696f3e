// Package realtime provides a client for OpenAI's Realtime API for
// low-latency speech-to-speech conversations with tool use.
//
// Incoming traffic is exposed as an ordered event stream via Events(),
// consumed by a single loop, rather than registered callbacks. This keeps
// state reads (like the speaker routing preference) at delivery time
// instead of capture time.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tenemo/bob/internal/log"
	"github.com/Tenemo/bob/pkg/wav"
)

const (
	// URL is the Realtime API endpoint.
	URL = "wss://api.openai.com/v1/realtime"

	// Model is the realtime model spoken to.
	Model = "gpt-4o-realtime-preview-2024-12-17"

	readDeadline     = 120 * time.Second
	writeDeadline    = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	eventBuffer      = 64
)

// ErrNotConnected indicates an operation requires an open session.
var ErrNotConnected = errors.New("realtime: not connected")

// Client manages the WebSocket connection to the Realtime API and turns
// the wire protocol into Events.
type Client struct {
	apiKey string
	url    string

	wsMu sync.Mutex
	ws   *websocket.Conn

	mu        sync.Mutex
	connected bool
	closed    bool

	events chan Event

	// In-flight assistant responses, keyed by item_id, accumulating
	// audio and transcript deltas until the item completes.
	partsMu sync.Mutex
	parts   map[string]*itemParts
}

type itemParts struct {
	audio      []int16
	transcript string
}

// Option configures a Client.
type Option func(*Client)

// WithURL overrides the API endpoint, mainly for tests.
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// NewClient creates a new Realtime API client using the given credential.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey: apiKey,
		url:    URL,
		events: make(chan Event, eventBuffer),
		parts:  make(map[string]*itemParts),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the ordered event stream. The channel is closed after a
// Disconnected event has been delivered.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect establishes the WebSocket connection and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return errors.New("realtime: already connected")
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s?model=%s", c.url, Model)

	header := make(map[string][]string)
	header["Authorization"] = []string{"Bearer " + c.apiKey}
	header["OpenAI-Beta"] = []string{"realtime=v1"}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("realtime: connect failed: %w", err)
	}

	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	ws.SetReadDeadline(time.Now().Add(readDeadline))

	c.wsMu.Lock()
	c.ws = ws
	c.wsMu.Unlock()

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()
	go c.keepAlive()

	return nil
}

// IsConnected reports whether the session is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Close closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != nil {
		return c.ws.Close()
	}
	return nil
}

// ConfigureSession sets voice, instructions, transcription and tools.
func (c *Client) ConfigureSession(cfg SessionConfig) error {
	voice := cfg.Voice
	if voice == "" {
		voice = "shimmer"
	}

	apiTools := make([]map[string]any, len(cfg.Tools))
	for i, tool := range cfg.Tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{}
		}
		required := tool.Required
		if required == nil {
			required = []string{}
		}
		apiTools[i] = map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters": map[string]any{
				"type":       "object",
				"properties": params,
				"required":   required,
			},
		}
	}

	msg := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        cfg.Instructions,
			"voice":               voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"tools":       apiTools,
			"tool_choice": "auto",
		},
	}

	return c.sendJSON(msg)
}

// SendUserText sends a text message into the conversation and requests a
// response.
func (c *Client) SendUserText(text string) error {
	msg := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := c.sendJSON(msg); err != nil {
		return err
	}
	return c.CreateResponse()
}

// AppendAudio appends PCM16 microphone samples to the input buffer.
func (c *Client) AppendAudio(samples []int16) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	encoded := base64.StdEncoding.EncodeToString(wav.SamplesToBytes(samples))
	return c.sendJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": encoded,
	})
}

// CommitAudio commits the input audio buffer for processing.
func (c *Client) CommitAudio() error {
	return c.sendJSON(map[string]string{"type": "input_audio_buffer.commit"})
}

// CreateResponse asks the assistant to produce a response.
func (c *Client) CreateResponse() error {
	return c.sendJSON(map[string]string{"type": "response.create"})
}

// CancelResponse interrupts the current response.
func (c *Client) CancelResponse() error {
	return c.sendJSON(map[string]string{"type": "response.cancel"})
}

// SubmitToolResult answers a ToolCall event and resumes the conversation.
func (c *Client) SubmitToolResult(callID, output string) error {
	msg := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}
	if err := c.sendJSON(msg); err != nil {
		return err
	}
	return c.CreateResponse()
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		c.wsMu.Lock()
		ws := c.ws
		if ws != nil {
			ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				c.wsMu.Unlock()
				return
			}
		}
		c.wsMu.Unlock()
	}
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			c.finish(nil)
			return
		}

		c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				c.finish(nil)
			} else {
				c.finish(err)
			}
			return
		}

		c.handleRaw(message)
	}
}

// finish marks the client disconnected and closes the event stream.
func (c *Client) finish(err error) {
	c.mu.Lock()
	c.connected = false
	c.closed = true
	c.mu.Unlock()

	c.emit(Disconnected{Err: err})
	close(c.events)
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		// Consumer fell behind; drop rather than block the read loop.
		log.Warn("realtime: event buffer full, dropping event")
	}
}

// handleRaw parses one wire message and emits the corresponding event.
func (c *Client) handleRaw(message []byte) {
	var msg map[string]any
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	msgType, _ := msg["type"].(string)

	switch msgType {
	case "session.created":
		c.emit(SessionCreated{})

	case "conversation.item.input_audio_transcription.completed":
		if transcript, ok := msg["transcript"].(string); ok {
			c.emit(TranscriptDelta{Role: RoleUser, Text: transcript, Final: true})
		}

	case "response.audio.delta":
		itemID, _ := msg["item_id"].(string)
		if delta, ok := msg["delta"].(string); ok {
			decoded, err := base64.StdEncoding.DecodeString(delta)
			if err != nil {
				return
			}
			p := c.partsFor(itemID)
			c.partsMu.Lock()
			p.audio = append(p.audio, wav.BytesToSamples(decoded)...)
			c.partsMu.Unlock()
		}

	case "response.audio_transcript.delta":
		itemID, _ := msg["item_id"].(string)
		if delta, ok := msg["delta"].(string); ok {
			p := c.partsFor(itemID)
			c.partsMu.Lock()
			p.transcript += delta
			c.partsMu.Unlock()
			c.emit(TranscriptDelta{Role: RoleAssistant, Text: delta, Final: false})
		}

	case "response.output_item.done":
		c.handleItemDone(msg)

	case "response.function_call_arguments.done":
		name, _ := msg["name"].(string)
		callID, _ := msg["call_id"].(string)
		argsStr, _ := msg["arguments"].(string)

		var args map[string]any
		if argsStr != "" {
			json.Unmarshal([]byte(argsStr), &args)
		}
		c.emit(ToolCall{CallID: callID, Name: name, Args: args})

	case "error":
		if errData, ok := msg["error"].(map[string]any); ok {
			if errMsg, ok := errData["message"].(string); ok {
				c.emit(APIError{Message: errMsg})
			}
		}
	}
}

// handleItemDone assembles the completed item with its accumulated
// audio and transcript, then emits ItemCompleted.
func (c *Client) handleItemDone(msg map[string]any) {
	rawItem, ok := msg["item"].(map[string]any)
	if !ok {
		return
	}

	item := Item{}
	item.ID, _ = rawItem["id"].(string)
	item.Type, _ = rawItem["type"].(string)
	item.Role, _ = rawItem["role"].(string)

	if item.Type != ItemTypeMessage {
		// function_call items are delivered through ToolCall events.
		return
	}

	c.partsMu.Lock()
	if p, ok := c.parts[item.ID]; ok {
		item.Audio = p.audio
		item.Transcript = p.transcript
		delete(c.parts, item.ID)
	}
	c.partsMu.Unlock()

	// Fall back to content parts when no deltas were streamed.
	if item.Transcript == "" {
		if content, ok := rawItem["content"].([]any); ok {
			for _, part := range content {
				pm, ok := part.(map[string]any)
				if !ok {
					continue
				}
				if text, ok := pm["transcript"].(string); ok && text != "" {
					item.Transcript = text
					break
				}
				if text, ok := pm["text"].(string); ok && text != "" {
					item.Transcript = text
					break
				}
			}
		}
	}

	c.emit(ItemCompleted{Item: item})
}

func (c *Client) partsFor(itemID string) *itemParts {
	c.partsMu.Lock()
	defer c.partsMu.Unlock()
	p, ok := c.parts[itemID]
	if !ok {
		p = &itemParts{}
		c.parts[itemID] = p
	}
	return p
}

func (c *Client) sendJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws == nil {
		return ErrNotConnected
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.ws.WriteJSON(v)
}
