// Package web serves the control panel API: session lifecycle, push-to-talk,
// movement, speaker routing, camera access and a live event stream.
package web

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/Tenemo/bob/internal/log"
	"github.com/Tenemo/bob/pkg/bobapi"
	"github.com/Tenemo/bob/pkg/hub"
	"github.com/Tenemo/bob/pkg/session"
	"github.com/Tenemo/bob/pkg/vision"
)

// Session is the slice of the session manager the panel drives.
type Session interface {
	State() session.State
	Talking() bool
	Connect(ctx context.Context) error
	Disconnect()
	PushUserText(text string) error
	SharePicture(ctx context.Context) error
	BeginTalk() error
	EndTalk() error
	Transcript() []session.Entry
}

// Robot is the slice of the robot client the panel calls directly,
// outside any conversation session.
type Robot interface {
	SetAddress(addr string)
	Address() string
	Capture(ctx context.Context) ([]byte, error)
	Move(ctx context.Context, move bobapi.MoveType) (bobapi.StatusResponse, error)
	StopAudio(ctx context.Context) (bobapi.StatusResponse, error)
}

// Describer produces a scene description from the robot's camera.
type Describer interface {
	CaptureAndDescribe(ctx context.Context) (*vision.Capture, error)
}

// Route is the speaker routing cell shared with the playback controller.
type Route interface {
	SetRobot(v bool)
	Robot() bool
}

// Config wires the server's collaborators.
type Config struct {
	Port    string
	Session Session
	Robot   Robot
	Vision  Describer
	Route   Route
}

// Server is the control panel HTTP server.
type Server struct {
	app    *fiber.App
	cfg    Config
	events *hub.Hub

	startHubOnce sync.Once
}

// NewServer builds the fiber app and its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		events: hub.New("events"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "bob control panel",
		DisableStartupMessage: true,
	})

	// CORS for local development.
	app.Use(cors.New())

	// Tag every request for log correlation.
	app.Use(func(c *fiber.Ctx) error {
		id := uuid.NewString()
		c.Locals("request_id", id)
		c.Set("X-Request-ID", id)
		return c.Next()
	})

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/address", s.handleSetAddress)
	api.Post("/connect", s.handleConnect)
	api.Post("/disconnect", s.handleDisconnect)
	api.Post("/message", s.handleMessage)
	api.Post("/share", s.handleShare)
	api.Post("/talk/start", s.handleTalkStart)
	api.Post("/talk/stop", s.handleTalkStop)
	api.Post("/move", s.handleMove)
	api.Post("/speaker", s.handleSpeaker)
	api.Post("/stop-audio", s.handleStopAudio)
	api.Get("/capture", s.handleCapture)
	api.Post("/describe", s.handleDescribe)
	api.Get("/transcript", s.handleTranscript)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Start runs the server. It blocks.
func (s *Server) Start() error {
	s.startHubOnce.Do(func() { go s.events.Run() })
	log.Info("control panel listening", "port", s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// panelEvent is one message on the live event stream.
type panelEvent struct {
	Type string `json:"type"`
	Time string `json:"time"`

	Role  string `json:"role,omitempty"`
	Text  string `json:"text,omitempty"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// NotifyTranscript pushes a transcript entry to event-stream subscribers.
// Wire it to the session manager's OnTranscript callback.
func (s *Server) NotifyTranscript(e session.Entry) {
	s.events.BroadcastJSON(panelEvent{
		Type: "transcript",
		Time: e.At.Format("15:04:05"),
		Role: e.Role,
		Text: e.Text,
	})
}

// NotifyState pushes a state transition to event-stream subscribers.
func (s *Server) NotifyState(state session.State) {
	s.events.BroadcastJSON(panelEvent{
		Type:  "state",
		Time:  time.Now().Format("15:04:05"),
		State: state.String(),
	})
}

// NotifyError pushes a short error string to event-stream subscribers.
func (s *Server) NotifyError(msg string) {
	s.events.BroadcastJSON(panelEvent{
		Type:  "error",
		Time:  time.Now().Format("15:04:05"),
		Error: msg,
	})
}

func (s *Server) handleEventsWS(c *websocket.Conn) {
	hub.NewSubscriber(s.events, c).Run()
}
