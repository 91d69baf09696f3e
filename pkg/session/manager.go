// Package session drives the full lifecycle of a conversational session:
// connect/disconnect, push-to-talk microphone streaming, tool invocation
// (camera capture, robot movement), transcript handling and routing of
// synthesized speech to the playback controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tenemo/bob/internal/log"
	"github.com/Tenemo/bob/pkg/audioio"
	"github.com/Tenemo/bob/pkg/bobapi"
	"github.com/Tenemo/bob/pkg/playback"
	"github.com/Tenemo/bob/pkg/prompts"
	"github.com/Tenemo/bob/pkg/realtime"
	"github.com/Tenemo/bob/pkg/vision"
)

// Sentinel errors for the session package.
var (
	// ErrMissingCredential indicates no session credential could be obtained.
	ErrMissingCredential = errors.New("session: API key missing")

	// ErrConnectInProgress indicates a connection attempt is already in flight.
	ErrConnectInProgress = errors.New("session: connect already in progress")

	// ErrAlreadyConnected indicates a session is already open.
	ErrAlreadyConnected = errors.New("session: already connected")

	// ErrNotConnected indicates no session is open.
	ErrNotConnected = errors.New("session: not connected")

	// ErrConnectAborted indicates Disconnect was called while the
	// connection attempt was still in flight.
	ErrConnectAborted = errors.New("session: connect aborted")
)

// State is the manager's connection state.
type State int

const (
	// StateIdle indicates no session and no attempt in flight.
	StateIdle State = iota
	// StateConnecting gates the panel's busy indicator and double-submit
	// protection; the AI service itself cannot observe it.
	StateConnecting
	// StateConnected indicates a live session.
	StateConnected
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Conversation is the duplex session transport consumed by the manager.
// *realtime.Client implements it.
type Conversation interface {
	Connect(ctx context.Context) error
	Close() error
	ConfigureSession(cfg realtime.SessionConfig) error
	SendUserText(text string) error
	AppendAudio(samples []int16) error
	CommitAudio() error
	CreateResponse() error
	CancelResponse() error
	SubmitToolResult(callID, output string) error
	Events() <-chan realtime.Event
}

// Dialer creates a conversation transport for a session credential.
type Dialer func(credential string) Conversation

// Robot is the slice of the robot REST client the manager needs.
type Robot interface {
	Healthcheck(ctx context.Context) (bobapi.HealthcheckResponse, error)
	Move(ctx context.Context, move bobapi.MoveType) (bobapi.StatusResponse, error)
	StopAudio(ctx context.Context) (bobapi.StatusResponse, error)
}

// Describer captures a photo and produces a scene description.
type Describer interface {
	CaptureAndDescribe(ctx context.Context) (*vision.Capture, error)
}

// Player is the playback controller surface used by the manager.
type Player interface {
	HandleClip(ctx context.Context, samples []int16, toRobot bool) error
	StopActive() bool
}

// SourceFactory allocates a microphone source. One source is live per
// session; the manager owns it.
type SourceFactory func() (audioio.Source, error)

// Entry is one completed transcript line.
type Entry struct {
	Role string
	Text string
	At   time.Time
}

// Config wires the manager's collaborators.
type Config struct {
	Robot     Robot
	Vision    Describer
	Player    Player
	Route     *playback.Route
	Prompts   *prompts.Repository
	Dial      Dialer
	NewSource SourceFactory
	Voice     string

	// OnCredential is invoked whenever a session credential is obtained,
	// so other API clients (vision) can share it.
	OnCredential func(string)
	// OnTranscript is invoked for every completed transcript entry.
	OnTranscript func(Entry)
	// OnStateChange is invoked on every state transition.
	OnStateChange func(State)
	// OnError is invoked with short, human-readable error strings.
	OnError func(string)
}

// Manager owns at most one live conversation session. Starting a new one
// requires the previous one to be fully disconnected.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	state      State
	conv       Conversation
	source     audioio.Source
	sourceStop context.CancelFunc
	pumpDone   chan struct{}
	talking    bool
	credential string
	transcript []Entry

	// connectGen invalidates an in-flight Connect when Disconnect is
	// called mid-attempt.
	connectGen uint64
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.Route == nil {
		cfg.Route = &playback.Route{}
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.Default()
	}
	return &Manager{cfg: cfg}
}

// Observers are UI-facing notification callbacks.
type Observers struct {
	OnTranscript  func(Entry)
	OnStateChange func(State)
	OnError       func(string)
}

// SetObservers installs UI callbacks. The UI shell is usually built
// after the manager, so these cannot arrive through Config. Call before
// Connect.
func (m *Manager) SetObservers(obs Observers) {
	if obs.OnTranscript != nil {
		m.cfg.OnTranscript = obs.OnTranscript
	}
	if obs.OnStateChange != nil {
		m.cfg.OnStateChange = obs.OnStateChange
	}
	if obs.OnError != nil {
		m.cfg.OnError = obs.OnError
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InProgress reports whether a connect attempt is in flight.
func (m *Manager) InProgress() bool {
	return m.State() == StateConnecting
}

// Talking reports whether microphone frames are streaming.
func (m *Manager) Talking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.talking
}

// Route returns the speaker routing cell shared with the panel.
func (m *Manager) Route() *playback.Route {
	return m.cfg.Route
}

// Transcript returns the ordered completed-item transcript.
func (m *Manager) Transcript() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.transcript))
	copy(out, m.transcript)
	return out
}

// Connect opens a conversation session: obtains a credential (from cache
// or the robot's health check), dials the AI service, configures voice
// and tools, allocates the microphone and sends the initial prompt
// exactly once. Concurrent calls while an attempt is in flight are
// rejected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting:
		m.mu.Unlock()
		return ErrConnectInProgress
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.state = StateConnecting
	gen := m.connectGen
	m.mu.Unlock()
	m.notifyState(StateConnecting)

	credential, err := m.obtainCredential(ctx)
	if err != nil {
		m.toIdle()
		return err
	}
	if m.cfg.OnCredential != nil {
		m.cfg.OnCredential(credential)
	}

	conv := m.cfg.Dial(credential)

	if err := conv.Connect(ctx); err != nil {
		m.toIdle()
		return fmt.Errorf("session: connect failed: %w", err)
	}

	if err := conv.ConfigureSession(realtime.SessionConfig{
		Voice: m.cfg.Voice,
		Tools: m.toolDescriptors(),
	}); err != nil {
		conv.Close()
		m.toIdle()
		return fmt.Errorf("session: configure failed: %w", err)
	}

	source, err := m.cfg.NewSource()
	if err != nil {
		conv.Close()
		m.toIdle()
		return fmt.Errorf("session: microphone unavailable: %w", err)
	}

	go m.eventLoop(conv)

	initial := m.cfg.Prompts.Get("initial-start")
	if err := conv.SendUserText("\n" + initial); err != nil {
		source.Close()
		conv.Close()
		m.toIdle()
		return fmt.Errorf("session: initial prompt failed: %w", err)
	}

	m.mu.Lock()
	if m.connectGen != gen {
		// Disconnect arrived while this attempt was in flight; honor it.
		m.mu.Unlock()
		source.Close()
		conv.Close()
		return ErrConnectAborted
	}
	m.conv = conv
	m.source = source
	m.credential = credential
	m.state = StateConnected
	m.mu.Unlock()
	m.notifyState(StateConnected)

	log.Info("conversation session connected")
	return nil
}

// obtainCredential returns the cached credential or fetches a fresh one
// from the robot's health check. The credential lives in memory only.
func (m *Manager) obtainCredential(ctx context.Context) (string, error) {
	m.mu.Lock()
	cached := m.credential
	m.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	resp, err := m.cfg.Robot.Healthcheck(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: health check failed: %v", ErrMissingCredential, err)
	}
	if resp.APIKey == "" {
		return "", fmt.Errorf("%w: health check returned no key", ErrMissingCredential)
	}
	return resp.APIKey, nil
}

// Disconnect tears the session down. It is idempotent and must always be
// reachable: local cleanup (stopping the recorder) happens unconditionally
// even if the remote close fails.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conv := m.conv
	source := m.source
	stop := m.sourceStop
	m.conv = nil
	m.source = nil
	m.sourceStop = nil
	m.pumpDone = nil
	m.talking = false
	m.transcript = nil
	m.connectGen++
	wasIdle := m.state == StateIdle
	m.state = StateIdle
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if source != nil {
		source.Stop()
		source.Close()
	}
	if conv != nil {
		if err := conv.Close(); err != nil {
			log.Warn("session close failed", "error", err)
		}
	}

	if !wasIdle {
		m.notifyState(StateIdle)
		log.Info("conversation session disconnected")
	}
}

// PushUserText sends a text message into the live session.
func (m *Manager) PushUserText(text string) error {
	m.mu.Lock()
	conv := m.conv
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conv == nil {
		return ErrNotConnected
	}
	if err := conv.SendUserText(text); err != nil {
		return fmt.Errorf("session: send failed: %w", err)
	}

	m.appendTranscript(Entry{Role: realtime.RoleUser, Text: text, At: time.Now()})
	return nil
}

// SharePicture photographs the robot's view and injects the description
// into the live conversation as a user message, prefixed with the vision
// prompt, so the assistant reacts as if it just looked around.
func (m *Manager) SharePicture(ctx context.Context) error {
	m.mu.Lock()
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	capture, err := m.cfg.Vision.CaptureAndDescribe(ctx)
	if err != nil {
		return fmt.Errorf("session: share picture: %w", err)
	}

	return m.PushUserText(m.cfg.Prompts.Get("vision") + "\n" + capture.Text())
}

// BeginTalk starts streaming microphone frames into the session
// (press-and-hold). Any in-progress playback is stopped first so the user
// never talks over the assistant. Calling it while already talking or
// while disconnected is a no-op.
func (m *Manager) BeginTalk() error {
	m.mu.Lock()
	if m.state != StateConnected || m.talking || m.source == nil {
		m.mu.Unlock()
		return nil
	}
	conv := m.conv
	source := m.source
	m.mu.Unlock()

	// Barge-in: silence both possible outputs before capturing.
	m.cfg.Player.StopActive()
	if m.cfg.Route.Robot() {
		if _, err := m.cfg.Robot.StopAudio(context.Background()); err != nil {
			log.Debug("robot stop-audio failed", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := source.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("session: start microphone: %w", err)
	}

	done := make(chan struct{})

	m.mu.Lock()
	m.talking = true
	m.sourceStop = cancel
	m.pumpDone = done
	m.mu.Unlock()

	go m.pump(source, conv, done)
	return nil
}

// pump forwards microphone chunks until the source stream closes, then
// signals done so EndTalk can order the commit after the last frame.
func (m *Manager) pump(source audioio.Source, conv Conversation, done chan struct{}) {
	defer close(done)
	for chunk := range source.Stream() {
		if err := conv.AppendAudio(chunk.Samples); err != nil {
			log.Debug("append audio failed", "error", err)
			return
		}
	}
}

// EndTalk stops microphone streaming and asks the assistant to respond.
// The commit is issued only after the pump has drained every captured
// frame, so no audio is appended after the turn closes. Calling it while
// not talking is a no-op, so out-of-order press events cannot commit an
// empty buffer.
func (m *Manager) EndTalk() error {
	m.mu.Lock()
	if !m.talking || m.source == nil {
		m.mu.Unlock()
		return nil
	}
	conv := m.conv
	source := m.source
	stop := m.sourceStop
	done := m.pumpDone
	m.talking = false
	m.sourceStop = nil
	m.pumpDone = nil
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	source.Stop()
	if done != nil {
		<-done
	}

	if err := conv.CommitAudio(); err != nil {
		return fmt.Errorf("session: commit audio: %w", err)
	}
	if err := conv.CreateResponse(); err != nil {
		return fmt.Errorf("session: request response: %w", err)
	}
	return nil
}

// eventLoop consumes the session's ordered event stream until it closes.
func (m *Manager) eventLoop(conv Conversation) {
	for ev := range conv.Events() {
		switch ev := ev.(type) {
		case realtime.SessionCreated:
			log.Debug("realtime session created")

		case realtime.TranscriptDelta:
			if ev.Final && ev.Role == realtime.RoleUser {
				m.appendTranscript(Entry{Role: realtime.RoleUser, Text: ev.Text, At: time.Now()})
			}

		case realtime.ItemCompleted:
			m.handleItem(ev.Item)

		case realtime.ToolCall:
			m.handleToolCall(conv, ev)

		case realtime.APIError:
			log.Error("realtime API error", "message", ev.Message)
			m.notifyError(ev.Message)

		case realtime.Disconnected:
			if ev.Err != nil {
				log.Error("realtime connection lost", "error", ev.Err)
				m.notifyError("Connection lost: " + ev.Err.Error())
				m.Disconnect()
			}
			return
		}
	}
}

// handleItem records the transcript of a completed assistant message and
// hands any synthesized audio to the playback controller. The speaker
// routing preference is read from the shared cell at this moment, not
// captured when the session was set up.
func (m *Manager) handleItem(item realtime.Item) {
	if item.Type != realtime.ItemTypeMessage || item.Role != realtime.RoleAssistant {
		return
	}

	if item.Transcript != "" {
		m.appendTranscript(Entry{Role: realtime.RoleAssistant, Text: item.Transcript, At: time.Now()})
	}

	if len(item.Audio) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.cfg.Player.HandleClip(ctx, item.Audio, m.cfg.Route.Robot()); err != nil {
			log.Error("clip handling failed", "error", err)
			m.notifyError(err.Error())
		}
	}
}

func (m *Manager) appendTranscript(e Entry) {
	m.mu.Lock()
	m.transcript = append(m.transcript, e)
	m.mu.Unlock()

	if m.cfg.OnTranscript != nil {
		m.cfg.OnTranscript(e)
	}
}

func (m *Manager) toIdle() {
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	m.notifyState(StateIdle)
}

func (m *Manager) notifyState(s State) {
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(s)
	}
}

func (m *Manager) notifyError(msg string) {
	if m.cfg.OnError != nil {
		m.cfg.OnError(msg)
	}
}
