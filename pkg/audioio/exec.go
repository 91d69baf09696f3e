package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

// execSource captures audio through an arecord subprocess. This is the
// production microphone backend on Linux hosts.
type execSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	streamCh chan AudioChunk
}

func newExecSource(cfg Config, logger *slog.Logger) (*execSource, error) {
	return &execSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
	}, nil
}

func (s *execSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	args := []string{
		"-q",
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	}
	if s.cfg.Device != "" {
		args = append(args, "-D", s.cfg.Device)
	}

	cmd := exec.CommandContext(ctx, "arecord", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("arecord stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start arecord: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.running = true
	s.streamCh = make(chan AudioChunk, 10)

	go s.readLoop(stdout, s.streamCh)

	s.logger.Info("microphone capture started",
		"backend", "exec",
		"sample_rate", s.cfg.SampleRate,
		"device", s.cfg.Device,
	)
	return nil
}

// readLoop owns ch: only it closes the stream, so Stop can never race a
// send. Stop closes stdout, which ends the read with an error.
func (s *execSource) readLoop(stdout io.Reader, ch chan AudioChunk) {
	defer close(ch)

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			var chunk AudioChunk
			chunk.FromBytes(buf[:n], s.cfg.SampleRate, s.cfg.Channels)
			select {
			case ch <- chunk:
			default:
				s.logger.Debug("exec source: buffer full, dropping chunk")
			}
		}
		if err != nil {
			s.Stop()
			return
		}
	}
}

func (s *execSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	return nil
}

func (s *execSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

func (s *execSource) Config() Config { return s.cfg }
func (s *execSource) Name() string   { return "exec" }

func (s *execSource) Close() error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// execSink plays audio through an aplay subprocess.
type execSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
}

func newExecSink(cfg Config, logger *slog.Logger) (*execSink, error) {
	return &execSink{cfg: cfg, logger: logger}, nil
}

func (s *execSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	args := []string{
		"-q",
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	}
	if s.cfg.Device != "" {
		args = append(args, "-D", s.cfg.Device)
	}

	cmd := exec.CommandContext(ctx, "aplay", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("aplay stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start aplay: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.running = true
	return nil
}

func (s *execSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	stdin := s.stdin
	running := s.running
	s.mu.Unlock()

	if !running || stdin == nil {
		return io.ErrClosedPipe
	}

	_, err := stdin.Write(chunk.Bytes())
	if err != nil {
		s.Stop()
		return fmt.Errorf("write to aplay: %w", err)
	}
	return nil
}

// Flush closes the player's stdin and waits for the buffered audio to
// finish playing.
func (s *execSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stdin := s.stdin
	cmd := s.cmd
	s.stdin = nil
	s.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	case err := <-done:
		s.mu.Lock()
		s.running = false
		s.cmd = nil
		s.mu.Unlock()
		return err
	}
}

func (s *execSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	return nil
}

func (s *execSink) Config() Config { return s.cfg }
func (s *execSink) Name() string   { return "exec" }

func (s *execSink) Close() error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
