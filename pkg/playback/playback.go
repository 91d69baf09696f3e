// Package playback routes a completed synthesized-audio clip either to
// local playback or to the robot's speaker, mutually exclusively, and
// enforces the clip size ceiling.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Tenemo/bob/internal/log"
	"github.com/Tenemo/bob/pkg/audioio"
	"github.com/Tenemo/bob/pkg/bobapi"
)

// MaxClipBytes is the ceiling on a single clip; larger clips are rejected
// before playback or upload is attempted.
const MaxClipBytes = 8 * 1024 * 1024

// ErrClipTooLarge indicates the clip exceeds MaxClipBytes.
var ErrClipTooLarge = errors.New("playback: clip exceeds maximum allowed size")

// Uploader forwards a PCM clip to the robot speaker.
type Uploader interface {
	UploadAudio(ctx context.Context, samples []int16) (bobapi.AudioUploadResponse, error)
}

// SinkFactory creates a fresh local playback sink. One sink is created
// per clip; at most one is live at a time.
type SinkFactory func(audioio.Config) (audioio.Sink, error)

// Route is a shared routing-preference cell. The controller reads it at
// clip delivery time, so a toggle flipped mid-session applies to the next
// clip rather than being frozen at session setup.
type Route struct {
	robot atomic.Bool
}

// SetRobot selects the robot speaker (true) or local playback (false).
func (r *Route) SetRobot(v bool) { r.robot.Store(v) }

// Robot reports whether clips go to the robot speaker.
func (r *Route) Robot() bool { return r.robot.Load() }

// Controller owns the single active local playback stream.
type Controller struct {
	uploader Uploader
	newSink  SinkFactory
	cfg      audioio.Config

	mu     sync.Mutex
	active *activeClip
}

type activeClip struct {
	sink   audioio.Sink
	cancel context.CancelFunc
}

// NewController creates a playback controller. newSink may be nil, in
// which case audioio.NewSink is used.
func NewController(uploader Uploader, cfg audioio.Config, newSink SinkFactory) *Controller {
	if newSink == nil {
		newSink = func(cfg audioio.Config) (audioio.Sink, error) {
			return audioio.NewSink(cfg, log.L())
		}
	}
	return &Controller{
		uploader: uploader,
		newSink:  newSink,
		cfg:      cfg,
	}
}

// HandleClip routes one completed clip. Clips over MaxClipBytes are
// rejected without touching playback or upload.
func (c *Controller) HandleClip(ctx context.Context, samples []int16, toRobot bool) error {
	sizeBytes := len(samples) * 2
	if sizeBytes > MaxClipBytes {
		return fmt.Errorf("%w: audio size (%.2fMB) exceeds maximum allowed size (8MB)",
			ErrClipTooLarge, float64(sizeBytes)/1024/1024)
	}

	if toRobot {
		resp, err := c.uploader.UploadAudio(ctx, samples)
		if err != nil {
			return fmt.Errorf("playback: upload to robot speaker failed: %w", err)
		}
		log.Debug("clip uploaded to robot speaker", "bytes", resp.Size)
		return nil
	}

	return c.playLocal(samples)
}

// playLocal stops any active clip and starts a new local playback stream.
func (c *Controller) playLocal(samples []int16) error {
	c.StopActive()

	sink, err := c.newSink(c.cfg)
	if err != nil {
		return fmt.Errorf("playback: create sink: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sink.Start(ctx); err != nil {
		cancel()
		sink.Close()
		return fmt.Errorf("playback: start sink: %w", err)
	}

	clip := &activeClip{sink: sink, cancel: cancel}

	c.mu.Lock()
	c.active = clip
	c.mu.Unlock()

	go c.stream(ctx, clip, samples)
	return nil
}

// stream writes the clip chunk by chunk and releases the active handle
// when the clip finishes naturally.
func (c *Controller) stream(ctx context.Context, clip *activeClip, samples []int16) {
	chunkSize := c.cfg.BufferSize()
	if chunkSize <= 0 {
		chunkSize = len(samples)
	}

	for start := 0; start < len(samples); start += chunkSize {
		end := start + chunkSize
		if end > len(samples) {
			end = len(samples)
		}
		chunk := audioio.AudioChunk{
			Samples:    samples[start:end],
			SampleRate: c.cfg.SampleRate,
			Channels:   c.cfg.Channels,
		}
		if err := clip.sink.Write(ctx, chunk); err != nil {
			log.Debug("local playback interrupted", "error", err)
			break
		}
	}

	if err := clip.sink.Flush(ctx); err != nil && ctx.Err() == nil {
		log.Warn("local playback flush failed", "error", err)
	}
	clip.sink.Close()

	c.mu.Lock()
	if c.active == clip {
		c.active = nil
	}
	c.mu.Unlock()
}

// StopActive stops any currently playing local clip. It is idempotent and
// reports whether anything was actually stopped. Used for explicit stop
// requests and for barge-in when the user starts talking.
func (c *Controller) StopActive() bool {
	c.mu.Lock()
	clip := c.active
	c.active = nil
	c.mu.Unlock()

	if clip == nil {
		return false
	}

	clip.cancel()
	clip.sink.Stop()
	clip.sink.Close()
	return true
}

// Playing reports whether a local clip is currently active.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
