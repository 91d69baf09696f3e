// Package bobapi is a typed client for the robot's HTTP API.
// All requests are parameterized by a user-entered network address;
// an absent address is a request-time error, not a panic, so the panel
// can render it inline.
package bobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/Tenemo/bob/internal/httpc"
	"github.com/Tenemo/bob/pkg/wav"
)

var (
	// ErrMissingAddress indicates no robot address has been provided.
	ErrMissingAddress = errors.New("bobapi: no robot address provided")

	// ErrInvalidMove indicates the movement is not in the supported set.
	ErrInvalidMove = errors.New("bobapi: invalid move command")
)

// MoveType is a movement command accepted by the robot.
type MoveType string

// Supported movement commands.
const (
	MoveReset   MoveType = "reset"
	MoveStandUp MoveType = "standUp"
	MoveSitDown MoveType = "sitDown"
	MoveWiggle  MoveType = "wiggle"
)

// Moves lists every supported movement command.
func Moves() []MoveType {
	return []MoveType{MoveReset, MoveStandUp, MoveSitDown, MoveWiggle}
}

// Validate checks the movement against the supported set.
func (m MoveType) Validate() error {
	switch m {
	case MoveReset, MoveStandUp, MoveSitDown, MoveWiggle:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidMove, string(m))
}

// HealthcheckResponse is the robot's health-check payload. APIKey is the
// session credential for the conversational AI service; it is held in
// memory only.
type HealthcheckResponse struct {
	Status string `json:"status"`
	APIKey string `json:"apiKey,omitempty"`
}

// AudioUploadResponse reports the accepted clip size in bytes.
type AudioUploadResponse struct {
	Status string `json:"status"`
	Size   int    `json:"size"`
}

// StatusResponse is the generic status payload for command endpoints.
type StatusResponse struct {
	Status string `json:"status"`
}

// Client issues requests against the robot's HTTP API.
type Client struct {
	mu     sync.RWMutex
	addr   string
	client *http.Client
}

// NewClient creates a client for the robot at addr. The address may be
// empty and set later through SetAddress.
func NewClient(addr string) *Client {
	return &Client{
		addr:   addr,
		client: httpc.NewClient(15 * time.Second),
	}
}

// SetAddress updates the robot network address.
func (c *Client) SetAddress(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addr = addr
}

// Address returns the current robot network address.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

func (c *Client) url(path string) (string, error) {
	addr := c.Address()
	if addr == "" {
		return "", ErrMissingAddress
	}
	return fmt.Sprintf("http://%s/%s", addr, path), nil
}

// Healthcheck probes the robot and returns its status along with the
// session credential, when the robot has one.
func (c *Client) Healthcheck(ctx context.Context) (HealthcheckResponse, error) {
	var out HealthcheckResponse
	if err := c.getJSON(ctx, "health-check", &out); err != nil {
		return HealthcheckResponse{}, err
	}
	return out, nil
}

// Capture fetches a fresh photo from the robot camera as raw JPEG bytes.
// The robot never serves a cached frame for this endpoint.
func (c *Client) Capture(ctx context.Context) ([]byte, error) {
	url, err := c.url("capture")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bobapi: build capture request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bobapi: capture request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bobapi: capture returned status %d", resp.StatusCode)
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bobapi: read capture body: %w", err)
	}
	return image, nil
}

// UploadAudio sends a PCM clip to the robot speaker. The clip is WAV-encoded
// at this transport boundary and posted as a multipart form, field "file".
func (c *Client) UploadAudio(ctx context.Context, samples []int16) (AudioUploadResponse, error) {
	url, err := c.url("audio")
	if err != nil {
		return AudioUploadResponse{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return AudioUploadResponse{}, fmt.Errorf("bobapi: create form file: %w", err)
	}
	if _, err := fw.Write(wav.Encode(samples, wav.DefaultSampleRate)); err != nil {
		return AudioUploadResponse{}, fmt.Errorf("bobapi: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return AudioUploadResponse{}, fmt.Errorf("bobapi: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return AudioUploadResponse{}, fmt.Errorf("bobapi: build audio request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out AudioUploadResponse
	if err := c.doJSON(req, &out); err != nil {
		return AudioUploadResponse{}, err
	}
	return out, nil
}

// StopAudio tells the robot to stop any playing clip.
func (c *Client) StopAudio(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	if err := c.postJSON(ctx, "stop-audio", nil, &out); err != nil {
		return StatusResponse{}, err
	}
	return out, nil
}

// Move sends a movement command. The movement is validated before any
// request is issued.
func (c *Client) Move(ctx context.Context, move MoveType) (StatusResponse, error) {
	if err := move.Validate(); err != nil {
		return StatusResponse{}, err
	}

	payload := map[string]string{"type": string(move)}
	var out StatusResponse
	if err := c.postJSON(ctx, "move", payload, &out); err != nil {
		return StatusResponse{}, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	url, err := c.url(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("bobapi: build %s request: %w", path, err)
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	url, err := c.url(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("bobapi: marshal %s payload: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("bobapi: build %s request: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bobapi: %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bobapi: %s returned status %d", req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bobapi: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
