// Package vision captures a still image from the robot and obtains a
// structured description of visible objects from a vision-capable AI
// endpoint.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Tenemo/bob/internal/httpc"
	"github.com/Tenemo/bob/internal/log"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-2024-11-20"
)

var (
	// ErrMissingAPIKey indicates no vision API key is configured.
	ErrMissingAPIKey = errors.New("vision: API key missing")

	// ErrNoImage indicates the robot returned no image to analyze.
	ErrNoImage = errors.New("vision: no image to analyze")

	// ErrSchemaParse indicates the response failed schema validation.
	ErrSchemaParse = errors.New("vision: response failed schema validation")
)

// CameraSource provides fresh photos, typically the robot's /capture endpoint.
type CameraSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Client analyzes robot camera captures.
type Client struct {
	mu      sync.RWMutex
	apiKey  string
	baseURL string
	model   string
	prompt  string
	camera  CameraSource
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithModel overrides the vision model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// NewClient creates a vision client. prompt is the fixed instructional
// text sent with every capture.
func NewClient(apiKey string, camera CameraSource, prompt string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		prompt:  prompt,
		camera:  camera,
		client:  httpc.NewClient(30 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAPIKey replaces the vision API key. The key often arrives late,
// from the robot's health-check response rather than the environment.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

func (c *Client) key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// CaptureAndDescribe requests a fresh photo, submits it for analysis and
// returns the structured description. On schema validation failure the
// returned Capture still carries the raw image for display.
func (c *Client) CaptureAndDescribe(ctx context.Context) (*Capture, error) {
	if c.key() == "" {
		return nil, ErrMissingAPIKey
	}

	image, err := c.camera.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImage, err)
	}
	if len(image) == 0 {
		return nil, ErrNoImage
	}

	capture := &Capture{Image: image}

	scene, err := c.describe(ctx, image)
	if err != nil {
		return capture, err
	}

	capture.Scene = scene
	log.Debug("vision analysis complete", "objects", len(scene.Objects))
	return capture, nil
}

func (c *Client) describe(ctx context.Context, image []byte) (SceneDescription, error) {
	b64 := base64.StdEncoding.EncodeToString(image)

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": c.prompt},
					{
						"type": "image_url",
						"image_url": map[string]string{
							"url":    "data:image/jpeg;base64," + b64,
							"detail": "high",
						},
					},
				},
			},
		},
		"max_tokens":      4096,
		"response_format": sceneResponseFormat(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return SceneDescription{}, fmt.Errorf("vision: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return SceneDescription{}, fmt.Errorf("vision: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key())

	resp, err := c.client.Do(req)
	if err != nil {
		return SceneDescription{}, fmt.Errorf("vision: API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return SceneDescription{}, fmt.Errorf("vision: API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return SceneDescription{}, fmt.Errorf("vision: decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return SceneDescription{}, fmt.Errorf("%w: no choices in response", ErrSchemaParse)
	}

	var scene SceneDescription
	content := chat.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &scene); err != nil {
		return SceneDescription{}, fmt.Errorf("%w: %v", ErrSchemaParse, err)
	}
	if err := scene.Validate(); err != nil {
		return SceneDescription{}, err
	}

	return scene, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
