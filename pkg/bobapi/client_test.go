package bobapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Tenemo/bob/pkg/wav"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(strings.TrimPrefix(srv.URL, "http://"))
}

func TestMissingAddress(t *testing.T) {
	c := NewClient("")

	if _, err := c.Healthcheck(context.Background()); !errors.Is(err, ErrMissingAddress) {
		t.Errorf("Healthcheck: expected ErrMissingAddress, got %v", err)
	}
	if _, err := c.Capture(context.Background()); !errors.Is(err, ErrMissingAddress) {
		t.Errorf("Capture: expected ErrMissingAddress, got %v", err)
	}
	if _, err := c.Move(context.Background(), MoveWiggle); !errors.Is(err, ErrMissingAddress) {
		t.Errorf("Move: expected ErrMissingAddress, got %v", err)
	}
}

func TestHealthcheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health-check" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(HealthcheckResponse{Status: "OK", APIKey: "k1"})
	})

	resp, err := c.Healthcheck(context.Background())
	if err != nil {
		t.Fatalf("healthcheck failed: %v", err)
	}
	if resp.Status != "OK" || resp.APIKey != "k1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestCapture(t *testing.T) {
	image := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/capture" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(image)
	})

	got, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if string(got) != string(image) {
		t.Error("image bytes mismatch")
	}
}

func TestUploadAudioSendsWAV(t *testing.T) {
	samples := []int16{0, 100, -100, 200}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "audio.wav" {
			t.Errorf("filename: got %q", header.Filename)
		}

		data, _ := io.ReadAll(file)
		info, decoded, err := wav.Decode(data)
		if err != nil {
			t.Fatalf("uploaded payload is not WAV: %v", err)
		}
		if info.SampleRate != 24000 || info.Channels != 1 || info.BitsPerSample != 16 {
			t.Errorf("unexpected WAV format: %+v", info)
		}
		if len(decoded) != len(samples) {
			t.Errorf("sample count: got %d, want %d", len(decoded), len(samples))
		}

		json.NewEncoder(w).Encode(AudioUploadResponse{Status: "OK", Size: len(data)})
	})

	resp, err := c.UploadAudio(context.Background(), samples)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if resp.Status != "OK" {
		t.Errorf("status: got %q", resp.Status)
	}
}

func TestMove(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/move" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(StatusResponse{Status: "OK"})
	})

	if _, err := c.Move(context.Background(), MoveStandUp); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if gotBody["type"] != "standUp" {
		t.Errorf("move payload: got %q, want standUp", gotBody["type"])
	}
}

func TestMoveRejectsInvalidWithoutRequest(t *testing.T) {
	requested := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requested = true
	})

	_, err := c.Move(context.Background(), MoveType("backflip"))
	if !errors.Is(err, ErrInvalidMove) {
		t.Errorf("expected ErrInvalidMove, got %v", err)
	}
	if requested {
		t.Error("invalid move must not reach the robot")
	}
}

func TestMoveTypeValidate(t *testing.T) {
	for _, m := range Moves() {
		if err := m.Validate(); err != nil {
			t.Errorf("%s: unexpected error %v", m, err)
		}
	}
	for _, m := range []MoveType{"", "jump", "StandUp", "standup"} {
		if err := m.Validate(); err == nil {
			t.Errorf("%q: expected validation error", m)
		}
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := c.StopAudio(context.Background()); err == nil {
		t.Error("expected error for status 500")
	}
}
