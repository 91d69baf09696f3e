package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tenemo/bob/pkg/bobapi"
	"github.com/Tenemo/bob/pkg/playback"
	"github.com/Tenemo/bob/pkg/session"
	"github.com/Tenemo/bob/pkg/vision"
)

type fakeSession struct {
	state      session.State
	talking    bool
	connectErr error
	pushErr    error
	shareErr   error

	connects    int
	disconnects int
	pushed      []string
	shares      int
	begins      int
	ends        int
	transcript  []session.Entry
}

func (f *fakeSession) State() session.State { return f.state }
func (f *fakeSession) Talking() bool        { return f.talking }

func (f *fakeSession) Connect(ctx context.Context) error {
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = session.StateConnected
	return nil
}

func (f *fakeSession) Disconnect() {
	f.disconnects++
	f.state = session.StateIdle
}

func (f *fakeSession) PushUserText(text string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, text)
	return nil
}

func (f *fakeSession) SharePicture(ctx context.Context) error {
	if f.shareErr != nil {
		return f.shareErr
	}
	f.shares++
	return nil
}

func (f *fakeSession) BeginTalk() error {
	f.begins++
	f.talking = true
	return nil
}

func (f *fakeSession) EndTalk() error {
	f.ends++
	f.talking = false
	return nil
}

func (f *fakeSession) Transcript() []session.Entry { return f.transcript }

type fakeRobot struct {
	addr       string
	captureImg []byte
	captureErr error
	moveErr    error

	moves      []bobapi.MoveType
	audioStops int
}

func (f *fakeRobot) SetAddress(addr string) { f.addr = addr }
func (f *fakeRobot) Address() string        { return f.addr }

func (f *fakeRobot) Capture(ctx context.Context) ([]byte, error) {
	return f.captureImg, f.captureErr
}

func (f *fakeRobot) Move(ctx context.Context, move bobapi.MoveType) (bobapi.StatusResponse, error) {
	if f.moveErr != nil {
		return bobapi.StatusResponse{}, f.moveErr
	}
	f.moves = append(f.moves, move)
	return bobapi.StatusResponse{Status: "Success"}, nil
}

func (f *fakeRobot) StopAudio(ctx context.Context) (bobapi.StatusResponse, error) {
	f.audioStops++
	return bobapi.StatusResponse{Status: "Success"}, nil
}

type fakeVision struct {
	capture *vision.Capture
	err     error
}

func (f *fakeVision) CaptureAndDescribe(ctx context.Context) (*vision.Capture, error) {
	return f.capture, f.err
}

type testServer struct {
	srv     *Server
	session *fakeSession
	robot   *fakeRobot
	vision  *fakeVision
	route   *playback.Route
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sess := &fakeSession{}
	robot := &fakeRobot{addr: "10.0.0.5:3000"}
	vis := &fakeVision{}
	route := &playback.Route{}

	srv := NewServer(Config{
		Port:    "0",
		Session: sess,
		Robot:   robot,
		Vision:  vis,
		Route:   route,
	})
	return &testServer{srv: srv, session: sess, robot: robot, vision: vis, route: route}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.srv.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestStatusReflectsSystemState(t *testing.T) {
	ts := newTestServer(t)
	ts.session.state = session.StateConnected
	ts.session.talking = true
	ts.route.SetRobot(true)

	resp := ts.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload statusPayload
	decodeJSON(t, resp, &payload)

	if payload.State != "connected" {
		t.Errorf("state = %q, want connected", payload.State)
	}
	if !payload.Talking {
		t.Error("talking = false, want true")
	}
	if !payload.RobotSpeaker {
		t.Error("robot_speaker = false, want true")
	}
	if payload.RobotAddress != "10.0.0.5:3000" {
		t.Errorf("robot_address = %q", payload.RobotAddress)
	}
}

func TestSetAddress(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/address", addressRequest{Address: "192.168.1.20:3000"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ts.robot.addr != "192.168.1.20:3000" {
		t.Errorf("robot address = %q", ts.robot.addr)
	}

	resp = ts.do(t, http.MethodPost, "/api/address", addressRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty address status = %d, want 400", resp.StatusCode)
	}
}

func TestConnectStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: http.StatusOK},
		{name: "in progress", err: session.ErrConnectInProgress, want: http.StatusConflict},
		{name: "already connected", err: session.ErrAlreadyConnected, want: http.StatusConflict},
		{name: "missing credential", err: session.ErrMissingCredential, want: http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.session.connectErr = tc.err

			resp := ts.do(t, http.MethodPost, "/api/connect", nil)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestDisconnectAlwaysSucceeds(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/disconnect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ts.session.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", ts.session.disconnects)
	}
}

func TestMessageRequiresTextAndSession(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/message", messageRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", resp.StatusCode)
	}

	ts.session.pushErr = session.ErrNotConnected
	resp = ts.do(t, http.MethodPost, "/api/message", messageRequest{Text: "hi"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("not connected status = %d, want 409", resp.StatusCode)
	}

	ts.session.pushErr = nil
	resp = ts.do(t, http.MethodPost, "/api/message", messageRequest{Text: "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if len(ts.session.pushed) != 1 || ts.session.pushed[0] != "hi" {
		t.Errorf("pushed = %v, want [hi]", ts.session.pushed)
	}
}

func TestShareSendsPictureIntoConversation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/share", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ts.session.shares != 1 {
		t.Errorf("shares = %d, want 1", ts.session.shares)
	}

	ts.session.shareErr = session.ErrNotConnected
	resp = ts.do(t, http.MethodPost, "/api/share", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("not connected status = %d, want 409", resp.StatusCode)
	}

	ts.session.shareErr = errors.New("capture failed")
	resp = ts.do(t, http.MethodPost, "/api/share", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("capture failure status = %d, want 502", resp.StatusCode)
	}
}

func TestTalkEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/talk/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("talk start status = %d, want 200", resp.StatusCode)
	}
	if ts.session.begins != 1 {
		t.Errorf("begins = %d, want 1", ts.session.begins)
	}

	resp = ts.do(t, http.MethodPost, "/api/talk/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("talk stop status = %d, want 200", resp.StatusCode)
	}
	if ts.session.ends != 1 {
		t.Errorf("ends = %d, want 1", ts.session.ends)
	}
}

func TestMoveValidatesBeforeCallingRobot(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/move", moveRequest{Type: "moonwalk"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid move status = %d, want 400", resp.StatusCode)
	}
	if len(ts.robot.moves) != 0 {
		t.Errorf("robot received %d moves, want 0", len(ts.robot.moves))
	}

	resp = ts.do(t, http.MethodPost, "/api/move", moveRequest{Type: "sitDown"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid move status = %d, want 200", resp.StatusCode)
	}
	if len(ts.robot.moves) != 1 || ts.robot.moves[0] != bobapi.MoveSitDown {
		t.Errorf("moves = %v, want [sitDown]", ts.robot.moves)
	}
}

func TestSpeakerTogglesRoute(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/speaker", speakerRequest{Robot: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !ts.route.Robot() {
		t.Error("route = local, want robot")
	}

	ts.do(t, http.MethodPost, "/api/speaker", speakerRequest{Robot: false})
	if ts.route.Robot() {
		t.Error("route = robot, want local")
	}
}

func TestStopAudio(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/stop-audio", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ts.robot.audioStops != 1 {
		t.Errorf("stop-audio calls = %d, want 1", ts.robot.audioStops)
	}
}

func TestCaptureReturnsJPEG(t *testing.T) {
	ts := newTestServer(t)
	ts.robot.captureImg = []byte{0xFF, 0xD8, 0xFF, 0xE0}

	resp := ts.do(t, http.MethodGet, "/api/capture", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(body, ts.robot.captureImg) {
		t.Error("capture body does not match robot image")
	}
}

func TestDescribeReturnsSceneText(t *testing.T) {
	ts := newTestServer(t)
	ts.vision.capture = &vision.Capture{
		Scene: vision.SceneDescription{Objects: []vision.SceneObject{
			{Name: "lamp", Position: "right", DistanceMeters: 1.2, Description: "a desk lamp"},
		}},
	}

	resp := ts.do(t, http.MethodPost, "/api/describe", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload struct {
		Description string `json:"description"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Description != ts.vision.capture.Text() {
		t.Errorf("description = %q, want %q", payload.Description, ts.vision.capture.Text())
	}
}

func TestDescribeKeepsImageOnSchemaFailure(t *testing.T) {
	ts := newTestServer(t)
	image := []byte{0xFF, 0xD8, 0x03}
	ts.vision.capture = &vision.Capture{Image: image}
	ts.vision.err = vision.ErrSchemaParse

	resp := ts.do(t, http.MethodPost, "/api/describe", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	var payload struct {
		Error string `json:"error"`
		Image string `json:"image"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Error == "" {
		t.Error("error message missing")
	}
	if payload.Image != base64.StdEncoding.EncodeToString(image) {
		t.Error("raw image missing from schema-failure response")
	}
}

func TestDescribeWithoutImageFails(t *testing.T) {
	ts := newTestServer(t)
	ts.vision.err = errors.New("camera offline")

	resp := ts.do(t, http.MethodPost, "/api/describe", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.session.transcript = []session.Entry{
		{Role: "user", Text: "hello", At: time.Now()},
		{Role: "assistant", Text: "hi!", At: time.Now()},
	}

	resp := ts.do(t, http.MethodGet, "/api/transcript", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var entries []map[string]string
	decodeJSON(t, resp, &entries)
	if len(entries) != 2 || entries[0]["text"] != "hello" || entries[1]["role"] != "assistant" {
		t.Errorf("transcript = %v", entries)
	}
}
