package session

import (
	"context"
	"fmt"
	"time"

	"github.com/Tenemo/bob/internal/log"
	"github.com/Tenemo/bob/pkg/bobapi"
	"github.com/Tenemo/bob/pkg/realtime"
)

// The assistant's tool surface is a closed set. Adding a tool means adding
// a descriptor here and a case to dispatchTool.
const (
	toolCameraCapture = "camera_capture"
	toolMove          = "move"
)

const toolTimeout = 30 * time.Second

// toolDescriptors builds the tool registrations advertised to the session.
func (m *Manager) toolDescriptors() []realtime.ToolDescriptor {
	moveValues := make([]string, 0, len(bobapi.Moves()))
	for _, mv := range bobapi.Moves() {
		moveValues = append(moveValues, string(mv))
	}

	return []realtime.ToolDescriptor{
		{
			Name:        toolCameraCapture,
			Description: m.cfg.Prompts.Get("camera"),
			Parameters:  map[string]any{},
		},
		{
			Name:        toolMove,
			Description: m.cfg.Prompts.Get("move"),
			Parameters: map[string]any{
				"type": map[string]any{
					"type":        "string",
					"enum":        moveValues,
					"description": "The movement to perform.",
				},
			},
			Required: []string{"type"},
		},
	}
}

// handleToolCall dispatches one tool invocation and submits its result
// back into the session. Tool failures are reported to the assistant as
// text so the conversation can recover.
func (m *Manager) handleToolCall(conv Conversation, call realtime.ToolCall) {
	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	log.Info("tool call", "name", call.Name, "call_id", call.CallID)

	output, err := m.dispatchTool(ctx, call)
	if err != nil {
		log.Warn("tool call failed", "name", call.Name, "error", err)
		output = "Error: " + err.Error()
	}

	if err := conv.SubmitToolResult(call.CallID, output); err != nil {
		log.Error("tool result submission failed", "name", call.Name, "error", err)
		m.notifyError("Tool result submission failed: " + err.Error())
	}
}

// dispatchTool executes a single tool call against the closed set.
func (m *Manager) dispatchTool(ctx context.Context, call realtime.ToolCall) (string, error) {
	switch call.Name {
	case toolCameraCapture:
		return m.runCameraCapture(ctx)
	case toolMove:
		return m.runMove(ctx, call.Args)
	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

// runCameraCapture photographs the robot's view and returns the scene
// description as prose for the assistant to narrate.
func (m *Manager) runCameraCapture(ctx context.Context) (string, error) {
	capture, err := m.cfg.Vision.CaptureAndDescribe(ctx)
	if err != nil {
		return "", fmt.Errorf("camera capture failed: %w", err)
	}
	return capture.Text(), nil
}

// runMove validates the requested movement before any request reaches the
// robot; an unknown movement never produces a REST call.
func (m *Manager) runMove(ctx context.Context, args map[string]any) (string, error) {
	raw, _ := args["type"].(string)
	move := bobapi.MoveType(raw)
	if err := move.Validate(); err != nil {
		return "", err
	}

	resp, err := m.cfg.Robot.Move(ctx, move)
	if err != nil {
		return "", fmt.Errorf("movement failed: %w", err)
	}
	return fmt.Sprintf("Movement %s completed: %s", move, resp.Status), nil
}
