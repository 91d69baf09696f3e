package web

import (
	"encoding/base64"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Tenemo/bob/pkg/bobapi"
	"github.com/Tenemo/bob/pkg/session"
)

// statusPayload is the panel's view of the system.
type statusPayload struct {
	State        string `json:"state"`
	Talking      bool   `json:"talking"`
	RobotSpeaker bool   `json:"robot_speaker"`
	RobotAddress string `json:"robot_address"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(statusPayload{
		State:        s.cfg.Session.State().String(),
		Talking:      s.cfg.Session.Talking(),
		RobotSpeaker: s.cfg.Route.Robot(),
		RobotAddress: s.cfg.Robot.Address(),
	})
}

type addressRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleSetAddress(c *fiber.Ctx) error {
	var req addressRequest
	if err := c.BodyParser(&req); err != nil || req.Address == "" {
		return errorJSON(c, fiber.StatusBadRequest, "address is required")
	}
	s.cfg.Robot.SetAddress(req.Address)
	return c.JSON(fiber.Map{"status": "Success", "address": req.Address})
}

func (s *Server) handleConnect(c *fiber.Ctx) error {
	err := s.cfg.Session.Connect(c.Context())
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"status": "Success", "state": s.cfg.Session.State().String()})
	case errors.Is(err, session.ErrConnectInProgress), errors.Is(err, session.ErrAlreadyConnected):
		return errorJSON(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, session.ErrMissingCredential):
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	default:
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	s.cfg.Session.Disconnect()
	return c.JSON(fiber.Map{"status": "Success", "state": s.cfg.Session.State().String()})
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(c *fiber.Ctx) error {
	var req messageRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return errorJSON(c, fiber.StatusBadRequest, "text is required")
	}

	if err := s.cfg.Session.PushUserText(req.Text); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			return errorJSON(c, fiber.StatusConflict, err.Error())
		}
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"status": "Success"})
}

// handleShare captures and describes the robot's view, then sends the
// description into the live conversation as a user message.
func (s *Server) handleShare(c *fiber.Ctx) error {
	err := s.cfg.Session.SharePicture(c.Context())
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"status": "Success"})
	case errors.Is(err, session.ErrNotConnected):
		return errorJSON(c, fiber.StatusConflict, err.Error())
	default:
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleTalkStart(c *fiber.Ctx) error {
	if err := s.cfg.Session.BeginTalk(); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"status": "Success", "talking": s.cfg.Session.Talking()})
}

func (s *Server) handleTalkStop(c *fiber.Ctx) error {
	if err := s.cfg.Session.EndTalk(); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"status": "Success", "talking": s.cfg.Session.Talking()})
}

type moveRequest struct {
	Type string `json:"type"`
}

func (s *Server) handleMove(c *fiber.Ctx) error {
	var req moveRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	move := bobapi.MoveType(req.Type)
	if err := move.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	resp, err := s.cfg.Robot.Move(c.Context(), move)
	if err != nil {
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(resp)
}

type speakerRequest struct {
	Robot bool `json:"robot"`
}

func (s *Server) handleSpeaker(c *fiber.Ctx) error {
	var req speakerRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	s.cfg.Route.SetRobot(req.Robot)
	return c.JSON(fiber.Map{"status": "Success", "robot_speaker": req.Robot})
}

func (s *Server) handleStopAudio(c *fiber.Ctx) error {
	resp, err := s.cfg.Robot.StopAudio(c.Context())
	if err != nil {
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(resp)
}

func (s *Server) handleCapture(c *fiber.Ctx) error {
	img, err := s.cfg.Robot.Capture(c.Context())
	if err != nil {
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(img)
}

func (s *Server) handleDescribe(c *fiber.Ctx) error {
	capture, err := s.cfg.Vision.CaptureAndDescribe(c.Context())
	if err != nil {
		// A schema failure still yields the raw photo; hand it to the
		// panel so the user sees what the camera saw.
		if capture != nil && len(capture.Image) > 0 {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
				"image": base64.StdEncoding.EncodeToString(capture.Image),
			})
		}
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{
		"description": capture.Text(),
		"objects":     capture.Scene.Objects,
	})
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	entries := s.cfg.Session.Transcript()
	out := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		out = append(out, fiber.Map{
			"time": e.At.Format("15:04:05"),
			"role": e.Role,
			"text": e.Text,
		})
	}
	return c.JSON(out)
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
