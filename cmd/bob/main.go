// bob control panel service: hosts the browser-facing API and drives
// voice/vision conversation sessions against the robot.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tenemo/bob/internal/config"
	"github.com/Tenemo/bob/internal/log"
	"github.com/Tenemo/bob/pkg/audioio"
	"github.com/Tenemo/bob/pkg/bobapi"
	"github.com/Tenemo/bob/pkg/playback"
	"github.com/Tenemo/bob/pkg/prompts"
	"github.com/Tenemo/bob/pkg/realtime"
	"github.com/Tenemo/bob/pkg/session"
	"github.com/Tenemo/bob/pkg/vision"
	"github.com/Tenemo/bob/pkg/web"
)

func main() {
	config.LoadDotenv()

	port := flag.String("port", config.PanelPort(), "control panel listen port")
	bobAddr := flag.String("bob-addr", config.BobAddr(), "robot address, e.g. 192.168.1.20:3000")
	audioBackend := flag.String("audio", "auto", "audio backend: auto, exec, mock")
	flag.Parse()

	log.Init(config.LogLevel())

	audioCfg := audioio.DefaultConfig()
	audioCfg.SampleRate = config.SampleRate()
	audioCfg.Backend = audioio.Backend(*audioBackend)
	if err := audioCfg.Validate(); err != nil {
		log.Error("invalid audio configuration", "error", err)
		os.Exit(1)
	}

	robot := bobapi.NewClient(*bobAddr)

	promptRepo := prompts.Default()
	visionClient := vision.NewClient(config.OpenAIKey(), robot, promptRepo.Get("capture"))

	route := &playback.Route{}
	player := playback.NewController(robot, audioCfg, nil)

	manager := session.NewManager(session.Config{
		Robot:   robot,
		Vision:  visionClient,
		Player:  player,
		Route:   route,
		Prompts: promptRepo,
		Voice:   config.Voice(),
		Dial: func(credential string) session.Conversation {
			return realtime.NewClient(credential)
		},
		NewSource: func() (audioio.Source, error) {
			return audioio.NewSource(audioCfg, log.L())
		},
		OnCredential: visionClient.SetAPIKey,
	})

	server := web.NewServer(web.Config{
		Port:    *port,
		Session: manager,
		Robot:   robot,
		Vision:  visionClient,
		Route:   route,
	})

	// Live event stream to the browser.
	manager.SetObservers(session.Observers{
		OnTranscript:  server.NotifyTranscript,
		OnStateChange: server.NotifyState,
		OnError:       server.NotifyError,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	manager.Disconnect()
	player.StopActive()
	if err := server.Shutdown(); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
}
