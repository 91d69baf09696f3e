// Package config provides configuration helpers for bob commands.
// Values are read from the environment, optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/Tenemo/bob/internal/log"
)

// Defaults for the control panel service.
const (
	DefaultPanelPort  = "8080"
	DefaultSampleRate = 24000
)

// LoadDotenv loads a .env file if one is present in the working directory.
// Missing files are not an error; a malformed file is logged and skipped.
func LoadDotenv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(); err != nil {
		log.Warn("failed to load .env file", "error", err)
	}
}

// BobAddr returns the robot network address from BOB_ADDR.
// May be empty: the address is usually entered through the panel.
func BobAddr() string {
	return os.Getenv("BOB_ADDR")
}

// OpenAIKey returns the OpenAI API key from OPENAI_API_KEY.
// May be empty: the realtime session credential normally comes from
// the robot's health-check response instead.
func OpenAIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// PanelPort returns the control panel listen port from PANEL_PORT or default.
func PanelPort() string {
	if port := os.Getenv("PANEL_PORT"); port != "" {
		return port
	}
	return DefaultPanelPort
}

// LogLevel returns the log level from LOG_LEVEL or "info".
func LogLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "info"
}

// SampleRate returns the audio sample rate from SAMPLE_RATE or the default.
func SampleRate() int {
	if v := os.Getenv("SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			return rate
		}
		log.Warn("invalid SAMPLE_RATE, using default", "value", v)
	}
	return DefaultSampleRate
}

// Voice returns the realtime voice from BOB_VOICE or "shimmer".
func Voice() string {
	if v := os.Getenv("BOB_VOICE"); v != "" {
		return v
	}
	return "shimmer"
}
