package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the client.
type Config struct {
	Backend BackendConfig
	Agent   AgentConfig
	Session SessionConfig
	Log     LogConfig
}

type BackendConfig struct {
	BaseURL     string
	APIKey      string
	EventBuffer int
}

type AgentConfig struct {
	AgentID  string
	Location string
}

type SessionConfig struct {
	SilenceTimeout time.Duration
	WelcomeText    string
	TypedAckReply  string
}

type LogConfig struct {
	Level string
	File  string
}

// Load resolves configuration from environment variables and sensible
// defaults.
func Load() (Config, error) {
	cfg := Config{
		Backend: BackendConfig{
			BaseURL:     envOrDefault("DWELLING_BACKEND_URL", "https://api.dwelling-scribe.dev/v1"),
			APIKey:      strings.TrimSpace(os.Getenv("DWELLING_API_KEY")),
			EventBuffer: envOrDefaultInt("DWELLING_EVENT_BUFFER", 64),
		},
		Agent: AgentConfig{
			AgentID:  envOrDefault("DWELLING_AGENT_ID", "realestate-search"),
			Location: strings.TrimSpace(os.Getenv("DWELLING_SEARCH_LOCATION")),
		},
		Session: SessionConfig{
			SilenceTimeout: time.Duration(envOrDefaultInt("DWELLING_SILENCE_TIMEOUT_MS", 1500)) * time.Millisecond,
			WelcomeText:    strings.TrimSpace(os.Getenv("DWELLING_WELCOME_TEXT")),
			TypedAckReply:  strings.TrimSpace(os.Getenv("DWELLING_TYPED_ACK_REPLY")),
		},
		Log: LogConfig{
			Level: envOrDefault("DWELLING_LOG_LEVEL", "info"),
			File:  strings.TrimSpace(os.Getenv("DWELLING_LOG_FILE")),
		},
	}

	if cfg.Backend.EventBuffer < 16 {
		cfg.Backend.EventBuffer = 64
	}
	if cfg.Session.SilenceTimeout <= 0 {
		cfg.Session.SilenceTimeout = 1500 * time.Millisecond
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
