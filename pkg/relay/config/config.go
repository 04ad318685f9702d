// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	ResponseModeStreaming = "streaming"
	ResponseModeBatch     = "batch"
)

const defaultSystemPrompt = "You are a voice assistant on a phone call. " +
	"Answer in short, spoken-style sentences without markup or lists."

type Config struct {
	Addr string

	// Model backend.
	Provider        string
	Model           string
	ResponseMode    string
	MaxTokens       int
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Conversation.
	SystemPrompt string
	Greeting     string

	// TwiML document. PublicHost overrides the Host header when the gateway
	// sits behind a proxy that rewrites it.
	PublicHost string
	Voice      string
	Language   string

	// Websocket session.
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	TurnTimeout      time.Duration // 0 disables the per-turn deadline
	MaxMessageBytes  int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("RELAY_ADDR", ":8080"),
		Provider:            strings.ToLower(envOr("RELAY_PROVIDER", ProviderAnthropic)),
		Model:               envOr("RELAY_MODEL", ""),
		ResponseMode:        strings.ToLower(envOr("RELAY_RESPONSE_MODE", ResponseModeStreaming)),
		MaxTokens:           envIntOr("RELAY_MAX_TOKENS", 1024),
		AnthropicAPIKey:     strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		SystemPrompt:        envOr("RELAY_SYSTEM_PROMPT", defaultSystemPrompt),
		Greeting:            envOr("RELAY_GREETING", "Hello! How can I help you today?"),
		PublicHost:          envOr("RELAY_PUBLIC_HOST", ""),
		Voice:               envOr("RELAY_VOICE", ""),
		Language:            envOr("RELAY_LANGUAGE", "en-US"),
		HandshakeTimeout:    envDurationOr("RELAY_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		ReadTimeout:         envDurationOr("RELAY_WS_READ_TIMEOUT", 60*time.Second),
		WriteTimeout:        envDurationOr("RELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		PingInterval:        envDurationOr("RELAY_WS_PING_INTERVAL", 20*time.Second),
		TurnTimeout:         envDurationOr("RELAY_TURN_TIMEOUT", 0),
		MaxMessageBytes:     envInt64Or("RELAY_WS_MAX_MESSAGE_BYTES", 64*1024),
		ReadHeaderTimeout:   envDurationOr("RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("RELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.Provider {
	case ProviderAnthropic:
		if cfg.Model == "" {
			cfg.Model = "claude-3-5-haiku-latest"
		}
	case ProviderOpenAI:
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
	default:
		return Config{}, fmt.Errorf("RELAY_PROVIDER must be one of anthropic|openai")
	}

	switch cfg.ResponseMode {
	case ResponseModeStreaming, ResponseModeBatch:
	default:
		return Config{}, fmt.Errorf("RELAY_RESPONSE_MODE must be one of streaming|batch")
	}

	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_TOKENS must be > 0")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return Config{}, fmt.Errorf("RELAY_SYSTEM_PROMPT must not be empty")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout < 0 {
		return Config{}, fmt.Errorf("RELAY_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.PingInterval <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.TurnTimeout < 0 {
		return Config{}, fmt.Errorf("RELAY_TURN_TIMEOUT must be >= 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
