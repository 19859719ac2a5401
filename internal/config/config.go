package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environments recognised by APP_ENV
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Port            string
	AppEnv          string
	CORSAllowOrigin string

	// Transcript provider (ElevenLabs)
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsAgentID string

	// Webhook verification
	WebhookSecret            string
	WebhookSignatureRequired bool

	// Analysis engine
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAITimeout time.Duration

	// Storage
	DatabaseURL    string
	MongoDatabase  string
	DBMaxOpenConns int

	// Polling sync loop
	SyncEnabled  bool
	SyncInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		AppEnv:          strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		CORSAllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "*"),

		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: strings.TrimRight(getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"), "/"),
		ElevenLabsAgentID: os.Getenv("ELEVENLABS_AGENT_ID"),

		WebhookSecret: os.Getenv("ELEVENLABS_WEBHOOK_SECRET"),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MongoDatabase: getEnv("MONGO_DATABASE", "convoingest"),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}

	var err error
	if cfg.WebhookSignatureRequired, err = getBool("WEBHOOK_SIGNATURE_REQUIRED", true); err != nil {
		return nil, err
	}
	if cfg.SyncEnabled, err = getBool("SYNC_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.OpenAITimeout, err = getDuration("OPENAI_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 10); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be fixed by defaulting.
func (c *Config) Validate() error {
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	if c.OpenAITimeout <= 0 {
		return fmt.Errorf("OPENAI_TIMEOUT must be positive, got %s", c.OpenAITimeout)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.IsProduction() && c.WebhookSignatureRequired && c.WebhookSecret == "" {
		return fmt.Errorf("ELEVENLABS_WEBHOOK_SECRET is required in production when WEBHOOK_SIGNATURE_REQUIRED is true")
	}
	return nil
}

// IsProduction reports whether error details must be hidden from clients.
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s, got %q", key, v)
	}
	return d, nil
}
