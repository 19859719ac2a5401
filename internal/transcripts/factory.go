package transcripts

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"convoingest/internal/config"
)

// ErrNotConfigured is returned when the provider API key is missing.
var ErrNotConfigured = errors.New("transcripts: ELEVENLABS_API_KEY is not set")

// New creates the transcript provider from configuration
func New(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	if cfg.ElevenLabsAPIKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("transcripts: creating ElevenLabs provider",
		zap.String("base_url", cfg.ElevenLabsBaseURL),
		zap.String("agent_id", cfg.ElevenLabsAgentID),
	)
	client := &http.Client{Timeout: 30 * time.Second}
	return NewElevenLabsProvider(cfg.ElevenLabsAPIKey, cfg.ElevenLabsBaseURL, client, logger), nil
}
