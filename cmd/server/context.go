package main

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"convoingest/internal/ai"
	"convoingest/internal/config"
	"convoingest/internal/ingest"
	"convoingest/internal/logging"
	"convoingest/internal/repository"
	"convoingest/internal/transcripts"
)

type commandContext struct {
	envFile *string

	configOnce sync.Once
	config     *config.Config
	logger     *zap.Logger
	envLoaded  bool
	configErr  error
}

func newCommandContext(envFile *string) *commandContext {
	return &commandContext{envFile: envFile}
}

// ensureConfig loads the .env file (if present), the configuration and the
// logger once per process.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := ".env"
		if c.envFile != nil && strings.TrimSpace(*c.envFile) != "" {
			path = strings.TrimSpace(*c.envFile)
		}
		// Load .env file if it exists (ignore error if file doesn't exist)
		if err := godotenv.Load(path); err == nil {
			c.envLoaded = true
		} else if !errors.Is(err, fs.ErrNotExist) {
			c.configErr = err
			return
		}

		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.configErr = err
			return
		}
		if c.envLoaded {
			logger.Debug("config: loaded .env file", zap.String("path", path))
		} else {
			logger.Debug("config: no .env file found, using environment variables")
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// app holds the wired pipeline for one command invocation.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       *repository.Store
	provider    transcripts.Provider // nil when ELEVENLABS_API_KEY is unset
	coordinator *ingest.Coordinator
}

func (c *commandContext) newApp(ctx context.Context) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.logger

	store, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	provider, err := transcripts.New(cfg, logger)
	if err != nil {
		if !errors.Is(err, transcripts.ErrNotConfigured) {
			_ = store.Close(context.Background())
			return nil, err
		}
		logger.Warn("transcripts: ELEVENLABS_API_KEY not set; polling and on-demand ingest are disabled")
		provider = nil
	}

	analyzer := ai.NewFromConfig(cfg, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		provider:    provider,
		coordinator: ingest.NewCoordinator(store, analyzer, logger),
	}, nil
}

func (a *app) requireProvider() (transcripts.Provider, error) {
	if a.provider == nil {
		return nil, transcripts.ErrNotConfigured
	}
	return a.provider, nil
}

func (a *app) Close() {
	if err := a.store.Close(context.Background()); err != nil {
		a.logger.Warn("repository: close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
