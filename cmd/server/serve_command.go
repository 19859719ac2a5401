package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"convoingest/internal/api"
	"convoingest/internal/logging"
	"convoingest/internal/poller"
	"convoingest/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver, read API and polling sync loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := ctx.newApp(runCtx)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(runCtx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	// Set Gin mode (default to release mode)
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	verifier := newWebhookVerifier(cfg.WebhookSecret, cfg.WebhookSignatureRequired, logger)

	r := gin.New()
	r.Use(logging.GinRecovery(logger))
	r.Use(logging.GinLogger(logger))
	r.Use(corsMiddleware(cfg.CORSAllowOrigin))

	api.RegisterRoutes(r, api.NewHandlers(api.Dependencies{
		Ingester:           a.coordinator,
		Repo:               a.store,
		Verifier:           verifier,
		Logger:             logger,
		ExposeErrorDetails: !cfg.IsProduction(),
	}))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server: listening", zap.String("addr", srv.Addr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server: shutdown")
		}
		return nil
	})

	switch {
	case !cfg.SyncEnabled:
		logger.Info("poller: disabled by SYNC_ENABLED")
	case a.provider == nil:
		logger.Warn("poller: disabled, no transcript provider configured")
	default:
		syncer := poller.New(a.provider, a.coordinator, poller.Options{
			Interval: cfg.SyncInterval,
			AgentID:  cfg.ElevenLabsAgentID,
		}, logger)
		g.Go(func() error {
			if err := syncer.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			syncer.Stop()
			return nil
		})
	}

	return g.Wait()
}

// corsMiddleware adds CORS headers for browser clients of the read API
func corsMiddleware(allowOrigin string) gin.HandlerFunc {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID, "+webhook.SignatureHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if allowOrigin != "*" {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func newWebhookVerifier(secret string, required bool, logger *zap.Logger) *webhook.Verifier {
	verifier := webhook.NewVerifier(secret, required)
	switch {
	case !verifier.Enabled():
		logger.Warn("webhook: signature verification disabled")
	case secret == "":
		logger.Warn("webhook: ELEVENLABS_WEBHOOK_SECRET not set; every webhook will be rejected")
	}
	return verifier
}
