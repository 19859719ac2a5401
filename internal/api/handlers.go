package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"convoingest/internal/ingest"
	"convoingest/internal/logging"
	"convoingest/internal/repository"
	"convoingest/internal/utils"
	"convoingest/internal/webhook"
)

// Dependencies wires the handlers to the pipeline.
type Dependencies struct {
	Ingester ingest.Ingester
	Repo     repository.ConversationRepository
	Verifier *webhook.Verifier
	Logger   *zap.Logger

	// ExposeErrorDetails adds a "details" field to 500 responses. Off in
	// production.
	ExposeErrorDetails bool
}

// Handlers serves the webhook receiver and the read API.
type Handlers struct {
	ingester     ingest.Ingester
	repo         repository.ConversationRepository
	verifier     *webhook.Verifier
	logger       *zap.Logger
	exposeErrors bool
	now          func() time.Time
}

// NewHandlers creates the HTTP handlers
func NewHandlers(deps Dependencies) *Handlers {
	verifier := deps.Verifier
	if verifier == nil {
		verifier = webhook.NewVerifier("", true)
	}
	return &Handlers{
		ingester:     deps.Ingester,
		repo:         deps.Repo,
		verifier:     verifier,
		logger:       logging.Component(deps.Logger, "api"),
		exposeErrors: deps.ExposeErrorDetails,
		now:          time.Now,
	}
}

// RegisterRoutes mounts every route on r.
func RegisterRoutes(r *gin.Engine, h *Handlers) {
	// Health check
	r.GET("/health", h.healthCheck)

	// Provider push events
	r.POST("/api/webhooks/elevenlabs", h.handleElevenLabsWebhook)

	// API v1 (read-only)
	v1 := r.Group("/api/v1")
	{
		v1.GET("/conversations", h.listConversations)
		v1.GET("/conversations/:conversation_id", h.getConversation)
	}
}

// healthCheck returns server health status
func (h *Handlers) healthCheck(c *gin.Context) {
	utils.Success(c, gin.H{
		"status":  "ok",
		"service": "convoingest",
	})
}

// internalError answers 500 with the webhook error shape. Details are only
// included outside production.
func (h *Handlers) internalError(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	details := ""
	if h.exposeErrors {
		details = err.Error()
	}
	utils.Failure(c, http.StatusInternalServerError, msg, details)
}
