package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"convoingest/internal/logging"
	"convoingest/internal/model"
	"convoingest/internal/utils"
	"convoingest/internal/webhook"
)

// maxWebhookBody bounds the raw body read for signature verification.
const maxWebhookBody = 10 << 20

// handleElevenLabsWebhook handles POST /api/webhooks/elevenlabs
func (h *Handlers) handleElevenLabsWebhook(c *gin.Context) {
	requestID := c.GetString(logging.FieldRequestID)
	log := h.logger.With(zap.String(logging.FieldRequestID, requestID))

	// The signature covers the exact bytes received, so read before parsing.
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		log.Warn("api: webhook body too large", zap.Int64("limit", tooLarge.Limit))
		utils.Failure(c, http.StatusRequestEntityTooLarge, "Request body too large", "")
		return
	}
	if err != nil {
		log.Error("api: failed to read webhook body", zap.Error(err))
		h.internalError(c, "Failed to read request body", err)
		return
	}

	if err := h.verifier.Verify(c.GetHeader(webhook.SignatureHeader), body, h.now()); err != nil {
		reason := "invalid"
		if errors.Is(err, webhook.ErrExpired) {
			reason = "expired"
		}
		log.Warn("api: webhook signature rejected", zap.String("reason", reason))
		utils.Failure(c, http.StatusUnauthorized, "Invalid signature", "")
		return
	}

	var event model.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Error("api: invalid webhook payload", zap.Error(err))
		h.internalError(c, "Invalid webhook payload", err)
		return
	}

	if event.Type != model.EventPostCallTranscription {
		log.Info("api: ignoring webhook event", zap.String("type", event.Type))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	rec := event.Data.ToRecord()
	outcome, err := h.ingester.Ingest(c.Request.Context(), rec)
	if err != nil {
		log.Error("api: webhook ingestion failed",
			zap.String(logging.FieldConversationID, rec.ConversationID),
			zap.Error(err),
		)
		h.internalError(c, "Failed to process webhook", err)
		return
	}

	log.Info("api: webhook processed",
		zap.String(logging.FieldConversationID, rec.ConversationID),
		zap.Stringer("outcome", outcome),
	)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
