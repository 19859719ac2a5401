package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"convoingest/internal/logging"
	"convoingest/internal/repository"
	"convoingest/internal/utils"
)

// listConversations handles GET /api/v1/conversations
func (h *Handlers) listConversations(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(repository.DefaultListLimit)))
	if err != nil || limit < 1 {
		limit = repository.DefaultListLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	opts := repository.ListOptions{
		AgentID: c.Query("agent_id"),
		Limit:   limit,
		Offset:  offset,
	}.Normalized()

	records, err := h.repo.List(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error("api: failed to list conversations", zap.Error(err))
		utils.Error(c, http.StatusInternalServerError, "failed to retrieve conversations")
		return
	}

	utils.Success(c, gin.H{
		"conversations": records,
		"count":         len(records),
		"limit":         opts.Limit,
		"offset":        opts.Offset,
	})
}

// getConversation handles GET /api/v1/conversations/:conversation_id
func (h *Handlers) getConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	rec, err := h.repo.GetByConversationID(c.Request.Context(), conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		utils.Error(c, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("api: failed to get conversation",
			zap.String(logging.FieldConversationID, conversationID),
			zap.Error(err),
		)
		utils.Error(c, http.StatusInternalServerError, "failed to retrieve conversation")
		return
	}

	utils.Success(c, gin.H{"conversation": rec})
}
