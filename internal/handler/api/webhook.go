package api

import (
	"errors"
	"net/http"

	reqdto "booking-core/internal/handler/dto/request"
	resdto "booking-core/internal/handler/dto/response"
	"booking-core/internal/handler/middleware"
	"booking-core/internal/usecase/commands"
	"booking-core/internal/usecase/queries"

	"github.com/gin-gonic/gin"
)

type WebhookHandler struct {
	webhookCommands commands.WebhookCommands
	webhookQueries  queries.WebhookQueries
}

func NewWebhookHandler(webhookCommands commands.WebhookCommands, webhookQueries queries.WebhookQueries) *WebhookHandler {
	return &WebhookHandler{
		webhookCommands: webhookCommands,
		webhookQueries:  webhookQueries,
	}
}

// Ingest accepts a provider delivery. Applied, Duplicate, and Rejected
// all answer 200 so the provider stops redelivering terminal outcomes;
// only transient failures answer 503, which is the provider's cue to
// redeliver.
func (h *WebhookHandler) Ingest(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req reqdto.IngestWebhookRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	result, err := h.webhookCommands.IngestWebhook(c.Request.Context(), tenantID, req.EventID, req.EventType, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, commands.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event"})
		case errors.Is(err, commands.ErrTransientStore):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Temporarily unable to process, redeliver"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, resdto.FromWebhookResult(result))
}

func (h *WebhookHandler) GetEvent(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	view, err := h.webhookQueries.GetByEventID(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, queries.ErrEventNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, view)
}
