package api

import (
	"errors"
	"net/http"

	reqdto "booking-core/internal/handler/dto/request"
	resdto "booking-core/internal/handler/dto/response"
	"booking-core/internal/handler/middleware"
	"booking-core/internal/usecase/commands"

	"github.com/gin-gonic/gin"
)

type SlotHandler struct {
	slotCommands commands.SlotCommands
}

func NewSlotHandler(slotCommands commands.SlotCommands) *SlotHandler {
	return &SlotHandler{slotCommands: slotCommands}
}

func (h *SlotHandler) OpenSlots(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	resourceID := c.Param("id")
	if resourceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing resource id"})
		return
	}

	var req reqdto.OpenSlotsRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	refs, err := h.slotCommands.OpenSlots(c.Request.Context(), tenantID, resourceID, req.ToIntervals())
	if err != nil {
		switch {
		case errors.Is(err, commands.ErrSlotOverlap):
			c.JSON(http.StatusConflict, gin.H{"error": "Interval overlaps an existing slot"})
		case errors.Is(err, commands.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval"})
		case errors.Is(err, commands.ErrTransientStore):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "State store temporarily unavailable, retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusCreated, resdto.FromOpenedSlots(refs))
}
