package api

import (
	"errors"
	"net/http"

	reqdto "booking-core/internal/handler/dto/request"
	resdto "booking-core/internal/handler/dto/response"
	"booking-core/internal/handler/middleware"
	"booking-core/internal/statestore"
	"booking-core/internal/toolstate"

	"github.com/gin-gonic/gin"
)

// StateHandler exposes the tool-layer read/write contract over HTTP so
// agent-style callers hit versioned state instead of a side channel.
type StateHandler struct {
	service *toolstate.Service
}

func NewStateHandler(service *toolstate.Service) *StateHandler {
	return &StateHandler{service: service}
}

func (h *StateHandler) ReadState(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	scope, err := statestore.ParseScope(c.Param("scope"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scope"})
		return
	}

	sessionID := c.GetHeader(middleware.HeaderSessionID)
	value, found, err := h.service.ReadState(c.Request.Context(), tenantID, sessionID, scope, c.Param("key"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "State entry not found"})
		return
	}

	c.JSON(http.StatusOK, resdto.StateResponse{Value: value})
}

func (h *StateHandler) WriteState(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	scope, err := statestore.ParseScope(c.Param("scope"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scope"})
		return
	}

	var req reqdto.WriteStateRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	sessionID := c.GetHeader(middleware.HeaderSessionID)
	if err := h.service.WriteState(c.Request.Context(), tenantID, sessionID, scope, c.Param("key"), req.Value); err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StateHandler) mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, toolstate.ErrTempScopeNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "Temp scope is not accessible"})
	case statestore.IsKind(err, statestore.KindInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state key"})
	case statestore.IsKind(err, statestore.KindUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "State store temporarily unavailable, retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
