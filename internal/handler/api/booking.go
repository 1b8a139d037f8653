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

type BookingHandler struct {
	bookingCommands    commands.BookingCommands
	reservationQueries queries.ReservationQueries
}

func NewBookingHandler(bookingCommands commands.BookingCommands, reservationQueries queries.ReservationQueries) *BookingHandler {
	return &BookingHandler{
		bookingCommands:    bookingCommands,
		reservationQueries: reservationQueries,
	}
}

// AttemptBooking arbitrates the requested slots. The caller always gets
// a definitive answer: 201 Confirmed, 200 replayed Confirmed, or 409
// with reason SlotUnavailable. Only transient store trouble is 503.
func (h *BookingHandler) AttemptBooking(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	customerID := c.GetHeader(middleware.HeaderCustomerID)
	if customerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing " + middleware.HeaderCustomerID + " header"})
		return
	}

	var req reqdto.AttemptBookingRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	result, err := h.bookingCommands.AttemptBooking(c.Request.Context(), tenantID, customerID, req.ToCommand())
	if err != nil {
		switch {
		case errors.Is(err, commands.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid slot request"})
		case errors.Is(err, commands.ErrTransientStore):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "State store temporarily unavailable, retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	response := resdto.FromBookingResult(result)
	switch {
	case result.Replayed:
		c.JSON(http.StatusOK, response)
	case result.Reason != "":
		c.JSON(http.StatusConflict, response)
	default:
		c.JSON(http.StatusCreated, response)
	}
}

func (h *BookingHandler) GetReservation(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	view, err := h.reservationQueries.GetByID(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, queries.ErrReservationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Reservation not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, resdto.FromReservationView(view))
}

func (h *BookingHandler) CancelReservation(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	err := h.bookingCommands.CancelReservation(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, commands.ErrReservationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Reservation not found"})
		case errors.Is(err, commands.ErrTransientStore):
			c.JSON(http.StatusConflict, gin.H{"error": "Reservation changed concurrently, retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
