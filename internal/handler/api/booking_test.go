//go:build unit

package api_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"booking-core/internal/domain/reservation"
	"booking-core/internal/handler/api"
	"booking-core/internal/handler/middleware"
	"booking-core/internal/usecase/commands"
	"booking-core/internal/usecase/queries"
	commandsmock "booking-core/tests/mock/commands"
	queriesmock "booking-core/tests/mock/queries"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type BookingHandlerTestSuite struct {
	suite.Suite
	router       *gin.Engine
	mockCtrl     *gomock.Controller
	mockCommands *commandsmock.MockBookingCommands
	mockQueries  *queriesmock.MockReservationQueries
	handler      *api.BookingHandler
}

func (s *BookingHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.router = gin.New()

	s.mockCtrl = gomock.NewController(s.T())
	s.mockCommands = commandsmock.NewMockBookingCommands(s.mockCtrl)
	s.mockQueries = queriesmock.NewMockReservationQueries(s.mockCtrl)
	s.handler = api.NewBookingHandler(s.mockCommands, s.mockQueries)

	group := s.router.Group("/reservations")
	group.Use(middleware.RequireTenant())
	group.POST("", s.handler.AttemptBooking)
	group.GET("/:id", s.handler.GetReservation)
	group.DELETE("/:id", s.handler.CancelReservation)
}

func (s *BookingHandlerTestSuite) TearDownTest() {
	s.mockCtrl.Finish()
}

func TestBookingHandlerSuite(t *testing.T) {
	suite.Run(t, new(BookingHandlerTestSuite))
}

func (s *BookingHandlerTestSuite) perform(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func tenantHeaders() map[string]string {
	return map[string]string{
		middleware.HeaderTenantID:   "acme",
		middleware.HeaderCustomerID: "cust-1",
	}
}

const bookingBody = `{"slots":[{"resource_id":"room-a","start":"2026-03-01T10:00:00Z","end":"2026-03-01T11:00:00Z"}]}`

func (s *BookingHandlerTestSuite) TestAttemptBooking() {
	s.Run("confirmed booking answers 201", func() {
		s.mockCommands.EXPECT().
			AttemptBooking(gomock.Any(), "acme", "cust-1", gomock.Any()).
			Return(&commands.BookingResult{Status: reservation.StatusConfirmed, ReservationID: "res-1"}, nil)

		rec := s.perform(http.MethodPost, "/reservations", bookingBody, tenantHeaders())
		s.Equal(http.StatusCreated, rec.Code)
		s.Contains(rec.Body.String(), `"reservation_id":"res-1"`)
		s.Contains(rec.Body.String(), `"status":"confirmed"`)
	})

	s.Run("replayed booking answers 200", func() {
		s.mockCommands.EXPECT().
			AttemptBooking(gomock.Any(), "acme", "cust-1", gomock.Any()).
			Return(&commands.BookingResult{Status: reservation.StatusConfirmed, ReservationID: "res-1", Replayed: true}, nil)

		rec := s.perform(http.MethodPost, "/reservations", bookingBody, tenantHeaders())
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"replayed":true`)
	})

	s.Run("lost arbitration answers 409", func() {
		s.mockCommands.EXPECT().
			AttemptBooking(gomock.Any(), "acme", "cust-1", gomock.Any()).
			Return(&commands.BookingResult{Status: reservation.StatusFailed, ReservationID: "res-2", Reason: "SlotUnavailable"}, nil)

		rec := s.perform(http.MethodPost, "/reservations", bookingBody, tenantHeaders())
		s.Equal(http.StatusConflict, rec.Code)
		s.Contains(rec.Body.String(), `"reason":"SlotUnavailable"`)
	})

	s.Run("transient store answers 503", func() {
		s.mockCommands.EXPECT().
			AttemptBooking(gomock.Any(), "acme", "cust-1", gomock.Any()).
			Return(nil, commands.ErrTransientStore)

		rec := s.perform(http.MethodPost, "/reservations", bookingBody, tenantHeaders())
		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})

	s.Run("validation failure answers 400", func() {
		s.mockCommands.EXPECT().
			AttemptBooking(gomock.Any(), "acme", "cust-1", gomock.Any()).
			Return(nil, commands.ErrValidation)

		rec := s.perform(http.MethodPost, "/reservations", bookingBody, tenantHeaders())
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("missing tenant header answers 400", func() {
		rec := s.perform(http.MethodPost, "/reservations", bookingBody, map[string]string{
			middleware.HeaderCustomerID: "cust-1",
		})
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(rec.Body.String(), middleware.HeaderTenantID)
	})

	s.Run("missing customer header answers 400", func() {
		rec := s.perform(http.MethodPost, "/reservations", bookingBody, map[string]string{
			middleware.HeaderTenantID: "acme",
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("malformed body answers 400", func() {
		rec := s.perform(http.MethodPost, "/reservations", `{"slots":[]}`, tenantHeaders())
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *BookingHandlerTestSuite) TestGetReservation() {
	s.Run("found", func() {
		view := &queries.ReservationView{
			ID:        "res-1",
			TenantID:  "acme",
			Status:    reservation.StatusConfirmed,
			Version:   2,
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		}
		s.mockQueries.EXPECT().
			GetByID(gomock.Any(), "acme", "res-1").
			Return(view, nil)

		rec := s.perform(http.MethodGet, "/reservations/res-1", "", tenantHeaders())
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"version":2`)
	})

	s.Run("not found", func() {
		s.mockQueries.EXPECT().
			GetByID(gomock.Any(), "acme", "nope").
			Return(nil, queries.ErrReservationNotFound)

		rec := s.perform(http.MethodGet, "/reservations/nope", "", tenantHeaders())
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *BookingHandlerTestSuite) TestCancelReservation() {
	s.Run("cancelled answers 204", func() {
		s.mockCommands.EXPECT().
			CancelReservation(gomock.Any(), "acme", "res-1").
			Return(nil)

		rec := s.perform(http.MethodDelete, "/reservations/res-1", "", tenantHeaders())
		s.Equal(http.StatusNoContent, rec.Code)
		s.Empty(strings.TrimSpace(rec.Body.String()))
	})

	s.Run("not found answers 404", func() {
		s.mockCommands.EXPECT().
			CancelReservation(gomock.Any(), "acme", "nope").
			Return(commands.ErrReservationNotFound)

		rec := s.perform(http.MethodDelete, "/reservations/nope", "", tenantHeaders())
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("concurrent change answers 409", func() {
		s.mockCommands.EXPECT().
			CancelReservation(gomock.Any(), "acme", "res-1").
			Return(commands.ErrTransientStore)

		rec := s.perform(http.MethodDelete, "/reservations/res-1", "", tenantHeaders())
		s.Equal(http.StatusConflict, rec.Code)
	})
}
