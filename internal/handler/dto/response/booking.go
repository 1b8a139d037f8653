package response

import (
	"time"

	"booking-core/internal/domain/slot"
	"booking-core/internal/usecase/commands"
	"booking-core/internal/usecase/queries"
)

type BookingResponse struct {
	Status        string `json:"status"`
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason,omitempty"`
	Replayed      bool   `json:"replayed,omitempty"`
}

func FromBookingResult(result *commands.BookingResult) *BookingResponse {
	return &BookingResponse{
		Status:        string(result.Status),
		ReservationID: result.ReservationID,
		Reason:        result.Reason,
		Replayed:      result.Replayed,
	}
}

type SlotRefResponse struct {
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type ReservationResponse struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	CustomerID   string            `json:"customer_id"`
	Status       string            `json:"status"`
	Slots        []SlotRefResponse `json:"slots"`
	Paid         bool              `json:"paid"`
	LastEventSeq int64             `json:"last_event_seq"`
	Version      int64             `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func FromReservationView(view *queries.ReservationView) *ReservationResponse {
	slots := make([]SlotRefResponse, len(view.Slots))
	for i, ref := range view.Slots {
		slots[i] = SlotRefResponse{ResourceID: ref.ResourceID, Start: ref.Start, End: ref.End}
	}
	return &ReservationResponse{
		ID:           view.ID,
		TenantID:     view.TenantID,
		CustomerID:   view.CustomerID,
		Status:       string(view.Status),
		Slots:        slots,
		Paid:         view.Paid,
		LastEventSeq: view.LastEventSeq,
		Version:      view.Version,
		CreatedAt:    view.CreatedAt,
		UpdatedAt:    view.UpdatedAt,
	}
}

type OpenSlotsResponse struct {
	Opened []SlotRefResponse `json:"opened"`
}

func FromOpenedSlots(refs []slot.Ref) *OpenSlotsResponse {
	opened := make([]SlotRefResponse, len(refs))
	for i, ref := range refs {
		opened[i] = SlotRefResponse{ResourceID: ref.ResourceID, Start: ref.Start, End: ref.End}
	}
	return &OpenSlotsResponse{Opened: opened}
}
