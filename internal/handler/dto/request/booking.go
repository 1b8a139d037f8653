package request

import (
	"time"

	"booking-core/internal/usecase/commands"
)

type SlotRequest struct {
	ResourceID string    `json:"resource_id" binding:"required"`
	Start      time.Time `json:"start" binding:"required"`
	End        time.Time `json:"end" binding:"required"`
}

type AttemptBookingRequest struct {
	Slots []SlotRequest `json:"slots" binding:"required,min=1,dive"`
}

func (r AttemptBookingRequest) ToCommand() []commands.SlotRequest {
	out := make([]commands.SlotRequest, len(r.Slots))
	for i, s := range r.Slots {
		out[i] = commands.SlotRequest{ResourceID: s.ResourceID, Start: s.Start, End: s.End}
	}
	return out
}
