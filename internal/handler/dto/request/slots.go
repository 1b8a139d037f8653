package request

import (
	"encoding/json"
	"time"

	"booking-core/internal/domain/slot"
)

type SlotInterval struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

type OpenSlotsRequest struct {
	Intervals []SlotInterval `json:"intervals" binding:"required,min=1,dive"`
}

func (r OpenSlotsRequest) ToIntervals() []slot.Interval {
	out := make([]slot.Interval, len(r.Intervals))
	for i, iv := range r.Intervals {
		out[i] = slot.Interval{Start: iv.Start, End: iv.End}
	}
	return out
}

type WriteStateRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}
