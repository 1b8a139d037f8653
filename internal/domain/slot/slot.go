// Package slot models time-bounded units of a bookable resource. A slot
// is identified by (tenant, resource, start, end); its record lives in
// the tenant state store and every status transition goes through the
// reservation arbiter via compare-and-set.
package slot

import (
	"errors"
	"sort"
	"time"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusHeld      Status = "held"
	StatusBooked    Status = "booked"
	StatusCancelled Status = "cancelled"
)

var (
	ErrInvalidInterval = errors.New("interval start must be before end")
	ErrOverlap         = errors.New("interval overlaps an existing slot")
)

type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewInterval(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start.UTC(), End: end.UTC()}, nil
}

// Overlaps uses half-open [Start, End) semantics: back-to-back slots do
// not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Ref names one slot of one resource within a tenant.
type Ref struct {
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

func (r Ref) Interval() Interval {
	return Interval{Start: r.Start, End: r.End}
}

// StateKey is the store key name for this slot's record.
func (r Ref) StateKey() string {
	return "slot:" + r.ResourceID + ":" + r.Start.UTC().Format(time.RFC3339) +
		"/" + r.End.UTC().Format(time.RFC3339)
}

// SortRefs orders refs by (resource, start, end). All arbitration
// acquires slot intent in this order, so two requests spanning the same
// resources can never deadlock each other.
func SortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.End.Before(b.End)
	})
}

// Record is the persisted state of one slot.
type Record struct {
	Status        Status     `json:"status"`
	ReservationID string     `json:"reservation_id,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

// HoldExpired reports whether a Held slot's hold deadline has passed.
func (rec Record) HoldExpired(now time.Time) bool {
	return rec.Status == StatusHeld && rec.HoldExpiresAt != nil && now.After(*rec.HoldExpiresAt)
}

// Holdable reports whether the arbiter may transition this slot to Held:
// it is Open, or it is Held past its deadline (the sweep has not caught
// up yet and the new request takes it over).
func (rec Record) Holdable(now time.Time) bool {
	return rec.Status == StatusOpen || rec.HoldExpired(now)
}

// Held returns the record after an Open→Held transition.
func (rec Record) Held(reservationID string, deadline time.Time) Record {
	return Record{
		Status:        StatusHeld,
		ReservationID: reservationID,
		HoldExpiresAt: &deadline,
	}
}

// Booked returns the record after a Held→Booked transition.
func (rec Record) Booked() Record {
	return Record{Status: StatusBooked, ReservationID: rec.ReservationID}
}

// Released returns the record back to Open.
func (rec Record) Released() Record {
	return Record{Status: StatusOpen}
}

// Index is the per-resource catalog of defined slot intervals. It exists
// so newly opened slots can be checked for pairwise non-overlap; the
// index entry's version is the concurrency token for catalog changes.
type Index struct {
	Intervals []Interval `json:"intervals"`
}

// Add appends the interval after checking it against every existing one.
func (ix Index) Add(iv Interval) (Index, error) {
	for _, existing := range ix.Intervals {
		if existing.Overlaps(iv) {
			return ix, ErrOverlap
		}
	}
	out := Index{Intervals: make([]Interval, len(ix.Intervals), len(ix.Intervals)+1)}
	copy(out.Intervals, ix.Intervals)
	out.Intervals = append(out.Intervals, iv)
	return out, nil
}

// IndexKey is the store key name for a resource's slot catalog index.
func IndexKey(resourceID string) string {
	return "slotindex:" + resourceID
}
