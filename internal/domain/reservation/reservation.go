// Package reservation holds the reservation aggregate persisted in the
// tenant state store. Only the reservation arbiter mutates booking state;
// the webhook processor applies payment outcomes through the same
// compare-and-set path.
package reservation

import (
	"errors"
	"time"

	"booking-core/internal/domain/slot"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

var (
	ErrInvalidTransition = errors.New("invalid reservation status transition")
	ErrDeleted           = errors.New("reservation is deleted")
)

// Record is the persisted reservation aggregate. The store entry's
// version is the optimistic-concurrency token; LastEventSeq orders
// payment events so a stale one can never regress state.
type Record struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	CustomerID   string     `json:"customer_id"`
	Status       Status     `json:"status"`
	Slots        []slot.Ref `json:"slots"`
	Paid         bool       `json:"paid"`
	LastEventSeq int64      `json:"last_event_seq"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

func New(id, tenantID, customerID string, slots []slot.Ref, now time.Time) Record {
	return Record{
		ID:         id,
		TenantID:   tenantID,
		CustomerID: customerID,
		Status:     StatusPending,
		Slots:      slots,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r Record) IsDeleted() bool {
	return r.DeletedAt != nil
}

// WithStatus validates and applies a status transition.
func (r Record) WithStatus(next Status, now time.Time) (Record, error) {
	if r.IsDeleted() {
		return r, ErrDeleted
	}
	if !canTransition(r.Status, next) {
		return r, ErrInvalidTransition
	}
	r.Status = next
	r.UpdatedAt = now
	return r, nil
}

// ApplyPaymentEvent advances the aggregate with a payment event at the
// given sequence. The caller has already checked seq for staleness.
func (r Record) ApplyPaymentEvent(next Status, paid bool, seq int64, now time.Time) (Record, error) {
	out, err := r.WithStatus(next, now)
	if err != nil {
		return r, err
	}
	out.Paid = paid
	out.LastEventSeq = seq
	return out, nil
}

// SoftDelete marks the record destroyed without losing its audit trail.
func (r Record) SoftDelete(now time.Time) Record {
	r.DeletedAt = &now
	r.UpdatedAt = now
	return r
}

func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusFailed || to == StatusExpired
	case StatusConfirmed:
		// A payment failure after arbitration still fails the reservation.
		return to == StatusFailed || to == StatusExpired
	default:
		return false
	}
}

// StateKey is the store key name for a reservation record.
func StateKey(id string) string {
	return "reservation:" + id
}

// FingerprintKey is the store key name mapping a request fingerprint to
// the reservation it produced.
func FingerprintKey(fingerprint string) string {
	return "bookingfp:" + fingerprint
}
