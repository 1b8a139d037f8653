// Package webhook models inbound payment-provider events. The provider
// delivers at least once; the record keyed by the provider's event id is
// what makes processing exactly-once.
package webhook

import (
	"encoding/json"
	"errors"
	"time"

	"booking-core/internal/domain/reservation"
)

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

type RejectReason string

const (
	ReasonInvalidPayload RejectReason = "invalid_payload"
	ReasonStaleEvent     RejectReason = "stale_event"
	ReasonUnknownEntity  RejectReason = "unknown_entity"
)

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrInvalidPayload   = errors.New("invalid event payload")
)

// Record is the persisted event record. Once the outcome reaches Applied
// or Rejected the record is immutable; redeliveries read it and return
// the cached outcome without re-running side effects.
type Record struct {
	EventID     string       `json:"event_id"`
	TenantID    string       `json:"tenant_id"`
	EventType   string       `json:"event_type"`
	Outcome     Outcome      `json:"outcome"`
	Reason      RejectReason `json:"reason,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
}

func NewRecord(eventID, tenantID, eventType string, now time.Time) Record {
	return Record{
		EventID:    eventID,
		TenantID:   tenantID,
		EventType:  eventType,
		Outcome:    OutcomePending,
		ReceivedAt: now,
	}
}

func (r Record) Terminal() bool {
	return r.Outcome == OutcomeApplied || r.Outcome == OutcomeRejected
}

func (r Record) Applied(now time.Time) Record {
	r.Outcome = OutcomeApplied
	r.ProcessedAt = &now
	return r
}

func (r Record) Rejected(reason RejectReason, now time.Time) Record {
	r.Outcome = OutcomeRejected
	r.Reason = reason
	r.ProcessedAt = &now
	return r
}

// PaymentPayload is the provider payload for payment.* events. Sequence
// is the provider's per-reservation event counter; an event whose
// sequence does not advance the reservation's LastEventSeq is stale.
type PaymentPayload struct {
	ReservationID string `json:"reservation_id"`
	Sequence      int64  `json:"sequence"`
	AmountCents   int64  `json:"amount_cents,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

// ParsePaymentPayload validates the event type and payload shape.
// Failures here are terminal: redelivering a malformed event can never
// make it well-formed.
func ParsePaymentPayload(eventType string, payload []byte) (PaymentPayload, error) {
	switch eventType {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentRefunded:
	default:
		return PaymentPayload{}, ErrUnknownEventType
	}

	var p PaymentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return PaymentPayload{}, ErrInvalidPayload
	}
	if p.ReservationID == "" || p.Sequence <= 0 {
		return PaymentPayload{}, ErrInvalidPayload
	}
	return p, nil
}

// TargetStatus maps the event type to the reservation status it applies.
func TargetStatus(eventType string) (status reservation.Status, paid bool) {
	switch eventType {
	case EventPaymentSucceeded:
		return reservation.StatusConfirmed, true
	case EventPaymentFailed:
		return reservation.StatusFailed, false
	case EventPaymentRefunded:
		return reservation.StatusFailed, false
	default:
		return "", false
	}
}

// StateKey is the store key name for an event record.
func StateKey(eventID string) string {
	return "webhook:" + eventID
}
