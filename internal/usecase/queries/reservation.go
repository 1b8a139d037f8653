package queries

import (
	"context"
	"encoding/json"
	"time"

	"booking-core/internal/domain/reservation"
	"booking-core/internal/domain/slot"
	"booking-core/internal/domain/webhook"
	"booking-core/internal/pkg/errs"
	"booking-core/internal/statestore"
)

var (
	ErrReservationNotFound = errs.New("reservation not found")
	ErrEventNotFound       = errs.New("webhook event not found")
	ErrReadFailed          = errs.New("read failed")
)

type ReservationView struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenant_id"`
	CustomerID   string             `json:"customer_id"`
	Status       reservation.Status `json:"status"`
	Slots        []slot.Ref         `json:"slots"`
	Paid         bool               `json:"paid"`
	LastEventSeq int64              `json:"last_event_seq"`
	Version      int64              `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	DeletedAt    *time.Time         `json:"deleted_at,omitempty"`
}

type WebhookEventView struct {
	EventID     string               `json:"event_id"`
	TenantID    string               `json:"tenant_id"`
	EventType   string               `json:"event_type"`
	Outcome     webhook.Outcome      `json:"outcome"`
	Reason      webhook.RejectReason `json:"reason,omitempty"`
	ReceivedAt  time.Time            `json:"received_at"`
	ProcessedAt *time.Time           `json:"processed_at,omitempty"`
}

type ReservationQueries interface {
	GetByID(ctx context.Context, tenantID, reservationID string) (*ReservationView, error)
}

type WebhookQueries interface {
	GetByEventID(ctx context.Context, tenantID, eventID string) (*WebhookEventView, error)
}

type storeQueriesImpl struct {
	store statestore.Store
}

func NewReservationQueries(store statestore.Store) ReservationQueries {
	return &storeQueriesImpl{store: store}
}

func NewWebhookQueries(store statestore.Store) WebhookQueries {
	return &storeQueriesImpl{store: store}
}

func (q *storeQueriesImpl) GetByID(ctx context.Context, tenantID, reservationID string) (*ReservationView, error) {
	entry, err := q.store.Get(ctx, statestore.Key{
		TenantID: tenantID,
		Scope:    statestore.ScopeApp,
		Name:     reservation.StateKey(reservationID),
	})
	if statestore.IsKind(err, statestore.KindNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, errs.Mark(err, ErrReadFailed)
	}

	var res reservation.Record
	if err := json.Unmarshal(entry.Value, &res); err != nil {
		return nil, errs.Mark(err, ErrReadFailed)
	}

	return &ReservationView{
		ID:           res.ID,
		TenantID:     res.TenantID,
		CustomerID:   res.CustomerID,
		Status:       res.Status,
		Slots:        res.Slots,
		Paid:         res.Paid,
		LastEventSeq: res.LastEventSeq,
		Version:      entry.Version,
		CreatedAt:    res.CreatedAt,
		UpdatedAt:    res.UpdatedAt,
		DeletedAt:    res.DeletedAt,
	}, nil
}

func (q *storeQueriesImpl) GetByEventID(ctx context.Context, tenantID, eventID string) (*WebhookEventView, error) {
	entry, err := q.store.Get(ctx, statestore.Key{
		TenantID: tenantID,
		Scope:    statestore.ScopeApp,
		Name:     webhook.StateKey(eventID),
	})
	if statestore.IsKind(err, statestore.KindNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, errs.Mark(err, ErrReadFailed)
	}

	var record webhook.Record
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		return nil, errs.Mark(err, ErrReadFailed)
	}

	return &WebhookEventView{
		EventID:     record.EventID,
		TenantID:    record.TenantID,
		EventType:   record.EventType,
		Outcome:     record.Outcome,
		Reason:      record.Reason,
		ReceivedAt:  record.ReceivedAt,
		ProcessedAt: record.ProcessedAt,
	}, nil
}
