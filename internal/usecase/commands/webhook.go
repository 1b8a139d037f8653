package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"booking-core/internal/delta"
	"booking-core/internal/domain/reservation"
	"booking-core/internal/domain/slot"
	"booking-core/internal/domain/webhook"
	"booking-core/internal/pkg/clock"
	"booking-core/internal/pkg/errs"
	"booking-core/internal/statestore"
)

type WebhookResult struct {
	Outcome  webhook.Outcome
	Reason   webhook.RejectReason
	Replayed bool
}

type WebhookCommands interface {
	// IngestWebhook applies the provider event exactly once. Redelivered
	// events return the cached terminal outcome; a delivery racing an
	// in-flight one returns Duplicate and lets the owner decide. Only
	// transient store failures return an error — the provider should
	// redeliver those and nothing else.
	IngestWebhook(ctx context.Context, tenantID, eventID, eventType string, payload []byte) (*WebhookResult, error)
}

type webhookUseCaseImpl struct {
	store     statestore.Store
	publisher *delta.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

func NewWebhookUseCase(
	store statestore.Store,
	publisher *delta.Publisher,
	clk clock.Clock,
	logger *slog.Logger,
) WebhookCommands {
	return &webhookUseCaseImpl{
		store:     store,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

func (u *webhookUseCaseImpl) IngestWebhook(
	ctx context.Context,
	tenantID, eventID, eventType string,
	payload []byte,
) (*WebhookResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if eventID == "" {
		return nil, ErrValidation
	}

	now := u.clock.Now()
	key := webhookKey(tenantID, eventID)
	record := webhook.NewRecord(eventID, tenantID, eventType, now)

	rec := delta.NewRecorder(tenantID, "webhook")

	// Insert-if-absent decides ownership: exactly one delivery of a
	// given eventId creates the Pending record and owns the outcome.
	insertDelta, err := u.putRecord(ctx, key, statestore.VersionAbsent, record)
	if err != nil {
		if statestore.IsKind(err, statestore.KindVersionConflict) {
			return u.resolveExisting(ctx, key)
		}
		return nil, errs.Mark(err, ErrTransientStore)
	}
	rec.Record(insertDelta)

	result, err := u.applyOwned(ctx, tenantID, key, record, insertDelta.Version, eventType, payload, rec)
	if err != nil {
		// Transient: reset the record so the provider's redelivery can
		// retry from scratch; we never self-retry past our boundary.
		u.resetRecord(ctx, tenantID, key)
		return nil, err
	}

	u.publishBatch(rec)
	return result, nil
}

// resolveExisting answers a delivery that lost the insert race or
// arrived after the outcome was settled.
func (u *webhookUseCaseImpl) resolveExisting(ctx context.Context, key statestore.Key) (*WebhookResult, error) {
	entry, err := u.store.Get(ctx, key)
	if statestore.IsKind(err, statestore.KindNotFound) {
		// Owner reset between our insert attempt and this read; the
		// provider will redeliver.
		return nil, ErrTransientStore
	}
	if err != nil {
		return nil, errs.Mark(err, ErrTransientStore)
	}

	var existing webhook.Record
	if err := json.Unmarshal(entry.Value, &existing); err != nil {
		return nil, errs.Mark(err, ErrTransientStore)
	}

	if existing.Terminal() {
		return &WebhookResult{
			Outcome:  existing.Outcome,
			Reason:   existing.Reason,
			Replayed: true,
		}, nil
	}
	// Still Pending: a concurrent delivery is in flight and owns the
	// outcome.
	return &WebhookResult{Outcome: webhook.OutcomeDuplicate, Reason: "in_progress"}, nil
}

// applyOwned runs the owning delivery: validate, stale-check, apply via
// compare-and-set, then seal the record.
func (u *webhookUseCaseImpl) applyOwned(
	ctx context.Context,
	tenantID string,
	key statestore.Key,
	record webhook.Record,
	recordVersion int64,
	eventType string,
	payload []byte,
	rec *delta.Recorder,
) (*WebhookResult, error) {
	p, err := webhook.ParsePaymentPayload(eventType, payload)
	if err != nil {
		return u.reject(ctx, key, record, recordVersion, webhook.ReasonInvalidPayload, rec)
	}

	res, resVersion, err := u.loadReservation(ctx, tenantID, p.ReservationID)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return u.reject(ctx, key, record, recordVersion, webhook.ReasonUnknownEntity, rec)
		}
		return nil, err
	}

	if p.Sequence <= res.LastEventSeq {
		return u.reject(ctx, key, record, recordVersion, webhook.ReasonStaleEvent, rec)
	}

	target, paid := webhook.TargetStatus(eventType)
	now := u.clock.Now()
	applied, err := res.ApplyPaymentEvent(target, paid, p.Sequence, now)
	if err != nil {
		// The reservation can no longer accept this transition; the
		// event is effectively stale relative to the entity's state.
		return u.reject(ctx, key, record, recordVersion, webhook.ReasonStaleEvent, rec)
	}

	resDelta, err := u.casJSON(ctx, reservationKey(tenantID, res.ID), resVersion, applied)
	if err != nil {
		if statestore.IsKind(err, statestore.KindVersionConflict) {
			// Lost to a concurrent write on the entity; redelivery will
			// re-evaluate against the fresh state.
			return nil, errs.Mark(err, ErrTransientStore)
		}
		return nil, errs.Mark(err, ErrTransientStore)
	}
	rec.Record(resDelta)

	// A payment failure or refund frees the booked slots. The
	// reservation transition above is the linearization point; slot
	// release is invariant restoration and cannot be contended by other
	// bookings while the slots still name this reservation.
	if target == reservation.StatusFailed {
		u.releaseSlots(ctx, tenantID, applied, rec)
	}

	sealDelta, err := u.putRecord(ctx, key, recordVersion, record.Applied(now))
	if err != nil {
		return nil, errs.Mark(err, ErrTransientStore)
	}
	rec.Record(sealDelta)

	return &WebhookResult{Outcome: webhook.OutcomeApplied}, nil
}

// reject seals the record with a terminal rejection. Rejections are
// final: redelivery returns the cached outcome and never re-runs.
func (u *webhookUseCaseImpl) reject(
	ctx context.Context,
	key statestore.Key,
	record webhook.Record,
	recordVersion int64,
	reason webhook.RejectReason,
	rec *delta.Recorder,
) (*WebhookResult, error) {
	now := u.clock.Now()
	d, err := u.putRecord(ctx, key, recordVersion, record.Rejected(reason, now))
	if err != nil {
		return nil, errs.Mark(err, ErrTransientStore)
	}
	rec.Record(d)
	return &WebhookResult{Outcome: webhook.OutcomeRejected, Reason: reason}, nil
}

func (u *webhookUseCaseImpl) releaseSlots(ctx context.Context, tenantID string, res reservation.Record, rec *delta.Recorder) {
	for _, ref := range res.Slots {
		key := slotKey(tenantID, ref)
		entry, err := u.store.Get(ctx, key)
		if err != nil {
			u.logger.Warn("failed to read slot during webhook release",
				"tenant_id", tenantID, "slot", ref.StateKey(), "error", err)
			continue
		}
		var current slot.Record
		if err := json.Unmarshal(entry.Value, &current); err != nil {
			continue
		}
		if current.ReservationID != res.ID {
			continue
		}
		d, err := u.casJSON(ctx, key, entry.Version, current.Released())
		if err != nil {
			u.logger.Warn("failed to release slot during webhook apply",
				"tenant_id", tenantID, "slot", ref.StateKey(), "error", err)
			continue
		}
		rec.Record(d)
	}
}

func (u *webhookUseCaseImpl) resetRecord(ctx context.Context, tenantID string, key statestore.Key) {
	entry, err := u.store.Get(ctx, key)
	if err != nil {
		u.logger.Warn("failed to read webhook record for reset",
			"tenant_id", tenantID, "key", key.Name, "error", err)
		return
	}
	if _, err := u.store.Delete(ctx, key, entry.Version); err != nil {
		u.logger.Warn("failed to reset webhook record",
			"tenant_id", tenantID, "key", key.Name, "error", err)
	}
}

func (u *webhookUseCaseImpl) loadReservation(ctx context.Context, tenantID, reservationID string) (reservation.Record, int64, error) {
	entry, err := u.store.Get(ctx, reservationKey(tenantID, reservationID))
	if statestore.IsKind(err, statestore.KindNotFound) {
		return reservation.Record{}, 0, ErrReservationNotFound
	}
	if err != nil {
		return reservation.Record{}, 0, errs.Mark(err, ErrTransientStore)
	}

	var res reservation.Record
	if err := json.Unmarshal(entry.Value, &res); err != nil {
		return reservation.Record{}, 0, errs.Mark(err, ErrTransientStore)
	}
	return res, entry.Version, nil
}

func (u *webhookUseCaseImpl) putRecord(ctx context.Context, key statestore.Key, expected int64, record webhook.Record) (statestore.Delta, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return statestore.Delta{}, err
	}
	return u.store.CompareAndSet(ctx, key, expected, raw)
}

func (u *webhookUseCaseImpl) casJSON(ctx context.Context, key statestore.Key, expected int64, value any) (statestore.Delta, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return statestore.Delta{}, err
	}
	return u.store.CompareAndSet(ctx, key, expected, raw)
}

func (u *webhookUseCaseImpl) publishBatch(rec *delta.Recorder) {
	if rec.Len() == 0 {
		return
	}
	u.publisher.Publish(rec.Batch(u.clock.Now()))
}

func webhookKey(tenantID, eventID string) statestore.Key {
	return statestore.Key{TenantID: tenantID, Scope: statestore.ScopeApp, Name: webhook.StateKey(eventID)}
}
