package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"booking-core/internal/delta"
	"booking-core/internal/domain/reservation"
	"booking-core/internal/domain/slot"
	"booking-core/internal/pkg/clock"
	"booking-core/internal/pkg/errs"
	"booking-core/internal/statestore"

	"github.com/google/uuid"
)

type SlotRequest struct {
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type BookingResult struct {
	Status        reservation.Status
	ReservationID string
	Reason        string
	Replayed      bool
}

type BookingCommands interface {
	AttemptBooking(ctx context.Context, tenantID, customerID string, requests []SlotRequest) (*BookingResult, error)
	CancelReservation(ctx context.Context, tenantID, reservationID string) error
}

type bookingUseCaseImpl struct {
	store     statestore.Store
	publisher *delta.Publisher
	clock     clock.Clock
	holdTTL   time.Duration
	logger    *slog.Logger
}

func NewBookingUseCase(
	store statestore.Store,
	publisher *delta.Publisher,
	clk clock.Clock,
	holdTTL time.Duration,
	logger *slog.Logger,
) BookingCommands {
	return &bookingUseCaseImpl{
		store:     store,
		publisher: publisher,
		clock:     clk,
		holdTTL:   holdTTL,
		logger:    logger,
	}
}

// fingerprintRecord maps a request fingerprint to the reservation it
// produced. CreatedAt bounds how long replay detection lasts: the
// expiry sweep drops records older than the fingerprint TTL.
type fingerprintRecord struct {
	ReservationID string    `json:"reservation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// heldSlot remembers a slot we transitioned to Held and the version the
// transition produced, so the confirm and rollback paths can CAS from a
// known point.
type heldSlot struct {
	ref     slot.Ref
	version int64
}

func (u *bookingUseCaseImpl) AttemptBooking(
	ctx context.Context,
	tenantID, customerID string,
	requests []SlotRequest,
) (*BookingResult, error) {
	refs, err := validateSlotRequests(tenantID, customerID, requests)
	if err != nil {
		return nil, err
	}

	fingerprint := bookingFingerprint(tenantID, customerID, refs)

	op := u.store.BeginOperation(ctx, tenantID)
	defer func() {
		if endErr := u.store.EndOperation(ctx, tenantID, op); endErr != nil {
			u.logger.Warn("failed to purge operation temp state",
				"tenant_id", tenantID, "error", endErr)
		}
	}()

	if replayed, replayErr := u.replayIfConfirmed(ctx, tenantID, fingerprint); replayErr != nil {
		return nil, replayErr
	} else if replayed != nil {
		return replayed, nil
	}

	// Operation-lifetime marker; purged when the operation ends whether
	// it confirms or fails.
	inflight, _ := json.Marshal(map[string]string{"customer_id": customerID})
	if _, tempErr := u.store.SetTemp(ctx, statestore.Key{
		TenantID: tenantID,
		Scope:    statestore.ScopeTemp,
		Name:     "inflight:" + fingerprint,
	}, inflight, op); tempErr != nil {
		return nil, u.classifyStoreErr(tempErr)
	}

	rec := delta.NewRecorder(tenantID, "arbiter")
	now := u.clock.Now()

	res := reservation.New(uuid.NewString(), tenantID, customerID, refs, now)
	resKey := reservationKey(tenantID, res.ID)
	resDelta, err := u.casJSON(ctx, resKey, statestore.VersionAbsent, res)
	if err != nil {
		return nil, u.classifyStoreErr(err)
	}
	rec.Record(resDelta)
	resVersion := resDelta.Version

	held, err := u.holdSlots(ctx, tenantID, res.ID, refs, now, rec)
	if err != nil {
		u.rollback(ctx, tenantID, res, resVersion, held, rec)
		u.publishBatch(rec)
		if errors.Is(err, ErrTransientStore) {
			return nil, err
		}
		return &BookingResult{
			Status:        reservation.StatusFailed,
			ReservationID: res.ID,
			Reason:        "SlotUnavailable",
		}, nil
	}

	if err := u.confirm(ctx, tenantID, &res, resVersion, held, rec); err != nil {
		u.publishBatch(rec)
		if errors.Is(err, ErrTransientStore) {
			return nil, err
		}
		return &BookingResult{
			Status:        reservation.StatusFailed,
			ReservationID: res.ID,
			Reason:        "SlotUnavailable",
		}, nil
	}

	fpValue, _ := json.Marshal(fingerprintRecord{ReservationID: res.ID, CreatedAt: u.clock.Now()})
	fpDelta, err := u.store.Set(ctx, fingerprintKey(tenantID, fingerprint), fpValue)
	if err != nil {
		// The reservation is committed; losing the fingerprint only
		// costs replay detection on an identical resubmit.
		u.logger.Warn("failed to record booking fingerprint",
			"tenant_id", tenantID, "reservation_id", res.ID, "error", err)
	} else {
		rec.Record(fpDelta)
	}

	u.publishBatch(rec)
	return &BookingResult{
		Status:        reservation.StatusConfirmed,
		ReservationID: res.ID,
	}, nil
}

// replayIfConfirmed returns the prior result when an identical request
// already produced a confirmed reservation.
func (u *bookingUseCaseImpl) replayIfConfirmed(ctx context.Context, tenantID, fingerprint string) (*BookingResult, error) {
	entry, err := u.store.Get(ctx, fingerprintKey(tenantID, fingerprint))
	if statestore.IsKind(err, statestore.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, u.classifyStoreErr(err)
	}

	var fp fingerprintRecord
	if err := json.Unmarshal(entry.Value, &fp); err != nil {
		return nil, errs.Mark(err, ErrValidation)
	}

	res, _, err := u.loadReservation(ctx, tenantID, fp.ReservationID)
	if err != nil {
		return nil, err
	}
	if res.Status != reservation.StatusConfirmed || res.IsDeleted() {
		return nil, nil
	}
	return &BookingResult{
		Status:        reservation.StatusConfirmed,
		ReservationID: res.ID,
		Replayed:      true,
	}, nil
}

// holdSlots walks the refs in canonical order attempting Open→Held. The
// first conflict aborts; the caller rolls back whatever was held.
func (u *bookingUseCaseImpl) holdSlots(
	ctx context.Context,
	tenantID, reservationID string,
	refs []slot.Ref,
	now time.Time,
	rec *delta.Recorder,
) ([]heldSlot, error) {
	deadline := now.Add(u.holdTTL)
	var held []heldSlot

	for _, ref := range refs {
		key := slotKey(tenantID, ref)
		entry, err := u.store.Get(ctx, key)
		if statestore.IsKind(err, statestore.KindNotFound) {
			return held, ErrSlotUnknown
		}
		if err != nil {
			return held, u.classifyStoreErr(err)
		}

		var current slot.Record
		if err := json.Unmarshal(entry.Value, &current); err != nil {
			return held, errs.Mark(err, ErrValidation)
		}
		if !current.Holdable(now) {
			return held, ErrSlotUnavailable
		}

		d, err := u.casJSON(ctx, key, entry.Version, current.Held(reservationID, deadline))
		if err != nil {
			if statestore.IsKind(err, statestore.KindVersionConflict) {
				// Another request committed first; it wins.
				return held, ErrSlotUnavailable
			}
			return held, u.classifyStoreErr(err)
		}
		rec.Record(d)
		held = append(held, heldSlot{ref: ref, version: d.Version})
	}
	return held, nil
}

// confirm transitions the reservation to Confirmed and every held slot
// to Booked. Any failure reverts the whole set before returning.
func (u *bookingUseCaseImpl) confirm(
	ctx context.Context,
	tenantID string,
	res *reservation.Record,
	resVersion int64,
	held []heldSlot,
	rec *delta.Recorder,
) error {
	now := u.clock.Now()
	confirmed, err := res.WithStatus(reservation.StatusConfirmed, now)
	if err != nil {
		u.rollback(ctx, tenantID, *res, resVersion, held, rec)
		return errs.Mark(err, ErrValidation)
	}

	resKey := reservationKey(tenantID, res.ID)
	resDelta, err := u.casJSON(ctx, resKey, resVersion, confirmed)
	if err != nil {
		u.rollback(ctx, tenantID, *res, resVersion, held, rec)
		if statestore.IsKind(err, statestore.KindVersionConflict) {
			return ErrSlotUnavailable
		}
		return u.classifyStoreErr(err)
	}
	rec.Record(resDelta)
	*res = confirmed

	booked := make([]heldSlot, 0, len(held))
	for _, h := range held {
		key := slotKey(tenantID, h.ref)
		d, err := u.casJSON(ctx, key, h.version, slot.Record{
			Status:        slot.StatusBooked,
			ReservationID: res.ID,
		})
		if err != nil {
			// A lost hold (sweeper takeover) fails the whole booking:
			// revert booked and held slots and mark the reservation
			// Failed so no partial state stays visible. The failing
			// slot is reverted too — on a transient store error it is
			// still Held at its hold version, and a conflict on the
			// revert just means another writer already owns it.
			u.revertSlots(ctx, tenantID, booked, rec)
			u.revertSlots(ctx, tenantID, held[len(booked):], rec)
			u.failReservation(ctx, tenantID, res.ID, resDelta.Version, rec)
			if statestore.IsKind(err, statestore.KindVersionConflict) {
				return ErrSlotUnavailable
			}
			return u.classifyStoreErr(err)
		}
		rec.Record(d)
		booked = append(booked, heldSlot{ref: h.ref, version: d.Version})
	}
	return nil
}

func (u *bookingUseCaseImpl) CancelReservation(ctx context.Context, tenantID, reservationID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	res, version, err := u.loadReservation(ctx, tenantID, reservationID)
	if err != nil {
		return err
	}
	if res.IsDeleted() {
		return nil
	}

	rec := delta.NewRecorder(tenantID, "arbiter")
	now := u.clock.Now()

	deleted := res.SoftDelete(now)
	d, err := u.casJSON(ctx, reservationKey(tenantID, reservationID), version, deleted)
	if err != nil {
		if statestore.IsKind(err, statestore.KindVersionConflict) {
			return ErrTransientStore
		}
		return u.classifyStoreErr(err)
	}
	rec.Record(d)

	u.releaseReservationSlots(ctx, tenantID, res, rec)
	u.publishBatch(rec)
	return nil
}

// releaseReservationSlots returns a reservation's slots to Open. Only
// slots still attributed to this reservation are touched.
func (u *bookingUseCaseImpl) releaseReservationSlots(
	ctx context.Context,
	tenantID string,
	res reservation.Record,
	rec *delta.Recorder,
) {
	for _, ref := range res.Slots {
		key := slotKey(tenantID, ref)
		entry, err := u.store.Get(ctx, key)
		if err != nil {
			u.logger.Warn("failed to read slot during release",
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
			u.logger.Warn("failed to release slot",
				"tenant_id", tenantID, "slot", ref.StateKey(), "error", err)
			continue
		}
		rec.Record(d)
	}
}

// rollback releases held slots and marks the reservation Failed. It is
// best-effort by construction: a conflicting release means someone else
// (the sweeper) already restored the slot.
func (u *bookingUseCaseImpl) rollback(
	ctx context.Context,
	tenantID string,
	res reservation.Record,
	resVersion int64,
	held []heldSlot,
	rec *delta.Recorder,
) {
	u.revertSlots(ctx, tenantID, held, rec)
	u.failReservation(ctx, tenantID, res.ID, resVersion, rec)
}

func (u *bookingUseCaseImpl) revertSlots(ctx context.Context, tenantID string, slots []heldSlot, rec *delta.Recorder) {
	for _, h := range slots {
		key := slotKey(tenantID, h.ref)
		d, err := u.casJSON(ctx, key, h.version, slot.Record{Status: slot.StatusOpen})
		if err != nil {
			if !statestore.IsKind(err, statestore.KindVersionConflict) {
				u.logger.Warn("failed to revert slot",
					"tenant_id", tenantID, "slot", h.ref.StateKey(), "error", err)
			}
			continue
		}
		rec.Record(d)
	}
}

func (u *bookingUseCaseImpl) failReservation(ctx context.Context, tenantID, reservationID string, version int64, rec *delta.Recorder) {
	res, current, err := u.loadReservation(ctx, tenantID, reservationID)
	if err != nil {
		return
	}
	if current != version && res.Status != reservation.StatusPending {
		return
	}
	failed, err := res.WithStatus(reservation.StatusFailed, u.clock.Now())
	if err != nil {
		return
	}
	d, err := u.casJSON(ctx, reservationKey(tenantID, reservationID), current, failed)
	if err != nil {
		u.logger.Warn("failed to mark reservation failed",
			"tenant_id", tenantID, "reservation_id", reservationID, "error", err)
		return
	}
	rec.Record(d)
}

func (u *bookingUseCaseImpl) loadReservation(ctx context.Context, tenantID, reservationID string) (reservation.Record, int64, error) {
	entry, err := u.store.Get(ctx, reservationKey(tenantID, reservationID))
	if statestore.IsKind(err, statestore.KindNotFound) {
		return reservation.Record{}, 0, ErrReservationNotFound
	}
	if err != nil {
		return reservation.Record{}, 0, u.classifyStoreErr(err)
	}

	var res reservation.Record
	if err := json.Unmarshal(entry.Value, &res); err != nil {
		return reservation.Record{}, 0, errs.Mark(err, ErrValidation)
	}
	return res, entry.Version, nil
}

func (u *bookingUseCaseImpl) casJSON(ctx context.Context, key statestore.Key, expected int64, value any) (statestore.Delta, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return statestore.Delta{}, err
	}
	return u.store.CompareAndSet(ctx, key, expected, raw)
}

func (u *bookingUseCaseImpl) classifyStoreErr(err error) error {
	if statestore.IsKind(err, statestore.KindUnavailable) {
		return errs.Mark(err, ErrTransientStore)
	}
	if statestore.IsKind(err, statestore.KindInvalid) {
		return errs.Mark(err, ErrValidation)
	}
	return err
}

func (u *bookingUseCaseImpl) publishBatch(rec *delta.Recorder) {
	if rec.Len() == 0 {
		return
	}
	u.publisher.Publish(rec.Batch(u.clock.Now()))
}

func validateSlotRequests(tenantID, customerID string, requests []SlotRequest) ([]slot.Ref, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if customerID == "" || len(requests) == 0 {
		return nil, ErrValidation
	}

	refs := make([]slot.Ref, 0, len(requests))
	for _, req := range requests {
		iv, err := slot.NewInterval(req.Start, req.End)
		if err != nil {
			return nil, errs.Mark(err, ErrValidation)
		}
		if req.ResourceID == "" {
			return nil, ErrValidation
		}
		refs = append(refs, slot.Ref{ResourceID: req.ResourceID, Start: iv.Start, End: iv.End})
	}

	slot.SortRefs(refs)
	for i := 1; i < len(refs); i++ {
		if refs[i] == refs[i-1] {
			return nil, ErrValidation
		}
	}
	return refs, nil
}

// bookingFingerprint hashes the canonical request so an identical
// resubmit maps to the reservation it already produced.
func bookingFingerprint(tenantID, customerID string, refs []slot.Ref) string {
	payload, _ := json.Marshal(struct {
		TenantID   string     `json:"tenant_id"`
		CustomerID string     `json:"customer_id"`
		Refs       []slot.Ref `json:"refs"`
	}{tenantID, customerID, refs})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func slotKey(tenantID string, ref slot.Ref) statestore.Key {
	return statestore.Key{TenantID: tenantID, Scope: statestore.ScopeApp, Name: ref.StateKey()}
}

func reservationKey(tenantID, reservationID string) statestore.Key {
	return statestore.Key{TenantID: tenantID, Scope: statestore.ScopeApp, Name: reservation.StateKey(reservationID)}
}

func fingerprintKey(tenantID, fingerprint string) statestore.Key {
	return statestore.Key{TenantID: tenantID, Scope: statestore.ScopeApp, Name: reservation.FingerprintKey(fingerprint)}
}
