package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"booking-core/internal/delta"
	"booking-core/internal/domain/reservation"
	"booking-core/internal/domain/slot"
	"booking-core/internal/pkg/clock"
	"booking-core/internal/statestore"
)

// Sweeper is the background invariant-restorer: a Held slot whose hold
// deadline passed without confirmation goes back to Open, and the
// reservation that held it is marked Expired if it never confirmed.
// Every transition is a compare-and-set, so a sweep racing a confirm is
// resolved by the store like any other pair of writers. The sweep also
// bounds replay detection by purging booking fingerprints past their TTL.
type Sweeper struct {
	store          statestore.Store
	publisher      *delta.Publisher
	clock          clock.Clock
	interval       time.Duration
	fingerprintTTL time.Duration
	logger         *slog.Logger
}

func NewSweeper(
	store statestore.Store,
	publisher *delta.Publisher,
	clk clock.Clock,
	interval time.Duration,
	fingerprintTTL time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		store:          store,
		publisher:      publisher,
		clock:          clk,
		interval:       interval,
		fingerprintTTL: fingerprintTTL,
		logger:         logger,
	}
}

// Run loops until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepAll(ctx); err != nil {
				s.logger.Warn("hold expiry sweep failed", "error", err)
			}
		}
	}
}

// SweepAll sweeps every tenant and returns how many holds were released.
func (s *Sweeper) SweepAll(ctx context.Context) (int, error) {
	tenants, err := s.store.Tenants(ctx)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, tenantID := range tenants {
		n, err := s.SweepTenant(ctx, tenantID)
		if err != nil {
			s.logger.Warn("sweep failed for tenant", "tenant_id", tenantID, "error", err)
			continue
		}
		released += n
	}
	return released, nil
}

func (s *Sweeper) SweepTenant(ctx context.Context, tenantID string) (int, error) {
	entries, err := s.store.ScanPrefix(ctx, tenantID, statestore.ScopeApp, "slot:")
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	rec := delta.NewRecorder(tenantID, "sweep")
	released := 0

	for _, entry := range entries {
		var slotRec slot.Record
		if err := json.Unmarshal(entry.Value, &slotRec); err != nil {
			s.logger.Warn("skipping malformed slot record",
				"tenant_id", tenantID, "key", entry.Key.Name)
			continue
		}
		if !slotRec.HoldExpired(now) {
			continue
		}

		raw, _ := json.Marshal(slotRec.Released())
		d, err := s.store.CompareAndSet(ctx, entry.Key, entry.Version, raw)
		if err != nil {
			// A conflict means the hold was confirmed or re-held since
			// the scan; nothing to restore.
			if !statestore.IsKind(err, statestore.KindVersionConflict) {
				s.logger.Warn("failed to release expired hold",
					"tenant_id", tenantID, "key", entry.Key.Name, "error", err)
			}
			continue
		}
		rec.Record(d)
		released++

		s.expireReservation(ctx, tenantID, slotRec.ReservationID, rec)
	}

	s.sweepFingerprints(ctx, tenantID, now, rec)

	if rec.Len() > 0 {
		s.publisher.Publish(rec.Batch(now))
	}
	return released, nil
}

// sweepFingerprints drops replay-detection records older than the
// fingerprint TTL, so an identical resubmit past the window is treated
// as a new request. A zero TTL disables the purge.
func (s *Sweeper) sweepFingerprints(ctx context.Context, tenantID string, now time.Time, rec *delta.Recorder) {
	if s.fingerprintTTL <= 0 {
		return
	}

	entries, err := s.store.ScanPrefix(ctx, tenantID, statestore.ScopeApp, "bookingfp:")
	if err != nil {
		s.logger.Warn("fingerprint sweep failed", "tenant_id", tenantID, "error", err)
		return
	}

	for _, entry := range entries {
		var fp struct {
			CreatedAt time.Time `json:"created_at"`
		}
		if err := json.Unmarshal(entry.Value, &fp); err != nil || fp.CreatedAt.IsZero() {
			continue
		}
		if now.Sub(fp.CreatedAt) < s.fingerprintTTL {
			continue
		}
		d, err := s.store.Delete(ctx, entry.Key, entry.Version)
		if err != nil {
			if !statestore.IsKind(err, statestore.KindVersionConflict) &&
				!statestore.IsKind(err, statestore.KindNotFound) {
				s.logger.Warn("failed to purge booking fingerprint",
					"tenant_id", tenantID, "key", entry.Key.Name, "error", err)
			}
			continue
		}
		rec.Record(d)
	}
}

// expireReservation moves a still-Pending owner to Expired. Best-effort:
// a conflict means the arbiter or another writer got there first.
func (s *Sweeper) expireReservation(ctx context.Context, tenantID, reservationID string, rec *delta.Recorder) {
	if reservationID == "" {
		return
	}

	key := reservationKey(tenantID, reservationID)
	entry, err := s.store.Get(ctx, key)
	if err != nil {
		return
	}

	var res reservation.Record
	if err := json.Unmarshal(entry.Value, &res); err != nil {
		return
	}
	if res.Status != reservation.StatusPending {
		return
	}

	expired, err := res.WithStatus(reservation.StatusExpired, s.clock.Now())
	if err != nil {
		return
	}
	raw, _ := json.Marshal(expired)
	d, err := s.store.CompareAndSet(ctx, key, entry.Version, raw)
	if err != nil {
		return
	}
	rec.Record(d)
}
