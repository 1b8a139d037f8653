//go:build unit

package commands_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"booking-core/internal/delta"
	"booking-core/internal/domain/reservation"
	"booking-core/internal/domain/slot"
	"booking-core/internal/pkg/clock"
	"booking-core/internal/statestore"
	"booking-core/internal/usecase/commands"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	tenant         = "acme"
	holdTTL        = 15 * time.Minute
	fingerprintTTL = 24 * time.Hour
)

type captureSink struct {
	mu        sync.Mutex
	envelopes []delta.Envelope
}

func (s *captureSink) Consume(_ context.Context, env delta.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *captureSink) all() []delta.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]delta.Envelope, len(s.envelopes))
	copy(out, s.envelopes)
	return out
}

type fixture struct {
	store     *statestore.MemoryStore
	clk       *clock.MockClock
	sink      *captureSink
	publisher *delta.Publisher
	booking   commands.BookingCommands
	slots     commands.SlotCommands
	webhooks  commands.WebhookCommands
	sweeper   *commands.Sweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMockClock(baseTime)
	store := statestore.NewMemoryStore(clk)
	sink := &captureSink{}
	publisher := delta.NewPublisher(logger, sink)
	t.Cleanup(publisher.Close)

	return &fixture{
		store:     store,
		clk:       clk,
		sink:      sink,
		publisher: publisher,
		booking:   commands.NewBookingUseCase(store, publisher, clk, holdTTL, logger),
		slots:     commands.NewSlotUseCase(store, publisher, clk, logger),
		webhooks:  commands.NewWebhookUseCase(store, publisher, clk, logger),
		sweeper:   commands.NewSweeper(store, publisher, clk, time.Minute, fingerprintTTL, logger),
	}
}

func (f *fixture) openSlot(t *testing.T, resourceID string, hour int) slot.Ref {
	t.Helper()
	start := baseTime.Add(time.Duration(hour) * time.Hour)
	refs, err := f.slots.OpenSlots(context.Background(), tenant, resourceID, []slot.Interval{
		{Start: start, End: start.Add(time.Hour)},
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	return refs[0]
}

func (f *fixture) slotRecord(t *testing.T, ref slot.Ref) slot.Record {
	t.Helper()
	entry, err := f.store.Get(context.Background(), statestore.Key{
		TenantID: tenant, Scope: statestore.ScopeApp, Name: ref.StateKey(),
	})
	require.NoError(t, err)
	var rec slot.Record
	require.NoError(t, json.Unmarshal(entry.Value, &rec))
	return rec
}

func (f *fixture) reservationRecord(t *testing.T, id string) reservation.Record {
	t.Helper()
	entry, err := f.store.Get(context.Background(), statestore.Key{
		TenantID: tenant, Scope: statestore.ScopeApp, Name: reservation.StateKey(id),
	})
	require.NoError(t, err)
	var rec reservation.Record
	require.NoError(t, json.Unmarshal(entry.Value, &rec))
	return rec
}

func request(ref slot.Ref) commands.SlotRequest {
	return commands.SlotRequest{ResourceID: ref.ResourceID, Start: ref.Start, End: ref.End}
}

func TestAttemptBooking_Single(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)

	result, err := f.booking.AttemptBooking(context.Background(), tenant, "cust-1", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, result.Status)
	assert.False(t, result.Replayed)
	require.NotEmpty(t, result.ReservationID)

	slotRec := f.slotRecord(t, ref)
	assert.Equal(t, slot.StatusBooked, slotRec.Status)
	assert.Equal(t, result.ReservationID, slotRec.ReservationID)

	res := f.reservationRecord(t, result.ReservationID)
	assert.Equal(t, reservation.StatusConfirmed, res.Status)
	assert.Equal(t, "cust-1", res.CustomerID)
}

func TestAttemptBooking_Validation(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)
	ctx := context.Background()

	_, err := f.booking.AttemptBooking(ctx, "", "cust-1", []commands.SlotRequest{request(ref)})
	assert.ErrorIs(t, err, commands.ErrTenantRequired)

	_, err = f.booking.AttemptBooking(ctx, tenant, "", []commands.SlotRequest{request(ref)})
	assert.ErrorIs(t, err, commands.ErrValidation)

	_, err = f.booking.AttemptBooking(ctx, tenant, "cust-1", nil)
	assert.ErrorIs(t, err, commands.ErrValidation)

	_, err = f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(ref), request(ref)})
	assert.ErrorIs(t, err, commands.ErrValidation)

	bad := request(ref)
	bad.End = bad.Start
	_, err = f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{bad})
	assert.ErrorIs(t, err, commands.ErrValidation)
}

func TestAttemptBooking_UnknownSlotFails(t *testing.T) {
	f := newFixture(t)
	start := baseTime.Add(time.Hour)

	result, err := f.booking.AttemptBooking(context.Background(), tenant, "cust-1", []commands.SlotRequest{
		{ResourceID: "never-opened", Start: start, End: start.Add(time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusFailed, result.Status)
	assert.Equal(t, "SlotUnavailable", result.Reason)
}

// Two requests racing the same slot: exactly one confirms, the loser
// fails and its reservation never shows a partial state.
func TestAttemptBooking_TwoRacers(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)
	ctx := context.Background()

	results := make([]*commands.BookingResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = f.booking.AttemptBooking(ctx, tenant, "cust-"+string(rune('a'+n)), []commands.SlotRequest{request(ref)})
		}(i)
	}
	wg.Wait()

	confirmed := 0
	var winner *commands.BookingResult
	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if results[i].Status == reservation.StatusConfirmed {
			confirmed++
			winner = results[i]
		} else {
			assert.Equal(t, reservation.StatusFailed, results[i].Status)
			assert.Equal(t, "SlotUnavailable", results[i].Reason)
		}
	}
	require.Equal(t, 1, confirmed)

	slotRec := f.slotRecord(t, ref)
	assert.Equal(t, slot.StatusBooked, slotRec.Status)
	assert.Equal(t, winner.ReservationID, slotRec.ReservationID)
}

// N customers, one slot: the booked count can never exceed one no matter
// the interleaving.
func TestAttemptBooking_ManyRacers(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)
	ctx := context.Background()

	const racers = 24
	var wg sync.WaitGroup
	confirmed := make(chan string, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := f.booking.AttemptBooking(ctx, tenant, "cust-"+string(rune('A'+n)), []commands.SlotRequest{request(ref)})
			if err == nil && result.Status == reservation.StatusConfirmed {
				confirmed <- result.ReservationID
			}
		}(i)
	}
	wg.Wait()
	close(confirmed)

	var winners []string
	for id := range confirmed {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], f.slotRecord(t, ref).ReservationID)
}

func TestAttemptBooking_ReplayIdenticalRequest(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)
	ctx := context.Background()

	first, err := f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)
	require.Equal(t, reservation.StatusConfirmed, first.Status)

	second, err := f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, second.Status)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ReservationID, second.ReservationID)
}

// A different customer asking for the same booked slot is a fresh
// request, not a replay.
func TestAttemptBooking_DifferentCustomerNoReplay(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)
	ctx := context.Background()

	first, err := f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)
	require.Equal(t, reservation.StatusConfirmed, first.Status)

	second, err := f.booking.AttemptBooking(ctx, tenant, "cust-2", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusFailed, second.Status)
	assert.False(t, second.Replayed)
}

// A multi-slot request is all-or-nothing: when one slot is taken, slots
// already held roll back to Open.
func TestAttemptBooking_MultiSlotRollback(t *testing.T) {
	f := newFixture(t)
	refA := f.openSlot(t, "room-a", 1)
	refB := f.openSlot(t, "room-b", 1)
	ctx := context.Background()

	blocker, err := f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(refB)})
	require.NoError(t, err)
	require.Equal(t, reservation.StatusConfirmed, blocker.Status)

	result, err := f.booking.AttemptBooking(ctx, tenant, "cust-2", []commands.SlotRequest{request(refA), request(refB)})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusFailed, result.Status)

	assert.Equal(t, slot.StatusOpen, f.slotRecord(t, refA).Status)
	assert.Equal(t, slot.StatusBooked, f.slotRecord(t, refB).Status)
	assert.Equal(t, reservation.StatusFailed, f.reservationRecord(t, result.ReservationID).Status)

	// The rolled-back slot is immediately bookable again.
	retry, err := f.booking.AttemptBooking(ctx, tenant, "cust-3", []commands.SlotRequest{request(refA)})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, retry.Status)
}

// bookFailStore fails the first Held→Booked transition on the target
// slot with a transient error, simulating the store going away mid-book.
type bookFailStore struct {
	statestore.Store
	mu     sync.Mutex
	target string
	fired  bool
}

func (s *bookFailStore) CompareAndSet(ctx context.Context, key statestore.Key, expected int64, value []byte) (statestore.Delta, error) {
	s.mu.Lock()
	fail := !s.fired && key.Name == s.target && strings.Contains(string(value), `"booked"`)
	if fail {
		s.fired = true
	}
	s.mu.Unlock()
	if fail {
		return statestore.Delta{}, statestore.NewStoreError(statestore.KindUnavailable, "store offline", nil)
	}
	return s.Store.CompareAndSet(ctx, key, expected, value)
}

// A transient failure booking one of the held slots must not strand it
// in Held: every slot goes back to Open before the error surfaces.
func TestAttemptBooking_TransientBookFailureRevertsAllSlots(t *testing.T) {
	f := newFixture(t)
	refA := f.openSlot(t, "room-a", 1)
	refB := f.openSlot(t, "room-b", 1)
	ctx := context.Background()

	store := &bookFailStore{Store: f.store, target: refB.StateKey()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	booking := commands.NewBookingUseCase(store, f.publisher, f.clk, holdTTL, logger)

	_, err := booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(refA), request(refB)})
	require.ErrorIs(t, err, commands.ErrTransientStore)

	assert.Equal(t, slot.StatusOpen, f.slotRecord(t, refA).Status)
	assert.Equal(t, slot.StatusOpen, f.slotRecord(t, refB).Status)

	// Both slots are immediately bookable once the store recovers.
	retry, err := booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(refA), request(refB)})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, retry.Status)
}

func TestAttemptBooking_MultiSlotSuccess(t *testing.T) {
	f := newFixture(t)
	refA := f.openSlot(t, "room-a", 1)
	refB := f.openSlot(t, "room-b", 1)
	ctx := context.Background()

	result, err := f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(refB), request(refA)})
	require.NoError(t, err)
	require.Equal(t, reservation.StatusConfirmed, result.Status)

	assert.Equal(t, slot.StatusBooked, f.slotRecord(t, refA).Status)
	assert.Equal(t, slot.StatusBooked, f.slotRecord(t, refB).Status)

	res := f.reservationRecord(t, result.ReservationID)
	require.Len(t, res.Slots, 2)
	// Slots are stored in canonical order regardless of request order.
	assert.Equal(t, "room-a", res.Slots[0].ResourceID)
	assert.Equal(t, "room-b", res.Slots[1].ResourceID)
}

// Temp-scoped operation state never outlives the booking attempt.
func TestAttemptBooking_TempStatePurged(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)
	ctx := context.Background()

	_, err := f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)

	entries, err := f.store.ScanPrefix(ctx, tenant, statestore.ScopeTemp, "")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Same after a failed attempt.
	_, err = f.booking.AttemptBooking(ctx, tenant, "cust-2", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)
	entries, err = f.store.ScanPrefix(ctx, tenant, statestore.ScopeTemp, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// An expired hold left behind by a crashed request does not block a new
// booking: the arbiter takes the hold over.
func TestAttemptBooking_ExpiredHoldTakeover(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)
	ctx := context.Background()

	deadline := baseTime.Add(-time.Minute)
	stale, _ := json.Marshal(slot.Record{
		Status:        slot.StatusHeld,
		ReservationID: "res-crashed",
		HoldExpiresAt: &deadline,
	})
	key := statestore.Key{TenantID: tenant, Scope: statestore.ScopeApp, Name: ref.StateKey()}
	entry, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	_, err = f.store.CompareAndSet(ctx, key, entry.Version, stale)
	require.NoError(t, err)

	result, err := f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, result.Status)
	assert.Equal(t, result.ReservationID, f.slotRecord(t, ref).ReservationID)
}

func TestCancelReservation(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)
	ctx := context.Background()

	result, err := f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)
	require.Equal(t, reservation.StatusConfirmed, result.Status)

	require.NoError(t, f.booking.CancelReservation(ctx, tenant, result.ReservationID))

	assert.Equal(t, slot.StatusOpen, f.slotRecord(t, ref).Status)
	assert.True(t, f.reservationRecord(t, result.ReservationID).IsDeleted())

	t.Run("cancel is idempotent", func(t *testing.T) {
		assert.NoError(t, f.booking.CancelReservation(ctx, tenant, result.ReservationID))
	})

	t.Run("unknown reservation", func(t *testing.T) {
		err := f.booking.CancelReservation(ctx, tenant, "no-such-id")
		assert.ErrorIs(t, err, commands.ErrReservationNotFound)
	})

	t.Run("slot is bookable again", func(t *testing.T) {
		retry, err := f.booking.AttemptBooking(ctx, tenant, "cust-2", []commands.SlotRequest{request(ref)})
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusConfirmed, retry.Status)
	})
}

// Deltas for a completed booking arrive at the sink in commit order.
func TestAttemptBooking_PublishesDeltas(t *testing.T) {
	f := newFixture(t)
	ref := f.openSlot(t, "room-a", 1)
	ctx := context.Background()

	result, err := f.booking.AttemptBooking(ctx, tenant, "cust-1", []commands.SlotRequest{request(ref)})
	require.NoError(t, err)
	require.Equal(t, reservation.StatusConfirmed, result.Status)

	f.publisher.Close()

	var arbiter []delta.Envelope
	for _, env := range f.sink.all() {
		if env.Source == "arbiter" {
			arbiter = append(arbiter, env)
		}
	}
	require.Len(t, arbiter, 1)
	env := arbiter[0]
	assert.Equal(t, tenant, env.TenantID)
	require.GreaterOrEqual(t, len(env.Deltas), 4)

	// Insert pending, hold, confirm, book, fingerprint, in that order.
	assert.Equal(t, reservation.StateKey(result.ReservationID), trimScope(env.Deltas[0].Key))
	assert.Equal(t, ref.StateKey(), trimScope(env.Deltas[1].Key))
	assert.Equal(t, reservation.StateKey(result.ReservationID), trimScope(env.Deltas[2].Key))
	assert.Equal(t, ref.StateKey(), trimScope(env.Deltas[3].Key))
}

func trimScope(storageKey string) string {
	if len(storageKey) > 4 && storageKey[:4] == "app:" {
		return storageKey[4:]
	}
	return storageKey
}
