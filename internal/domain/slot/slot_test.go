//go:build unit

package slot_test

import (
	"testing"
	"time"

	"booking-core/internal/domain/slot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(hour int) time.Time {
	return time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
}

func TestInterval(t *testing.T) {
	t.Run("start must precede end", func(t *testing.T) {
		_, err := slot.NewInterval(day(10), day(10))
		assert.ErrorIs(t, err, slot.ErrInvalidInterval)

		_, err = slot.NewInterval(day(11), day(10))
		assert.ErrorIs(t, err, slot.ErrInvalidInterval)
	})

	t.Run("half-open overlap", func(t *testing.T) {
		a := slot.Interval{Start: day(10), End: day(11)}

		assert.True(t, a.Overlaps(slot.Interval{Start: day(10), End: day(11)}))
		assert.True(t, a.Overlaps(slot.Interval{Start: day(9), End: day(12)}))
		assert.True(t, a.Overlaps(slot.Interval{Start: day(10).Add(30 * time.Minute), End: day(11)}))

		// Back-to-back slots share a boundary instant but not time.
		assert.False(t, a.Overlaps(slot.Interval{Start: day(11), End: day(12)}))
		assert.False(t, a.Overlaps(slot.Interval{Start: day(9), End: day(10)}))
	})
}

func TestSortRefs(t *testing.T) {
	refs := []slot.Ref{
		{ResourceID: "room-b", Start: day(9), End: day(10)},
		{ResourceID: "room-a", Start: day(11), End: day(12)},
		{ResourceID: "room-a", Start: day(9), End: day(10)},
	}
	slot.SortRefs(refs)

	assert.Equal(t, "room-a", refs[0].ResourceID)
	assert.Equal(t, day(9), refs[0].Start)
	assert.Equal(t, "room-a", refs[1].ResourceID)
	assert.Equal(t, day(11), refs[1].Start)
	assert.Equal(t, "room-b", refs[2].ResourceID)
}

func TestRecordHoldability(t *testing.T) {
	now := day(12)
	past := day(11)
	future := day(13)

	t.Run("open is holdable", func(t *testing.T) {
		assert.True(t, slot.Record{Status: slot.StatusOpen}.Holdable(now))
	})

	t.Run("live hold is not holdable", func(t *testing.T) {
		rec := slot.Record{Status: slot.StatusHeld, ReservationID: "r1", HoldExpiresAt: &future}
		assert.False(t, rec.Holdable(now))
		assert.False(t, rec.HoldExpired(now))
	})

	t.Run("expired hold can be taken over", func(t *testing.T) {
		rec := slot.Record{Status: slot.StatusHeld, ReservationID: "r1", HoldExpiresAt: &past}
		assert.True(t, rec.HoldExpired(now))
		assert.True(t, rec.Holdable(now))
	})

	t.Run("booked is never holdable", func(t *testing.T) {
		assert.False(t, slot.Record{Status: slot.StatusBooked, ReservationID: "r1"}.Holdable(now))
	})
}

func TestRecordTransitions(t *testing.T) {
	deadline := day(12)
	held := slot.Record{Status: slot.StatusOpen}.Held("res-1", deadline)
	assert.Equal(t, slot.StatusHeld, held.Status)
	assert.Equal(t, "res-1", held.ReservationID)
	require.NotNil(t, held.HoldExpiresAt)
	assert.Equal(t, deadline, *held.HoldExpiresAt)

	booked := held.Booked()
	assert.Equal(t, slot.StatusBooked, booked.Status)
	assert.Equal(t, "res-1", booked.ReservationID)
	assert.Nil(t, booked.HoldExpiresAt)

	released := booked.Released()
	assert.Equal(t, slot.StatusOpen, released.Status)
	assert.Empty(t, released.ReservationID)
}

func TestIndexAdd(t *testing.T) {
	var ix slot.Index

	ix, err := ix.Add(slot.Interval{Start: day(10), End: day(11)})
	require.NoError(t, err)

	ix, err = ix.Add(slot.Interval{Start: day(11), End: day(12)})
	require.NoError(t, err)
	assert.Len(t, ix.Intervals, 2)

	t.Run("overlap is rejected and leaves the index unchanged", func(t *testing.T) {
		_, err := ix.Add(slot.Interval{Start: day(10).Add(30 * time.Minute), End: day(11).Add(30 * time.Minute)})
		assert.ErrorIs(t, err, slot.ErrOverlap)
		assert.Len(t, ix.Intervals, 2)
	})

	t.Run("add copies rather than aliasing the interval slice", func(t *testing.T) {
		next, err := ix.Add(slot.Interval{Start: day(14), End: day(15)})
		require.NoError(t, err)
		assert.Len(t, ix.Intervals, 2)
		assert.Len(t, next.Intervals, 3)
	})
}

func TestStateKeys(t *testing.T) {
	ref := slot.Ref{ResourceID: "room-a", Start: day(10), End: day(11)}
	assert.Equal(t, "slot:room-a:2026-03-01T10:00:00Z/2026-03-01T11:00:00Z", ref.StateKey())
	assert.Equal(t, "slotindex:room-a", slot.IndexKey("room-a"))
}
