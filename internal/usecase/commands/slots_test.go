//go:build unit

package commands_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"booking-core/internal/domain/slot"
	"booking-core/internal/usecase/commands"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interval(hour int) slot.Interval {
	start := baseTime.Add(time.Duration(hour) * time.Hour)
	return slot.Interval{Start: start, End: start.Add(time.Hour)}
}

func TestOpenSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refs, err := f.slots.OpenSlots(ctx, tenant, "room-a", []slot.Interval{interval(1), interval(2)})
	require.NoError(t, err)
	require.Len(t, refs, 2)

	for _, ref := range refs {
		assert.Equal(t, slot.StatusOpen, f.slotRecord(t, ref).Status)
	}
}

func TestOpenSlots_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.slots.OpenSlots(ctx, "", "room-a", []slot.Interval{interval(1)})
	assert.ErrorIs(t, err, commands.ErrTenantRequired)

	_, err = f.slots.OpenSlots(ctx, tenant, "", []slot.Interval{interval(1)})
	assert.ErrorIs(t, err, commands.ErrValidation)

	_, err = f.slots.OpenSlots(ctx, tenant, "room-a", nil)
	assert.ErrorIs(t, err, commands.ErrValidation)

	start := baseTime.Add(time.Hour)
	_, err = f.slots.OpenSlots(ctx, tenant, "room-a", []slot.Interval{{Start: start, End: start}})
	assert.ErrorIs(t, err, commands.ErrValidation)
}

func TestOpenSlots_OverlapRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.slots.OpenSlots(ctx, tenant, "room-a", []slot.Interval{interval(1)})
	require.NoError(t, err)

	t.Run("overlap with an existing slot", func(t *testing.T) {
		half := interval(1)
		half.Start = half.Start.Add(30 * time.Minute)
		half.End = half.End.Add(30 * time.Minute)
		_, err := f.slots.OpenSlots(ctx, tenant, "room-a", []slot.Interval{half})
		assert.ErrorIs(t, err, commands.ErrSlotOverlap)
	})

	t.Run("overlap within one request", func(t *testing.T) {
		a := interval(5)
		b := interval(5)
		b.Start = b.Start.Add(30 * time.Minute)
		b.End = b.End.Add(30 * time.Minute)
		_, err := f.slots.OpenSlots(ctx, tenant, "room-a", []slot.Interval{a, b})
		assert.ErrorIs(t, err, commands.ErrSlotOverlap)
	})

	t.Run("back-to-back is allowed", func(t *testing.T) {
		refs, err := f.slots.OpenSlots(ctx, tenant, "room-a", []slot.Interval{interval(2)})
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	})

	t.Run("other resources are unaffected", func(t *testing.T) {
		refs, err := f.slots.OpenSlots(ctx, tenant, "room-b", []slot.Interval{interval(1)})
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	})
}

// Concurrent catalog writes on one resource: the index CAS serializes
// them, so the combined catalog never contains an overlap.
func TestOpenSlots_ConcurrentSameInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	succeeded := make(chan []slot.Ref, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs, err := f.slots.OpenSlots(ctx, tenant, "room-a", []slot.Interval{interval(1)})
			if err == nil {
				succeeded <- refs
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	wins := 0
	for range succeeded {
		wins++
	}
	assert.Equal(t, 1, wins)
}
