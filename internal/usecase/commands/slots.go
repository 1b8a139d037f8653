package commands

import (
	"context"
	"encoding/json"
	"log/slog"

	"booking-core/internal/delta"
	"booking-core/internal/domain/slot"
	"booking-core/internal/pkg/clock"
	"booking-core/internal/pkg/errs"
	"booking-core/internal/statestore"
)

type OpenSlotsRequest struct {
	Intervals []slot.Interval `json:"intervals"`
}

type SlotCommands interface {
	// OpenSlots adds bookable slots to a resource's catalog. Intervals
	// overlapping any already-defined slot of the resource are rejected
	// as a whole; the per-resource index CAS keeps concurrent catalog
	// changes from slipping an overlap through.
	OpenSlots(ctx context.Context, tenantID, resourceID string, intervals []slot.Interval) ([]slot.Ref, error)
}

type slotUseCaseImpl struct {
	store     statestore.Store
	publisher *delta.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

func NewSlotUseCase(
	store statestore.Store,
	publisher *delta.Publisher,
	clk clock.Clock,
	logger *slog.Logger,
) SlotCommands {
	return &slotUseCaseImpl{
		store:     store,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

const maxIndexRetries = 3

func (u *slotUseCaseImpl) OpenSlots(ctx context.Context, tenantID, resourceID string, intervals []slot.Interval) ([]slot.Ref, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if resourceID == "" || len(intervals) == 0 {
		return nil, ErrValidation
	}
	for _, iv := range intervals {
		if _, err := slot.NewInterval(iv.Start, iv.End); err != nil {
			return nil, errs.Mark(err, ErrValidation)
		}
	}

	indexKey := statestore.Key{
		TenantID: tenantID,
		Scope:    statestore.ScopeApp,
		Name:     slot.IndexKey(resourceID),
	}

	rec := delta.NewRecorder(tenantID, "catalog")

	// Local retry only covers losing the index CAS to a concurrent
	// catalog write; overlap rejection is terminal.
	var refs []slot.Ref
	for attempt := 0; ; attempt++ {
		index, version, err := u.loadIndex(ctx, indexKey)
		if err != nil {
			return nil, err
		}

		next := index
		for _, iv := range intervals {
			next, err = next.Add(iv)
			if err != nil {
				return nil, errs.Mark(err, ErrSlotOverlap)
			}
		}

		d, err := u.casIndex(ctx, indexKey, version, next)
		if err == nil {
			rec.Record(d)
			break
		}
		if !statestore.IsKind(err, statestore.KindVersionConflict) {
			return nil, errs.Mark(err, ErrTransientStore)
		}
		if attempt+1 >= maxIndexRetries {
			return nil, errs.Mark(err, ErrTransientStore)
		}
	}

	for _, iv := range intervals {
		ref := slot.Ref{ResourceID: resourceID, Start: iv.Start, End: iv.End}
		value, _ := json.Marshal(slot.Record{Status: slot.StatusOpen})
		d, err := u.store.CompareAndSet(ctx, slotKey(tenantID, ref), statestore.VersionAbsent, value)
		if err != nil {
			// The index already excludes duplicates, so a conflict here
			// means a concurrent OpenSlots lost the index race and left
			// this record; existing records are kept as-is.
			if !statestore.IsKind(err, statestore.KindVersionConflict) {
				return refs, errs.Mark(err, ErrTransientStore)
			}
			continue
		}
		rec.Record(d)
		refs = append(refs, ref)
	}

	if rec.Len() > 0 {
		u.publisher.Publish(rec.Batch(u.clock.Now()))
	}
	return refs, nil
}

func (u *slotUseCaseImpl) loadIndex(ctx context.Context, key statestore.Key) (slot.Index, int64, error) {
	entry, err := u.store.Get(ctx, key)
	if statestore.IsKind(err, statestore.KindNotFound) {
		return slot.Index{}, statestore.VersionAbsent, nil
	}
	if err != nil {
		return slot.Index{}, 0, errs.Mark(err, ErrTransientStore)
	}

	var index slot.Index
	if err := json.Unmarshal(entry.Value, &index); err != nil {
		return slot.Index{}, 0, errs.Mark(err, ErrValidation)
	}
	return index, entry.Version, nil
}

func (u *slotUseCaseImpl) casIndex(ctx context.Context, key statestore.Key, version int64, index slot.Index) (statestore.Delta, error) {
	raw, err := json.Marshal(index)
	if err != nil {
		return statestore.Delta{}, err
	}
	return u.store.CompareAndSet(ctx, key, version, raw)
}
