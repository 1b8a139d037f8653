package commands

import (
	"booking-core/internal/pkg/errs"
)

var (
	ErrTenantRequired      = errs.New("tenant id required")
	ErrValidation          = errs.New("request validation failed")
	ErrSlotUnavailable     = errs.New("slot unavailable")
	ErrSlotOverlap         = errs.New("slot overlaps existing catalog entry")
	ErrSlotUnknown         = errs.New("slot not in catalog")
	ErrReservationNotFound = errs.New("reservation not found")
	ErrStaleEvent          = errs.New("stale webhook event")
	ErrInvalidPayload      = errs.New("invalid webhook payload")
	ErrDuplicateInProgress = errs.New("duplicate delivery in progress")
	ErrTransientStore      = errs.New("transient state store failure")
)
