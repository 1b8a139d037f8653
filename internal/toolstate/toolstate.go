// Package toolstate is the state-read/write contract consumed by the
// agent/tool layer. Tool-style callers read and update reservation- and
// webhook-derived state through the versioned store instead of around
// it; Temp scope stays operation-internal and is not reachable here.
package toolstate

import (
	"context"

	"booking-core/internal/pkg/errs"
	"booking-core/internal/statestore"
)

var (
	ErrTempScopeNotAllowed = errs.New("temp scope is not exposed to tool callers")
	ErrInvalidScope        = errs.New("invalid scope")
)

type Service struct {
	store statestore.Store
}

func NewService(store statestore.Store) *Service {
	return &Service{store: store}
}

// ReadState returns the value at (tenant, scope, key), with found=false
// for an absent entry.
func (s *Service) ReadState(ctx context.Context, tenantID, sessionID string, scope statestore.Scope, key string) ([]byte, bool, error) {
	k, err := s.buildKey(tenantID, sessionID, scope, key)
	if err != nil {
		return nil, false, err
	}

	entry, err := s.store.Get(ctx, k)
	if statestore.IsKind(err, statestore.KindNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Value, true, nil
}

// WriteState upserts the value at (tenant, scope, key). The write goes
// through the store's versioning, so it shows up as a Delta and
// participates in conflict detection like any other write.
func (s *Service) WriteState(ctx context.Context, tenantID, sessionID string, scope statestore.Scope, key string, value []byte) error {
	k, err := s.buildKey(tenantID, sessionID, scope, key)
	if err != nil {
		return err
	}

	_, err = s.store.Set(ctx, k, value)
	return err
}

func (s *Service) buildKey(tenantID, sessionID string, scope statestore.Scope, key string) (statestore.Key, error) {
	if scope == statestore.ScopeTemp {
		return statestore.Key{}, ErrTempScopeNotAllowed
	}

	k := statestore.Key{TenantID: tenantID, Scope: scope, Name: key}
	if scope == statestore.ScopeSession {
		k.SessionID = sessionID
	}
	if err := k.Validate(); err != nil {
		return statestore.Key{}, err
	}
	return k, nil
}
