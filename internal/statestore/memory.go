package statestore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"booking-core/internal/pkg/clock"
)

// MemoryStore is the in-process store backend. A single mutex keeps
// every operation atomic at key granularity, which is all the contract
// promises; throughput was never the point of this backend.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	tenants map[string]map[string]*record
}

type record struct {
	value     []byte
	version   int64
	scope     Scope
	sessionID string      // set only for Session-scoped entries
	op        OperationID // set only for Temp-scoped entries
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   clk,
		tenants: make(map[string]map[string]*record),
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, error) {
	if err := key.Validate(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tenants[key.TenantID][key.storageKey()]
	if !ok {
		return Entry{}, NewStoreError(KindNotFound, "entry not found: "+key.storageKey(), nil)
	}
	return Entry{Key: key, Value: cloneBytes(rec.value), Version: rec.version}, nil
}

func (s *MemoryStore) Has(_ context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tenants[key.TenantID][key.storageKey()]
	return ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key Key, value []byte) (Delta, error) {
	if err := key.Validate(); err != nil {
		return Delta{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key, value, "")
}

func (s *MemoryStore) SetTemp(_ context.Context, key Key, value []byte, op OperationID) (Delta, error) {
	if err := key.Validate(); err != nil {
		return Delta{}, err
	}
	if key.Scope != ScopeTemp {
		return Delta{}, NewStoreError(KindInvalid, "SetTemp requires temp scope", nil)
	}
	if op == "" {
		return Delta{}, NewStoreError(KindInvalid, "temp write requires an operation id", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key, value, op)
}

func (s *MemoryStore) CompareAndSet(_ context.Context, key Key, expected int64, value []byte) (Delta, error) {
	if err := key.Validate(); err != nil {
		return Delta{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tenants[key.TenantID][key.storageKey()]
	current := VersionAbsent
	if ok {
		current = rec.version
	}
	if current != expected {
		return Delta{}, NewStoreError(KindVersionConflict,
			"version conflict on "+key.storageKey(), nil)
	}
	return s.put(key, value, "")
}

func (s *MemoryStore) Delete(_ context.Context, key Key, expected int64) (Delta, error) {
	if err := key.Validate(); err != nil {
		return Delta{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.tenants[key.TenantID]
	rec, ok := entries[key.storageKey()]
	if !ok {
		return Delta{}, NewStoreError(KindNotFound, "entry not found: "+key.storageKey(), nil)
	}
	if rec.version != expected {
		return Delta{}, NewStoreError(KindVersionConflict,
			"version conflict on "+key.storageKey(), nil)
	}
	delete(entries, key.storageKey())
	return Delta{
		TenantID: key.TenantID,
		Scope:    key.Scope,
		Key:      key.storageKey(),
		OldValue: cloneBytes(rec.value),
		Version:  rec.version,
		At:       s.clock.Now(),
	}, nil
}

func (s *MemoryStore) ScanPrefix(_ context.Context, tenantID string, scope Scope, prefix string) ([]Entry, error) {
	if tenantID == "" {
		return nil, NewStoreError(KindInvalid, "tenant id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for sk, rec := range s.tenants[tenantID] {
		if rec.scope != scope {
			continue
		}
		// The storage key carries the session id for Session-scoped
		// entries, so the name-prefix match has to strip it first.
		stripped := string(scope) + ":"
		if scope == ScopeSession {
			stripped = rec.sessionID + ":"
		}
		name := strings.TrimPrefix(sk, stripped)
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, Entry{
			Key: Key{
				TenantID:  tenantID,
				Scope:     scope,
				SessionID: rec.sessionID,
				Name:      name,
			},
			Value:   cloneBytes(rec.value),
			Version: rec.version,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.SessionID != out[j].Key.SessionID {
			return out[i].Key.SessionID < out[j].Key.SessionID
		}
		return out[i].Key.Name < out[j].Key.Name
	})
	return out, nil
}

func (s *MemoryStore) Tenants(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) BeginOperation(_ context.Context, _ string) OperationID {
	return OperationID(newOperationID())
}

func (s *MemoryStore) EndOperation(_ context.Context, tenantID string, op OperationID) error {
	if op == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for sk, rec := range s.tenants[tenantID] {
		if rec.op == op {
			delete(s.tenants[tenantID], sk)
		}
	}
	return nil
}

// put assumes s.mu is held.
func (s *MemoryStore) put(key Key, value []byte, op OperationID) (Delta, error) {
	entries, ok := s.tenants[key.TenantID]
	if !ok {
		entries = make(map[string]*record)
		s.tenants[key.TenantID] = entries
	}

	sk := key.storageKey()
	var old []byte
	version := int64(1)
	if prev, exists := entries[sk]; exists {
		old = cloneBytes(prev.value)
		version = prev.version + 1
	}
	entries[sk] = &record{
		value:     cloneBytes(value),
		version:   version,
		scope:     key.Scope,
		sessionID: key.SessionID,
		op:        op,
	}

	return Delta{
		TenantID: key.TenantID,
		Scope:    key.Scope,
		Key:      sk,
		OldValue: old,
		NewValue: cloneBytes(value),
		Version:  version,
		At:       s.clock.Now(),
	}, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
