// Package statestore is the tenant-scoped key/value store the arbiter and
// the webhook processor coordinate through. All cross-entity coordination
// is optimistic concurrency over per-key versions; there is no global lock.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Scope string

const (
	ScopeApp     Scope = "app"
	ScopeUser    Scope = "user"
	ScopeSession Scope = "session"
	ScopeTemp    Scope = "temp"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeApp, ScopeUser, ScopeSession, ScopeTemp:
		return Scope(s), nil
	}
	return "", ErrInvalidScope
}

var ErrInvalidScope = errors.New("invalid scope")

// Key identifies a single state entry. SessionID is required for the
// Session scope and rejected for every other scope.
type Key struct {
	TenantID  string
	Scope     Scope
	SessionID string
	Name      string
}

func (k Key) Validate() error {
	if k.TenantID == "" {
		return NewStoreError(KindInvalid, "tenant id is required", nil)
	}
	if k.Name == "" {
		return NewStoreError(KindInvalid, "key name is required", nil)
	}
	switch k.Scope {
	case ScopeSession:
		if k.SessionID == "" {
			return NewStoreError(KindInvalid, "session scope requires a session id", nil)
		}
	case ScopeApp, ScopeUser, ScopeTemp:
		if k.SessionID != "" {
			return NewStoreError(KindInvalid, "session id is only valid for session scope", nil)
		}
	default:
		return NewStoreError(KindInvalid, "unknown scope", nil)
	}
	return nil
}

// storageKey is the persisted key: the scope prefix plus the name.
// Session-scoped entries are prefixed by the session id itself, so two
// sessions never collide on the same name.
func (k Key) storageKey() string {
	switch k.Scope {
	case ScopeSession:
		return k.SessionID + ":" + k.Name
	default:
		return string(k.Scope) + ":" + k.Name
	}
}

type Entry struct {
	Key     Key
	Value   []byte
	Version int64
}

// Delta records a single entry's before/after values. A nil NewValue
// means the entry was deleted; a nil OldValue means it was created.
type Delta struct {
	TenantID string    `json:"tenant_id"`
	Scope    Scope     `json:"scope"`
	Key      string    `json:"key"`
	OldValue []byte    `json:"old_value,omitempty"`
	NewValue []byte    `json:"new_value,omitempty"`
	Version  int64     `json:"version"`
	At       time.Time `json:"at"`
}

// OperationID tags Temp-scoped writes with the operation that owns them.
type OperationID string

func newOperationID() string {
	return uuid.NewString()
}

// VersionAbsent is the expected version that asserts the key does not
// exist yet, turning CompareAndSet into an insert-if-absent primitive.
const VersionAbsent int64 = 0

// Store is the single-key-atomic contract both the reservation arbiter
// and the webhook processor build on. Two operations racing a
// CompareAndSet on the same key are linearized: exactly one succeeds,
// the other observes a version conflict.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, error)
	Has(ctx context.Context, key Key) (bool, error)

	// Set upserts unconditionally and bumps the version.
	Set(ctx context.Context, key Key, value []byte) (Delta, error)

	// SetTemp writes a Temp-scoped entry owned by op; it is purged at
	// EndOperation regardless of the operation's outcome.
	SetTemp(ctx context.Context, key Key, value []byte, op OperationID) (Delta, error)

	// CompareAndSet writes only if the stored version equals expected
	// (VersionAbsent asserts absence). A mismatch yields a
	// KindVersionConflict error and the caller must re-read and retry
	// or abort.
	CompareAndSet(ctx context.Context, key Key, expected int64, value []byte) (Delta, error)

	// Delete removes the entry if the stored version equals expected.
	Delete(ctx context.Context, key Key, expected int64) (Delta, error)

	// ScanPrefix lists entries of one tenant and scope whose name starts
	// with prefix. A Session scan spans every session of the tenant;
	// each returned Key carries the owning session id. Used by the
	// hold-expiry sweep and read models.
	ScanPrefix(ctx context.Context, tenantID string, scope Scope, prefix string) ([]Entry, error)

	// Tenants enumerates tenant ids for background invariant restoration
	// (the expiry sweep). It is not a data access path.
	Tenants(ctx context.Context) ([]string, error)

	BeginOperation(ctx context.Context, tenantID string) OperationID
	EndOperation(ctx context.Context, tenantID string, op OperationID) error
}
