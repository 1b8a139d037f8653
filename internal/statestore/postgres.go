package statestore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists state entries in a single state_entries table, one
// row per (tenant_id, storage key). CompareAndSet is a conditional
// UPDATE guarded by the stored version; insert-if-absent is INSERT ...
// ON CONFLICT DO NOTHING. Row-level locking inside a short transaction
// gives the same single-key linearization the contract requires.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, key Key) (Entry, error) {
	if err := key.Validate(); err != nil {
		return Entry{}, err
	}

	var value []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT value, version FROM state_entries WHERE tenant_id = $1 AND skey = $2`,
		key.TenantID, key.storageKey(),
	).Scan(&value, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, NewStoreError(KindNotFound, "entry not found: "+key.storageKey(), nil)
	}
	if err != nil {
		return Entry{}, NewStoreError(KindUnavailable, "failed to read state entry", err)
	}
	return Entry{Key: key, Value: value, Version: version}, nil
}

func (s *PGStore) Has(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM state_entries WHERE tenant_id = $1 AND skey = $2)`,
		key.TenantID, key.storageKey(),
	).Scan(&exists)
	if err != nil {
		return false, NewStoreError(KindUnavailable, "failed to check state entry", err)
	}
	return exists, nil
}

func (s *PGStore) Set(ctx context.Context, key Key, value []byte) (Delta, error) {
	if err := key.Validate(); err != nil {
		return Delta{}, err
	}
	return s.write(ctx, key, value, "", nil)
}

func (s *PGStore) SetTemp(ctx context.Context, key Key, value []byte, op OperationID) (Delta, error) {
	if err := key.Validate(); err != nil {
		return Delta{}, err
	}
	if key.Scope != ScopeTemp {
		return Delta{}, NewStoreError(KindInvalid, "SetTemp requires temp scope", nil)
	}
	if op == "" {
		return Delta{}, NewStoreError(KindInvalid, "temp write requires an operation id", nil)
	}
	return s.write(ctx, key, value, op, nil)
}

func (s *PGStore) CompareAndSet(ctx context.Context, key Key, expected int64, value []byte) (Delta, error) {
	if err := key.Validate(); err != nil {
		return Delta{}, err
	}
	return s.write(ctx, key, value, "", &expected)
}

// write performs the upsert inside a short transaction so the old value
// can be read under a row lock. A nil expected means unconditional.
func (s *PGStore) write(ctx context.Context, key Key, value []byte, op OperationID, expected *int64) (Delta, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Delta{}, NewStoreError(KindUnavailable, "failed to begin transaction", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			slog.Warn("failed to rollback state write", "error", rollbackErr)
		}
	}()

	sk := key.storageKey()
	var oldValue []byte
	var oldVersion int64
	found := true
	err = tx.QueryRow(ctx,
		`SELECT value, version FROM state_entries WHERE tenant_id = $1 AND skey = $2 FOR UPDATE`,
		key.TenantID, sk,
	).Scan(&oldValue, &oldVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		found = false
	} else if err != nil {
		return Delta{}, NewStoreError(KindUnavailable, "failed to read state entry for write", err)
	}

	if expected != nil {
		current := VersionAbsent
		if found {
			current = oldVersion
		}
		if current != *expected {
			return Delta{}, NewStoreError(KindVersionConflict, "version conflict on "+sk, nil)
		}
	}

	now := time.Now()
	newVersion := oldVersion + 1
	if !found {
		newVersion = 1
		_, err = tx.Exec(ctx,
			`INSERT INTO state_entries (tenant_id, skey, scope, session_id, value, version, op_id, updated_at)
			 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8)`,
			key.TenantID, sk, string(key.Scope), key.SessionID, value, newVersion, string(op), now)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE state_entries SET value = $3, version = $4, updated_at = $5
			 WHERE tenant_id = $1 AND skey = $2`,
			key.TenantID, sk, value, newVersion, now)
	}
	if err != nil {
		// Two inserts racing the same absent key both pass the FOR UPDATE
		// read; the loser hits the primary key and must see a conflict,
		// not an outage.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Delta{}, NewStoreError(KindVersionConflict, "version conflict on "+sk, nil)
		}
		return Delta{}, NewStoreError(KindUnavailable, "failed to write state entry", err)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return Delta{}, NewStoreError(KindUnavailable, "failed to commit state write", commitErr)
	}

	var old []byte
	if found {
		old = oldValue
	}
	return Delta{
		TenantID: key.TenantID,
		Scope:    key.Scope,
		Key:      sk,
		OldValue: old,
		NewValue: value,
		Version:  newVersion,
		At:       now,
	}, nil
}

func (s *PGStore) Delete(ctx context.Context, key Key, expected int64) (Delta, error) {
	if err := key.Validate(); err != nil {
		return Delta{}, err
	}

	sk := key.storageKey()
	var oldValue []byte
	err := s.pool.QueryRow(ctx,
		`DELETE FROM state_entries WHERE tenant_id = $1 AND skey = $2 AND version = $3
		 RETURNING value`,
		key.TenantID, sk, expected,
	).Scan(&oldValue)
	if errors.Is(err, pgx.ErrNoRows) {
		// Absent and version-mismatch are indistinguishable here; one
		// more read settles which error the caller sees.
		exists, hasErr := s.Has(ctx, key)
		if hasErr != nil {
			return Delta{}, hasErr
		}
		if exists {
			return Delta{}, NewStoreError(KindVersionConflict, "version conflict on "+sk, nil)
		}
		return Delta{}, NewStoreError(KindNotFound, "entry not found: "+sk, nil)
	}
	if err != nil {
		return Delta{}, NewStoreError(KindUnavailable, "failed to delete state entry", err)
	}

	return Delta{
		TenantID: key.TenantID,
		Scope:    key.Scope,
		Key:      sk,
		OldValue: oldValue,
		Version:  expected,
		At:       time.Now(),
	}, nil
}

func (s *PGStore) ScanPrefix(ctx context.Context, tenantID string, scope Scope, prefix string) ([]Entry, error) {
	if tenantID == "" {
		return nil, NewStoreError(KindInvalid, "tenant id is required", nil)
	}

	// Session-scoped storage keys start with the session id, not the
	// scope, so the name-prefix match is built against whichever prefix
	// the row actually carries. A session scan spans every session of
	// the tenant; each Entry's Key reports which one it came from.
	rows, err := s.pool.Query(ctx,
		`SELECT skey, COALESCE(session_id, ''), value, version FROM state_entries
		 WHERE tenant_id = $1 AND scope = $2
		   AND skey LIKE COALESCE(session_id || ':', $2 || ':') || $3 || '%'
		 ORDER BY skey`,
		tenantID, string(scope), prefix)
	if err != nil {
		return nil, NewStoreError(KindUnavailable, "failed to scan state entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var sk, sessionID string
		var value []byte
		var version int64
		if err := rows.Scan(&sk, &sessionID, &value, &version); err != nil {
			return nil, NewStoreError(KindUnavailable, "failed to scan state entry row", err)
		}
		stripped := string(scope) + ":"
		if sessionID != "" {
			stripped = sessionID + ":"
		}
		out = append(out, Entry{
			Key: Key{
				TenantID:  tenantID,
				Scope:     scope,
				SessionID: sessionID,
				Name:      strings.TrimPrefix(sk, stripped),
			},
			Value:   value,
			Version: version,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, NewStoreError(KindUnavailable, "failed to iterate state entries", err)
	}
	return out, nil
}

func (s *PGStore) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM state_entries ORDER BY tenant_id`)
	if err != nil {
		return nil, NewStoreError(KindUnavailable, "failed to list tenants", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, NewStoreError(KindUnavailable, "failed to scan tenant id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStoreError(KindUnavailable, "failed to iterate tenant ids", err)
	}
	return ids, nil
}

func (s *PGStore) BeginOperation(_ context.Context, _ string) OperationID {
	return OperationID(newOperationID())
}

func (s *PGStore) EndOperation(ctx context.Context, tenantID string, op OperationID) error {
	if op == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM state_entries WHERE tenant_id = $1 AND op_id = $2`,
		tenantID, string(op))
	if err != nil {
		return NewStoreError(KindUnavailable, "failed to purge temp entries", err)
	}
	return nil
}
