package smart

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationSmartApplications is the SQL DDL for the smart_applications
// table. It is safe to execute multiple times (uses IF NOT EXISTS); callers
// run it at startup as an auto-migration step.
const MigrationSmartApplications = `
CREATE TABLE IF NOT EXISTS smart_applications (
    key          TEXT PRIMARY KEY,
    client_id    TEXT NOT NULL,
    app_json     JSONB NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_smart_applications_client_id
    ON smart_applications (client_id);
`

// ---------------------------------------------------------------------------
// pgRow / pgConn abstractions (allow unit testing without a real DB)
// ---------------------------------------------------------------------------

// pgRow represents a single row returned by QueryRow.
type pgRow interface {
	Scan(dest ...any) error
}

// pgRows represents a multi-row result set.
type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// pgConn is the minimal database interface required by PGRegistry. Both
// *pgxpool.Pool (via a thin adapter) and test mocks implement this.
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgRow
	Query(ctx context.Context, sql string, args ...any) (pgRows, error)
	Exec(ctx context.Context, sql string, args ...any) error
}

// ---------------------------------------------------------------------------
// PGRegistry
// ---------------------------------------------------------------------------

// PGRegistry is a PostgreSQL-backed ApplicationRegistry. Registrations are
// stored in the smart_applications table as JSONB, with key and client_id
// lifted into indexed columns.
type PGRegistry struct {
	db pgConn
}

// NewPGRegistry creates a PG-backed registry. The db parameter must satisfy
// the pgConn interface; use NewPGRegistryFromPool to wrap a *pgxpool.Pool,
// or pass a mock in tests.
func NewPGRegistry(db pgConn) *PGRegistry {
	return &PGRegistry{db: db}
}

// Save inserts or replaces (upsert) an application registration.
func (r *PGRegistry) Save(ctx context.Context, app *Application) error {
	data, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal application: %w", err)
	}

	const query = `INSERT INTO smart_applications (key, client_id, app_json, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (key) DO UPDATE SET client_id  = EXCLUDED.client_id,
                                app_json   = EXCLUDED.app_json,
                                updated_at = now()`

	if err := r.db.Exec(ctx, query, app.Key, app.ClientID, data); err != nil {
		return fmt.Errorf("save application: %w", err)
	}
	return nil
}

// Lookup implements ApplicationRegistry.
func (r *PGRegistry) Lookup(ctx context.Context, key string) (*Application, error) {
	const query = `SELECT app_json FROM smart_applications WHERE key = $1`
	return r.scanOne(ctx, query, key)
}

// LookupByClientID implements ApplicationRegistry.
func (r *PGRegistry) LookupByClientID(ctx context.Context, clientID string) (*Application, error) {
	const query = `SELECT app_json FROM smart_applications WHERE client_id = $1`
	return r.scanOne(ctx, query, clientID)
}

func (r *PGRegistry) scanOne(ctx context.Context, query, arg string) (*Application, error) {
	var data []byte
	if err := r.db.QueryRow(ctx, query, arg).Scan(&data); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("lookup %q: %w", arg, ErrApplicationNotFound)
		}
		return nil, fmt.Errorf("lookup application: %w", err)
	}
	var app Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("unmarshal application: %w", err)
	}
	return &app, nil
}

// List implements ApplicationRegistry.
func (r *PGRegistry) List(ctx context.Context) ([]*Application, error) {
	const query = `SELECT app_json FROM smart_applications ORDER BY key`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []*Application
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		var app Application
		if err := json.Unmarshal(data, &app); err != nil {
			return nil, fmt.Errorf("unmarshal application: %w", err)
		}
		apps = append(apps, &app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// Delete removes a registration. Deleting an unknown key is not an error.
func (r *PGRegistry) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM smart_applications WHERE key = $1`
	if err := r.db.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	return nil
}

// isNoRows returns true when the error represents a "no rows" condition.
// It works with both pgx (pgx.ErrNoRows) and the mock used in tests.
func isNoRows(err error) bool {
	if err == pgx.ErrNoRows {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "no rows")
}

// ---------------------------------------------------------------------------
// pgxPoolWrapper adapts *pgxpool.Pool to the pgConn interface
// ---------------------------------------------------------------------------

// pgxPoolWrapper wraps a *pgxpool.Pool so it satisfies the pgConn interface.
// The adapter is necessary because pgxpool.Pool.Exec returns
// (pgconn.CommandTag, error) whereas pgConn.Exec returns only error.
type pgxPoolWrapper struct {
	pool *pgxpool.Pool
}

func (w *pgxPoolWrapper) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	return w.pool.QueryRow(ctx, sql, args...)
}

func (w *pgxPoolWrapper) Query(ctx context.Context, sql string, args ...any) (pgRows, error) {
	rows, err := w.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxRowsWrapper{rows}, nil
}

func (w *pgxPoolWrapper) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := w.pool.Exec(ctx, sql, args...)
	return err
}

// pgxRowsWrapper narrows pgx.Rows to the pgRows interface.
type pgxRowsWrapper struct {
	rows pgx.Rows
}

func (w pgxRowsWrapper) Next() bool             { return w.rows.Next() }
func (w pgxRowsWrapper) Scan(dest ...any) error { return w.rows.Scan(dest...) }
func (w pgxRowsWrapper) Err() error             { return w.rows.Err() }
func (w pgxRowsWrapper) Close()                 { w.rows.Close() }

// NewPGRegistryFromPool creates a PG-backed registry directly from a
// *pgxpool.Pool. This is the recommended constructor for production use.
func NewPGRegistryFromPool(pool *pgxpool.Pool) *PGRegistry {
	return &PGRegistry{db: &pgxPoolWrapper{pool: pool}}
}
