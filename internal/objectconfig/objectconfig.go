// Package objectconfig is the metadata store for config.objects — the
// prerequisite table (see SPEC_FULL.md §6 / spec.md §6) that records
// which remote objects are mirrored. It is hand-written in the sqlc
// generated-code idiom the rest of this codebase follows for RDB access
// (a narrow Querier interface, a *Queries implementation wrapping either
// *sql.DB or *sql.Tx, typed Params/Row structs) because the teacher's own
// internal/db package was generated from a schema this project doesn't
// share; the shape is preserved, the queries are new.
package objectconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ObjectConfig is one row of config.objects.
type ObjectConfig struct {
	ID           int64
	Name         string
	DbName       string
	Fields       json.RawMessage
	LastSyncTime time.Time
}

// DBTX is satisfied by both *sql.DB and *sql.Tx, the same split the
// teacher's store package uses to let a Queries run either standalone or
// inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Querier is the interface consumed by the rdb package, so tests can
// substitute a stub without a live database.
type Querier interface {
	SaveObjectConfig(ctx context.Context, arg SaveObjectConfigParams) (ObjectConfig, error)
	GetObjectConfigByName(ctx context.Context, name string) (ObjectConfig, error)
	GetObjectConfigByDbName(ctx context.Context, dbName string) (ObjectConfig, error)
	ListStaleObjectConfigs(ctx context.Context, olderThan time.Time) ([]ObjectConfig, error)
	UpdateLastSyncTime(ctx context.Context, id int64) error
	DeleteObjectConfig(ctx context.Context, id int64) error
}

// Queries implements Querier against a DBTX.
type Queries struct {
	db DBTX
}

// New returns a Queries backed by db (a pool or a transaction).
func New(db DBTX) *Queries { return &Queries{db: db} }

// WithTx returns a Queries bound to tx, for use inside a transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries { return &Queries{db: tx} }

// SaveObjectConfigParams are the columns provided by Setup when a new
// mirrored object is provisioned. LastSyncTime is always now() at
// creation (see spec.md §4.4).
type SaveObjectConfigParams struct {
	Name   string
	DbName string
	Fields json.RawMessage
}

const saveObjectConfigQuery = `
INSERT INTO config.objects (name, db_name, fields, last_sync_time)
VALUES ($1, $2, $3, NOW())
RETURNING id, name, db_name, fields, last_sync_time`

func (q *Queries) SaveObjectConfig(ctx context.Context, arg SaveObjectConfigParams) (ObjectConfig, error) {
	row := q.db.QueryRowContext(ctx, saveObjectConfigQuery, arg.Name, arg.DbName, arg.Fields)
	return scanObjectConfig(row)
}

const getObjectConfigByNameQuery = `
SELECT id, name, db_name, fields, last_sync_time
FROM config.objects
WHERE name = $1`

func (q *Queries) GetObjectConfigByName(ctx context.Context, name string) (ObjectConfig, error) {
	row := q.db.QueryRowContext(ctx, getObjectConfigByNameQuery, name)
	return scanObjectConfig(row)
}

const getObjectConfigByDbNameQuery = `
SELECT id, name, db_name, fields, last_sync_time
FROM config.objects
WHERE db_name = $1`

// GetObjectConfigByDbName looks up a config row by its local (lower-cased)
// table name — used by Egress, which only has the MirrorTable name from a
// notification payload, never the original remote casing.
func (q *Queries) GetObjectConfigByDbName(ctx context.Context, dbName string) (ObjectConfig, error) {
	row := q.db.QueryRowContext(ctx, getObjectConfigByDbNameQuery, dbName)
	return scanObjectConfig(row)
}

const listStaleObjectConfigsQuery = `
SELECT id, name, db_name, fields, last_sync_time
FROM config.objects
WHERE last_sync_time < $1
ORDER BY id`

func (q *Queries) ListStaleObjectConfigs(ctx context.Context, olderThan time.Time) ([]ObjectConfig, error) {
	rows, err := q.db.QueryContext(ctx, listStaleObjectConfigsQuery, olderThan)
	if err != nil {
		return nil, fmt.Errorf("objectconfig: list stale: %w", err)
	}
	defer rows.Close()

	var out []ObjectConfig
	for rows.Next() {
		var oc ObjectConfig
		if err := rows.Scan(&oc.ID, &oc.Name, &oc.DbName, &oc.Fields, &oc.LastSyncTime); err != nil {
			return nil, fmt.Errorf("objectconfig: scan stale row: %w", err)
		}
		out = append(out, oc)
	}
	return out, rows.Err()
}

const updateLastSyncTimeQuery = `UPDATE config.objects SET last_sync_time = NOW() WHERE id = $1`

func (q *Queries) UpdateLastSyncTime(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, updateLastSyncTimeQuery, id)
	if err != nil {
		return fmt.Errorf("objectconfig: update last sync time: %w", err)
	}
	return nil
}

const deleteObjectConfigQuery = `DELETE FROM config.objects WHERE id = $1`

func (q *Queries) DeleteObjectConfig(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteObjectConfigQuery, id)
	if err != nil {
		return fmt.Errorf("objectconfig: delete: %w", err)
	}
	return nil
}

func scanObjectConfig(row *sql.Row) (ObjectConfig, error) {
	var oc ObjectConfig
	err := row.Scan(&oc.ID, &oc.Name, &oc.DbName, &oc.Fields, &oc.LastSyncTime)
	if err != nil {
		return ObjectConfig{}, err
	}
	return oc, nil
}
