// Package rdb is the connection-pooled gateway to the relational
// database holding the mirror: schema provisioning, row upsert under the
// per-table lock flag, change-notification drain, and the object-config
// metadata store.
//
// Grounded on the teacher's internal/store package for the pool-plus-
// Querier wrapping and transaction idiom, and on the original
// implementation's db/mod.rs and sync/executer/executer_db.rs for the
// provisioning and notification semantics. LISTEN/NOTIFY uses
// github.com/lib/pq's pq.Listener, the same driver the teacher already
// depends on for database/sql.
package rdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/dahateb/rust-crm-sync/internal/objectconfig"
	"github.com/dahateb/rust-crm-sync/internal/querybuilder"
	"github.com/dahateb/rust-crm-sync/internal/record"
	"github.com/dahateb/rust-crm-sync/internal/sor"
	"github.com/dahateb/rust-crm-sync/internal/typemap"
)

// MirrorSchema is the RDB schema every MirrorTable lives in.
const MirrorSchema = "salesforce"

// NotifyChannel is the LISTEN/NOTIFY channel name the prerequisite
// notify_change() stored procedure publishes to.
const NotifyChannel = "salesforce_data"

// SchemaExistsError is returned by CreateObjectTable when the table
// already exists — surfaced as 422 at the control plane.
type SchemaExistsError struct {
	LocalName string
}

func (e *SchemaExistsError) Error() string {
	return fmt.Sprintf("rdb: object %q already exists", e.LocalName)
}

// Gateway is the sole RDB access point for the rest of the engine.
type Gateway struct {
	pool *sql.DB
	oc   objectconfig.Querier
	dsn  string
	log  *slog.Logger

	listener *pq.Listener
}

// New returns a Gateway backed by pool. dsn is retained so a dedicated
// pq.Listener connection can be opened independently of the pool, per
// the Open Question in spec.md §9 (a pool connection can churn; LISTEN
// requires one that doesn't).
func New(pool *sql.DB, dsn string, log *slog.Logger) *Gateway {
	return &Gateway{pool: pool, oc: objectconfig.New(pool), dsn: dsn, log: log}
}

// SelectedObject pairs an ObjectConfig with its MirrorTable row count.
type SelectedObject struct {
	objectconfig.ObjectConfig
	RowCount int64
}

// SaveObjectConfig inserts a config row with lastSyncAt = now().
func (g *Gateway) SaveObjectConfig(ctx context.Context, desc sor.RemoteObjectDescriptor) (objectconfig.ObjectConfig, error) {
	fields, err := json.Marshal(desc.Fields)
	if err != nil {
		return objectconfig.ObjectConfig{}, fmt.Errorf("rdb: marshal fields: %w", err)
	}
	return g.oc.SaveObjectConfig(ctx, objectconfig.SaveObjectConfigParams{
		Name:   desc.Name,
		DbName: strings.ToLower(desc.Name),
		Fields: fields,
	})
}

// GetObjectConfig looks up a config row by lowercased remote name.
// Returns (zero, false, nil) if no such object is configured.
func (g *Gateway) GetObjectConfig(ctx context.Context, remoteName string) (objectconfig.ObjectConfig, bool, error) {
	oc, err := g.oc.GetObjectConfigByDbName(ctx, strings.ToLower(remoteName))
	if err == sql.ErrNoRows {
		return objectconfig.ObjectConfig{}, false, nil
	}
	if err != nil {
		return objectconfig.ObjectConfig{}, false, fmt.Errorf("rdb: get object config: %w", err)
	}
	return oc, true, nil
}

// GetObjectConfigByLocalName looks up a config row by its MirrorTable
// (lower-cased) name — used by Egress, which only knows the local table
// name from a notification payload. Returns (zero, false, nil) if no such
// object is configured.
func (g *Gateway) GetObjectConfigByLocalName(ctx context.Context, localName string) (objectconfig.ObjectConfig, bool, error) {
	oc, err := g.oc.GetObjectConfigByDbName(ctx, localName)
	if err == sql.ErrNoRows {
		return objectconfig.ObjectConfig{}, false, nil
	}
	if err != nil {
		return objectconfig.ObjectConfig{}, false, fmt.Errorf("rdb: get object config by local name: %w", err)
	}
	return oc, true, nil
}

// ListSelectedObjects returns ObjectConfigs whose lastSyncAt is older
// than intervalMinutes, each annotated with its MirrorTable row count.
func (g *Gateway) ListSelectedObjects(ctx context.Context, intervalMinutes int) ([]SelectedObject, error) {
	cutoff := time.Now().Add(-time.Duration(intervalMinutes) * time.Minute)
	configs, err := g.oc.ListStaleObjectConfigs(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("rdb: list stale object configs: %w", err)
	}

	out := make([]SelectedObject, 0, len(configs))
	for _, oc := range configs {
		var count int64
		q := fmt.Sprintf("SELECT count(*) FROM %s.%s", MirrorSchema, oc.DbName)
		if err := g.pool.QueryRowContext(ctx, q).Scan(&count); err != nil {
			return nil, fmt.Errorf("rdb: count rows for %s: %w", oc.DbName, err)
		}
		out = append(out, SelectedObject{ObjectConfig: oc, RowCount: count})
	}
	return out, nil
}

// CreateObjectTable builds and executes a CREATE TABLE with TypeMap
// column mappings, skipping fields named "Id" and of kind address. The
// bookkeeping columns from spec.md §3 are always appended.
func (g *Gateway) CreateObjectTable(ctx context.Context, localName string, fields []sor.RemoteFieldDescriptor) error {
	table := MirrorSchema + "." + localName
	b := querybuilder.NewCreateTable(table)
	b.AddField("id", "SERIAL PRIMARY KEY")
	b.AddField("sfid", "varchar(18)")
	for _, f := range fields {
		if strings.EqualFold(f.Name, "Id") || typemap.IsAddress(f.Kind) {
			continue
		}
		b.AddField(f.Name, typemap.ColumnType(f.Kind, f.Length))
	}
	b.AddField("_s_error", "TEXT")
	b.AddField("_s_state", "varchar(20) DEFAULT 'OK'")
	b.AddField("_s_created", "TIMESTAMP DEFAULT NOW()")
	b.AddField("_s_updated", "TIMESTAMP")

	_, err := g.pool.ExecContext(ctx, b.Build())
	if err != nil {
		if isAlreadyExists(err) {
			return &SchemaExistsError{LocalName: localName}
		}
		return fmt.Errorf("rdb: create table %s: %w", table, err)
	}
	return nil
}

// AddChangeTrigger installs an AFTER INSERT OR UPDATE row-level trigger
// that fires the pre-installed salesforce.notify_change() procedure.
func (g *Gateway) AddChangeTrigger(ctx context.Context, localName string) error {
	table := MirrorSchema + "." + localName
	stmt := fmt.Sprintf(
		"CREATE TRIGGER %s_notify AFTER INSERT OR UPDATE ON %s FOR EACH ROW EXECUTE PROCEDURE %s.notify_change()",
		localName, table, MirrorSchema,
	)
	if _, err := g.pool.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("rdb: add change trigger on %s: %w", table, err)
	}
	return nil
}

// UpdateLastSyncTime bumps an ObjectConfig's high-water mark to now().
func (g *Gateway) UpdateLastSyncTime(ctx context.Context, id int64) error {
	return g.oc.UpdateLastSyncTime(ctx, id)
}

// UpsertRows attempts an UPDATE by sfid for each row in batch; rows
// affecting zero existing rows fall back to INSERT. Returns the total
// number of rows affected. Every write happens under the per-table lock
// flag, on a single dedicated connection.
func (g *Gateway) UpsertRows(ctx context.Context, localName string, batch map[string]sor.PulledRow) (int, error) {
	total := 0
	err := g.withLock(ctx, localName, func(conn *sql.Conn) error {
		for remoteID, row := range batch {
			n, err := g.upsertOne(ctx, conn, localName, remoteID, row)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

func (g *Gateway) upsertOne(ctx context.Context, conn *sql.Conn, localName, remoteID string, row sor.PulledRow) (int, error) {
	table := MirrorSchema + "." + localName
	upd := querybuilder.NewUpdateRow(table)
	for i, col := range row.Columns {
		upd.AddField(col, row.Values[i])
	}
	upd.AddAndWhere("sfid", remoteID, "=")

	res, err := conn.ExecContext(ctx, upd.Build())
	if err != nil {
		return 0, fmt.Errorf("rdb: update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rdb: rows affected: %w", err)
	}
	if n > 0 {
		return int(n), nil
	}

	if err := g.insertOne(ctx, conn, localName, remoteID, row); err != nil {
		return 0, err
	}
	return 1, nil
}

// InsertRows inserts every row in batch unconditionally — used for
// pagination pages after the first, where rows are known to be new.
func (g *Gateway) InsertRows(ctx context.Context, localName string, batch map[string]sor.PulledRow) (int, error) {
	total := 0
	err := g.withLock(ctx, localName, func(conn *sql.Conn) error {
		for remoteID, row := range batch {
			if err := g.insertOne(ctx, conn, localName, remoteID, row); err != nil {
				return err
			}
			total++
		}
		return nil
	})
	return total, err
}

func (g *Gateway) insertOne(ctx context.Context, conn *sql.Conn, localName, remoteID string, row sor.PulledRow) error {
	table := MirrorSchema + "." + localName
	cols := append([]string{"sfid"}, row.Columns...)
	vals := append([]string{querybuilder.EscapeLiteral("'" + strings.ReplaceAll(remoteID, "'", "''") + "'")}, row.Values...)
	cols = append(cols, "_s_state", "_s_created")
	vals = append(vals, "'OK'", "NOW()")

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ","), strings.Join(vals, ","))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("rdb: insert %s: %w", table, err)
	}
	return nil
}

// SetErrorState marks a single MirrorTable row as failed.
func (g *Gateway) SetErrorState(ctx context.Context, localName string, id int64, message string) error {
	return g.withLock(ctx, localName, func(conn *sql.Conn) error {
		table := MirrorSchema + "." + localName
		upd := querybuilder.NewUpdateRow(table)
		upd.AddField("_s_state", "'ERROR'")
		upd.AddField("_s_error", "'"+strings.ReplaceAll(message, "'", "''")+"'")
		upd.AddAndWhere("id", fmt.Sprintf("%d", id), "=")
		_, err := conn.ExecContext(ctx, upd.Build())
		if err != nil {
			return fmt.Errorf("rdb: set error state on %s: %w", table, err)
		}
		return nil
	})
}

// UpdateRemoteIds writes back remote ids for rows created by a
// successful Egress insert, keyed by local id.
func (g *Gateway) UpdateRemoteIds(ctx context.Context, localName string, idMap map[int64]string) error {
	return g.withLock(ctx, localName, func(conn *sql.Conn) error {
		table := MirrorSchema + "." + localName
		for localID, remoteID := range idMap {
			upd := querybuilder.NewUpdateRow(table)
			upd.AddField("sfid", "'"+strings.ReplaceAll(remoteID, "'", "''")+"'")
			upd.AddAndWhere("id", fmt.Sprintf("%d", localID), "=")
			if _, err := conn.ExecContext(ctx, upd.Build()); err != nil {
				return fmt.Errorf("rdb: update remote id on %s: %w", table, err)
			}
		}
		return nil
	})
}

// GetRowsById selects full rows by local id for egress payload assembly.
// The returned Records still carry the bookkeeping columns
// (_s_error/_s_state/_s_created/_s_updated); callers building a SOR
// payload must drop those before marshaling.
func (g *Gateway) GetRowsById(ctx context.Context, localName string, ids []int64) ([]*record.Record, error) {
	table := MirrorSchema + "." + localName
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE id = ANY($1) ORDER BY id", table)
	rows, err := g.pool.QueryContext(ctx, stmt, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("rdb: get rows by id on %s: %w", table, err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		rec, err := record.Decode(rows)
		if err != nil {
			if err == record.ErrAllNull {
				continue
			}
			return nil, fmt.Errorf("rdb: decode row on %s: %w", table, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// withLock opens a dedicated connection, sets the per-table lock flag,
// runs fn, then clears the flag — all on that one connection, per the
// invariant in spec.md §4.4/§9.
func (g *Gateway) withLock(ctx context.Context, localName string, fn func(conn *sql.Conn) error) error {
	conn, err := g.pool.Conn(ctx)
	if err != nil {
		return fmt.Errorf("rdb: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, querybuilder.LockQuery(localName, true)); err != nil {
		return fmt.Errorf("rdb: set lock flag on %s: %w", localName, err)
	}
	fnErr := fn(conn)
	if _, err := conn.ExecContext(ctx, querybuilder.LockQuery(localName, false)); err != nil {
		g.log.Error("rdb: clear lock flag failed", "object", localName, "error", err)
	}
	return fnErr
}

// ToggleListen starts or stops the dedicated LISTEN connection. The
// listener, once created, is kept open across toggles — only channel
// membership changes — because LISTEN/NOTIFY delivery requires a
// connection that never churns back to the pool.
func (g *Gateway) ToggleListen(ctx context.Context, on bool) error {
	if g.listener == nil {
		g.listener = pq.NewListener(g.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				g.log.Error("rdb: listener event error", "error", err)
			}
		})
	}
	if on {
		if err := g.listener.Listen(NotifyChannel); err != nil && err != pq.ErrChannelAlreadyOpen {
			return fmt.Errorf("rdb: listen %s: %w", NotifyChannel, err)
		}
		return nil
	}
	if err := g.listener.Unlisten(NotifyChannel); err != nil && err != pq.ErrChannelNotOpen {
		return fmt.Errorf("rdb: unlisten %s: %w", NotifyChannel, err)
	}
	return nil
}

// DrainNotifications performs a non-blocking read of every notification
// currently queued on the listener, returning their payloads.
func (g *Gateway) DrainNotifications() []string {
	if g.listener == nil {
		return nil
	}
	var out []string
	for {
		select {
		case n := <-g.listener.Notify:
			if n != nil {
				out = append(out, n.Extra)
			}
		default:
			return out
		}
	}
}

// Destroy drops a MirrorTable and removes its config row.
func (g *Gateway) Destroy(ctx context.Context, id int64, remoteName string) error {
	localName := strings.ToLower(remoteName)
	table := MirrorSchema + "." + localName
	if _, err := g.pool.ExecContext(ctx, "DROP TABLE "+table); err != nil {
		return fmt.Errorf("rdb: drop table %s: %w", table, err)
	}
	if err := g.oc.DeleteObjectConfig(ctx, id); err != nil {
		return fmt.Errorf("rdb: delete object config: %w", err)
	}
	return nil
}

// Close releases the dedicated listener connection, if one was opened.
func (g *Gateway) Close() error {
	if g.listener != nil {
		return g.listener.Close()
	}
	return nil
}

func isAlreadyExists(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "42P07" // duplicate_table
	}
	return false
}
