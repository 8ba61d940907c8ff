package objectconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

// openTestDB returns a *sql.DB from DATABASE_URL, skipping the suite when
// it is unset — the same DATABASE_URL-gated integration style as
// internal/rdb/gateway_test.go and the teacher's internal/store/store_test.go.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// withRollback runs fn against a *Queries bound to a transaction that is
// always rolled back, leaving config.objects clean after each test.
func withRollback(t *testing.T, pool *sql.DB, fn func(ctx context.Context, q *Queries)) {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback() })
	fn(ctx, New(pool).WithTx(tx))
}

func TestSaveAndGetObjectConfig_ByNameAndByDbName(t *testing.T) {
	pool := openTestDB(t)
	withRollback(t, pool, func(ctx context.Context, q *Queries) {
		fields, err := json.Marshal([]map[string]any{{"name": "Name", "type": "string"}})
		if err != nil {
			t.Fatal(err)
		}

		saved, err := q.SaveObjectConfig(ctx, SaveObjectConfigParams{
			Name: "Account", DbName: "account", Fields: fields,
		})
		if err != nil {
			t.Fatalf("SaveObjectConfig: %v", err)
		}
		if saved.ID == 0 {
			t.Fatal("expected a non-zero surrogate id")
		}
		if saved.LastSyncTime.IsZero() {
			t.Fatal("expected last_sync_time to be set to now() on creation")
		}

		byName, err := q.GetObjectConfigByName(ctx, "Account")
		if err != nil {
			t.Fatalf("GetObjectConfigByName: %v", err)
		}
		if byName.ID != saved.ID || byName.DbName != "account" {
			t.Fatalf("got %+v, want id=%d db_name=account", byName, saved.ID)
		}

		byDbName, err := q.GetObjectConfigByDbName(ctx, "account")
		if err != nil {
			t.Fatalf("GetObjectConfigByDbName: %v", err)
		}
		if byDbName.ID != saved.ID {
			t.Fatalf("got id %d, want %d", byDbName.ID, saved.ID)
		}
	})
}

func TestGetObjectConfigByName_NoRowsReturnsErrNoRows(t *testing.T) {
	pool := openTestDB(t)
	withRollback(t, pool, func(ctx context.Context, q *Queries) {
		_, err := q.GetObjectConfigByName(ctx, "NoSuchObject")
		if err != sql.ErrNoRows {
			t.Fatalf("got %v, want sql.ErrNoRows", err)
		}
	})
}

func TestUpdateLastSyncTime_IsMonotonicallyNonDecreasing(t *testing.T) {
	pool := openTestDB(t)
	withRollback(t, pool, func(ctx context.Context, q *Queries) {
		saved, err := q.SaveObjectConfig(ctx, SaveObjectConfigParams{
			Name: "Contact", DbName: "contact", Fields: json.RawMessage("[]"),
		})
		if err != nil {
			t.Fatal(err)
		}

		before, err := q.GetObjectConfigByName(ctx, "Contact")
		if err != nil {
			t.Fatal(err)
		}

		time.Sleep(10 * time.Millisecond)
		if err := q.UpdateLastSyncTime(ctx, saved.ID); err != nil {
			t.Fatalf("UpdateLastSyncTime: %v", err)
		}

		after, err := q.GetObjectConfigByName(ctx, "Contact")
		if err != nil {
			t.Fatal(err)
		}
		// NOW() is fixed for the whole transaction, so inside withRollback the
		// timestamp can stay equal; it must never move backwards.
		if after.LastSyncTime.Before(before.LastSyncTime) {
			t.Fatalf("last_sync_time decreased: before=%v after=%v", before.LastSyncTime, after.LastSyncTime)
		}
	})
}

func TestListStaleObjectConfigs_OnlyReturnsOlderThanCutoff(t *testing.T) {
	pool := openTestDB(t)
	withRollback(t, pool, func(ctx context.Context, q *Queries) {
		if _, err := q.SaveObjectConfig(ctx, SaveObjectConfigParams{
			Name: "Opportunity", DbName: "opportunity", Fields: json.RawMessage("[]"),
		}); err != nil {
			t.Fatal(err)
		}

		stale, err := q.ListStaleObjectConfigs(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("ListStaleObjectConfigs: %v", err)
		}
		found := false
		for _, oc := range stale {
			if oc.DbName == "opportunity" {
				found = true
			}
		}
		if !found {
			t.Fatal("expected Opportunity to be listed as stale against a future cutoff")
		}

		notStale, err := q.ListStaleObjectConfigs(ctx, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("ListStaleObjectConfigs: %v", err)
		}
		for _, oc := range notStale {
			if oc.DbName == "opportunity" {
				t.Fatal("a just-saved object should not be stale against a past cutoff")
			}
		}
	})
}

func TestDeleteObjectConfig_RemovesRow(t *testing.T) {
	pool := openTestDB(t)
	withRollback(t, pool, func(ctx context.Context, q *Queries) {
		saved, err := q.SaveObjectConfig(ctx, SaveObjectConfigParams{
			Name: "Lead", DbName: "lead", Fields: json.RawMessage("[]"),
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := q.DeleteObjectConfig(ctx, saved.ID); err != nil {
			t.Fatalf("DeleteObjectConfig: %v", err)
		}
		if _, err := q.GetObjectConfigByName(ctx, "Lead"); err != sql.ErrNoRows {
			t.Fatalf("got %v, want sql.ErrNoRows after delete", err)
		}
	})
}
