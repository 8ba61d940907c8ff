package record

import (
	"database/sql"
	"encoding/json"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

func TestValue_MarshalJSON(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Value{Kind: KindNull}, "null"},
		{Value{Kind: KindI32, I32: 7}, "7"},
		{Value{Kind: KindI64, I64: 9000000000}, "9000000000"},
		{Value{Kind: KindF64, F64: 1.5}, "1.5"},
		{Value{Kind: KindBool, Bool: true}, "true"},
		{Value{Kind: KindString, Str: "hi"}, `"hi"`},
	}
	for _, c := range cases {
		b, err := json.Marshal(c.v)
		if err != nil {
			t.Fatalf("marshal %+v: %v", c.v, err)
		}
		if string(b) != c.want {
			t.Errorf("Value %+v marshaled to %q, want %q", c.v, string(b), c.want)
		}
	}
}

func TestRecord_MarshalJSON_PreservesOrderAndOmitsMissingSfid(t *testing.T) {
	rec := &Record{
		ID: 1,
		Fields: []Field{
			{Name: "name", Value: Value{Kind: KindString, Str: "Acme"}},
			{Name: "amount", Value: Value{Kind: KindF64, F64: 42}},
		},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	want := `{"name":"Acme","amount":42}`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestRecord_MarshalJSON_IncludesSfidWhenPresent(t *testing.T) {
	rec := &Record{
		ID:   1,
		Sfid: sql.NullString{String: "001xx0000003DGQAA2", Valid: true},
		Fields: []Field{
			{Name: "name", Value: Value{Kind: KindString, Str: "Acme"}},
		},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"sfid":"001xx0000003DGQAA2","name":"Acme"}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", string(b), want)
	}
}

// openTestDB opens a real connection for the Decode integration test, or
// skips if DATABASE_URL is not set — same gating as internal/rdb's tests
// and the teacher's internal/store/store_test.go.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDecode_RejectsAllNullRow(t *testing.T) {
	db := openTestDB(t)
	rows, err := db.Query(`SELECT 1::bigint AS id, NULL::varchar AS sfid, NULL::varchar AS name`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	if !rows.Next() {
		t.Fatal("expected one row")
	}
	_, err = Decode(rows)
	if err != ErrAllNull {
		t.Fatalf("got %v, want ErrAllNull", err)
	}
}

func TestDecode_DecodesScalarColumns(t *testing.T) {
	db := openTestDB(t)
	rows, err := db.Query(`SELECT 1::bigint AS id, '001xx'::varchar AS sfid, 'Acme'::varchar AS name, 42.5::float8 AS amount`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	if !rows.Next() {
		t.Fatal("expected one row")
	}
	rec, err := Decode(rows)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Sfid.String != "001xx" {
		t.Errorf("sfid = %q", rec.Sfid.String)
	}
	if len(rec.Fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(rec.Fields))
	}
	if rec.Fields[0].Value.Str != "Acme" {
		t.Errorf("name = %+v", rec.Fields[0].Value)
	}
	if rec.Fields[1].Value.F64 != 42.5 {
		t.Errorf("amount = %+v", rec.Fields[1].Value)
	}
}
