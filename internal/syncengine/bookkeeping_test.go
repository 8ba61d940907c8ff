package syncengine

import (
	"database/sql"
	"testing"

	"github.com/dahateb/rust-crm-sync/internal/record"
)

func TestStripBookkeeping_RemovesInternalColumnsAndSfid(t *testing.T) {
	rec := &record.Record{
		ID:   7,
		Sfid: sql.NullString{String: "001xx000000001", Valid: true},
		Fields: []record.Field{
			{Name: "name", Value: record.Value{Kind: record.KindString, Str: "Acme"}},
			{Name: "_s_state", Value: record.Value{Kind: record.KindString, Str: "OK"}},
			{Name: "_s_error", Value: record.Value{Kind: record.KindNull}},
			{Name: "_s_created", Value: record.Value{Kind: record.KindString, Str: "2026-01-01"}},
			{Name: "_s_updated", Value: record.Value{Kind: record.KindNull}},
		},
	}

	out := stripBookkeeping(rec)
	if out.Sfid.Valid {
		t.Fatal("stripBookkeeping must clear sfid so it is not sent back to SOR")
	}
	if len(out.Fields) != 1 || out.Fields[0].Name != "name" {
		t.Fatalf("got fields %+v, want only [name]", out.Fields)
	}

	b, err := out.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != `{"name":"Acme"}` {
		t.Fatalf("marshaled payload = %s, want {\"name\":\"Acme\"}", got)
	}
}
