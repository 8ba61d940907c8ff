package querybuilder

import "testing"

func TestCreateTableBuilder(t *testing.T) {
	b := NewCreateTable("salesforce.account")
	b.AddField("id", "SERIAL PRIMARY KEY")
	b.AddField("Sfid", "varchar(18)")
	b.AddField("Name", "varchar(255)")
	got := b.Build()
	want := "CREATE TABLE salesforce.account(id SERIAL PRIMARY KEY,sfid varchar(18),name varchar(255))"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUpdateRowBuilder_NoWhere(t *testing.T) {
	b := NewUpdateRow("salesforce.account")
	b.AddField("name", "'Acme'")
	got := b.Build()
	if got != "UPDATE salesforce.account SET name='Acme', _s_updated = NOW() " {
		t.Fatalf("got %q", got)
	}
}

func TestUpdateRowBuilder_WithWhere(t *testing.T) {
	b := NewUpdateRow("salesforce.account")
	b.AddField("name", "'Acme'")
	b.AddAndWhere("sfid", "001xx", "=")
	got := b.Build()
	want := "UPDATE salesforce.account SET name='Acme', _s_updated = NOW()  WHERE sfid = '001xx'"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEscapeLiteral(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"'plain'", "'plain'"},
		{"'O''Brien already escaped'", "'O''''Brien already escaped'"},
		{"'it's a test'", "'it''s a test'"},
		{"no quotes here", "no quotes here"},
		{"'", "'"},
	}
	for _, c := range cases {
		if got := EscapeLiteral(c.in); got != c.want {
			t.Errorf("EscapeLiteral(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEscapeLiteral_RoundTrip(t *testing.T) {
	// applied twice equals applied once iff s contains no quotes
	noQuotes := "'hello world'"
	once := EscapeLiteral(noQuotes)
	twice := EscapeLiteral(once)
	if once != twice {
		t.Fatalf("quote-free input should be idempotent: once=%q twice=%q", once, twice)
	}

	withQuotes := "'it's here'"
	once = EscapeLiteral(withQuotes)
	twice = EscapeLiteral(once)
	if once == twice {
		t.Fatalf("input with embedded quotes must not be idempotent: once=%q twice=%q", once, twice)
	}
}

func TestEscapeLiteral_UnwrappedUnchanged(t *testing.T) {
	in := "bare-identifier"
	if got := EscapeLiteral(in); got != in {
		t.Fatalf("got %q, want %q", got, in)
	}
}

func TestLockQuery(t *testing.T) {
	if got := LockQuery("account", true); got != "SELECT set_config('salesforce.account_lock','lock', false);" {
		t.Fatalf("lock: got %q", got)
	}
	if got := LockQuery("account", false); got != "SELECT set_config('salesforce.account_lock','', false);" {
		t.Fatalf("unlock: got %q", got)
	}
}
