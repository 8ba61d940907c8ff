package typemap

import "testing"

// recognizedKinds mirrors the table in §4.1: every kind the mapper is
// documented to special-case.
var recognizedKinds = []Kind{
	KindID, KindString, KindPicklist, KindDouble, KindCurrency,
	KindPercent, KindInt, KindDatetime, KindDate, KindBoolean,
}

func TestColumnType_Totality(t *testing.T) {
	lengths := []int{1, 255, 256, 10_000}
	for _, k := range recognizedKinds {
		for _, l := range lengths {
			got := ColumnType(k, l)
			if got == "" {
				t.Fatalf("ColumnType(%q, %d) returned empty string", k, l)
			}
		}
	}
}

func TestColumnType_UnknownKindFallsBackToVarchar(t *testing.T) {
	got := ColumnType(Kind("nonsense"), 50)
	if got != "varchar" {
		t.Fatalf("unknown kind: got %q, want %q", got, "varchar")
	}
	got = ColumnType("", 0)
	if got != "varchar" {
		t.Fatalf("empty kind: got %q, want %q", got, "varchar")
	}
}

func TestColumnType_StringLengthBoundary(t *testing.T) {
	cases := []struct {
		length int
		want   string
	}{
		{1, "varchar(1)"},
		{255, "varchar(255)"},
		{256, "text"},
		{10_000, "text"},
	}
	for _, c := range cases {
		got := ColumnType(KindString, c.length)
		if got != c.want {
			t.Errorf("ColumnType(string, %d) = %q, want %q", c.length, got, c.want)
		}
	}
}

func TestColumnType_NumericAndScalarKinds(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindDouble, "double precision"},
		{KindCurrency, "double precision"},
		{KindPercent, "double precision"},
		{KindInt, "integer"},
		{KindDatetime, "timestamp"},
		{KindDate, "date"},
		{KindBoolean, "boolean"},
	}
	for _, c := range cases {
		if got := ColumnType(c.kind, 0); got != c.want {
			t.Errorf("ColumnType(%s, 0) = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestIsAddress(t *testing.T) {
	if !IsAddress(KindAddress) {
		t.Fatal("IsAddress(address) = false, want true")
	}
	if IsAddress(KindString) {
		t.Fatal("IsAddress(string) = true, want false")
	}
}
