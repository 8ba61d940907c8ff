// Package record decodes a MirrorTable row into an order-preserving,
// JSON-serializable representation suitable for pushing back to SOR.
//
// Grounded on the original implementation's db/record.rs: the same
// column-type-driven decode switch and the same "reject an all-null row"
// rule, adapted to database/sql's DatabaseTypeName rather than a
// statically typed postgres column enum.
package record

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrAllNull is returned by Decode when a row's sfid and every decoded
// user-field value are null — such rows are never pushed back to SOR.
var ErrAllNull = errors.New("record: row has no sfid and no non-null field values")

// Kind tags the scalar type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindI32
	KindI64
	KindF32
	KindF64
	KindBool
	KindString
)

// Value is a tagged union over the scalar types a MirrorTable column can
// hold. It marshals "untagged": the scalar appears inline in JSON, and a
// null Value marshals to JSON null.
type Value struct {
	Kind Kind
	I32  int32
	I64  int64
	F32  float32
	F64  float64
	Bool bool
	Str  string
}

// MarshalJSON implements the untagged representation described in §4.5.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindI32:
		return json.Marshal(v.I32)
	case KindI64:
		return json.Marshal(v.I64)
	case KindF32:
		return json.Marshal(v.F32)
	case KindF64:
		return json.Marshal(v.F64)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

// Field is one named, ordered column value.
type Field struct {
	Name  string
	Value Value
}

// Record is a decoded MirrorTable row: the surrogate id, the optional
// remote id, and the remaining columns in their original order.
type Record struct {
	ID     int64
	Sfid   sql.NullString
	Fields []Field
}

// MarshalJSON renders an ordered JSON object: "sfid" (if present) followed
// by each field in column order. Go's map type would not preserve that
// order, so the object is built manually.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, val json.Marshaler) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, _ := json.Marshal(key)
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := val.MarshalJSON()
		if err != nil {
			return err
		}
		buf.Write(vb)
		return nil
	}
	if r.Sfid.Valid {
		if err := write("sfid", Value{Kind: KindString, Str: r.Sfid.String}); err != nil {
			return nil, err
		}
	}
	for _, f := range r.Fields {
		if err := write(f.Name, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode reads the current row of rows (which must already be positioned
// by a successful rows.Next()) into a Record. The first column must be
// the surrogate id, the second the nullable sfid; every subsequent column
// becomes a Field, decoded according to its reported database type name.
//
// Decode returns ErrAllNull if sfid is null and every decoded field value
// is also null — such a row carries nothing worth pushing back to SOR.
func Decode(rows *sql.Rows) (*Record, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("record: column types: %w", err)
	}
	if len(cols) < 2 {
		return nil, fmt.Errorf("record: expected at least id and sfid columns, got %d", len(cols))
	}

	scanDest := make([]any, len(cols))
	var id int64
	var sfid sql.NullString
	scanDest[0] = &id
	scanDest[1] = &sfid

	raw := make([]sql.NullString, len(cols)-2)
	kinds := make([]Kind, len(cols)-2)
	numeric := make([]any, len(cols)-2)

	for i := 2; i < len(cols); i++ {
		idx := i - 2
		switch dbType(cols[i]) {
		case "INT4":
			kinds[idx] = KindI32
			var v sql.NullInt32
			numeric[idx] = &v
			scanDest[i] = &v
		case "INT8":
			kinds[idx] = KindI64
			var v sql.NullInt64
			numeric[idx] = &v
			scanDest[i] = &v
		case "FLOAT8", "NUMERIC", "DECIMAL":
			kinds[idx] = KindF64
			var v sql.NullFloat64
			numeric[idx] = &v
			scanDest[i] = &v
		case "FLOAT4":
			kinds[idx] = KindF32
			var v sql.NullFloat64
			numeric[idx] = &v
			scanDest[i] = &v
		case "BOOL":
			kinds[idx] = KindBool
			var v sql.NullBool
			numeric[idx] = &v
			scanDest[i] = &v
		case "TIMESTAMP", "TIMESTAMPTZ", "DATE":
			kinds[idx] = KindString
			scanDest[i] = &raw[idx]
		default:
			kinds[idx] = KindString
			scanDest[i] = &raw[idx]
		}
	}

	if err := rows.Scan(scanDest...); err != nil {
		return nil, fmt.Errorf("record: scan: %w", err)
	}

	rec := &Record{ID: id, Sfid: sfid}
	allNull := true
	for i := 2; i < len(cols); i++ {
		idx := i - 2
		name := cols[i].Name()
		var val Value
		switch kinds[idx] {
		case KindI32:
			v := numeric[idx].(*sql.NullInt32)
			if v.Valid {
				val = Value{Kind: KindI32, I32: v.Int32}
				allNull = false
			} else {
				val = Value{Kind: KindNull}
			}
		case KindI64:
			v := numeric[idx].(*sql.NullInt64)
			if v.Valid {
				val = Value{Kind: KindI64, I64: v.Int64}
				allNull = false
			} else {
				val = Value{Kind: KindNull}
			}
		case KindF64:
			v := numeric[idx].(*sql.NullFloat64)
			if v.Valid {
				val = Value{Kind: KindF64, F64: v.Float64}
				allNull = false
			} else {
				val = Value{Kind: KindNull}
			}
		case KindF32:
			v := numeric[idx].(*sql.NullFloat64)
			if v.Valid {
				val = Value{Kind: KindF32, F32: float32(v.Float64)}
				allNull = false
			} else {
				val = Value{Kind: KindNull}
			}
		case KindBool:
			v := numeric[idx].(*sql.NullBool)
			if v.Valid {
				val = Value{Kind: KindBool, Bool: v.Bool}
				allNull = false
			} else {
				val = Value{Kind: KindNull}
			}
		default:
			if raw[idx].Valid {
				val = Value{Kind: KindString, Str: raw[idx].String}
				allNull = false
			} else {
				val = Value{Kind: KindNull}
			}
		}
		rec.Fields = append(rec.Fields, Field{Name: name, Value: val})
	}

	if !sfid.Valid && allNull {
		return nil, ErrAllNull
	}
	return rec, nil
}

// dbType normalises the driver-reported type name to upper case so the
// decode switch is resilient to driver differences (lib/pq vs others).
func dbType(c *sql.ColumnType) string {
	return strings.ToUpper(c.DatabaseTypeName())
}
