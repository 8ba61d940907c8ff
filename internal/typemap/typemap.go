// Package typemap converts remote field descriptors into RDB column type
// strings. It is intentionally dependency-free: it imports nothing from
// internal/ and can be tested without a database.
package typemap

import "fmt"

// Kind is the remote field-type vocabulary understood by the mapper. The
// zero value (empty string) and any value outside this set fall back to
// the default varchar mapping — ColumnType is total by construction.
type Kind string

const (
	KindID       Kind = "id"
	KindString   Kind = "string"
	KindPicklist Kind = "picklist"
	KindDouble   Kind = "double"
	KindCurrency Kind = "currency"
	KindPercent  Kind = "percent"
	KindInt      Kind = "int"
	KindDatetime Kind = "datetime"
	KindDate     Kind = "date"
	KindBoolean  Kind = "boolean"
	KindAddress  Kind = "address"
)

// varcharCeiling is the length above which a varchar-family field degrades
// to text rather than an unbounded varchar(n).
const varcharCeiling = 255

// ColumnType returns the SQL column type for a remote field of the given
// kind and character length. It is total: an unrecognised kind never
// errors, it returns the default "varchar" mapping.
func ColumnType(kind Kind, length int) string {
	switch kind {
	case KindID, KindString, KindPicklist:
		if length > 0 && length <= varcharCeiling {
			return fmt.Sprintf("varchar(%d)", length)
		}
		return "text"
	case KindDouble, KindCurrency, KindPercent:
		return "double precision"
	case KindInt:
		return "integer"
	case KindDatetime:
		return "timestamp"
	case KindDate:
		return "date"
	case KindBoolean:
		return "boolean"
	default:
		return "varchar"
	}
}

// IsAddress reports whether kind is the address kind, which
// RdbGateway.CreateObjectTable and the Ingress codec must skip entirely —
// address fields have no single-column RDB representation.
func IsAddress(kind Kind) bool { return kind == KindAddress }
