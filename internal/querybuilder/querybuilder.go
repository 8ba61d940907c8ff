// Package querybuilder composes the CREATE TABLE and UPDATE statements
// RdbGateway issues against MirrorTables, and centralises the quoting and
// lock-flag SQL so both apply uniformly everywhere a write happens.
//
// Grounded on the query builder in the original implementation
// (db/query.rs): same two-builder split, same escaping rule, same
// trailing `_s_updated = NOW()` clause.
package querybuilder

import (
	"fmt"
	"strings"
)

// CreateTableBuilder accumulates column definitions for a CREATE TABLE
// statement against a single table.
type CreateTableBuilder struct {
	tableName string
	fields    []string
}

// NewCreateTable starts a builder for the given fully-qualified table name
// (e.g. "salesforce.account").
func NewCreateTable(tableName string) *CreateTableBuilder {
	return &CreateTableBuilder{tableName: tableName}
}

// AddField appends one "<name> <type>" column definition. name is
// lower-cased to match RDB identifier conventions.
func (b *CreateTableBuilder) AddField(name, fieldType string) {
	b.fields = append(b.fields, fmt.Sprintf("%s %s", strings.ToLower(name), fieldType))
}

// Build renders the final CREATE TABLE statement.
func (b *CreateTableBuilder) Build() string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(b.tableName)
	sb.WriteString("(")
	sb.WriteString(strings.Join(b.fields, ","))
	sb.WriteString(")")
	return sb.String()
}

// UpdateRowBuilder accumulates SET assignments and WHERE clauses for an
// UPDATE statement against a MirrorTable.
type UpdateRowBuilder struct {
	tableName string
	fields    []string
	andWhere  []string
}

// NewUpdateRow starts a builder for the given fully-qualified table name.
func NewUpdateRow(tableName string) *UpdateRowBuilder {
	return &UpdateRowBuilder{tableName: tableName}
}

// AddField appends one "<name>=<escaped value>" assignment. value is
// escaped with EscapeLiteral, so callers must pass it already wrapped in
// single quotes if it is a string literal.
func (b *UpdateRowBuilder) AddField(name, value string) {
	b.fields = append(b.fields, fmt.Sprintf("%s=%s", name, EscapeLiteral(value)))
}

// AddAndWhere appends one "<name> <operator> '<escaped value>'" clause,
// ANDed with any others already added.
func (b *UpdateRowBuilder) AddAndWhere(name, value, operator string) {
	b.andWhere = append(b.andWhere, fmt.Sprintf("%s %s '%s'", name, operator, EscapeLiteral(value)))
}

// Build renders the final UPDATE statement. Every build always appends a
// trailing ", _s_updated = NOW()" clause (see §8 "Update builder"); a
// WHERE clause is appended only if at least one AND-condition was added.
func (b *UpdateRowBuilder) Build() string {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.tableName)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(b.fields, ","))
	sb.WriteString(", _s_updated = NOW() ")
	if len(b.andWhere) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.andWhere, " AND "))
	}
	return sb.String()
}

// EscapeLiteral doubles embedded single quotes, but only when elem is
// already wrapped in a leading and trailing single quote — the wrappers
// are preserved and only the interior is rewritten. A string with no
// surrounding quotes is returned unchanged.
func EscapeLiteral(elem string) string {
	if len(elem) >= 2 && strings.HasPrefix(elem, "'") && strings.HasSuffix(elem, "'") {
		inner := elem[1 : len(elem)-1]
		inner = strings.ReplaceAll(inner, "'", "''")
		return "'" + inner + "'"
	}
	return elem
}

// LockQuery renders the set_config statement Egress/Ingress use to flip a
// table's per-session lock flag before and after a Mirror write, so the
// notification trigger on the same table is suppressed while the flag is
// set. objectName is the bare (unqualified, lower-cased) table name.
func LockQuery(objectName string, lock bool) string {
	if lock {
		return fmt.Sprintf("SELECT set_config('salesforce.%s_lock','lock', false);", objectName)
	}
	return fmt.Sprintf("SELECT set_config('salesforce.%s_lock','', false);", objectName)
}
