package sor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dahateb/rust-crm-sync/internal/typemap"
)

// RemoteFieldDescriptor describes one field of a remote object, as
// returned by the describe endpoint. Immutable once obtained.
type RemoteFieldDescriptor struct {
	Name       string      `json:"name"`
	Label      string      `json:"label"`
	Length     int         `json:"length"`
	Kind       typemap.Kind `json:"type"`
	Updateable bool        `json:"updateable"`
	Calculated bool        `json:"calculated"`
}

// RemoteObjectDescriptor describes one remote object type, as returned by
// the describe endpoint. Immutable once obtained.
type RemoteObjectDescriptor struct {
	Name          string                  `json:"name"`
	Label         string                  `json:"label"`
	Createable    bool                    `json:"createable"`
	Updateable    bool                    `json:"updateable"`
	Queryable     bool                    `json:"queryable"`
	Layoutable    bool                    `json:"layoutable"`
	CustomSetting bool                    `json:"customSetting"`
	Fields        []RemoteFieldDescriptor `json:"fields"`
}

// rawDescribe mirrors the remote describe endpoint's JSON shape: snake
// vs camel case and nested "fields" differ across SOR vendors, so parsing
// is isolated here rather than relying on struct tags matching exactly.
type rawDescribe struct {
	Name          string `json:"name"`
	Label         string `json:"label"`
	Createable    bool   `json:"createable"`
	Updateable    bool   `json:"updateable"`
	Queryable     bool   `json:"queryable"`
	Layoutable    bool   `json:"layoutable"`
	CustomSetting bool   `json:"customSetting"`
	Fields        []struct {
		Name       string `json:"name"`
		Label      string `json:"label"`
		Length     int    `json:"length"`
		Type       string `json:"type"`
		Updateable bool   `json:"updateable"`
		Calculated bool   `json:"calculated"`
	} `json:"fields"`
}

// ParseDescribe decodes the body of a describe-object call into a
// RemoteObjectDescriptor.
func ParseDescribe(body string) (RemoteObjectDescriptor, error) {
	var raw rawDescribe
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return RemoteObjectDescriptor{}, fmt.Errorf("sor: parse describe: %w", err)
	}
	desc := RemoteObjectDescriptor{
		Name:          raw.Name,
		Label:         raw.Label,
		Createable:    raw.Createable,
		Updateable:    raw.Updateable,
		Queryable:     raw.Queryable,
		Layoutable:    raw.Layoutable,
		CustomSetting: raw.CustomSetting,
	}
	for _, f := range raw.Fields {
		desc.Fields = append(desc.Fields, RemoteFieldDescriptor{
			Name:       f.Name,
			Label:      f.Label,
			Length:     f.Length,
			Kind:       typemap.Kind(strings.ToLower(f.Type)),
			Updateable: f.Updateable,
			Calculated: f.Calculated,
		})
	}
	return desc, nil
}

// CatalogEntry is one row of the global describe / object catalog list —
// lighter than RemoteObjectDescriptor since the catalog endpoint does not
// return field metadata.
type CatalogEntry struct {
	Name          string
	Label         string
	Createable    bool
	Queryable     bool
	Layoutable    bool
	CustomSetting bool
}

// Mirrorable reports whether the catalog entry qualifies for mirroring,
// per §4.6: (createable ∧ queryable ∧ layoutable) ∨ customSetting.
func (e CatalogEntry) Mirrorable() bool {
	return (e.Createable && e.Queryable && e.Layoutable) || e.CustomSetting
}

type rawCatalog struct {
	Sobjects []struct {
		Name          string `json:"name"`
		Label         string `json:"label"`
		Createable    bool   `json:"createable"`
		Queryable     bool   `json:"queryable"`
		Layoutable    bool   `json:"layoutable"`
		CustomSetting bool   `json:"customSetting"`
	} `json:"sobjects"`
}

// ParseCatalog decodes the body of the global describe call into the list
// of object catalog entries.
func ParseCatalog(body string) ([]CatalogEntry, error) {
	var raw rawCatalog
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("sor: parse catalog: %w", err)
	}
	out := make([]CatalogEntry, 0, len(raw.Sobjects))
	for _, o := range raw.Sobjects {
		out = append(out, CatalogEntry{
			Name: o.Name, Label: o.Label, Createable: o.Createable,
			Queryable: o.Queryable, Layoutable: o.Layoutable, CustomSetting: o.CustomSetting,
		})
	}
	return out, nil
}

// Mirrorable reports whether the descriptor qualifies for mirroring, per
// §4.6: (createable ∧ queryable ∧ layoutable) ∨ customSetting.
func (d RemoteObjectDescriptor) Mirrorable() bool {
	return (d.Createable && d.Queryable && d.Layoutable) || d.CustomSetting
}

// PullBatch is one page of remote records. Rows is keyed by remote id;
// each value is an ordered (columns, pre-escaped values) pair ready for
// SQL literal interpolation via RdbGateway.
type PullBatch struct {
	ObjectName string
	Rows       map[string]PulledRow
	NextURL    string
	Done       bool
}

// PulledRow holds one remote record's column names and pre-escaped SQL
// literal values, in matching order.
type PulledRow struct {
	Columns []string
	Values  []string
}

// rawQueryResponse mirrors the common { "records": [...], "nextRecordsUrl":
// "...", "done": bool } shape of a paginated query response.
type rawQueryResponse struct {
	Records        []map[string]any `json:"records"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Done           bool             `json:"done"`
}

// ParsePullBatch decodes one page of a query response into a PullBatch.
// fields supplies the kind of every queried field (besides Id) so values
// can be escaped/stringified correctly; address-kind fields are dropped,
// and "Id" is renamed to "sfid" per §4.7 step 2.
func ParsePullBatch(objectName, body string, fields []RemoteFieldDescriptor) (PullBatch, error) {
	var raw rawQueryResponse
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return PullBatch{}, fmt.Errorf("sor: parse query response: %w", err)
	}

	kindByName := make(map[string]typemap.Kind, len(fields))
	for _, f := range fields {
		kindByName[strings.ToLower(f.Name)] = f.Kind
	}

	batch := PullBatch{
		ObjectName: objectName,
		Rows:       make(map[string]PulledRow, len(raw.Records)),
		NextURL:    raw.NextRecordsURL,
		Done:       raw.Done,
	}

	for _, rec := range raw.Records {
		idVal, _ := rec["Id"].(string)
		if idVal == "" {
			continue
		}
		row := PulledRow{}
		for name, v := range rec {
			if name == "Id" || name == "attributes" {
				continue
			}
			lower := strings.ToLower(name)
			if typemap.IsAddress(kindByName[lower]) {
				continue
			}
			row.Columns = append(row.Columns, lower)
			row.Values = append(row.Values, escapeValue(v))
		}
		batch.Rows[idVal] = row
	}

	return batch, nil
}

// escapeValue stringifies a decoded JSON value the way §4.7 step 2
// requires: strings are wrapped in single quotes with internal quotes
// doubled (callers apply querybuilder.EscapeLiteral to the wrapped
// form); other scalars are stringified bare.
func escapeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, _ := json.Marshal(val)
		return "'" + strings.ReplaceAll(string(b), "'", "''") + "'"
	}
}
