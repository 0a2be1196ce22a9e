package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ProductRecord is one object of the catalog response. Values are kept as raw
// JSON so that fields the exporter does not know about pass through untouched.
type ProductRecord map[string]json.RawMessage

// Text renders the field as CSV text. Missing fields and null render empty.
func (r ProductRecord) Text(column string) string {
	raw, ok := r[column]
	if !ok {
		return ""
	}
	return renderValue(raw)
}

// ProductTable is the tabular form of a catalog response.
//
// Columns hold the union of record keys in first-seen order. Records keep the
// order of the response array.
type ProductTable struct {
	Columns []string
	Records []ProductRecord

	seen map[string]struct{}
}

// NewProductTable returns an empty table.
func NewProductTable() *ProductTable {
	return &ProductTable{seen: make(map[string]struct{})}
}

// AddColumn registers a column if it has not been seen yet.
func (t *ProductTable) AddColumn(name string) {
	if t.seen == nil {
		t.seen = make(map[string]struct{}, len(t.Columns))
		for _, c := range t.Columns {
			t.seen[c] = struct{}{}
		}
	}
	if _, ok := t.seen[name]; ok {
		return
	}
	t.seen[name] = struct{}{}
	t.Columns = append(t.Columns, name)
}

// Append adds a record; its keys must already be registered with AddColumn.
func (t *ProductTable) Append(rec ProductRecord) {
	t.Records = append(t.Records, rec)
}

// Len returns the number of rows.
func (t *ProductTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// Row renders a record following the table column order.
func (t *ProductTable) Row(i int) []string {
	rec := t.Records[i]
	row := make([]string, len(t.Columns))
	for j, col := range t.Columns {
		row[j] = rec.Text(col)
	}
	return row
}

func renderValue(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return string(trimmed)
		}
		return s
	case 'n':
		return ""
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return string(trimmed)
		}
		return buf.String()
	default:
		// numbers and booleans keep their literal text
		return strings.TrimSpace(string(trimmed))
	}
}
