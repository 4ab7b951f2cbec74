// Package sparql flattens SPARQL-results style JSON responses
// ({"results":{"bindings":[...]}}) into typed rows.
package sparql

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrShape is returned when a response is not a bindings envelope at all.
var ErrShape = errors.New("response lacks results.bindings")

// Kind is the expected type of a binding cell.
type Kind int

const (
	Text Kind = iota
	Number
	Count // non-negative integer
	Latitude
	Longitude
	Month     // calendar month 1-12, canonical form without leading zero
	Hour      // hour of day 0-23, canonical form without leading zero
	YearMonth // YYYY-MM, canonical form zero padded
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Number:
		return "number"
	case Count:
		return "count"
	case Latitude:
		return "latitude"
	case Longitude:
		return "longitude"
	case Month:
		return "month"
	case Hour:
		return "hour"
	case YearMonth:
		return "year-month"
	}
	return "unknown"
}

// FieldSpec declares one field a row is expected to carry.
type FieldSpec struct {
	Name     string
	Kind     Kind
	Optional bool
}

// RowError describes why a single binding was dropped.
type RowError struct {
	Index  int
	Field  string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: field %q: %s", e.Index, e.Field, e.Reason)
}

// Cell is a parsed binding value. Key is the canonical text form: equal
// values of a key kind always share one Key.
type Cell struct {
	Raw     string
	Key     string
	Num     float64
	Present bool
}

// Row holds the cells of one binding that passed its schema.
type Row struct {
	cells map[string]Cell
}

// Has reports whether the field was present in the binding.
func (r Row) Has(name string) bool { return r.cells[name].Present }

// String returns the raw value of a field, or "" when absent.
func (r Row) String(name string) string { return r.cells[name].Raw }

// Key returns the canonical value of a field, or "" when absent.
func (r Row) Key(name string) string { return r.cells[name].Key }

// Float returns the parsed numeric value of a field, or 0 when absent.
func (r Row) Float(name string) float64 { return r.cells[name].Num }

// Int returns the numeric value of a field truncated to int64.
func (r Row) Int(name string) int64 { return int64(r.cells[name].Num) }

// Table is the result of normalizing one response.
type Table struct {
	Rows    []Row
	Dropped []RowError
}

func emptyTable() *Table {
	return &Table{Rows: []Row{}}
}

// Normalize extracts the declared fields from every binding in body.
//
// A row missing a required field, or carrying a value of the wrong kind,
// is dropped and recorded in Table.Dropped. A body that is not a bindings
// envelope yields an empty table and an error wrapping ErrShape; the
// returned table is never nil.
func Normalize(body []byte, schema []FieldSpec) (*Table, error) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return emptyTable(), fmt.Errorf("%w: invalid JSON", ErrShape)
	}
	bindings := gjson.GetBytes(body, "results.bindings")
	if !bindings.Exists() {
		return emptyTable(), ErrShape
	}
	if !bindings.IsArray() {
		return emptyTable(), fmt.Errorf("%w: bindings is %s, not an array", ErrShape, bindings.Type)
	}

	t := emptyTable()
	idx := 0
	bindings.ForEach(func(_, b gjson.Result) bool {
		row, rerr := normalizeRow(idx, b, schema)
		if rerr != nil {
			t.Dropped = append(t.Dropped, *rerr)
		} else {
			t.Rows = append(t.Rows, row)
		}
		idx++
		return true
	})
	return t, nil
}

func normalizeRow(idx int, b gjson.Result, schema []FieldSpec) (Row, *RowError) {
	row := Row{cells: make(map[string]Cell, len(schema))}
	if !b.IsObject() {
		return row, &RowError{Index: idx, Reason: "binding is not an object"}
	}
	for _, f := range schema {
		v := b.Get(gjson.Escape(f.Name) + ".value")
		if !v.Exists() || v.Type == gjson.Null {
			if f.Optional {
				continue
			}
			return row, &RowError{Index: idx, Field: f.Name, Reason: "missing"}
		}
		cell, reason := parseCell(f.Kind, v.String())
		if reason != "" {
			if f.Optional {
				continue
			}
			return row, &RowError{Index: idx, Field: f.Name, Reason: reason}
		}
		row.cells[f.Name] = cell
	}
	return row, nil
}

func parseCell(kind Kind, raw string) (Cell, string) {
	c := Cell{Raw: raw, Key: raw, Present: true}
	switch kind {
	case Text:
		return c, ""
	case YearMonth:
		return parseYearMonth(c)
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return c, fmt.Sprintf("%q is not a %s", raw, kind)
	}
	c.Num = n

	switch kind {
	case Count:
		if n < 0 || n != math.Trunc(n) {
			return c, fmt.Sprintf("%q is not a non-negative integer", raw)
		}
	case Latitude:
		if n < -90 || n > 90 {
			return c, fmt.Sprintf("latitude %v out of range", n)
		}
	case Longitude:
		if n < -180 || n > 180 {
			return c, fmt.Sprintf("longitude %v out of range", n)
		}
	case Month, Hour:
		lo, hi := 1.0, 12.0
		if kind == Hour {
			lo, hi = 0, 23
		}
		if n != math.Trunc(n) || n < lo || n > hi {
			return c, fmt.Sprintf("%s %q out of range", kind, raw)
		}
		c.Key = strconv.Itoa(int(n))
	}
	return c, ""
}

func parseYearMonth(c Cell) (Cell, string) {
	y, m, ok := strings.Cut(strings.TrimSpace(c.Raw), "-")
	year, errY := strconv.Atoi(y)
	month, errM := strconv.Atoi(m)
	if !ok || errY != nil || errM != nil || len(y) != 4 || year <= 0 || month < 1 || month > 12 {
		return c, fmt.Sprintf("%q is not a year-month", c.Raw)
	}
	c.Key = fmt.Sprintf("%04d-%02d", year, month)
	c.Num = float64(year*12 + month - 1)
	return c, ""
}
