// Package filter models the dashboard's view parameters as an immutable
// snapshot. Every setter returns a new State.
package filter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// All is the sentinel meaning "no constraint" for a field.
const All = "ALL"

// Field identifies one view parameter.
type Field int

const (
	Borough Field = iota
	Year
	Month
	CrimeType
	Limit
)

// Fields lists every field in display order.
var Fields = []Field{Borough, Year, Month, CrimeType, Limit}

func (f Field) String() string {
	switch f {
	case Borough:
		return "borough"
	case Year:
		return "year"
	case Month:
		return "month"
	case CrimeType:
		return "crimeType"
	case Limit:
		return "limit"
	}
	return "unknown"
}

// FieldSet is a set of fields.
type FieldSet uint8

// NewFieldSet builds a set from fields.
func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s |= 1 << uint(f)
	}
	return s
}

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool { return s&(1<<uint(f)) != 0 }

// Intersects reports whether the sets share a field.
func (s FieldSet) Intersects(o FieldSet) bool { return s&o != 0 }

// Empty reports whether no field is set.
func (s FieldSet) Empty() bool { return s == 0 }

func (s FieldSet) String() string {
	var names []string
	for _, f := range Fields {
		if s.Has(f) {
			names = append(names, f.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// State is one snapshot of the view parameters. String fields hold All or a
// concrete value; a zero Limit means All.
type State struct {
	Borough   string
	Year      string
	Month     string
	CrimeType string
	Limit     int
}

// Default returns a State with every field set to All.
func Default() State {
	return State{Borough: All, Year: All, Month: All, CrimeType: All}
}

// IsAll reports whether f carries no constraint.
func (s State) IsAll(f Field) bool {
	switch f {
	case Borough:
		return isAll(s.Borough)
	case Year:
		return isAll(s.Year)
	case Month:
		return isAll(s.Month)
	case CrimeType:
		return isAll(s.CrimeType)
	case Limit:
		return s.Limit <= 0
	}
	return true
}

// Value returns the field's value as a string, All when unconstrained.
func (s State) Value(f Field) string {
	if s.IsAll(f) {
		return All
	}
	switch f {
	case Borough:
		return s.Borough
	case Year:
		return s.Year
	case Month:
		return s.Month
	case CrimeType:
		return s.CrimeType
	case Limit:
		return strconv.Itoa(s.Limit)
	}
	return All
}

// With returns a copy of s with one field set from its textual form. An
// empty value or "ALL" (any case) clears the constraint.
func (s State) With(f Field, raw string) (State, error) {
	v := strings.TrimSpace(raw)
	if isAll(v) {
		v = All
	}
	switch f {
	case Borough:
		if v != All {
			v = NormalizeName(v)
		}
		s.Borough = v
	case Year:
		if v != All {
			y, err := strconv.Atoi(v)
			if err != nil || len(v) != 4 || y <= 0 {
				return s, &InvalidError{Field: f, Value: raw, Reason: "must be a four digit year"}
			}
		}
		s.Year = v
	case Month:
		if v != All {
			m, err := strconv.Atoi(v)
			if err != nil || m < 1 || m > 12 {
				return s, &InvalidError{Field: f, Value: raw, Reason: "must be between 1 and 12"}
			}
			v = strconv.Itoa(m)
		}
		s.Month = v
	case CrimeType:
		if v != All {
			v = NormalizeName(v)
		}
		s.CrimeType = v
	case Limit:
		if v == All {
			s.Limit = 0
			break
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return s, &InvalidError{Field: f, Value: raw, Reason: "must be a positive integer"}
		}
		s.Limit = n
	default:
		return s, fmt.Errorf("unknown filter field %d", f)
	}
	return s, nil
}

// Diff returns the fields whose values differ between s and o.
func (s State) Diff(o State) FieldSet {
	var d FieldSet
	for _, f := range Fields {
		if s.Value(f) != o.Value(f) {
			d |= NewFieldSet(f)
		}
	}
	return d
}

// ParamNames maps each field to its query parameter name.
var ParamNames = map[Field]string{
	Borough:   "borough",
	Year:      "year",
	Month:     "month",
	CrimeType: "crime",
	Limit:     "limit",
}

// Query encodes the constrained fields of s as query parameters.
func (s State) Query() url.Values {
	q := url.Values{}
	for _, f := range Fields {
		if !s.IsAll(f) {
			q.Set(ParamNames[f], s.Value(f))
		}
	}
	return q
}

func (s State) String() string {
	if q := s.Query(); len(q) > 0 {
		return q.Encode()
	}
	return All
}

// Parse builds a State from query-parameter style lookups. Missing
// parameters are All.
func Parse(get func(name string) string) (State, error) {
	s := Default()
	for _, f := range Fields {
		var err error
		if s, err = s.With(f, get(ParamNames[f])); err != nil {
			return Default(), err
		}
	}
	return s, nil
}

// NormalizeName canonicalizes borough and crime type names: trimmed,
// single-spaced, upper case.
func NormalizeName(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func isAll(v string) bool {
	return v == "" || strings.EqualFold(v, All)
}
