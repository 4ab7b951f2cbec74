package filter

import (
	"fmt"
	"strconv"
)

// InvalidError reports a field value outside its accepted set.
type InvalidError struct {
	Field  Field
	Value  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// DefaultBoroughs are the five NYC boroughs as the backend spells them.
var DefaultBoroughs = []string{"BRONX", "BROOKLYN", "MANHATTAN", "QUEENS", "STATEN ISLAND"}

// Options are the enumerated values each field may take besides All.
type Options struct {
	Boroughs []string
	// CrimeTypes is open (any name accepted) while empty.
	CrimeTypes []string
	YearMin    int
	YearMax    int
	Limits     []int
}

// DefaultOptions returns the options used before any dataset has reported
// the real boroughs and crime types.
func DefaultOptions() Options {
	return Options{
		Boroughs: append([]string(nil), DefaultBoroughs...),
		YearMin:  2006,
		YearMax:  2024,
		Limits:   []int{100, 500, 1000, 5000},
	}
}

// Years lists the accepted years in ascending order.
func (o Options) Years() []string {
	var out []string
	for y := o.YearMin; y <= o.YearMax; y++ {
		out = append(out, strconv.Itoa(y))
	}
	return out
}

// Validate checks every constrained field of s against o.
func (o Options) Validate(s State) error {
	if !s.IsAll(Borough) && len(o.Boroughs) > 0 && !containsName(o.Boroughs, s.Borough) {
		return &InvalidError{Field: Borough, Value: s.Borough, Reason: "unknown borough"}
	}
	if !s.IsAll(Year) {
		y, err := strconv.Atoi(s.Year)
		if err != nil || y < o.YearMin || y > o.YearMax {
			return &InvalidError{Field: Year, Value: s.Year, Reason: fmt.Sprintf("must be between %d and %d", o.YearMin, o.YearMax)}
		}
	}
	if !s.IsAll(Month) {
		m, err := strconv.Atoi(s.Month)
		if err != nil || m < 1 || m > 12 {
			return &InvalidError{Field: Month, Value: s.Month, Reason: "must be between 1 and 12"}
		}
	}
	if !s.IsAll(CrimeType) && len(o.CrimeTypes) > 0 && !containsName(o.CrimeTypes, s.CrimeType) {
		return &InvalidError{Field: CrimeType, Value: s.CrimeType, Reason: "unknown crime type"}
	}
	if !s.IsAll(Limit) && len(o.Limits) > 0 {
		ok := false
		for _, l := range o.Limits {
			if l == s.Limit {
				ok = true
				break
			}
		}
		if !ok {
			return &InvalidError{Field: Limit, Value: strconv.Itoa(s.Limit), Reason: fmt.Sprintf("must be one of %v", o.Limits)}
		}
	}
	return nil
}

func containsName(names []string, v string) bool {
	for _, n := range names {
		if NormalizeName(n) == v {
			return true
		}
	}
	return false
}
