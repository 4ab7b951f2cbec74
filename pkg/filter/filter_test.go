package filter

import (
	"errors"
	"net/url"
	"testing"
)

func TestDefaultIsAll(t *testing.T) {
	s := Default()
	for _, f := range Fields {
		if !s.IsAll(f) || s.Value(f) != All {
			t.Fatalf("field %s should default to ALL, got %q", f, s.Value(f))
		}
	}
}

func TestWithReturnsCopy(t *testing.T) {
	base := Default()
	next, err := base.With(Year, "2015")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.Year != All {
		t.Fatalf("base snapshot mutated: %+v", base)
	}
	if next.Year != "2015" {
		t.Fatalf("expected year 2015, got %q", next.Year)
	}
}

func TestWithNormalizes(t *testing.T) {
	tests := []struct {
		field Field
		raw   string
		want  string
	}{
		{Borough, "  staten   island ", "STATEN ISLAND"},
		{Borough, "all", All},
		{Borough, "", All},
		{Month, "03", "3"},
		{Month, "ALL", All},
		{CrimeType, "felony assault", "FELONY ASSAULT"},
		{Limit, "500", "500"},
		{Limit, "All", All},
	}
	for _, tc := range tests {
		s, err := Default().With(tc.field, tc.raw)
		if err != nil {
			t.Fatalf("%s=%q: unexpected error: %v", tc.field, tc.raw, err)
		}
		if got := s.Value(tc.field); got != tc.want {
			t.Fatalf("%s=%q: want %q, got %q", tc.field, tc.raw, tc.want, got)
		}
	}
}

func TestWithRejectsMalformed(t *testing.T) {
	tests := []struct {
		field Field
		raw   string
	}{
		{Year, "15"},
		{Year, "20x5"},
		{Month, "13"},
		{Month, "0"},
		{Limit, "-5"},
		{Limit, "many"},
	}
	for _, tc := range tests {
		_, err := Default().With(tc.field, tc.raw)
		var inv *InvalidError
		if !errors.As(err, &inv) || inv.Field != tc.field {
			t.Fatalf("%s=%q: expected InvalidError, got %v", tc.field, tc.raw, err)
		}
	}
}

func TestDiff(t *testing.T) {
	a := Default()
	b, _ := a.With(Year, "2016")
	b, _ = b.With(Limit, "100")
	d := a.Diff(b)
	if !d.Has(Year) || !d.Has(Limit) || d.Has(Borough) || d.Has(Month) || d.Has(CrimeType) {
		t.Fatalf("unexpected diff %s", d)
	}
	if !a.Diff(a).Empty() {
		t.Fatalf("identical states must not differ")
	}
	// "" and ALL are the same constraint.
	c := a
	c.Borough = ""
	if !a.Diff(c).Empty() {
		t.Fatalf("empty and ALL should compare equal")
	}
}

func TestParse(t *testing.T) {
	q := url.Values{"borough": {"bronx"}, "year": {"2015"}, "month": {"07"}, "crime": {"ALL"}}
	s, err := Parse(q.Get)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := State{Borough: "BRONX", Year: "2015", Month: "7", CrimeType: All}
	if s != want {
		t.Fatalf("want %+v, got %+v", want, s)
	}

	if _, err := Parse(url.Values{"month": {"99"}}.Get); err == nil {
		t.Fatalf("expected error for month 99")
	}
}

func TestOptionsValidate(t *testing.T) {
	o := DefaultOptions()
	o.CrimeTypes = []string{"Robbery", "Burglary"}

	ok, _ := Default().With(Borough, "queens")
	ok, _ = ok.With(Year, "2015")
	ok, _ = ok.With(CrimeType, "robbery")
	ok, _ = ok.With(Limit, "1000")
	if err := o.Validate(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Validate(Default()); err != nil {
		t.Fatalf("ALL must always validate: %v", err)
	}

	bad := []State{
		{Borough: "GOTHAM", Year: All, Month: All, CrimeType: All},
		{Borough: All, Year: "1999", Month: All, CrimeType: All},
		{Borough: All, Year: All, Month: All, CrimeType: "JAYWALKING"},
		{Borough: All, Year: All, Month: All, CrimeType: All, Limit: 42},
	}
	for _, s := range bad {
		var inv *InvalidError
		if err := o.Validate(s); !errors.As(err, &inv) {
			t.Fatalf("%+v: expected InvalidError, got %v", s, err)
		}
	}

	open := DefaultOptions()
	anyCrime, _ := Default().With(CrimeType, "jaywalking")
	if err := open.Validate(anyCrime); err != nil {
		t.Fatalf("crime types are open while unknown: %v", err)
	}
}

func TestFieldSet(t *testing.T) {
	s := NewFieldSet(Year, Month)
	if !s.Has(Year) || !s.Has(Month) || s.Has(Borough) {
		t.Fatalf("unexpected set %s", s)
	}
	if !s.Intersects(NewFieldSet(Month)) || s.Intersects(NewFieldSet(Limit)) {
		t.Fatalf("intersects misbehaves")
	}
	if s.String() != "{year,month}" {
		t.Fatalf("unexpected string %s", s)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	s, _ := Default().With(Year, "2015")
	s, _ = s.With(Borough, "staten island")
	if got := s.String(); got != "borough=STATEN+ISLAND&year=2015" {
		t.Fatalf("unexpected encoding %s", got)
	}
	back, err := Parse(s.Query().Get)
	if err != nil || back != s {
		t.Fatalf("round trip lost data: %+v, %v", back, err)
	}
	if Default().String() != All {
		t.Fatalf("expected %s for the default state", All)
	}
}
