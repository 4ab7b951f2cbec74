package sparql

import (
	"errors"
	"testing"
)

var countSchema = []FieldSpec{
	{Name: "borough", Kind: Text},
	{Name: "count", Kind: Count},
}

func TestNormalizeCounts(t *testing.T) {
	body := []byte(`{"head":{"vars":["borough","count"]},"results":{"bindings":[
		{"borough":{"type":"literal","value":"BRONX"},"count":{"type":"literal","datatype":"http://www.w3.org/2001/XMLSchema#integer","value":"12"}},
		{"borough":{"type":"literal","value":"QUEENS"},"count":{"type":"literal","value":"7"}}
	]}}`)

	tbl, err := Normalize(body, countSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Rows) != 2 || len(tbl.Dropped) != 0 {
		t.Fatalf("expected 2 rows and 0 dropped, got %d/%d", len(tbl.Rows), len(tbl.Dropped))
	}
	if got := tbl.Rows[0].String("borough"); got != "BRONX" {
		t.Fatalf("borough: want BRONX, got %q", got)
	}
	if got := tbl.Rows[1].Int("count"); got != 7 {
		t.Fatalf("count: want 7, got %d", got)
	}
}

func TestNormalizeDropsBadRows(t *testing.T) {
	body := []byte(`{"results":{"bindings":[
		{"borough":{"value":"BRONX"},"count":{"value":"3"}},
		{"borough":{"value":"QUEENS"}},
		{"borough":{"value":"BROOKLYN"},"count":{"value":"-1"}},
		{"borough":{"value":"MANHATTAN"},"count":{"value":"2.5"}},
		{"borough":{"value":"STATEN ISLAND"},"count":{"value":"abc"}},
		"not an object",
		{"borough":{"value":"QUEENS"},"count":{"value":"4"}}
	]}}`)

	tbl, err := Normalize(body, countSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 surviving rows, got %d", len(tbl.Rows))
	}
	if len(tbl.Dropped) != 5 {
		t.Fatalf("expected 5 dropped rows, got %d: %+v", len(tbl.Dropped), tbl.Dropped)
	}
	if tbl.Dropped[0].Index != 1 || tbl.Dropped[0].Field != "count" || tbl.Dropped[0].Reason != "missing" {
		t.Fatalf("unexpected first row error: %+v", tbl.Dropped[0])
	}
}

func TestNormalizeOptionalField(t *testing.T) {
	schema := []FieldSpec{
		{Name: "id", Kind: Text},
		{Name: "lat", Kind: Latitude},
		{Name: "lon", Kind: Longitude},
		{Name: "borough", Kind: Text, Optional: true},
	}
	body := []byte(`{"results":{"bindings":[
		{"id":{"value":"a"},"lat":{"value":"40.7"},"lon":{"value":"-73.9"}},
		{"id":{"value":"b"},"lat":{"value":"140.7"},"lon":{"value":"-73.9"}},
		{"id":{"value":"c"},"lat":{"value":"40.6"},"lon":{"value":"-73.8"},"borough":{"value":"QUEENS"}}
	]}}`)

	tbl, err := Normalize(body, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(tbl.Rows))
	}
	if tbl.Rows[0].Has("borough") || tbl.Rows[0].String("borough") != "" {
		t.Fatalf("absent optional field should be empty")
	}
	if tbl.Rows[1].String("borough") != "QUEENS" {
		t.Fatalf("expected QUEENS, got %q", tbl.Rows[1].String("borough"))
	}
}

func TestNormalizeMalformed(t *testing.T) {
	cases := map[string]string{
		"empty body":        ``,
		"not json":          `<html>502 Bad Gateway</html>`,
		"no results":        `{"error":"boom"}`,
		"bindings not list": `{"results":{"bindings":{"a":1}}}`,
		"results null":      `{"results":null}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			tbl, err := Normalize([]byte(body), countSchema)
			if !errors.Is(err, ErrShape) {
				t.Fatalf("expected ErrShape, got %v", err)
			}
			if tbl == nil || tbl.Rows == nil || len(tbl.Rows) != 0 {
				t.Fatalf("expected empty non-nil rows, got %#v", tbl)
			}
		})
	}
}

func TestNormalizeEmptyBindings(t *testing.T) {
	tbl, err := Normalize([]byte(`{"results":{"bindings":[]}}`), countSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(tbl.Rows))
	}
}

func TestParseKeyKinds(t *testing.T) {
	tests := []struct {
		kind Kind
		raw  string
		key  string
		ok   bool
	}{
		{Month, "01", "1", true},
		{Month, "12", "12", true},
		{Month, "13", "", false},
		{Month, "abc", "", false},
		{Month, "2.5", "", false},
		{Hour, "0", "0", true},
		{Hour, "09", "9", true},
		{Hour, "24", "", false},
		{YearMonth, "2015-3", "2015-03", true},
		{YearMonth, "2015-03", "2015-03", true},
		{YearMonth, "2015-13", "", false},
		{YearMonth, "15-03", "", false},
		{YearMonth, "2015", "", false},
		{Text, " as is ", " as is ", true},
	}
	for _, tc := range tests {
		c, reason := parseCell(tc.kind, tc.raw)
		if ok := reason == ""; ok != tc.ok {
			t.Fatalf("%s %q: want ok=%v, got reason %q", tc.kind, tc.raw, tc.ok, reason)
		}
		if tc.ok && c.Key != tc.key {
			t.Fatalf("%s %q: want key %q, got %q", tc.kind, tc.raw, tc.key, c.Key)
		}
	}
}
