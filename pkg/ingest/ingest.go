// Package ingest reads NYPD open data CSV exports into incidents.
//
// Both the shooting incident layout (INCIDENT_KEY, OCCUR_DATE, OCCUR_TIME,
// BORO) and the complaint layout (CMPLNT_NUM, CMPLNT_FR_DT, CMPLNT_FR_TM,
// BORO_NM, OFNS_DESC) are recognized by their headers.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nycrime-kg/crimedash/pkg/storage"
)

// ShootingCrimeType is the crime type of rows from exports without an
// offense column.
const ShootingCrimeType = "SHOOTING"

var columnAliases = map[string][]string{
	"id":      {"INCIDENT_KEY", "CMPLNT_NUM", "ID"},
	"date":    {"OCCUR_DATE", "CMPLNT_FR_DT", "DATE"},
	"time":    {"OCCUR_TIME", "CMPLNT_FR_TM", "TIME"},
	"borough": {"BORO", "BORO_NM", "BOROUGH"},
	"offense": {"OFNS_DESC", "OFFENSE", "CRIME_TYPE"},
	"race":    {"VIC_RACE", "VICTIM_RACE"},
	"lat":     {"LATITUDE", "LAT"},
	"lon":     {"LONGITUDE", "LON", "LNG"},
}

var dateLayouts = []string{
	"01/02/2006",
	"2006-01-02",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

// RowError describes a skipped line.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Reason) }

// Stats summarizes a read.
type Stats struct {
	Rows    int
	Skipped int
	// Errors holds the first few skipped lines.
	Errors []RowError
}

const maxReportedErrors = 20

func (s *Stats) skip(line int, reason string) {
	s.Skipped++
	if len(s.Errors) < maxReportedErrors {
		s.Errors = append(s.Errors, RowError{Line: line, Reason: reason})
	}
}

type columns map[string]int

func (c columns) get(rec []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func mapHeader(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	cols := columns{}
	for name, aliases := range columnAliases {
		for _, a := range aliases {
			if i, ok := idx[a]; ok {
				cols[name] = i
				break
			}
		}
	}
	for _, required := range []string{"date", "borough"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing %s column in header", required)
		}
	}
	return cols, nil
}

// Read streams the incidents of r to fn. Malformed rows are skipped and
// counted; an error from fn stops the read.
func Read(r io.Reader, fn func(storage.Incident) error) (Stats, error) {
	var st Stats
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return st, errors.New("empty input")
		}
		return st, err
	}
	cols, err := mapHeader(header)
	if err != nil {
		return st, err
	}

	line := 1
	for {
		rec, err := cr.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				st.skip(line, pe.Err.Error())
				continue
			}
			return st, err
		}
		st.Rows++

		inc, reason := parseRecord(cols, rec)
		if reason != "" {
			st.skip(line, reason)
			continue
		}
		if err := fn(inc); err != nil {
			return st, err
		}
	}
	return st, nil
}

// ReadCSV collects every valid incident of r.
func ReadCSV(r io.Reader) ([]storage.Incident, Stats, error) {
	var out []storage.Incident
	st, err := Read(r, func(inc storage.Incident) error {
		out = append(out, inc)
		return nil
	})
	return out, st, err
}

func parseRecord(cols columns, rec []string) (storage.Incident, string) {
	inc := storage.Incident{ID: cols.get(rec, "id"), Hour: -1}

	rawDate := cols.get(rec, "date")
	d, ok := parseDate(rawDate)
	if !ok {
		return inc, fmt.Sprintf("bad date %q", rawDate)
	}
	inc.OccurredOn = d

	if raw := cols.get(rec, "time"); raw != "" {
		h, ok := parseHour(raw)
		if !ok {
			return inc, fmt.Sprintf("bad time %q", raw)
		}
		inc.Hour = h
	}

	inc.Borough = storage.NormalizeBorough(cols.get(rec, "borough"))
	if inc.Borough == "" {
		return inc, "missing borough"
	}

	if _, ok := cols["offense"]; ok {
		inc.CrimeType = storage.NormalizeCrimeType(cols.get(rec, "offense"))
	} else {
		inc.CrimeType = ShootingCrimeType
	}

	inc.VictimRace = storage.NormalizeVictimRace(cols.get(rec, "race"))

	lat, latOK := parseCoord(cols.get(rec, "lat"), -90, 90)
	lon, lonOK := parseCoord(cols.get(rec, "lon"), -180, 180)
	// 0,0 is how some exports spell "not geocoded".
	if latOK && lonOK && !(lat == 0 && lon == 0) {
		inc.Lat, inc.Lon, inc.HasLocation = lat, lon, true
	}
	return inc, ""
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// parseHour reads the hour of HH:MM[:SS].
func parseHour(s string) (int, bool) {
	hh, _, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, false
	}
	// 24:00:00 appears in some exports for midnight.
	return h % 24, true
}

func parseCoord(s string, lo, hi float64) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < lo || v > hi {
		return 0, false
	}
	return v, true
}
