// Package records turns normalized binding tables into the typed records
// the dashboard views consume.
package records

import (
	"github.com/nycrime-kg/crimedash/pkg/sparql"
)

// Count is one pre-aggregated row: a grouping key and its incident count.
type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Event is one geocoded incident.
type Event struct {
	ID        string  `json:"id"`
	Date      string  `json:"date"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Borough   string  `json:"borough,omitempty"`
	CrimeType string  `json:"crimeType,omitempty"`
}

// CountSchema is the row schema of a key/count aggregate whose key is of
// kind keyKind.
func CountSchema(keyField string, keyKind sparql.Kind) []sparql.FieldSpec {
	return []sparql.FieldSpec{
		{Name: keyField, Kind: keyKind},
		{Name: "count", Kind: sparql.Count},
	}
}

// EventSchema is the row schema of the events listing.
var EventSchema = []sparql.FieldSpec{
	{Name: "id", Kind: sparql.Text},
	{Name: "date", Kind: sparql.Text},
	{Name: "lat", Kind: sparql.Latitude},
	{Name: "lon", Kind: sparql.Longitude},
	{Name: "borough", Kind: sparql.Text, Optional: true},
	{Name: "crimeType", Kind: sparql.Text, Optional: true},
}

// Counts maps the rows of t to Count records, keyed by the canonical form
// of keyField.
func Counts(t *sparql.Table, keyField string) []Count {
	out := make([]Count, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, Count{Key: r.Key(keyField), Count: r.Int("count")})
	}
	return out
}

// Events maps the rows of t to Event records.
func Events(t *sparql.Table) []Event {
	out := make([]Event, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, Event{
			ID:        r.String("id"),
			Date:      r.String("date"),
			Lat:       r.Float("lat"),
			Lon:       r.Float("lon"),
			Borough:   r.String("borough"),
			CrimeType: r.String("crimeType"),
		})
	}
	return out
}

// DecodeCounts normalizes body and returns its Count records together with
// the number of rows that were dropped. The slice is never nil.
func DecodeCounts(body []byte, keyField string, keyKind sparql.Kind) ([]Count, int, error) {
	t, err := sparql.Normalize(body, CountSchema(keyField, keyKind))
	return Counts(t, keyField), len(t.Dropped), err
}

// DecodeEvents normalizes body and returns its Event records together with
// the number of rows that were dropped. The slice is never nil.
func DecodeEvents(body []byte) ([]Event, int, error) {
	t, err := sparql.Normalize(body, EventSchema)
	return Events(t), len(t.Dropped), err
}
