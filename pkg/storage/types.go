package storage

import "time"

// Incident is a single reported crime incident.
type Incident struct {
	ID         string
	OccurredOn time.Time
	// Hour of day, -1 when unknown.
	Hour       int
	Borough    string
	CrimeType  string
	VictimRace string

	// Location, valid only when HasLocation is set.
	Lat         float64
	Lon         float64
	HasLocation bool
}

// Date formats the incident day as YYYY-MM-DD.
func (i Incident) Date() string {
	if i.OccurredOn.IsZero() {
		return ""
	}
	return i.OccurredOn.Format(dateLayout)
}

// Query narrows a grouped count or listing. Zero values are unconstrained.
type Query struct {
	Borough   string
	Year      int
	Month     int
	CrimeType string
	Limit     int
}

// Count is one group of a grouped count.
type Count struct {
	Key   string
	Count int64
}

// InsertResult reports what InsertIncidents changed.
type InsertResult struct {
	Added     int
	Updated   int
	Unchanged int
}
