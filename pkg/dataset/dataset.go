// Package dataset declares every dashboard dataset: the endpoint it is
// fetched from, the filter fields it depends on, and how its rows become a
// renderable result.
package dataset

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nycrime-kg/crimedash/pkg/aggregate"
	"github.com/nycrime-kg/crimedash/pkg/filter"
	"github.com/nycrime-kg/crimedash/pkg/records"
	"github.com/nycrime-kg/crimedash/pkg/sparql"
)

// Kind names a dataset.
type Kind string

const (
	BoroughTotals  Kind = "borough-totals"
	MonthTrend     Kind = "month-trend"
	CrimeTypes     Kind = "crime-types"
	Hourly         Kind = "hourly"
	TopCrimes      Kind = "top-crimes"
	Events         Kind = "events"
	BoroughStats   Kind = "borough-stats"
	YearMonthTrend Kind = "year-month-trend"
	VictimRace     Kind = "victim-race"
)

// All lists every dataset in dashboard order.
var All = []Kind{BoroughTotals, MonthTrend, CrimeTypes, Hourly, TopCrimes, Events, BoroughStats, YearMonthTrend, VictimRace}

// Spec describes how one dataset is requested and shaped.
type Spec struct {
	Kind  Kind
	Title string
	Path  string
	Deps  filter.FieldSet
	// KeyField is the grouping field of aggregate datasets; empty for
	// record listings.
	KeyField string
	// KeyKind validates and canonicalizes the key; rows whose key does
	// not parse are dropped.
	KeyKind  sparql.Kind
	Sort     aggregate.SortPolicy
	Collapse bool
	Top      bool
}

var specs = map[Kind]Spec{
	BoroughTotals: {
		Kind:     BoroughTotals,
		Title:    "Incidents by borough",
		Path:     "/api/boroughs",
		KeyField: "borough",
		Sort:     aggregate.ByValueDesc,
	},
	MonthTrend: {
		Kind:     MonthTrend,
		Title:    "Monthly trend",
		Path:     "/api/trend_by_year",
		Deps:     filter.NewFieldSet(filter.Year),
		KeyField: "month",
		KeyKind:  sparql.Month,
		Sort:     aggregate.ByKeyNumericAsc,
	},
	CrimeTypes: {
		Kind:     CrimeTypes,
		Title:    "Crime type distribution",
		Path:     "/api/crime_type",
		KeyField: "crimeType",
		Sort:     aggregate.ByValueDesc,
		Collapse: true,
	},
	Hourly: {
		Kind:     Hourly,
		Title:    "Incidents by hour of day",
		Path:     "/api/crime_by_hour",
		KeyField: "hour",
		KeyKind:  sparql.Hour,
		Sort:     aggregate.ByKeyNumericAsc,
	},
	TopCrimes: {
		Kind:     TopCrimes,
		Title:    "Top crime types",
		Path:     "/api/top_crimes",
		Deps:     filter.NewFieldSet(filter.Borough),
		KeyField: "type",
		Sort:     aggregate.ByValueDesc,
		Top:      true,
	},
	Events: {
		Kind:  Events,
		Title: "Incidents",
		Path:  "/api/events",
		Deps:  filter.NewFieldSet(filter.Borough, filter.Year, filter.Month, filter.CrimeType, filter.Limit),
	},
	BoroughStats: {
		Kind:     BoroughStats,
		Title:    "Filtered incidents by borough",
		Path:     "/api/borough_stats",
		Deps:     filter.NewFieldSet(filter.Year, filter.Month, filter.CrimeType),
		KeyField: "borough",
		Sort:     aggregate.ByValueDesc,
	},
	YearMonthTrend: {
		Kind:     YearMonthTrend,
		Title:    "Incidents per month, all years",
		Path:     "/api/trend",
		KeyField: "yearMonth",
		KeyKind:  sparql.YearMonth,
		Sort:     aggregate.ByKeyAsc,
	},
	VictimRace: {
		Kind:     VictimRace,
		Title:    "Victims by race",
		Path:     "/api/victim_race",
		KeyField: "race",
		Sort:     aggregate.ByValueDesc,
	},
}

// Lookup returns the spec of kind.
func Lookup(kind Kind) (Spec, bool) {
	s, ok := specs[kind]
	return s, ok
}

// ParseKind resolves a dataset name.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := specs[k]; !ok {
		return "", fmt.Errorf("unknown dataset %q", name)
	}
	return k, nil
}

// Request is a fully derived backend request.
type Request struct {
	Kind  Kind
	Path  string
	Query url.Values
}

// Key is the canonical form of the request. Equal keys mean the same data.
func (r Request) Key() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

// BuildRequest derives the request of kind for state. Only fields the
// dataset depends on contribute, and only when they are not All: an
// unconstrained field is omitted, never sent as a wildcard.
func BuildRequest(kind Kind, state filter.State) (Request, error) {
	spec, ok := specs[kind]
	if !ok {
		return Request{}, fmt.Errorf("unknown dataset %q", kind)
	}
	q := url.Values{}
	for _, f := range filter.Fields {
		if !spec.Deps.Has(f) || state.IsAll(f) {
			continue
		}
		q.Set(filter.ParamNames[f], state.Value(f))
	}
	return Request{Kind: kind, Path: spec.Path, Query: q}, nil
}

// Options tune how raw rows are shaped into results.
type Options struct {
	// MinorThreshold is the fraction of the total below which crime types
	// collapse into a single "Others" slice.
	MinorThreshold float64
	// TopN bounds the top-crimes dataset.
	TopN int
}

// DefaultOptions mirrors the dashboard defaults: 2% collapse, top 10.
func DefaultOptions() Options {
	return Options{MinorThreshold: 0.02, TopN: 10}
}

// Result is the shaped data of one dataset load.
type Result struct {
	Kind    Kind             `json:"kind"`
	Series  aggregate.Series `json:"series,omitempty"`
	Events  []records.Event  `json:"events,omitempty"`
	Dropped int              `json:"dropped"`
}

// Empty reports whether the result holds no data.
func (r Result) Empty() bool {
	return len(r.Series) == 0 && len(r.Events) == 0
}

// EmptyResult is what a failed or loading dataset exposes.
func EmptyResult(kind Kind) Result {
	if kind == Events {
		return Result{Kind: kind, Events: []records.Event{}}
	}
	return Result{Kind: kind, Series: aggregate.Series{}}
}

// Process normalizes and shapes a response body. On a malformed body it
// returns the empty result along with the error.
func Process(kind Kind, body []byte, opts Options) (Result, error) {
	spec, ok := specs[kind]
	if !ok {
		return Result{Kind: kind}, fmt.Errorf("unknown dataset %q", kind)
	}

	if kind == Events {
		events, dropped, err := records.DecodeEvents(body)
		if err != nil {
			return EmptyResult(kind), err
		}
		return Result{Kind: kind, Events: events, Dropped: dropped}, nil
	}

	counts, dropped, err := records.DecodeCounts(body, spec.KeyField, spec.KeyKind)
	if err != nil {
		return EmptyResult(kind), err
	}
	series := aggregate.Aggregate(counts,
		func(c records.Count) string { return c.Key },
		func(c records.Count) float64 { return float64(c.Count) },
		spec.Sort)
	if spec.Collapse {
		series = aggregate.CollapseMinor(series, opts.MinorThreshold)
	}
	if spec.Top {
		series = aggregate.Top(series, opts.TopN)
	}
	return Result{Kind: kind, Series: series, Dropped: dropped}, nil
}
