// Package aggregate groups records into labeled series with a deterministic
// order, and collapses minor groups for distribution views.
package aggregate

import (
	"math"
	"sort"
	"strconv"

	"github.com/aclements/go-moremath/stats"
)

// OthersLabel is the label of the synthetic group produced by CollapseMinor.
const OthersLabel = "Others (<1%)"

// Point is one labeled value of a series.
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Series is an ordered list of points with unique labels.
type Series []Point

// SortPolicy selects the output order of Aggregate.
type SortPolicy int

const (
	// Insertion keeps groups in the order their key first appeared.
	Insertion SortPolicy = iota
	// ByValueDesc orders by value, largest first.
	ByValueDesc
	// ByKeyNumericAsc orders numeric labels ascending (month and hour
	// axes); labels that are not numbers follow in lexical order.
	ByKeyNumericAsc
	// ByKeyAsc orders labels lexically.
	ByKeyAsc
)

func (p SortPolicy) String() string {
	switch p {
	case Insertion:
		return "insertion"
	case ByValueDesc:
		return "by-value-desc"
	case ByKeyNumericAsc:
		return "by-key-numeric-asc"
	case ByKeyAsc:
		return "by-key-asc"
	}
	return "unknown"
}

// Aggregate groups items by key and sums value per group. Repeated keys are
// always added together, never overwritten.
func Aggregate[T any](items []T, key func(T) string, value func(T) float64, policy SortPolicy) Series {
	index := make(map[string]int)
	out := Series{}
	for _, it := range items {
		k := key(it)
		if i, ok := index[k]; ok {
			out[i].Value += value(it)
			continue
		}
		index[k] = len(out)
		out = append(out, Point{Label: k, Value: value(it)})
	}
	out.sort(policy)
	return out
}

// Regroup aggregates an existing series again. The totals of the result
// equal those of s.
func Regroup(s Series, policy SortPolicy) Series {
	return Aggregate(s, func(p Point) string { return p.Label }, func(p Point) float64 { return p.Value }, policy)
}

func (s Series) sort(policy SortPolicy) {
	switch policy {
	case ByValueDesc:
		sort.SliceStable(s, func(i, j int) bool {
			if s[i].Value != s[j].Value {
				return s[i].Value > s[j].Value
			}
			return s[i].Label < s[j].Label
		})
	case ByKeyNumericAsc:
		sort.SliceStable(s, func(i, j int) bool {
			return numericLess(s[i].Label, s[j].Label)
		})
	case ByKeyAsc:
		sort.SliceStable(s, func(i, j int) bool {
			return s[i].Label < s[j].Label
		})
	}
}

func numericLess(a, b string) bool {
	na, errA := strconv.ParseFloat(a, 64)
	nb, errB := strconv.ParseFloat(b, 64)
	aNum := errA == nil && !math.IsNaN(na)
	bNum := errB == nil && !math.IsNaN(nb)
	switch {
	case aNum && bNum:
		if na != nb {
			return na < nb
		}
		return a < b
	case aNum:
		return true
	case bNum:
		return false
	}
	return a < b
}

// CollapseMinor merges every group whose value is strictly below
// threshold*total into a single OthersLabel group appended after the
// remaining groups. A series with a zero total is returned unchanged.
func CollapseMinor(s Series, threshold float64) Series {
	total := s.Total()
	if total == 0 {
		return s.clone()
	}
	cut := threshold * total

	major := make(Series, 0, len(s))
	var others float64
	collapsed := 0
	for _, p := range s {
		if p.Value < cut {
			others += p.Value
			collapsed++
			continue
		}
		major = append(major, p)
	}
	if collapsed == 0 {
		return major
	}
	// A real group can already carry the synthetic label; fold into it so
	// labels stay unique.
	for i := range major {
		if major[i].Label == OthersLabel {
			major[i].Value += others
			return major
		}
	}
	return append(major, Point{Label: OthersLabel, Value: others})
}

// Top returns the first n points of s. n <= 0 keeps every point.
func Top(s Series, n int) Series {
	if n <= 0 || n >= len(s) {
		return s.clone()
	}
	return s[:n].clone()
}

func (s Series) clone() Series {
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Total is the sum of all values.
func (s Series) Total() float64 {
	var t float64
	for _, p := range s {
		t += p.Value
	}
	return t
}

// Labels returns the labels in order.
func (s Series) Labels() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.Label
	}
	return out
}

// Values returns the values in order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// Summary describes the distribution of a series' values.
type Summary struct {
	Groups int     `json:"groups"`
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes a Summary of s. An empty series yields a zero Summary.
func Summarize(s Series) Summary {
	if len(s) == 0 {
		return Summary{}
	}
	xs := s.Values()
	sum := Summary{
		Groups: len(xs),
		Total:  s.Total(),
		Mean:   stats.Mean(xs),
	}
	if len(xs) > 1 {
		sum.StdDev = stats.StdDev(xs)
	}
	sum.Min, sum.Max = stats.Bounds(xs)
	return sum
}
