package render

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/nycrime-kg/crimedash/pkg/aggregate"
	"github.com/nycrime-kg/crimedash/pkg/dataset"
)

// ErrEmptySeries is returned when a series has nothing to draw.
var ErrEmptySeries = errors.New("series has no non-zero values")

const (
	chartWidth  = 800
	chartHeight = 420
	barWidth    = 36
	barSpacing  = 14
)

var lineColor = drawing.ColorFromHex("1f77b4")

// Chart writes the PNG that fits kind: a line for time and hour axes, a
// pie for the crime type and victim race distributions and bars for
// everything else.
func Chart(w io.Writer, kind dataset.Kind, s aggregate.Series) error {
	spec, ok := dataset.Lookup(kind)
	if !ok {
		return fmt.Errorf("unknown dataset %q", kind)
	}
	switch kind {
	case dataset.Events:
		return fmt.Errorf("dataset %s has no chart", kind)
	case dataset.MonthTrend, dataset.Hourly, dataset.YearMonthTrend:
		return Line(w, spec.Title, s)
	case dataset.CrimeTypes, dataset.VictimRace:
		return Pie(w, spec.Title, s)
	default:
		return Bar(w, spec.Title, s)
	}
}

// Bar renders s as a bar chart in series order.
func Bar(w io.Writer, title string, s aggregate.Series) error {
	top, err := peak(s)
	if err != nil {
		return err
	}
	bars := make([]chart.Value, 0, len(s))
	for _, p := range s {
		bars = append(bars, chart.Value{Label: p.Label, Value: p.Value})
	}

	width := 120 + len(bars)*(barWidth+barSpacing)
	if width < chartWidth {
		width = chartWidth
	}
	bc := chart.BarChart{
		Title:      title,
		Width:      width,
		Height:     chartHeight,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		YAxis:      chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1}},
		Bars:       bars,
	}
	return bc.Render(chart.PNG, w)
}

// Line renders s as a line over its labels in series order.
func Line(w io.Writer, title string, s aggregate.Series) error {
	top, err := peak(s)
	if err != nil {
		return err
	}
	xs := make([]float64, len(s))
	ys := make([]float64, len(s))
	ticks := make([]chart.Tick, len(s))
	for i, p := range s {
		xs[i] = float64(i)
		ys[i] = p.Value
		ticks[i] = chart.Tick{Value: float64(i), Label: p.Label}
	}
	// A single point has no x extent; stretch it into a flat segment.
	if len(xs) == 1 {
		xs = []float64{0, 1}
		ys = []float64{ys[0], ys[0]}
		ticks = append(ticks, chart.Tick{Value: 1, Label: ""})
	}

	st := chart.Style{StrokeColor: lineColor, StrokeWidth: 2, DotColor: lineColor, DotWidth: 3}
	ch := chart.Chart{
		Title:      title,
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		XAxis:      chart.XAxis{Ticks: ticks},
		YAxis:      chart.YAxis{Name: "incidents", Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1}},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: title, XValues: xs, YValues: ys, Style: st},
		},
	}
	return ch.Render(chart.PNG, w)
}

// Pie renders s as a pie with percentage labels.
func Pie(w io.Writer, title string, s aggregate.Series) error {
	if _, err := peak(s); err != nil {
		return err
	}
	total := s.Total()
	values := make([]chart.Value, 0, len(s))
	for _, p := range s {
		if p.Value <= 0 {
			continue
		}
		label := p.Label + " " + strconv.FormatFloat(p.Value/total*100, 'f', 1, 64) + "%"
		values = append(values, chart.Value{Label: label, Value: p.Value})
	}
	pc := chart.PieChart{
		Title:  title,
		Width:  chartHeight + 200,
		Height: chartHeight + 200,
		Values: values,
	}
	return pc.Render(chart.PNG, w)
}

func peak(s aggregate.Series) (float64, error) {
	var top float64
	for _, p := range s {
		if p.Value > top {
			top = p.Value
		}
	}
	if top <= 0 {
		return 0, ErrEmptySeries
	}
	return top, nil
}
