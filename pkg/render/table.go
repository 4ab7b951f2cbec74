// Package render turns dataset results into terminal tables and PNG charts.
package render

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/nycrime-kg/crimedash/pkg/aggregate"
	"github.com/nycrime-kg/crimedash/pkg/records"
)

// SeriesTable writes s as a two-column table with a share column and a
// total row.
func SeriesTable(w io.Writer, title string, s aggregate.Series) error {
	if title != "" {
		if _, err := fmt.Fprintf(w, "%s\n", title); err != nil {
			return err
		}
	}
	if len(s) == 0 {
		_, err := fmt.Fprintln(w, "  (no data)")
		return err
	}

	total := s.Total()
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "KEY\tCOUNT\tSHARE\t")
	for _, p := range s {
		share := 0.0
		if total > 0 {
			share = p.Value / total * 100
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t\n", p.Label, formatCount(p.Value), share)
	}
	fmt.Fprintln(tw, " \t \t \t")
	fmt.Fprintf(tw, "TOTAL\t%s\t\t\n", formatCount(total))
	return tw.Flush()
}

// EventTable writes at most limit events (all when limit <= 0).
func EventTable(w io.Writer, events []records.Event, limit int) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "  (no incidents)")
		return err
	}
	shown := events
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tBOROUGH\tCRIME\tLAT\tLON")
	for _, e := range shown {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.5f\t%.5f\n",
			e.ID, orDash(e.Date), orDash(e.Borough), orDash(e.CrimeType), e.Lat, e.Lon)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(shown) < len(events) {
		_, err := fmt.Fprintf(w, "  ... %d more\n", len(events)-len(shown))
		return err
	}
	return nil
}

// SummaryLine is a one-line description of s.
func SummaryLine(s aggregate.Series) string {
	sum := aggregate.Summarize(s)
	if sum.Groups == 0 {
		return "no data"
	}
	return fmt.Sprintf("%d groups, total %s, mean %.1f, sd %.1f, min %s, max %s",
		sum.Groups, formatCount(sum.Total), sum.Mean, sum.StdDev, formatCount(sum.Min), formatCount(sum.Max))
}

func formatCount(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
