package web

import (
	"fmt"
	"net/url"
	"strconv"

	g "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"

	"github.com/nycrime-kg/crimedash/internal/utils"
	"github.com/nycrime-kg/crimedash/pkg/aggregate"
	"github.com/nycrime-kg/crimedash/pkg/coordinator"
	"github.com/nycrime-kg/crimedash/pkg/dataset"
	"github.com/nycrime-kg/crimedash/pkg/filter"
	"github.com/nycrime-kg/crimedash/pkg/records"
	"github.com/nycrime-kg/crimedash/pkg/render"
)

var monthNames = []string{"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December"}

// PageLayout wraps content in the document shell.
func PageLayout(title string, content ...g.Node) g.Node {
	return g.Group([]g.Node{
		g.Raw("<!DOCTYPE html>"),
		HTML(
			Head(
				Meta(Charset("UTF-8")),
				Meta(Name("viewport"), Content("width=device-width, initial-scale=1.0")),
				TitleEl(g.Text(title)),
				Script(Src("https://cdn.tailwindcss.com")),
			),
			Body(Class("bg-slate-950 font-sans antialiased text-slate-300 min-h-screen"),
				Div(Class("max-w-7xl mx-auto px-4 py-8"), g.Group(content)),
			),
		),
	})
}

// Page renders the dashboard for state. views is nil when the filter was
// rejected; formErr then explains why.
func Page(state filter.State, opts filter.Options, crimeTypes []string, views []coordinator.View, eventRows int, formErr error) g.Node {
	content := []g.Node{
		H1(Class("text-2xl md:text-3xl font-bold text-white mb-6"), g.Text("NYC Crime Dashboard")),
		filterForm(state, opts, crimeTypes),
	}
	if formErr != nil {
		content = append(content,
			Div(ID("filter-error"), Class("bg-red-900/20 border border-red-800/50 text-red-400 px-4 py-3 rounded-lg mb-6"),
				Strong(g.Text("Invalid filter: ")),
				g.Text(formErr.Error()),
			),
		)
	}

	var panels []g.Node
	for _, v := range views {
		panels = append(panels, panel(v, eventRows))
	}
	content = append(content, Div(Class("grid grid-cols-1 lg:grid-cols-2 gap-6"), g.Group(panels)))
	return PageLayout("crimedash", content...)
}

func selectField(name, label, current string, options []string, display func(string) string) g.Node {
	items := []g.Node{optionEl(filter.All, "All", current == filter.All)}
	for _, o := range options {
		items = append(items, optionEl(o, display(o), o == current))
	}
	return Label(Class("flex flex-col text-xs uppercase tracking-wider text-slate-500 gap-1"),
		g.Text(label),
		Select(Name(name), ID("filter-"+name),
			Class("bg-slate-800 border border-slate-700 rounded-md px-3 py-2 text-sm text-slate-200 normal-case"),
			g.Group(items),
		),
	)
}

func optionEl(value, label string, selected bool) g.Node {
	return Option(Value(value), g.If(selected, Selected()), g.Text(label))
}

func identity(s string) string { return s }

func filterForm(state filter.State, opts filter.Options, crimeTypes []string) g.Node {
	months := make([]string, 12)
	for i := range months {
		months[i] = strconv.Itoa(i + 1)
	}
	limits := make([]string, 0, len(opts.Limits))
	for _, l := range opts.Limits {
		limits = append(limits, strconv.Itoa(l))
	}
	// Keep a typed-in crime type selectable even if no dataset reported it.
	if !state.IsAll(filter.CrimeType) && !contains(crimeTypes, state.CrimeType) {
		crimeTypes = append(crimeTypes, state.CrimeType)
	}

	return Form(ID("filters"), Method("get"), Action("/"),
		Class("flex flex-wrap items-end gap-4 mb-8 p-4 bg-slate-800/30 border border-slate-700/50 rounded-xl"),
		selectField("borough", "Borough", state.Value(filter.Borough), opts.Boroughs, identity),
		selectField("year", "Year", state.Value(filter.Year), opts.Years(), identity),
		selectField("month", "Month", state.Value(filter.Month), months, func(m string) string {
			n, _ := strconv.Atoi(m)
			return monthNames[n-1]
		}),
		selectField("crime", "Crime type", state.Value(filter.CrimeType), crimeTypes, func(s string) string {
			return utils.Truncate(s, 40)
		}),
		selectField("limit", "Incidents", state.Value(filter.Limit), limits, identity),
		Button(Type("submit"),
			Class("px-4 py-2 text-sm font-medium rounded-lg bg-cyan-600 text-white hover:bg-cyan-500"),
			g.Text("Apply"),
		),
	)
}

func statusBadge(st coordinator.Status) g.Node {
	colors := map[coordinator.Status]string{
		coordinator.Idle:    "bg-slate-700 text-slate-300",
		coordinator.Loading: "bg-amber-900/40 text-amber-300",
		coordinator.Ready:   "bg-emerald-900/40 text-emerald-300",
		coordinator.Failed:  "bg-red-900/40 text-red-300",
	}
	return Span(Class("status px-2 py-0.5 rounded text-xs font-medium "+colors[st]), g.Text(st.String()))
}

func panel(v coordinator.View, eventRows int) g.Node {
	spec, _ := dataset.Lookup(v.Kind)
	body := []g.Node{
		Div(Class("flex items-center justify-between mb-4"),
			H2(Class("text-lg font-semibold text-slate-200"), g.Text(spec.Title)),
			statusBadge(v.Status),
		),
	}

	switch {
	case v.Status == coordinator.Failed:
		body = append(body, P(Class("error text-sm text-red-400"), g.Text("Could not load data: "+v.Error())))
	case v.Status != coordinator.Ready:
		body = append(body, P(Class("text-sm text-slate-500"), g.Text("Loading...")))
	case v.Kind == dataset.Events:
		body = append(body, eventsTable(v.Result.Events, eventRows))
	case len(v.Result.Series) == 0:
		body = append(body, P(Class("text-sm text-slate-500"), g.Text("No data for this filter.")))
	default:
		body = append(body,
			Img(Src(fmt.Sprintf("/chart/%s.png?epoch=%d", v.Kind, v.Epoch)), Alt(spec.Title),
				Class("w-full rounded-lg bg-white mb-4"), g.Attr("loading", "lazy")),
			seriesTable(v.Result.Series),
			P(Class("summary text-xs text-slate-500 mt-2"), g.Text(render.SummaryLine(v.Result.Series))),
		)
	}
	if v.Result.Dropped > 0 {
		body = append(body, P(Class("text-xs text-amber-400 mt-2"), g.Textf("%d malformed rows skipped", v.Result.Dropped)))
	}

	return Section(ID("panel-"+string(v.Kind)), g.Attr("data-status", v.Status.String()),
		Class("p-6 bg-slate-800/20 border border-slate-700/50 rounded-xl"),
		g.Group(body),
	)
}

func seriesTable(s aggregate.Series) g.Node {
	total := s.Total()
	var rows []g.Node
	for _, p := range s {
		share := 0.0
		if total > 0 {
			share = p.Value / total * 100
		}
		rows = append(rows, Tr(Class("border-t border-slate-700/50"),
			Td(Class("py-1 pr-4"), g.Text(p.Label)),
			Td(Class("py-1 pr-4 text-right tabular-nums"), g.Text(strconv.FormatFloat(p.Value, 'f', -1, 64))),
			Td(Class("py-1 text-right tabular-nums text-slate-500"), g.Textf("%.1f%%", share)),
		))
	}
	return Table(Class("series w-full text-sm"),
		THead(Tr(
			Th(Class("text-left text-slate-500 font-medium"), g.Text("Key")),
			Th(Class("text-right text-slate-500 font-medium"), g.Text("Count")),
			Th(Class("text-right text-slate-500 font-medium"), g.Text("Share")),
		)),
		TBody(g.Group(rows)),
	)
}

func mapLink(e records.Event) string {
	q := url.Values{}
	q.Set("mlat", strconv.FormatFloat(e.Lat, 'f', 6, 64))
	q.Set("mlon", strconv.FormatFloat(e.Lon, 'f', 6, 64))
	return "https://www.openstreetmap.org/?" + q.Encode()
}

func eventsTable(events []records.Event, limit int) g.Node {
	if len(events) == 0 {
		return P(Class("text-sm text-slate-500"), g.Text("No incidents for this filter."))
	}
	shown := events
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	var rows []g.Node
	for _, e := range shown {
		rows = append(rows, Tr(Class("border-t border-slate-700/50"),
			Td(Class("py-1 pr-4 tabular-nums"), g.Text(e.Date)),
			Td(Class("py-1 pr-4"), g.Text(e.Borough)),
			Td(Class("py-1 pr-4"), g.Text(e.CrimeType)),
			Td(Class("py-1"), A(Href(mapLink(e)), Class("text-cyan-400 hover:underline"), g.Attr("rel", "noopener"),
				g.Textf("%.4f, %.4f", e.Lat, e.Lon))),
		))
	}
	return Div(
		Table(Class("events w-full text-sm"),
			THead(Tr(
				Th(Class("text-left text-slate-500 font-medium"), g.Text("Date")),
				Th(Class("text-left text-slate-500 font-medium"), g.Text("Borough")),
				Th(Class("text-left text-slate-500 font-medium"), g.Text("Crime")),
				Th(Class("text-left text-slate-500 font-medium"), g.Text("Location")),
			)),
			TBody(g.Group(rows)),
		),
		g.If(len(shown) < len(events),
			P(Class("text-xs text-slate-500 mt-2"), g.Textf("Showing %d of %d incidents", len(shown), len(events))),
		),
	)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
