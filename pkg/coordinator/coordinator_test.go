package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nycrime-kg/crimedash/pkg/aggregate"
	"github.com/nycrime-kg/crimedash/pkg/dataset"
	"github.com/nycrime-kg/crimedash/pkg/filter"
	"github.com/nycrime-kg/crimedash/pkg/sparql"
)

// fakeFetcher answers from a table keyed by request key. A gate, when
// present, blocks the response until it is closed.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	gates  map[string]chan struct{}
	calls  map[string]int
	panics map[string]bool
}

func newFake() *fakeFetcher {
	return &fakeFetcher{
		bodies: map[string]string{},
		errs:   map[string]error{},
		gates:  map[string]chan struct{}{},
		calls:  map[string]int{},
		panics: map[string]bool{},
	}
}

func key(path string, q url.Values) string {
	return dataset.Request{Path: path, Query: q}.Key()
}

func (f *fakeFetcher) Fetch(ctx context.Context, path string, q url.Values) ([]byte, error) {
	k := key(path, q)
	f.mu.Lock()
	f.calls[path]++
	gate := f.gates[k]
	body, err, boom := f.bodies[k], f.errs[k], f.panics[k]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if boom {
		panic("fetcher exploded")
	}
	if err != nil {
		return nil, err
	}
	if body == "" {
		body = `{"results":{"bindings":[]}}`
	}
	return []byte(body), nil
}

func (f *fakeFetcher) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func trendBody(month string, count int) string {
	return fmt.Sprintf(`{"results":{"bindings":[{"month":{"value":%q},"count":{"value":"%d"}}]}}`, month, count)
}

func withYear(t *testing.T, s filter.State, year string) filter.State {
	t.Helper()
	s, err := s.With(filter.Year, year)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestNewRequiresFetcher(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without fetcher")
	}
	if _, err := New(Config{Fetcher: newFake(), Datasets: []dataset.Kind{"nope"}}); err == nil {
		t.Fatalf("expected error for unknown dataset")
	}
}

func TestInitialViewsAreIdleAndEmpty(t *testing.T) {
	c, _ := New(Config{Fetcher: newFake()})
	for _, k := range dataset.All {
		v, ok := c.View(k)
		if !ok || v.Status != Idle || !v.Result.Empty() {
			t.Fatalf("%s: expected idle empty view, got %+v", k, v)
		}
	}
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	f := newFake()
	a := withYear(t, filter.Default(), "2015")
	b := withYear(t, filter.Default(), "2016")
	ka := "/api/trend_by_year?year=2015"
	kb := "/api/trend_by_year?year=2016"
	f.bodies[ka] = trendBody("1", 15)
	f.bodies[kb] = trendBody("1", 16)
	gateA := make(chan struct{})
	f.gates[ka] = gateA

	c, _ := New(Config{Fetcher: f, Datasets: []dataset.Kind{dataset.MonthTrend}})
	ctx := context.Background()

	errA := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, dataset.MonthTrend, a)
		errA <- err
	}()
	// Wait for A to be in flight before issuing B.
	waitFor(t, func() bool { return f.callCount("/api/trend_by_year") == 1 })

	vb, err := c.Load(ctx, dataset.MonthTrend, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vb.Status != Ready || vb.Epoch != 2 {
		t.Fatalf("expected ready epoch 2, got %+v", vb)
	}

	close(gateA)
	if err := <-errA; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded for A, got %v", err)
	}

	v, _ := c.View(dataset.MonthTrend)
	want := aggregate.Series{{Label: "1", Value: 16}}
	if !reflect.DeepEqual(v.Result.Series, want) {
		t.Fatalf("B's result must survive, got %v", v.Result.Series)
	}
	if v.State.Year != "2016" {
		t.Fatalf("expected view state of B, got %+v", v.State)
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(format string, args ...interface{}) {
	l.mu.Lock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *recordingLogger) Infof(format string, args ...interface{})  { l.add(format, args...) }
func (l *recordingLogger) Warnf(format string, args ...interface{})  { l.add(format, args...) }
func (l *recordingLogger) Errorf(format string, args ...interface{}) { l.add(format, args...) }
func (l *recordingLogger) Debugf(format string, args ...interface{}) { l.add(format, args...) }

func (l *recordingLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

func TestApplyStaleResponseIsDiscarded(t *testing.T) {
	f := newFake()
	ka := "/api/trend_by_year?year=2015"
	kb := "/api/trend_by_year?year=2016"
	f.bodies[ka] = trendBody("1", 15)
	f.bodies[kb] = trendBody("1", 16)
	gateA := make(chan struct{})
	f.gates[ka] = gateA

	log := &recordingLogger{}
	c, _ := New(Config{Fetcher: f, Datasets: []dataset.Kind{dataset.MonthTrend}, Log: log})
	ctx := context.Background()

	c.Apply(ctx, withYear(t, filter.Default(), "2015"))
	waitFor(t, func() bool { return f.callCount("/api/trend_by_year") == 1 })

	c.Apply(ctx, withYear(t, filter.Default(), "2016"))
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Let the older request resolve after the newer one was applied.
	close(gateA)
	waitFor(t, func() bool { return log.contains("Discarding stale month-trend response (epoch 1, current 2)") })

	v, _ := c.View(dataset.MonthTrend)
	want := aggregate.Series{{Label: "1", Value: 16}}
	if v.Status != Ready || v.Epoch != 2 || !reflect.DeepEqual(v.Result.Series, want) {
		t.Fatalf("newer result must survive, got %+v", v)
	}
	if v.State.Year != "2016" {
		t.Fatalf("expected view state of the newer filter, got %+v", v.State)
	}
}

func TestLoadAllSkipsUnchangedRequests(t *testing.T) {
	f := newFake()
	c, _ := New(Config{Fetcher: f})
	ctx := context.Background()

	c.LoadAll(ctx, filter.Default())
	views := c.LoadAll(ctx, withYear(t, filter.Default(), "2015"))
	c.LoadAll(ctx, withYear(t, filter.Default(), "2015"))

	for path, n := range map[string]int{
		"/api/boroughs":      1,
		"/api/crime_type":    1,
		"/api/crime_by_hour": 1,
		"/api/top_crimes":    1,
		"/api/trend":         1,
		"/api/victim_race":   1,
		"/api/trend_by_year": 2,
		"/api/events":        2,
		"/api/borough_stats": 2,
	} {
		if got := f.callCount(path); got != n {
			t.Fatalf("%s: expected %d fetches, got %d", path, n, got)
		}
	}
	for k, v := range views {
		if v.Status != Ready {
			t.Fatalf("%s: expected ready, got %v", k, v.Status)
		}
	}
}

func TestApplyRefetchesOnlyDependentDatasets(t *testing.T) {
	f := newFake()
	c, _ := New(Config{Fetcher: f})
	ctx := context.Background()

	started := c.Apply(ctx, filter.Default())
	if len(started) != len(dataset.All) {
		t.Fatalf("first apply must load everything, started %v", started)
	}
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	started = c.Apply(ctx, withYear(t, filter.Default(), "2015"))
	want := []dataset.Kind{dataset.MonthTrend, dataset.Events, dataset.BoroughStats}
	if !reflect.DeepEqual(started, want) {
		t.Fatalf("want %v, got %v", want, started)
	}
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for path, n := range map[string]int{
		"/api/boroughs":      1,
		"/api/crime_type":    1,
		"/api/crime_by_hour": 1,
		"/api/top_crimes":    1,
		"/api/trend":         1,
		"/api/victim_race":   1,
		"/api/trend_by_year": 2,
		"/api/events":        2,
		"/api/borough_stats": 2,
	} {
		if got := f.callCount(path); got != n {
			t.Fatalf("%s: expected %d fetches, got %d", path, n, got)
		}
	}

	// Re-applying the same state is a no-op.
	if started := c.Apply(ctx, c.State()); len(started) != 0 {
		t.Fatalf("expected nothing to start, got %v", started)
	}
}

func TestFailureYieldsEmptyResult(t *testing.T) {
	f := newFake()
	f.errs["/api/boroughs"] = errors.New("connection refused")
	c, _ := New(Config{Fetcher: f, Datasets: []dataset.Kind{dataset.BoroughTotals, dataset.Hourly}})

	views := c.LoadAll(context.Background(), filter.Default())
	bt := views[dataset.BoroughTotals]
	if bt.Status != Failed || bt.Err == nil || !bt.Result.Empty() {
		t.Fatalf("expected failed empty view, got %+v", bt)
	}
	if views[dataset.Hourly].Status != Ready {
		t.Fatalf("a failing dataset must not affect others, got %+v", views[dataset.Hourly])
	}
}

func TestMalformedBodyFails(t *testing.T) {
	f := newFake()
	f.bodies["/api/crime_by_hour"] = `<html>oops</html>`
	c, _ := New(Config{Fetcher: f, Datasets: []dataset.Kind{dataset.Hourly}})

	v, err := c.Load(context.Background(), dataset.Hourly, filter.Default())
	if !errors.Is(err, sparql.ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
	if v.Status != Failed || !v.Result.Empty() {
		t.Fatalf("expected failed empty view, got %+v", v)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFake()
	f.panics["/api/crime_type"] = true
	c, _ := New(Config{Fetcher: f, Datasets: []dataset.Kind{dataset.CrimeTypes}})

	v, err := c.Load(context.Background(), dataset.CrimeTypes, filter.Default())
	if err == nil || v.Status != Failed {
		t.Fatalf("expected failure from recovered panic, got %+v, %v", v, err)
	}
}

func TestLoadingClearsPreviousResult(t *testing.T) {
	f := newFake()
	f.bodies["/api/crime_by_hour"] = `{"results":{"bindings":[{"hour":{"value":"3"},"count":{"value":"9"}}]}}`
	var mu sync.Mutex
	var seen []View
	c, _ := New(Config{
		Fetcher:  f,
		Datasets: []dataset.Kind{dataset.Hourly},
		OnUpdate: func(v View) {
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		},
	})
	ctx := context.Background()
	if _, err := c.Load(ctx, dataset.Hourly, filter.Default()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Refresh(ctx)
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var statuses []Status
	for _, v := range seen {
		statuses = append(statuses, v.Status)
		if v.Status == Loading && !v.Result.Empty() {
			t.Fatalf("loading view must not expose an old result: %+v", v)
		}
	}
	want := []Status{Loading, Ready, Loading, Ready}
	if !reflect.DeepEqual(statuses, want) {
		t.Fatalf("want %v, got %v", want, statuses)
	}
}

func TestKnownBoroughs(t *testing.T) {
	f := newFake()
	f.bodies["/api/boroughs"] = `{"results":{"bindings":[
		{"borough":{"value":"BRONX"},"count":{"value":"5"}},
		{"borough":{"value":"QUEENS"},"count":{"value":"9"}}
	]}}`
	c, _ := New(Config{Fetcher: f, Datasets: []dataset.Kind{dataset.BoroughTotals}})
	if c.KnownBoroughs() != nil {
		t.Fatalf("expected nil before load")
	}
	c.LoadAll(context.Background(), filter.Default())
	if got := c.KnownBoroughs(); !reflect.DeepEqual(got, []string{"QUEENS", "BRONX"}) {
		t.Fatalf("unexpected boroughs %v", got)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	f := newFake()
	gate := make(chan struct{})
	defer close(gate)
	f.gates["/api/boroughs"] = gate
	c, _ := New(Config{Fetcher: f, Datasets: []dataset.Kind{dataset.BoroughTotals}})
	c.Apply(context.Background(), filter.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
