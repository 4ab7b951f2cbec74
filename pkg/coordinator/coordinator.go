// Package coordinator keeps every dashboard dataset in step with the
// current filter snapshot. Each dataset loads independently; a response is
// applied only if no newer request for the same dataset has been issued
// since, so a slow stale response can never overwrite a fresher one.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/nycrime-kg/crimedash/pkg/aggregate"
	"github.com/nycrime-kg/crimedash/pkg/dataset"
	"github.com/nycrime-kg/crimedash/pkg/filter"
)

// ErrSuperseded is returned by Load when a newer request for the same
// dataset was issued while this one was in flight.
var ErrSuperseded = errors.New("superseded by a newer request")

// Logger abstracts logging so callers can plug in logrus or anything else
// with the same methods.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Fetcher retrieves the raw body of a backend endpoint.
// *whttp.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// Status is the lifecycle state of one dataset.
type Status int

const (
	Idle Status = iota
	Loading
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MarshalText renders the status by name in JSON.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// View is a point-in-time copy of one dataset's state.
type View struct {
	Kind      dataset.Kind   `json:"kind"`
	Status    Status         `json:"status"`
	Epoch     uint64         `json:"epoch"`
	State     filter.State   `json:"filter"`
	Request   string         `json:"request,omitempty"`
	Result    dataset.Result `json:"result"`
	Err       error          `json:"-"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Error returns the failure message, or "".
func (v View) Error() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// Config configures a Coordinator.
type Config struct {
	Fetcher Fetcher
	// Datasets to manage; all datasets when empty.
	Datasets []dataset.Kind
	Options  dataset.Options
	Log      Logger // optional; nil = no logging
	// OnUpdate is called after every applied transition, outside the lock.
	OnUpdate func(View)
}

type slot struct {
	kind    dataset.Kind
	epoch   uint64
	status  Status
	state   filter.State
	request string
	result  dataset.Result
	err     error
	updated time.Time
	// done is closed when the load of the current epoch finishes.
	done chan struct{}
}

func (s *slot) view() View {
	return View{
		Kind:      s.kind,
		Status:    s.status,
		Epoch:     s.epoch,
		State:     s.state,
		Request:   s.request,
		Result:    s.result,
		Err:       s.err,
		UpdatedAt: s.updated,
	}
}

// Coordinator owns the per-dataset state slices.
type Coordinator struct {
	fetcher  Fetcher
	opts     dataset.Options
	log      Logger
	onUpdate func(View)
	order    []dataset.Kind

	mu    sync.Mutex
	state filter.State
	slots map[dataset.Kind]*slot
}

// New builds a Coordinator. Every dataset starts Idle.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("coordinator: fetcher is required")
	}
	kinds := cfg.Datasets
	if len(kinds) == 0 {
		kinds = dataset.All
	}
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	opts := cfg.Options
	if opts == (dataset.Options{}) {
		opts = dataset.DefaultOptions()
	}

	c := &Coordinator{
		fetcher:  cfg.Fetcher,
		opts:     opts,
		log:      log,
		onUpdate: cfg.OnUpdate,
		state:    filter.Default(),
		slots:    make(map[dataset.Kind]*slot, len(kinds)),
	}
	for _, k := range kinds {
		if _, ok := dataset.Lookup(k); !ok {
			return nil, fmt.Errorf("coordinator: unknown dataset %q", k)
		}
		if _, dup := c.slots[k]; dup {
			continue
		}
		c.order = append(c.order, k)
		c.slots[k] = &slot{kind: k, result: dataset.EmptyResult(k)}
	}
	return c, nil
}

// State returns the most recently applied filter snapshot.
func (c *Coordinator) State() filter.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Datasets returns the managed datasets in registration order.
func (c *Coordinator) Datasets() []dataset.Kind {
	return append([]dataset.Kind(nil), c.order...)
}

// Apply makes state the current snapshot and starts a load for every
// dataset whose request changes under it, or that has never been loaded.
// Datasets whose request is unchanged are left alone. It returns the
// datasets that were started.
func (c *Coordinator) Apply(ctx context.Context, state filter.State) []dataset.Kind {
	c.mu.Lock()
	c.state = state
	var started []dataset.Kind
	var launches []func()
	for _, k := range c.order {
		s := c.slots[k]
		req, err := dataset.BuildRequest(k, state)
		if err != nil {
			c.log.Errorf("Could not build request for %s: %v", k, err)
			continue
		}
		if s.status != Idle && s.request == req.Key() {
			continue
		}
		epoch, done := c.beginLocked(s, state, req)
		started = append(started, k)
		launches = append(launches, func() {
			defer close(done)
			_, _ = c.run(ctx, k, epoch, state, req)
		})
	}
	views := c.viewsLocked(started)
	c.mu.Unlock()

	c.notify(views)
	for _, launch := range launches {
		go launch()
	}
	return started
}

// Refresh reloads the given datasets (all when none are given) with the
// current snapshot, whether or not their request changed.
func (c *Coordinator) Refresh(ctx context.Context, kinds ...dataset.Kind) []dataset.Kind {
	if len(kinds) == 0 {
		kinds = c.order
	}
	c.mu.Lock()
	state := c.state
	var started []dataset.Kind
	var launches []func()
	for _, k := range kinds {
		s, ok := c.slots[k]
		if !ok {
			continue
		}
		req, err := dataset.BuildRequest(k, state)
		if err != nil {
			continue
		}
		epoch, done := c.beginLocked(s, state, req)
		started = append(started, k)
		launches = append(launches, func() {
			defer close(done)
			_, _ = c.run(ctx, k, epoch, state, req)
		})
	}
	views := c.viewsLocked(started)
	c.mu.Unlock()

	c.notify(views)
	for _, launch := range launches {
		go launch()
	}
	return started
}

// Load issues one request for kind under state and blocks until it
// resolves. The result is applied and returned only if no newer request for
// kind was issued meanwhile; otherwise ErrSuperseded is returned and the
// dataset's view is untouched.
func (c *Coordinator) Load(ctx context.Context, kind dataset.Kind, state filter.State) (View, error) {
	c.mu.Lock()
	s, ok := c.slots[kind]
	if !ok {
		c.mu.Unlock()
		return View{}, fmt.Errorf("coordinator: dataset %q is not managed", kind)
	}
	req, err := dataset.BuildRequest(kind, state)
	if err != nil {
		c.mu.Unlock()
		return View{}, err
	}
	epoch, done := c.beginLocked(s, state, req)
	views := c.viewsLocked([]dataset.Kind{kind})
	c.mu.Unlock()

	c.notify(views)
	defer close(done)
	return c.run(ctx, kind, epoch, state, req)
}

// LoadAll applies state, waits for the loads it started, and returns the
// resulting views. Like Apply, it leaves datasets whose request is
// unchanged alone. If ctx ends first the views are returned as they stand.
func (c *Coordinator) LoadAll(ctx context.Context, state filter.State) map[dataset.Kind]View {
	c.Apply(ctx, state)
	if err := c.Wait(ctx); err != nil {
		c.log.Debugf("Returning views before every load finished: %v", err)
	}
	return c.Views()
}

// beginLocked moves s to Loading for a new epoch. The previous result is
// cleared so nothing computed for an older filter stays visible.
func (c *Coordinator) beginLocked(s *slot, state filter.State, req dataset.Request) (uint64, chan struct{}) {
	s.epoch++
	s.status = Loading
	s.state = state
	s.request = req.Key()
	s.result = dataset.EmptyResult(s.kind)
	s.err = nil
	s.updated = time.Now()
	s.done = make(chan struct{})
	return s.epoch, s.done
}

func (c *Coordinator) run(ctx context.Context, kind dataset.Kind, epoch uint64, state filter.State, req dataset.Request) (View, error) {
	var (
		res     dataset.Result
		loadErr error
	)
	var pc panics.Catcher
	pc.Try(func() {
		res, loadErr = c.fetchAndProcess(ctx, kind, req)
	})
	if r := pc.Recovered(); r != nil {
		res, loadErr = dataset.EmptyResult(kind), fmt.Errorf("processing %s: %w", kind, r.AsError())
	}

	c.mu.Lock()
	s := c.slots[kind]
	if s.epoch != epoch {
		current := s.epoch
		c.mu.Unlock()
		c.log.Debugf("Discarding stale %s response (epoch %d, current %d)", kind, epoch, current)
		return View{}, ErrSuperseded
	}
	s.updated = time.Now()
	if loadErr != nil {
		s.status = Failed
		s.result = dataset.EmptyResult(kind)
		s.err = loadErr
	} else {
		s.status = Ready
		s.result = res
		s.err = nil
	}
	v := s.view()
	c.mu.Unlock()

	if loadErr != nil {
		c.log.Warnf("Dataset %s failed for %s: %v", kind, req.Key(), loadErr)
	} else {
		if res.Dropped > 0 {
			c.log.Debugf("Dataset %s dropped %d malformed rows", kind, res.Dropped)
		}
		c.log.Debugf("Dataset %s ready (epoch %d)", kind, epoch)
	}
	c.notify([]View{v})
	return v, loadErr
}

func (c *Coordinator) fetchAndProcess(ctx context.Context, kind dataset.Kind, req dataset.Request) (dataset.Result, error) {
	body, err := c.fetcher.Fetch(ctx, req.Path, req.Query)
	if err != nil {
		return dataset.EmptyResult(kind), err
	}
	return dataset.Process(kind, body, c.opts)
}

func (c *Coordinator) viewsLocked(kinds []dataset.Kind) []View {
	out := make([]View, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, c.slots[k].view())
	}
	return out
}

func (c *Coordinator) notify(views []View) {
	if c.onUpdate == nil {
		return
	}
	for _, v := range views {
		c.onUpdate(v)
	}
}

// View returns the current state of kind.
func (c *Coordinator) View(kind dataset.Kind) (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[kind]
	if !ok {
		return View{}, false
	}
	return s.view(), true
}

// Views returns the current state of every dataset.
func (c *Coordinator) Views() map[dataset.Kind]View {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[dataset.Kind]View, len(c.slots))
	for k, s := range c.slots {
		out[k] = s.view()
	}
	return out
}

// Wait blocks until every issued load has finished, including its
// OnUpdate notification, or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		var pending []chan struct{}
		for _, s := range c.slots {
			if s.done != nil {
				pending = append(pending, s.done)
			}
		}
		c.mu.Unlock()

		blocked := false
		for _, ch := range pending {
			select {
			case <-ch:
				continue
			default:
			}
			blocked = true
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !blocked {
			return nil
		}
	}
}

// KnownBoroughs returns the boroughs reported by the borough-totals
// dataset, or nil until it is Ready.
func (c *Coordinator) KnownBoroughs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[dataset.BoroughTotals]
	if !ok || s.status != Ready {
		return nil
	}
	return s.result.Series.Labels()
}

// KnownCrimeTypes returns the crime types reported by the crime-types
// dataset, excluding the synthetic "Others" group, or nil until Ready.
func (c *Coordinator) KnownCrimeTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[dataset.CrimeTypes]
	if !ok || s.status != Ready {
		return nil
	}
	var out []string
	for _, l := range s.result.Series.Labels() {
		if l != aggregate.OthersLabel {
			out = append(out, l)
		}
	}
	return out
}
