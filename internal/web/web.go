// Package web serves the dashboard: a filter form plus one panel per
// dataset, kept current by a coordinator.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nycrime-kg/crimedash/internal/utils"
	"github.com/nycrime-kg/crimedash/pkg/coordinator"
	"github.com/nycrime-kg/crimedash/pkg/dataset"
	"github.com/nycrime-kg/crimedash/pkg/filter"
	"github.com/nycrime-kg/crimedash/pkg/render"
)

// DefaultEventRows is how many incidents the page lists.
const DefaultEventRows = 50

type Server struct {
	Coord   *coordinator.Coordinator
	Options filter.Options
	// WaitTimeout bounds how long a page waits for its datasets; panels
	// still loading afterwards render as loading.
	WaitTimeout time.Duration
	EventRows   int

	// loads outlive the request that triggered them.
	ctx context.Context
}

func New(ctx context.Context, coord *coordinator.Coordinator, opts filter.Options, wait time.Duration) *Server {
	return &Server{
		Coord:       coord,
		Options:     opts,
		WaitTimeout: wait,
		EventRows:   DefaultEventRows,
		ctx:         ctx,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /chart/{file}", s.handleChart)
	mux.HandleFunc("GET /api/view", s.handleView)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	return mux
}

// Start serves the dashboard on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	utils.Log.Infof("Starting dashboard on http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// AutoRefresh reloads the current filter's datasets every interval until
// ctx is cancelled. A non-positive interval disables it.
func (s *Server) AutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	utils.Log.Infof("Starting background refresh (interval: %s)", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			started := s.Coord.Refresh(ctx)
			utils.Log.Debugf("Background refresh started %d datasets", len(started))
		}
	}
}

// options returns the configured options, narrowed to the boroughs the
// backend reported once they are known.
func (s *Server) options() filter.Options {
	o := s.Options
	if known := s.Coord.KnownBoroughs(); len(known) > 0 {
		o.Boroughs = known
	}
	return o
}

func (s *Server) wait(r *http.Request) {
	if s.WaitTimeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.WaitTimeout)
	defer cancel()
	if err := s.Coord.Wait(ctx); err != nil {
		utils.Log.Debugf("Rendering before all datasets finished: %v", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := s.options()

	state, err := filter.Parse(q.Get)
	if err == nil {
		err = opts.Validate(state)
	}
	if err != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		page := Page(state, opts, s.Coord.KnownCrimeTypes(), nil, s.EventRows, err)
		if rerr := page.Render(w); rerr != nil {
			utils.Log.Errorf("Rendering error page: %v", rerr)
		}
		return
	}

	if started := s.Coord.Apply(s.ctx, state); len(started) > 0 {
		utils.Log.Debugf("Filter %s started %d datasets", state.String(), len(started))
	}
	s.wait(r)

	views := s.orderedViews()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := Page(state, s.options(), s.Coord.KnownCrimeTypes(), views, s.EventRows, nil).Render(w); err != nil {
		utils.Log.Errorf("Rendering dashboard: %v", err)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var kinds []dataset.Kind
	if name := r.FormValue("dataset"); name != "" {
		k, err := dataset.ParseKind(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kinds = append(kinds, k)
	}
	s.Coord.Refresh(s.ctx, kinds...)
	http.Redirect(w, r, "/?"+s.Coord.State().Query().Encode(), http.StatusSeeOther)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	kind, err := dataset.ParseKind(strings.TrimSuffix(r.PathValue("file"), ".png"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	v, ok := s.Coord.View(kind)
	if !ok {
		http.NotFound(w, r)
		return
	}
	// Image URLs carry the epoch they were rendered for; a newer load
	// makes them stale.
	if e := r.URL.Query().Get("epoch"); e != "" {
		epoch, err := strconv.ParseUint(e, 10, 64)
		if err != nil {
			http.Error(w, "invalid epoch", http.StatusBadRequest)
			return
		}
		if epoch != v.Epoch {
			http.Error(w, "chart superseded", http.StatusNotFound)
			return
		}
	}

	var buf bytes.Buffer
	if err := render.Chart(&buf, kind, v.Result.Series); err != nil {
		if errors.Is(err, render.ErrEmptySeries) {
			http.Error(w, "no data", http.StatusNotFound)
			return
		}
		utils.Log.Warnf("Chart %s failed: %v", kind, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

type viewJSON struct {
	Kind    dataset.Kind       `json:"kind"`
	Title   string             `json:"title"`
	Status  coordinator.Status `json:"status"`
	Epoch   uint64             `json:"epoch"`
	Request string             `json:"request,omitempty"`
	Error   string             `json:"error,omitempty"`
	Result  dataset.Result     `json:"result"`
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	views := s.orderedViews()
	out := struct {
		Filter   filter.State `json:"filter"`
		Datasets []viewJSON   `json:"datasets"`
	}{Filter: s.Coord.State()}
	for _, v := range views {
		spec, _ := dataset.Lookup(v.Kind)
		out.Datasets = append(out.Datasets, viewJSON{
			Kind:    v.Kind,
			Title:   spec.Title,
			Status:  v.Status,
			Epoch:   v.Epoch,
			Request: v.Request,
			Error:   v.Error(),
			Result:  v.Result,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) orderedViews() []coordinator.View {
	var out []coordinator.View
	for _, k := range s.Coord.Datasets() {
		if v, ok := s.Coord.View(k); ok {
			out = append(out, v)
		}
	}
	return out
}
