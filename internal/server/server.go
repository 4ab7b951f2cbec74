// Package server is a reference implementation of the crime query API the
// dashboard consumes. It answers every endpoint from the local incident
// store with SPARQL JSON result documents.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nycrime-kg/crimedash/internal/utils"
	"github.com/nycrime-kg/crimedash/pkg/storage"
)

// DefaultEventLimit caps /api/events when no limit is given.
const DefaultEventLimit = 1000

type Server struct {
	DB       *storage.DB
	Username string
	Password string
}

func New(db *storage.DB, user, pass string) *Server {
	return &Server{
		DB:       db,
		Username: user,
		Password: pass,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/boroughs", s.basicAuth(s.handleBoroughs))
	mux.HandleFunc("GET /api/trend_by_year", s.basicAuth(s.handleTrendByYear))
	mux.HandleFunc("GET /api/crime_type", s.basicAuth(s.handleCrimeType))
	mux.HandleFunc("GET /api/crime_by_hour", s.basicAuth(s.handleCrimeByHour))
	mux.HandleFunc("GET /api/top_crimes", s.basicAuth(s.handleTopCrimes))
	mux.HandleFunc("GET /api/events", s.basicAuth(s.handleEvents))
	mux.HandleFunc("GET /api/borough_stats", s.basicAuth(s.handleBoroughStats))
	mux.HandleFunc("GET /api/trend", s.basicAuth(s.handleTrend))
	mux.HandleFunc("GET /api/victim_race", s.basicAuth(s.handleVictimRace))
	mux.HandleFunc("GET /api/stats", s.basicAuth(s.handleStats))

	return accessLog(mux)
}

// Start serves the API on addr until ctx is cancelled.
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

	utils.Log.Infof("Starting query API on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		utils.Log.WithFields(logrus.Fields{
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Microsecond).String(),
		}).Debugf("%s %s", r.Method, r.URL.RequestURI())
	})
}
