package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/nycrime-kg/crimedash/internal/utils"
	"github.com/nycrime-kg/crimedash/pkg/storage"
)

const (
	resultsTemplate = `{"head":{"vars":[]},"results":{"bindings":[]}}`
	xsdInteger      = "http://www.w3.org/2001/XMLSchema#integer"
	xsdDecimal      = "http://www.w3.org/2001/XMLSchema#decimal"
	xsdDate         = "http://www.w3.org/2001/XMLSchema#date"
)

type term struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
}

type binding map[string]term

func literal(v string) term { return term{Type: "literal", Value: v} }

func typed(v, datatype string) term { return term{Type: "literal", Value: v, Datatype: datatype} }

// results builds a SPARQL JSON result document.
func results(vars []string, bindings []binding) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(resultsTemplate), "head.vars", vars)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return body, nil
	}
	return sjson.SetBytes(body, "results.bindings", bindings)
}

func countBindings(keyVar string, counts []storage.Count) []binding {
	out := make([]binding, 0, len(counts))
	for _, c := range counts {
		out = append(out, binding{
			keyVar:  literal(c.Key),
			"count": typed(strconv.FormatInt(c.Count, 10), xsdInteger),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/sparql-results+json")
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body, _ := sjson.Set(`{}`, "error", msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// parseQuery reads the filter parameters named in allowed. year, month and
// limit must be integers; borough and crime equal to ALL are ignored.
func parseQuery(r *http.Request, allowed ...string) (storage.Query, error) {
	var q storage.Query
	v := r.URL.Query()
	for _, name := range allowed {
		raw := strings.TrimSpace(v.Get(name))
		if raw == "" || strings.EqualFold(raw, "ALL") {
			continue
		}
		switch name {
		case "borough":
			q.Borough = storage.NormalizeBorough(raw)
		case "crime":
			q.CrimeType = storage.NormalizeCrimeType(raw)
		case "year", "month", "limit":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return q, fmt.Errorf("%s must be an integer, got %q", name, raw)
			}
			switch {
			case name == "year":
				q.Year = n
			case name == "month" && (n < 1 || n > 12):
				return q, fmt.Errorf("month must be between 1 and 12, got %d", n)
			case name == "month":
				q.Month = n
			case n <= 0:
				return q, fmt.Errorf("limit must be positive, got %d", n)
			default:
				q.Limit = n
			}
		}
	}
	return q, nil
}

func (s *Server) serveCounts(w http.ResponseWriter, r *http.Request, keyVar string,
	fetch func(q storage.Query) ([]storage.Count, error), allowed ...string) {
	q, err := parseQuery(r, allowed...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := fetch(q)
	if err != nil {
		utils.Log.Errorf("Query %s failed: %v", r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body, err := results([]string{keyVar, "count"}, countBindings(keyVar, counts))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, body)
}

func (s *Server) handleBoroughs(w http.ResponseWriter, r *http.Request) {
	s.serveCounts(w, r, "borough", func(q storage.Query) ([]storage.Count, error) {
		return s.DB.CountByBorough(r.Context(), q)
	})
}

func (s *Server) handleTrendByYear(w http.ResponseWriter, r *http.Request) {
	s.serveCounts(w, r, "month", func(q storage.Query) ([]storage.Count, error) {
		return s.DB.CountByMonth(r.Context(), q)
	}, "year")
}

func (s *Server) handleCrimeType(w http.ResponseWriter, r *http.Request) {
	s.serveCounts(w, r, "crimeType", func(q storage.Query) ([]storage.Count, error) {
		return s.DB.CountByCrimeType(r.Context(), q)
	})
}

func (s *Server) handleCrimeByHour(w http.ResponseWriter, r *http.Request) {
	s.serveCounts(w, r, "hour", func(q storage.Query) ([]storage.Count, error) {
		return s.DB.CountByHour(r.Context(), q)
	})
}

func (s *Server) handleTopCrimes(w http.ResponseWriter, r *http.Request) {
	s.serveCounts(w, r, "type", func(q storage.Query) ([]storage.Count, error) {
		return s.DB.TopCrimeTypes(r.Context(), q, q.Limit)
	}, "borough", "limit")
}

func (s *Server) handleBoroughStats(w http.ResponseWriter, r *http.Request) {
	s.serveCounts(w, r, "borough", func(q storage.Query) ([]storage.Count, error) {
		return s.DB.CountByBorough(r.Context(), q)
	}, "year", "month", "crime")
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	s.serveCounts(w, r, "yearMonth", func(q storage.Query) ([]storage.Count, error) {
		return s.DB.CountByYearMonth(r.Context(), q)
	})
}

func (s *Server) handleVictimRace(w http.ResponseWriter, r *http.Request) {
	s.serveCounts(w, r, "race", func(q storage.Query) ([]storage.Count, error) {
		return s.DB.CountByVictimRace(r.Context(), q)
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r, "borough", "year", "month", "crime", "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit == 0 {
		q.Limit = DefaultEventLimit
	}
	incs, err := s.DB.ListIncidents(r.Context(), q)
	if err != nil {
		utils.Log.Errorf("Query %s failed: %v", r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	bindings := make([]binding, 0, len(incs))
	for _, inc := range incs {
		b := binding{
			"id":   literal(inc.ID),
			"date": typed(inc.Date(), xsdDate),
			"lat":  typed(strconv.FormatFloat(inc.Lat, 'f', -1, 64), xsdDecimal),
			"lon":  typed(strconv.FormatFloat(inc.Lon, 'f', -1, 64), xsdDecimal),
		}
		if inc.Borough != "" {
			b["borough"] = literal(inc.Borough)
		}
		if inc.CrimeType != "" {
			b["crimeType"] = literal(inc.CrimeType)
		}
		bindings = append(bindings, b)
	}
	body, err := results([]string{"id", "date", "lat", "lon", "borough", "crimeType"}, bindings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
