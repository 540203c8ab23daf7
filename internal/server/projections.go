package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"OptionPool/internal/ledger"
	"OptionPool/internal/query"
	"OptionPool/internal/state"

	"github.com/gorilla/mux"
)

// mountProjections adds the Postgres-backed read routes. Responses carry
// as_of_sequence, which may trail the live engine.
func (s *HTTPServer) mountProjections(v1 *mux.Router) {
	p := v1.PathPrefix("/projections").Subrouter()
	p.HandleFunc("/balances/{addr}", s.handleProjectedBalances).Methods(http.MethodGet)
	p.HandleFunc("/series", s.handleListSeries).Methods(http.MethodGet)
	p.HandleFunc("/series/{token}", s.handleSeries).Methods(http.MethodGet)
	p.HandleFunc("/journal/{addr}", s.handleJournal).Methods(http.MethodGet)
	v1.HandleFunc("/admin/integrity", s.handleIntegrity).Methods(http.MethodGet)
}

func (s *HTTPServer) handleProjectedBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(mux.Vars(r)["addr"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err)
		return
	}
	resp, err := s.deps.Query.GetBalances(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleSeries(w http.ResponseWriter, r *http.Request) {
	tok, err := ledger.ParseTokenID(mux.Vars(r)["token"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_token", err)
		return
	}
	resp, err := s.deps.Query.GetOptionSeries(r.Context(), tok)
	switch {
	case errors.Is(err, query.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case err != nil:
		writeError(w, http.StatusBadRequest, "query_failed", err)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *HTTPServer) handleListSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := s.deps.Now().Unix()
	to := from + 365*state.Day
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", err)
			return
		}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	series, err := s.deps.Query.ListSeries(r.Context(), from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": series})
}

func (s *HTTPServer) handleJournal(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(mux.Vars(r)["addr"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	var after *int64
	if v := q.Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_before_sequence", err)
			return
		}
		after = &seq
	}

	entries, err := s.deps.Query.GetJournalHistory(r.Context(), addr, limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed", err)
		return
	}
	status := http.StatusOK
	if !report.IsHealthy {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

// ============================================================================
// middleware
// ============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency by route template.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := "unmatched"
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		if m := s.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Warn().Str("endpoint", endpoint).Int("status", rec.status).Msg("request failed")
		}
	})
}
