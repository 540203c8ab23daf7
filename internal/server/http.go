package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"OptionPool/internal/core"
	"OptionPool/internal/event"
	"OptionPool/internal/ingestion"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/observability"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/pricing"
	"OptionPool/internal/query"
	"OptionPool/internal/state"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Engine is the live pool the API drives and reads.
type Engine interface {
	Execute(cmd event.Command) (*event.Receipt, error)
	Quote(q core.QuoteQuery) (pricing.Quote, error)
	QueuePosition(addr ledger.Address, isCall bool) (before, size fpmath.Fixed)
	QueueHead(isCall bool) ledger.Address
	UserTVL(addr ledger.Address, isCall bool) fpmath.Fixed
	TotalTVL(isCall bool) fpmath.Fixed
	BalanceOf(holder ledger.Address, token ledger.TokenID) fpmath.Fixed
	TotalSupply(token ledger.TokenID) fpmath.Fixed
	Option(longToken ledger.TokenID) (state.OptionRecord, bool)
	Status() core.EngineStatus
}

// Deps holds everything the HTTP surface serves from. Query may be nil
// when running without Postgres; projection routes are then not mounted.
type Deps struct {
	Engine        Engine
	Query         *query.QueryService
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	CORSOrigins   []string
	Now           func() time.Time
}

// HTTPServer serves the command, pool view and projection APIs.
type HTTPServer struct {
	httpServer *http.Server
	addr       string
	deps       Deps
	logger     zerolog.Logger
}

func NewHTTPServer(addr string, deps Deps) *HTTPServer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &HTTPServer{
		addr:   addr,
		deps:   deps,
		logger: observability.NewLogger("http"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the routed handler with CORS and request metrics.
func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	if hc := s.deps.HealthChecker; hc != nil {
		r.HandleFunc("/healthz", hc.LivenessHandler).Methods(http.MethodGet)
		r.HandleFunc("/readyz", hc.ReadinessHandler).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}).Methods(http.MethodGet)
	}
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/commands/{type}", s.handleCommand).Methods(http.MethodPost)
	v1.HandleFunc("/quote", s.handleQuote).Methods(http.MethodGet)
	v1.HandleFunc("/queue/{side}/{addr}", s.handleQueue).Methods(http.MethodGet)
	v1.HandleFunc("/tvl/{addr}", s.handleTVL).Methods(http.MethodGet)
	v1.HandleFunc("/balances/{addr}", s.handleBalances).Methods(http.MethodGet)
	v1.HandleFunc("/options/{token}", s.handleOption).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	if s.deps.Query != nil {
		s.mountProjections(v1)
	}

	origins := s.deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

// Start serves until ctx is cancelled. It returns once in-flight requests
// have finished, so no handler reaches the engine afterwards.
func (s *HTTPServer) Start(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// ============================================================================
// Commands
// ============================================================================

func (s *HTTPServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	typeName := mux.Vars(r)["type"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_body", err)
		return
	}
	cmd, err := ingestion.ParseRawCommand(ingestion.RawEvent{Subject: typeName, Data: body, Timestamp: s.deps.Now()}, typeName)
	if err != nil {
		if m := s.deps.Metrics; m != nil {
			m.IngestInvalid.WithLabelValues("http").Inc()
		}
		writeError(w, http.StatusBadRequest, "invalid_command", err)
		return
	}
	if m := s.deps.Metrics; m != nil {
		m.IngestReceived.WithLabelValues("http", typeName).Inc()
	}

	receipt, err := s.deps.Engine.Execute(cmd)
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// ============================================================================
// Live pool views
// ============================================================================

type quoteResponse struct {
	pricing.Quote
	TotalCost fpmath.Fixed `json:"total_cost"`
	Sequence  int64        `json:"sequence"`
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maturity, err := strconv.ParseInt(q.Get("maturity"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_maturity", err)
		return
	}
	strike, err := fpmath.Parse(q.Get("strike"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_strike", err)
		return
	}
	amount, err := fpmath.Parse(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount", err)
		return
	}
	isCall, err := parseSide(q.Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_side", err)
		return
	}
	buyer := ledger.ZeroAddress
	if b := q.Get("buyer"); b != "" {
		if buyer, err = ledger.ParseAddress(b); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_buyer", err)
			return
		}
	}
	at := s.deps.Now().Unix()
	if v := q.Get("at"); v != "" {
		if at, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_at", err)
			return
		}
	}

	quote, err := s.deps.Engine.Quote(core.QuoteQuery{
		Maturity: maturity,
		Strike:   strike,
		Amount:   amount,
		IsCall:   isCall,
		Buyer:    buyer,
		Now:      at,
	})
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		Quote:     quote,
		TotalCost: quote.TotalCost(),
		Sequence:  s.deps.Engine.Status().Sequence,
	})
}

type queueResponse struct {
	Address string       `json:"address"`
	Side    string       `json:"side"`
	Before  fpmath.Fixed `json:"liquidity_before"`
	Size    fpmath.Fixed `json:"size"`
	IsHead  bool         `json:"is_head"`
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	isCall, err := parseSide(vars["side"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_side", err)
		return
	}
	addr, err := ledger.ParseAddress(vars["addr"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err)
		return
	}

	before, size := s.deps.Engine.QueuePosition(addr, isCall)
	writeJSON(w, http.StatusOK, queueResponse{
		Address: addr.Hex(),
		Side:    vars["side"],
		Before:  before,
		Size:    size,
		IsHead:  !size.IsZero() && s.deps.Engine.QueueHead(isCall) == addr,
	})
}

type sidePair struct {
	Call fpmath.Fixed `json:"call"`
	Put  fpmath.Fixed `json:"put"`
}

type tvlResponse struct {
	Address string   `json:"address"`
	User    sidePair `json:"user"`
	Total   sidePair `json:"total"`
}

func (s *HTTPServer) handleTVL(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(mux.Vars(r)["addr"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err)
		return
	}
	e := s.deps.Engine
	writeJSON(w, http.StatusOK, tvlResponse{
		Address: addr.Hex(),
		User:    sidePair{Call: e.UserTVL(addr, true), Put: e.UserTVL(addr, false)},
		Total:   sidePair{Call: e.TotalTVL(true), Put: e.TotalTVL(false)},
	})
}

type liveBalances struct {
	Address  string   `json:"address"`
	Free     sidePair `json:"free_liquidity"`
	Reserved sidePair `json:"reserved_liquidity"`
	Assets   sidePair `json:"assets"`
	Sequence int64    `json:"sequence"`
}

func (s *HTTPServer) handleBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(mux.Vars(r)["addr"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err)
		return
	}
	e := s.deps.Engine
	pair := func(tok func(bool) ledger.TokenID) sidePair {
		return sidePair{Call: e.BalanceOf(addr, tok(true)), Put: e.BalanceOf(addr, tok(false))}
	}
	writeJSON(w, http.StatusOK, liveBalances{
		Address:  addr.Hex(),
		Free:     pair(ledger.FreeLiqToken),
		Reserved: pair(ledger.ReservedLiqToken),
		Assets:   pair(ledger.AssetToken),
		Sequence: e.Status().Sequence,
	})
}

type optionResponse struct {
	state.OptionRecord
	Status      string       `json:"status"`
	ShortToken  string       `json:"short_token"`
	LongSupply  fpmath.Fixed `json:"long_supply"`
	ShortSupply fpmath.Fixed `json:"short_supply"`
}

func (s *HTTPServer) handleOption(w http.ResponseWriter, r *http.Request) {
	tok, err := ledger.ParseTokenID(mux.Vars(r)["token"])
	if err != nil || !tok.Type().IsOption() {
		writeError(w, http.StatusBadRequest, "invalid_token", fmt.Errorf("not an option token: %s", mux.Vars(r)["token"]))
		return
	}
	long := tok
	if tok.Type().IsShort() {
		long = tok.Counterpart()
	}

	rec, ok := s.deps.Engine.Option(long)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("no series %s", long.Hex()))
		return
	}
	writeJSON(w, http.StatusOK, optionResponse{
		OptionRecord: rec,
		Status:       rec.Status.String(),
		ShortToken:   long.Counterpart().Hex(),
		LongSupply:   s.deps.Engine.TotalSupply(long),
		ShortSupply:  s.deps.Engine.TotalSupply(long.Counterpart()),
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Status())
}

// ============================================================================
// helpers
// ============================================================================

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Kind  string `json:"kind,omitempty"`
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	switch poolerr.KindOf(err) {
	case poolerr.KindValidation:
		return http.StatusBadRequest
	case poolerr.KindAuthorization:
		return http.StatusForbidden
	case poolerr.KindState:
		return http.StatusConflict
	case poolerr.KindCapacity:
		return http.StatusUnprocessableEntity
	case poolerr.KindSlippage:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func writePoolError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), errorBody{
		Error: err.Error(),
		Code:  poolerr.CodeOf(err),
		Kind:  poolerr.KindOf(err).String(),
	})
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseSide(s string) (bool, error) {
	switch s {
	case "call":
		return true, nil
	case "put":
		return false, nil
	default:
		return false, fmt.Errorf("side must be call or put, got %q", s)
	}
}
