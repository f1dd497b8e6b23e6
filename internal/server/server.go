// Package server provides the HTTP server and routing for the trading
// execution engine.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/modules/dispatch"
	"github.com/aristath/sentinel/internal/modules/metrics"
	"github.com/aristath/sentinel/internal/precision"
	"github.com/aristath/sentinel/internal/queue"
)

// Server wires the chi router that exposes the webhook ingestion
// endpoint, the admin operator surface, the Prometheus scrape endpoint,
// and the SSE event stream, generalized from the teacher's
// internal/server route-registration idiom.
type Server struct {
	cfg    *config.Config
	log    zerolog.Logger
	router chi.Router
	http   *http.Server

	dispatcher *dispatch.Dispatcher
	queueMgr   *queue.Manager
	cache      *precision.Cache
	warmer     *precision.Warmer
	emitter    *events.Manager
	registry   *prometheus.Registry
}

// New builds a Server with every collaborator already constructed by
// cmd/server/main.go.
func New(cfg *config.Config, log zerolog.Logger, dispatcher *dispatch.Dispatcher, queueMgr *queue.Manager, cache *precision.Cache, warmer *precision.Warmer, emitter *events.Manager, registry *prometheus.Registry) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log.With().Str("component", "server").Logger(),
		router:     chi.NewRouter(),
		dispatcher: dispatcher,
		queueMgr:   queueMgr,
		cache:      cache,
		warmer:     warmer,
		emitter:    emitter,
		registry:   registry,
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.http = &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleVersion)

		eventsHandler := NewEventsStreamHandler(s.emitter, s.log)
		r.Get("/events/stream", eventsHandler.ServeHTTP)

		r.Post("/webhook/{group_name}", s.handleWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/rebalance/{account_id}/{symbol}", s.handleAdminRebalance)
			r.Post("/precision/warm", s.handleAdminPrecisionWarm)
			r.Delete("/precision/cache", s.handleAdminPrecisionClear)
			r.Get("/queue/depth", s.handleAdminQueueDepth)
		})
	})

	if s.registry != nil {
		s.router.Handle("/metrics", metrics.Handler(s.registry))
	}
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "sentinel-trading-engine"})
}

// webhookResponse is the wire shape spec.md §6 specifies:
// {success, results[], summary{total, successful, failed}}.
type webhookResponse struct {
	Success bool                      `json:"success"`
	Results []dispatch.AccountResult `json:"results"`
	Summary webhookSummary            `json:"summary"`
}

type webhookSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// handleWebhook is the single ingestion boundary for every trading
// signal (spec.md §4.1, §6). It parses the JSON body into
// dispatch.WebhookPayload, injects the URL's group_name, and hands off
// to the Dispatcher, mapping the outcome's domain.ErrorKind onto the
// HTTP status spec.md §6/§7 call for.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	groupName := chi.URLParam(r, "group_name")

	var payload dispatch.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	payload.GroupName = groupName

	resp, derr := s.dispatcher.Dispatch(r.Context(), payload)
	if derr != nil {
		writeJSON(w, statusForError(derr.Kind), map[string]string{"error": derr.Error()})
		return
	}

	status := http.StatusOK
	if resp.Failed > 0 && resp.OK > 0 {
		status = http.StatusMultiStatus
	}

	writeJSON(w, status, webhookResponse{
		Success: resp.Success,
		Results: resp.Results,
		Summary: webhookSummary{Total: resp.Total, Successful: resp.OK, Failed: resp.Failed},
	})
}

// statusForError implements spec.md §6/§7's error-to-status mapping.
func statusForError(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleAdminRebalance triggers an immediate Manager.RebalanceSymbol pass
// for one (strategy_account, symbol) pair, outside the usual scheduler
// tick — an operator escape hatch grounded on the teacher's
// system_handlers.go "trigger job now" admin pattern.
func (s *Server) handleAdminRebalance(w http.ResponseWriter, r *http.Request) {
	strategyAccountID, err := strconv.ParseInt(chi.URLParam(r, "account_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account_id"})
		return
	}
	symbol := chi.URLParam(r, "symbol")

	cancelled, promoted, rerr := s.queueMgr.RebalanceSymbol(r.Context(), strategyAccountID, symbol)
	if rerr != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": rerr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cancelled, "promoted": promoted})
}

// handleAdminPrecisionWarm re-runs the startup market warmup on demand.
func (s *Server) handleAdminPrecisionWarm(w http.ResponseWriter, r *http.Request) {
	if err := s.warmer.Warm(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"markets_cached": s.cache.Len()})
}

// handleAdminPrecisionClear drops every cached MarketInfo, forcing the
// next order-path lookup to miss until the refresher repopulates it —
// an intentionally destructive operator action.
func (s *Server) handleAdminPrecisionClear(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// queueDepthResponse reports pending-order depth per (strategy_account,
// symbol) tuple plus the total, the actual queue-depth surface spec §6
// calls for.
type queueDepthResponse struct {
	Total    int                  `json:"total"`
	BySymbol []queueDepthBySymbol `json:"by_symbol"`
}

type queueDepthBySymbol struct {
	StrategyAccountID int64  `json:"strategy_account_id"`
	Symbol            string `json:"symbol"`
	Pending           int    `json:"pending"`
}

// handleAdminQueueDepth reports pending-order depth per (strategy_account,
// symbol) tuple and the total, from the PendingOrderStore via
// queue.Manager.QueueDepth.
func (s *Server) handleAdminQueueDepth(w http.ResponseWriter, r *http.Request) {
	total, bySymbol, err := s.queueMgr.QueueDepth(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := queueDepthResponse{Total: total, BySymbol: make([]queueDepthBySymbol, 0, len(bySymbol))}
	for tuple, count := range bySymbol {
		resp.BySymbol = append(resp.BySymbol, queueDepthBySymbol{
			StrategyAccountID: tuple.StrategyAccountID,
			Symbol:            tuple.Symbol,
			Pending:           count,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
