// Package web serves the cleaner, the clipboard monitor and its event
// stream over HTTP and WebSocket for browser front ends.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"linkcleaner/internal/cleaner"
	"linkcleaner/internal/health"
	"linkcleaner/internal/highlight"
	"linkcleaner/internal/logging"
	"linkcleaner/internal/metrics"
	"linkcleaner/internal/ratelimit"
	"linkcleaner/internal/reconcile"
	"linkcleaner/internal/store"
)

// History lists persisted clipboard events, newest first.
type History interface {
	List(limit int) ([]store.CleanedEvent, error)
}

// Config configures the HTTP surface.
type Config struct {
	Addr           string
	AllowedOrigins []string
	MaxBodyBytes   int64

	// RateLimit is requests per second per client address on /api. Zero
	// disables limiting.
	RateLimit float64
	RateBurst int
}

// Deps are the services behind the API. Monitor, History, Metrics and
// Health are optional.
type Deps struct {
	Cleaner *cleaner.Cleaner
	Monitor reconcile.Monitor
	History History
	Metrics *metrics.Registry
	Sync    *metrics.SyncMetrics
	Health  *health.Checker
	Logger  *slog.Logger

	// OnToggle is called after a successful monitor toggle.
	OnToggle func(enabled bool)
}

// Server is the HTTP API.
type Server struct {
	cfg       Config
	deps      Deps
	logger    *slog.Logger
	router    chi.Router
	validator *validator
	policy    *bluemonday.Policy
	hub       *hub
	limiter   *ratelimit.Keyed
}

// New builds the router.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if deps.Cleaner == nil {
		deps.Cleaner = cleaner.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	v, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("load request schemas: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger,
		validator: v,
		policy:    highlightPolicy(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = ratelimit.NewKeyed(cfg.RateLimit, cfg.RateBurst, 10*time.Minute)
	}
	s.hub = newHub(cfg.AllowedOrigins, deps.Sync, deps.Logger)
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(assignRequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limitRate)
		}
		r.Post("/sanitize", s.handleSanitize)
		r.Post("/highlight", s.handleHighlight)

		r.Get("/monitor", s.handleGetMonitor)
		r.Put("/monitor", s.handleSetMonitor)
		r.Get("/clipboard/latest", s.handleLatest)
		r.Get("/clipboard/history", s.handleHistory)
	})
	r.Get("/ws", s.hub.serveWS)

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.HTTPHandler())
	}
	if s.deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", s.deps.Health.LivenessHandler())
		r.Method(http.MethodGet, "/readyz", s.deps.Health.ReadinessHandler())
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("http listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Forward pushes monitor events to websocket clients until ctx is done.
func (s *Server) Forward(ctx context.Context) error {
	if s.deps.Monitor == nil {
		return nil
	}
	events, err := s.deps.Monitor.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to monitor: %w", err)
	}
	for ev := range events {
		s.hub.broadcast(pushMessage{Type: "clipboard_cleaned", Event: &ev})
	}
	return nil
}

// NotifyMonitorToggled tells websocket clients the monitor state changed.
func (s *Server) NotifyMonitorToggled(enabled bool) {
	s.hub.broadcast(pushMessage{Type: "monitor_toggled", Enabled: &enabled})
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int { return s.hub.count() }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.deps.Sync.RecordHTTPRequest()
		logging.WithRequestID(s.logger, middleware.GetReqID(r.Context())).Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func (s *Server) limitRate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		l := s.limiter.Get(host)
		if !l.Allow() {
			secs := int(math.Ceil(l.RetryAfter().Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// assignRequestID gives requests without an X-Request-Id header a UUID so
// ids stay unique across daemon restarts.
func assignRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(middleware.RequestIDHeader) == "" {
			r.Header.Set(middleware.RequestIDHeader, uuid.NewString())
		}
		w.Header().Set(middleware.RequestIDHeader, r.Header.Get(middleware.RequestIDHeader))
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

type sanitizeRequest struct {
	Text string `json:"text"`
}

type sanitizeResponse struct {
	Output        string `json:"output"`
	URLsFound     int    `json:"urls_found"`
	URLsModified  int    `json:"urls_modified"`
	ParamsRemoved int    `json:"params_removed"`
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var req sanitizeRequest
	if err := s.validator.decode(w, r, s.cfg.MaxBodyBytes, "sanitize", &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep := s.deps.Cleaner.CleanWithReport(req.Text)
	writeJSON(w, http.StatusOK, sanitizeResponse{
		Output:        rep.Output,
		URLsFound:     rep.URLsFound,
		URLsModified:  rep.URLsModified,
		ParamsRemoved: rep.ParamsRemoved,
	})
}

type highlightRequest struct {
	Original string `json:"original"`
	Cleaned  string `json:"cleaned"`
}

type highlightResponse struct {
	Runs    []highlight.Run `json:"runs"`
	HTML    string          `json:"html"`
	Aligned bool            `json:"aligned"`
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	var req highlightRequest
	if err := s.validator.decode(w, r, s.cfg.MaxBodyBytes, "highlight", &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	doc, ok := highlight.AlignChecked(req.Original, req.Cleaned)
	writeJSON(w, http.StatusOK, highlightResponse{
		Runs:    doc.Runs,
		HTML:    renderHTML(doc, s.policy),
		Aligned: ok,
	})
}

type monitorBody struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) requireMonitor(w http.ResponseWriter) bool {
	if s.deps.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("clipboard monitor not available"))
		return false
	}
	return true
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	if !s.requireMonitor(w) {
		return
	}
	enabled, err := s.deps.Monitor.MonitorEnabled(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, monitorBody{Enabled: enabled})
}

func (s *Server) handleSetMonitor(w http.ResponseWriter, r *http.Request) {
	if !s.requireMonitor(w) {
		return
	}
	var req monitorBody
	if err := s.validator.decode(w, r, s.cfg.MaxBodyBytes, "monitor", &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	applied, err := s.deps.Monitor.SetMonitorEnabled(r.Context(), req.Enabled)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if s.deps.OnToggle != nil {
		s.deps.OnToggle(applied)
	}
	writeJSON(w, http.StatusOK, monitorBody{Enabled: applied})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !s.requireMonitor(w) {
		return
	}
	ev, ok, err := s.deps.Monitor.LatestCleaned(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("nothing cleaned yet"))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("history not available"))
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	rows, err := s.deps.History.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	events := make([]reconcile.Event, 0, len(rows))
	for _, e := range rows {
		events = append(events, reconcile.Event{
			ID:            e.ID,
			Original:      e.Original,
			Cleaned:       e.Cleaned,
			ParamsRemoved: e.ParamsRemoved,
			At:            e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
