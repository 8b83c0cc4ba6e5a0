package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/archive"
	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/metrics"
	"github.com/tvivaldelli/signal-daily-digest/internal/pipeline"
)

// Runner starts pipeline runs and reports their state.
type Runner interface {
	Trigger(ctx context.Context, opts pipeline.Options) (string, error)
	State() digest.RunState
}

// Artifacts is the read side of the two-tier artifact cache.
type Artifacts interface {
	GetFresh(ctx context.Context, category string, days int) (archive.Fresh, bool, error)
	ListHistory(ctx context.Context, f digest.HistoryFilter) ([]digest.ArchivedArtifact, error)
	Search(ctx context.Context, keyword string, limit int) ([]digest.ArchivedArtifact, error)
	GetByID(ctx context.Context, id string) (digest.ArchivedArtifact, error)
	Evict(category string) bool
	EvictAll()
	Windows() archive.Windows
	Calendar() digest.Calendar
}

// Config tunes the HTTP surface.
type Config struct {
	// Token is the shared secret for mutating routes. An empty token rejects
	// every mutating request.
	Token          string
	RequestTimeout time.Duration
	QueryCap       int
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router    chi.Router
	runner    Runner
	records   digest.ContentStore
	artifacts Artifacts
	cfg       Config
	logger    *zap.Logger
}

const defaultRequestTimeout = 30 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, records digest.ContentStore, artifacts Artifacts, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.QueryCap <= 0 {
		cfg.QueryCap = digest.DefaultQueryCap
	}
	s := &Server{
		runner:    runner,
		records:   records,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.With(tokenMiddleware(cfg.Token)).Post("/trigger", s.trigger)
	r.Get("/status", s.status)

	r.Route("/api", func(r chi.Router) {
		r.Get("/records", s.listRecords)
		r.Get("/digest/{category}", s.getDigest)
		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.listHistory)
			r.Get("/search", s.searchHistory)
			r.Get("/{id}", s.getHistory)
		})
		r.With(tokenMiddleware(cfg.Token)).Post("/cache/evict", s.evictCache)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	force, err := parseBool(r.URL.Query().Get("force"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid force flag")
		return
	}
	runID, err := s.runner.Trigger(r.Context(), pipeline.Options{Force: force})
	if err != nil {
		s.logger.Error("trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	s.logger.Info("run triggered", zap.String("run_id", runID), zap.Bool("force", force))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.State())
}

// listRecords handles GET /api/records?source=&topic=&q=&since=&until=&limit=.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cal := s.artifacts.Calendar()
	since, err := parseTime(q.Get("since"), cal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since")
		return
	}
	until, err := parseTime(q.Get("until"), cal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid until")
		return
	}
	limit, err := parseInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	filter := digest.RecordFilter{
		Source:  q.Get("source"),
		Topic:   q.Get("topic"),
		Keyword: q.Get("q"),
		Since:   since,
		Until:   until,
		Limit:   limit,
	}
	records, err := s.records.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("query records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query records")
		return
	}
	if records == nil {
		records = []digest.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) getDigest(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	fresh, ok, err := s.artifacts.GetFresh(r.Context(), category, s.artifacts.Windows().Lookup)
	if err != nil {
		s.logger.Error("get fresh artifact failed", zap.String("category", category), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no fresh digest")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"artifact": fresh.Artifact,
		"row_id":   fresh.RowID,
		"tier":     fresh.Tier,
	})
}

// listHistory handles GET /api/history?category=&q=&before=&limit=&offset=.
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	before, err := parseTime(q.Get("before"), s.artifacts.Calendar())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid before")
		return
	}
	limit, err := parseInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := parseInt(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	rows, err := s.artifacts.ListHistory(r.Context(), digest.HistoryFilter{
		Category: q.Get("category"),
		Keyword:  q.Get("q"),
		Before:   before,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.Error("list history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeHistory(w, rows)
}

func (s *Server) searchHistory(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("q"))
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	limit, err := parseInt(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	rows, err := s.artifacts.Search(r.Context(), keyword, limit)
	if err != nil {
		s.logger.Error("search history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search history")
		return
	}
	writeHistory(w, rows)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	row, err := s.artifacts.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, digest.ErrNotFound):
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	case err != nil:
		s.logger.Error("get archived artifact failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) evictCache(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		s.artifacts.EvictAll()
		s.logger.Info("volatile cache purged")
		writeJSON(w, http.StatusOK, map[string]any{"evicted": "all"})
		return
	}
	evicted := s.artifacts.Evict(category)
	s.logger.Info("volatile cache entry evicted", zap.String("category", category), zap.Bool("present", evicted))
	writeJSON(w, http.StatusOK, map[string]any{"evicted": category, "present": evicted})
}

func writeHistory(w http.ResponseWriter, rows []digest.ArchivedArtifact) {
	if rows == nil {
		rows = []digest.ArchivedArtifact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": rows})
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid bool %q: %w", raw, err)
	}
	return v, nil
}

// parseTime accepts RFC 3339 timestamps or civil dates in the anchor zone.
func parseTime(raw string, cal digest.Calendar) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, cal.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", raw, err)
	}
	return t, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			log.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

// tokenMiddleware rejects requests whose X-Trigger-Token header (or token
// query parameter) does not equal expected.
func tokenMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Trigger-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if !tokenMatches(token, expected) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(got, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
