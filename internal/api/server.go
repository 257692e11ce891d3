package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
	"github.com/JakeFAU/camara-crawler/internal/metrics"
	"github.com/JakeFAU/camara-crawler/internal/store"
)

const (
	defaultRequestTimeout = 30 * time.Second
	readyTimeout          = 2 * time.Second
)

// Crawls is the control surface the server drives. *dispatcher.Dispatcher
// satisfies it.
type Crawls interface {
	Start(resource string) (bool, error)
	Stop(ctx context.Context, resource string) (bool, error)
	Status(resource string) (crawler.Status, error)
	Statuses() []crawler.Status
	Count(ctx context.Context, resource string) (int64, error)
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// APIKey enables X-API-Key authentication when non-empty.
	APIKey string
	// RequestTimeout bounds every route except stop, which waits for the
	// crawl to reach a checkpoint.
	RequestTimeout time.Duration
	// Runs serves /api/runs. Nil answers 503.
	Runs store.RunRepository
	// Ready is pinged by /readyz. Nil means always ready.
	Ready  Pinger
	Logger *zap.Logger
}

// Server wires HTTP handlers to the crawl controllers and run history.
type Server struct {
	router chi.Router
	crawls Crawls
	ready  Pinger
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(crawls Crawls, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		crawls: crawls,
		ready:  opts.Ready,
		logger: logger,
	}
	runs := NewRunsHandler(opts.Runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/status", s.statusAll)
		r.Route("/api/runs", func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			r.Get("/", runs.ListRuns)
			r.Get("/{run_id}", runs.GetRun)
		})
		r.Route("/{resource}", func(r chi.Router) {
			r.Get("/stop", s.stop)
			r.Post("/stop", s.stop)
			r.Group(func(r chi.Router) {
				r.Use(timeoutMiddleware(timeout))
				r.Get("/start", s.start)
				r.Post("/start", s.start)
				r.Get("/status", s.status)
				r.Get("/count", s.count)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	started, err := s.crawls.Start(resource)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	msg := displayName(resource) + " crawler started"
	if !started {
		msg = displayName(resource) + " crawler is already running"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	stopped, err := s.crawls.Stop(r.Context(), resource)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	msg := displayName(resource) + " crawler stopped"
	if !stopped {
		msg = displayName(resource) + " crawler is not running"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.crawls.Status(chi.URLParam(r, "resource"))
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) statusAll(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"resources": s.crawls.Statuses()})
}

func (s *Server) count(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	st, err := s.crawls.Status(resource)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	n, err := s.crawls.Count(r.Context(), resource)
	if err != nil {
		s.logger.Error("count failed", zap.String("resource", resource), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to count documents")
		return
	}
	s.writeJSON(w, http.StatusOK, countResponse{
		Resource: string(st.Resource),
		Running:   st.Running,
		Processed: st.Processed,
		Count:     n,
	})
}

// countResponse pairs the stored document count with the current run's
// processed counter.
type countResponse struct {
	Resource  string `json:"resource"`
	Running   bool   `json:"running"`
	Processed int64  `json:"processed"`
	Count     int64  `json:"count"`
}

func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	if errors.Is(err, crawler.ErrUnknownResource) {
		s.writeError(w, http.StatusNotFound, "unknown resource")
		return
	}
	s.logger.Error("control request failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload, s.logger)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeError(w, status, msg, s.logger)
}

func displayName(resource string) string {
	if resource == "" {
		return resource
	}
	return strings.ToUpper(resource[:1]) + resource[1:]
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
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
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
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error", logger)
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
