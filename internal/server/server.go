// Package server exposes the toolkit as an MCP server, over stdio or the
// streamable HTTP transport, next to a health check and the metrics scrape.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"golang.org/x/time/rate"

	"github.com/spigell/zhipin-responder/internal/logger"
	"github.com/spigell/zhipin-responder/internal/metrics"
	"github.com/spigell/zhipin-responder/internal/tools"
)

const (
	DefaultListen            = "127.0.0.1:8080"
	DefaultRequestsPerMinute = 60

	shutdownTimeout = 10 * time.Second
)

// Toolkit is the part of tools.Toolkit the server drives.
type Toolkit interface {
	Call(ctx context.Context, name string, args map[string]any) (any, error)
	CheckLoginStatus(ctx context.Context) (*tools.StatusResult, error)
}

// Requests receives one sample per served request.
type Requests interface {
	RecordRequest(route string, status int)
}

type Config struct {
	Listen            string
	RequestsPerMinute int
	Version           string
}

type Server struct {
	cfg      Config
	toolkit  Toolkit
	gatherer prometheus.Gatherer
	requests Requests
	logger   *zap.Logger
	mcp      *mcp.Server
	router   chi.Router
}

func New(cfg Config, toolkit Toolkit, gatherer prometheus.Gatherer, requests Requests, log *zap.Logger) (*Server, error) {
	if toolkit == nil {
		return nil, errors.New("server requires a toolkit")
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Version == "" {
		cfg.Version = "unknown"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		toolkit:  toolkit,
		gatherer: gatherer,
		requests: requests,
		logger:   logger.WithFields(log, zap.String("component", "server")),
	}
	s.mcp = NewMCP(toolkit, cfg.Version, s.logger)
	s.router = s.routes()

	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/", s.handleInfo)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))

	limiter := rate.NewLimiter(rate.Limit(float64(s.cfg.RequestsPerMinute)/60.0), s.cfg.RequestsPerMinute)
	r.Group(func(r chi.Router) {
		r.Use(rateLimit(limiter, s.logger))
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return s.mcp
		}, &mcp.StreamableHTTPOptions{
			JSONResponse: true,
			Logger:       slog.New(zapslog.NewHandler(s.logger.Core(), zapslog.WithName("mcp-http"))),
		}))
	})

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("listen", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// ServeStdio speaks MCP on stdin/stdout until the client hangs up or ctx
// is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("serving mcp over stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// observe tags the request with an id, logs it and records its status.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		s.logger.Debug("http request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("took", time.Since(start)),
		)
		if s.requests != nil {
			s.requests.RecordRequest(route, status)
		}
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": serverName,
		"version": s.cfg.Version,
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.toolkit.CheckLoginStatus(r.Context())
	if err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"session": status,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
