// Package server exposes the answer pipeline over HTTP in the shape OCS
// quiz clients expect.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/bank"
	"github.com/sells-group/ocs-answerer/internal/manual"
	"github.com/sells-group/ocs-answerer/internal/metrics"
	"github.com/sells-group/ocs-answerer/internal/model"
)

// Response codes used when none are configured.
const (
	DefaultSuccessCode = 1
	DefaultErrorCode   = 0
)

// Resolver is the pipeline the server drives.
type Resolver interface {
	Resolve(ctx context.Context, req model.Request) (model.Outcome, error)
	InvalidateCache(ctx context.Context) error
}

// Options configures a Server. Banks, Manual and Metrics may be nil.
type Options struct {
	Resolver       Resolver
	Banks          *bank.Connector
	Manual         *manual.Bank
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	// APIPrefix mounts the API at prefix and prefix/v1.
	APIPrefix      string
	SuccessCode    int
	ErrorCode      int
	RequestTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	opts   Options
	router chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	if opts.SuccessCode == opts.ErrorCode {
		opts.SuccessCode, opts.ErrorCode = DefaultSuccessCode, DefaultErrorCode
	}
	s := &Server{opts: opts}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	r.Use(cors.Handler(corsOptions(s.opts.AllowedOrigins)))

	r.Get("/", s.handleRoot)
	r.Head("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	r.Mount(s.opts.APIPrefix+"/v1", s.apiRoutes())
	r.Mount(s.opts.APIPrefix, s.apiRoutes())
	return r
}

func (s *Server) apiRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", s.handleAPIHealth)
	r.Head("/health", s.handleAPIHealth)
	r.Get("/search", s.handleSearch)
	r.Head("/search", s.handleSearch)
	r.Post("/search", s.handleSearch)
	r.Get("/status", s.handleStatus)
	r.Head("/status", s.handleStatus)
	r.Get("/cache/clear", s.handleCacheClear)
	r.Get("/config/example", s.handleConfigExample(bank.ExampleConfigs))
	r.Get("/config/simple", s.handleConfigExample(bank.SimpleConfigs))
	r.Get("/manual", s.handleManualList)
	r.Post("/manual", s.handleManualAdd)
	r.Delete("/manual", s.handleManualRemove)
	return r
}

func corsOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		opts.AllowedOrigins = []string{"*"}
		opts.AllowCredentials = false
	}
	return opts
}

type ctxKey struct{}

// RequestIDHeader carries the per-request id.
const RequestIDHeader = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// RequestIDFrom returns the id assigned to the request, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.HTTPRequest(route, status)
		}
		zap.L().Info("http: request",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

// Addr formats a listen address for port.
func Addr(port int) string { return fmt.Sprintf(":%d", port) }
