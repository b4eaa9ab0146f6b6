// Package proxy serves the init/run protocol over HTTP.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/internal/config"
	"github.com/caffeineduck/actionproxy/language"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server wraps the chi router, the default session and the keyed sessions.
type Server struct {
	cfg      config.Config
	exec     *executor.Executor
	langs    *language.Set
	session  *executor.Session
	sessions *sessionTable
	router   *chi.Mux
	logger   *zap.Logger

	// serial orders every protocol request unless cfg.Concurrent is set.
	serial sync.Mutex
}

// New creates the server and its default session in cfg.Lang.
func New(cfg config.Config, exec *executor.Executor, langs *language.Set, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	lang, err := langs.Get(cfg.Lang)
	if err != nil {
		return nil, err
	}
	session, err := exec.NewSession(lang, cfg.SessionOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create default session: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		exec:     exec,
		langs:    langs,
		session:  session,
		sessions: newSessionTable(cfg.MaxSessions, cfg.SessionTTL, logger),
		router:   chi.NewRouter(),
		logger:   logger,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metricsMiddleware)

	s.routes()

	return s, nil
}

func (s *Server) routes() {
	s.router.Handle("/metrics", metricsHandler())

	s.router.Group(func(r chi.Router) {
		r.Use(s.limitBody)
		r.Use(s.serialize)

		r.Get("/", s.handleRoot)
		r.Post("/init", s.handleInit)
		r.Post("/run", s.handleRun)
		r.Get("/status", s.handleStatus)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleDeleteSession)
			r.Post("/{id}/init", s.handleSessionInit)
			r.Post("/{id}/run", s.handleSessionRun)
		})
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on cfg.Addr and serves until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("lang", s.session.Language().Name()),
			zap.Bool("concurrent", s.cfg.Concurrent),
		)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Close releases the default session and every keyed session.
func (s *Server) Close() error {
	s.sessions.closeAll()
	return s.session.Close()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) serialize(next http.Handler) http.Handler {
	if s.cfg.Concurrent {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serial.Lock()
		defer s.serial.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBody)
		next.ServeHTTP(w, r)
	})
}
