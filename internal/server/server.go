// Package server exposes a pipeline over HTTP: submit a DOT graph, stream
// its events as Server-Sent Events, inspect its context, and answer any
// wait.human questions it raises mid-run.
package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowgraph/attractor/internal/config"
	"github.com/flowgraph/attractor/internal/llm/router"
)

// Config configures the HTTP facade.
type Config struct {
	Addr string // listen address, e.g. ":8080"
}

// Server serves the pipeline submission API described above.
type Server struct {
	cfg      Config
	registry *Registry
	backend  *router.Backend
	baseCtx  context.Context
	cancel   context.CancelFunc
	httpSrv  *http.Server
	logger   *log.Logger
}

// New builds a Server listening at cfg.Addr, dispatching codergen stages
// through an LLM backend resolved from the environment.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		backend:  router.FromEnv(),
		baseCtx:  ctx,
		cancel:   cancel,
		logger:   log.New(os.Stderr, "[attractor-server] ", log.LstdFlags),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(csrfProtect)

	r.Get("/health", s.handleHealth)
	r.Post("/pipelines", s.handleSubmitPipeline)
	r.Get("/pipelines/{id}", s.handleGetPipeline)
	r.Get("/pipelines/{id}/events", s.handlePipelineEvents)
	r.Post("/pipelines/{id}/cancel", s.handleCancelPipeline)
	r.Get("/pipelines/{id}/context", s.handleGetContext)
	r.Get("/pipelines/{id}/questions", s.handleGetQuestions)
	r.Post("/pipelines/{id}/questions/{qid}/answer", s.handleAnswerQuestion)

	s.httpSrv = &http.Server{
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams never hit a write deadline
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// DiscoverConfig loads attractor.yaml next to graphPath, falling back to
// built-in defaults when absent.
func DiscoverConfig(graphPath string) (*config.Config, error) {
	return config.Discover(graphPath)
}

// csrfProtect rejects cross-origin POSTs. Browsers set Origin on
// cross-origin requests automatically, so checking it blocks CSRF from a
// malicious page while leaving CLI/programmatic callers untouched.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if origin := r.Header.Get("Origin"); origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					writeError(w, http.StatusForbidden, "invalid Origin header")
					return
				}
				switch u.Hostname() {
				case "localhost", "127.0.0.1", "::1":
				default:
					writeError(w, http.StatusForbidden, "cross-origin request blocked")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the server and blocks until shutdown, either via
// SIGINT/SIGTERM or an explicit Shutdown call.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down", sig)
		s.Shutdown()
	}()

	s.logger.Printf("listening on %s", s.cfg.Addr)
	s.httpSrv.Addr = s.cfg.Addr
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown cancels every running pipeline and stops accepting connections.
func (s *Server) Shutdown() {
	s.registry.CancelAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.cancel()
}
