// Package colab provides a reusable collaboration server that can be
// embedded in other binaries (e.g. an all-in-one classroom appliance).
package colab

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/blockwise/colabd/internal/colab/config"
	"github.com/blockwise/colabd/internal/colab/dispatch"
	"github.com/blockwise/colabd/internal/colab/httpapi"
	"github.com/blockwise/colabd/internal/colab/session"
	"github.com/blockwise/colabd/internal/colab/ticket"
	"github.com/blockwise/colabd/internal/colab/wsapi"
	"github.com/blockwise/colabd/internal/logging"
	"github.com/blockwise/colabd/internal/metrics"
)

// Server is a reusable collaboration server instance.
type Server struct {
	cfg        *config.Config
	server     *http.Server
	registry   *session.Registry
	verifier   *ticket.Verifier
	shutdownCh chan struct{}
}

// NewServer wires the session registry, ticket verifier, dispatcher and
// HTTP routes. Call Serve() to start listening.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	secret := ticket.ResolveSecret(cfg.JoinTokenSecret, cfg.CronSecret, cfg.Production())
	if secret == "" {
		slog.Warn("no join ticket secret configured, every admission will be rejected")
	}
	verifier := ticket.NewVerifier(secret)

	registry := session.NewRegistry(cfg.Retention())
	dispatcher := dispatch.New(registry, verifier)

	shutdownCh := make(chan struct{})

	mux := http.NewServeMux()
	mux.Handle("/ws", wsapi.Handler(dispatcher, shutdownCh))

	api := httpapi.Handler(registry)
	mux.Handle("/health", api)
	mux.Handle("/workspace/", api)

	// Prometheus metrics endpoint.
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Handler:           logging.HTTPMiddleware(metrics.HTTPMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		server:     server,
		registry:   registry,
		verifier:   verifier,
		shutdownCh: shutdownCh,
	}, nil
}

// Registry returns the server's workspace registry for direct
// inspection (e.g. for the standalone binary's admin hooks).
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Verifier returns the ticket verifier, mainly so embedding binaries
// can mint matching test tickets in development.
func (s *Server) Verifier() *ticket.Verifier {
	return s.verifier
}

// Handler returns the root HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Serve starts the server on the configured TCP address. It blocks
// until ctx is cancelled, then performs graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("colabd shutting down...")

		// 1. Refuse new WebSocket upgrades.
		close(s.shutdownCh)

		// 2. Close every live session so clients stop retrying sends.
		s.registry.Shutdown(int(websocket.StatusGoingAway), "server shutting down")

		// 3. Drain in-flight HTTP requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)

		close(shutdownDone)
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(ln) }()

	slog.Info("colabd listening", "addr", s.cfg.Addr(), "env", s.cfg.Env)

	if err := <-errCh; err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}

	<-shutdownDone
	return nil
}
