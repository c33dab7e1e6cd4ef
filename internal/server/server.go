package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Options configures a Server.
type Options struct {
	// Addr is host:port; an empty host listens on all interfaces.
	Addr string
	// Root is the directory files are served from.
	Root string
	// Hidden lists request paths answered with 404 even if the file exists.
	Hidden            []string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// DefaultOptions returns options for serving root on port 8000.
func DefaultOptions(root string) Options {
	return Options{
		Addr:              ":8000",
		Root:              root,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

type state int

const (
	stateIdle state = iota
	stateServing
	stateStopped
)

// Server is a static file server that adds CORS headers to every response.
type Server struct {
	options Options
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler

	mu         sync.Mutex
	state      state
	listener   net.Listener
	httpServer *http.Server
	onShutdown []func()
	done       chan error
}

// New builds a Server for options. Nothing is bound until Start.
func New(options Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(options.Root)))
	for _, p := range options.Hidden {
		mux.Handle(p, http.NotFoundHandler())
	}

	return &Server{
		options: options,
		logger:  logger,
		mux:     mux,
		handler: withRequestLog(logger, WithCORS(mux)),
		done:    make(chan error, 1),
	}
}

// Handle mounts an extra handler next to the file server. The CORS headers
// still apply to it.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// RegisterOnShutdown registers f to run when Stop begins. Call it before Start.
func (s *Server) RegisterOnShutdown(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShutdown = append(s.onShutdown, f)
}

// Handler returns the full handler chain, for use without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP serves r through the same chain as the listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start binds the listener and serves in the background. A failure to bind
// is returned as *BindError.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateServing:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrServerStopped
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.options.Addr)
	if err != nil {
		return &BindError{Addr: s.options.Addr, Err: err}
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.options.ReadHeaderTimeout,
		IdleTimeout:       s.options.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	for _, f := range s.onShutdown {
		srv.RegisterOnShutdown(f)
	}

	s.listener = ln
	s.httpServer = srv
	s.state = stateServing

	go func() {
		defer close(s.done)

		s.logger.Info("file server listening",
			slog.String("addr", ln.Addr().String()),
			slog.String("root", s.options.Root),
		)

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
			s.done <- err
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done receives an error if the serve loop fails, and is closed when it exits.
func (s *Server) Done() <-chan error {
	return s.done
}

// Stop stops accepting connections and releases the port, waiting for
// in-flight requests until ctx expires. Requests still running then are
// abandoned by closing their connections. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = stateStopped
	srv := s.httpServer
	s.mu.Unlock()

	switch prev {
	case stateIdle:
		close(s.done)
		return nil
	case stateStopped:
		return nil
	}

	s.logger.Info("shutting down file server")

	err := srv.Shutdown(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.logger.Warn("abandoning in-flight requests", slog.String("error", err.Error()))
		if closeErr := srv.Close(); closeErr != nil {
			s.logger.Warn("server close failed", slog.String("error", closeErr.Error()))
		}
		return nil
	}

	closeErr := srv.Close()
	return fmt.Errorf("server shutdown failed: %w", errors.Join(err, closeErr))
}
