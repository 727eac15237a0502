// Package server provides the HTTP server that fans the latest camera frame
// out to any number of viewers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/picam/internal/frame"
	"github.com/ayusman/picam/internal/logging"
	"github.com/ayusman/picam/internal/store"
)

const defaultShutdownTimeout = 5 * time.Second

// Config holds the server configuration.
type Config struct {
	// Frames is the buffer every stream handler reads from. Required.
	Frames *frame.Buffer
	// Page is served at / and /index.html. Defaults to the built-in viewer.
	Page []byte
	// Store records stream sessions when set.
	Store *store.Store
	// MaxClients caps concurrent stream clients. 0 means unlimited.
	MaxClients int
	// WriteTimeout bounds the write of a single frame. 0 disables it.
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// Server represents the HTTP server for picam. A Server serves once: after
// Serve returns, its stream handlers stay cancelled.
type Server struct {
	config  Config
	mux     *http.ServeMux
	start   time.Time
	log     zerolog.Logger
	clients *registry

	// streams is cancelled when the server shuts down; every stream handler
	// watches it alongside its request context.
	streams       context.Context
	cancelStreams context.CancelFunc
	handlers      sync.WaitGroup
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Page == nil {
		config.Page = defaultPage
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	streams, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:        config,
		mux:           http.NewServeMux(),
		start:         time.Now(),
		log:           logging.Component(config.Logger, "server"),
		clients:       newRegistry(config.MaxClients),
		streams:       streams,
		cancelStreams: cancel,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/", s.handlePage)
	s.mux.Handle("/stream.mjpg", &streamHandler{server: s})
	s.mux.Handle("/ws", &wsHandler{server: s})
	s.mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/clients", s.handleClients)

	if s.config.Store != nil {
		s.mux.HandleFunc("/api/sessions", s.handleSessions)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ClientCount returns the number of connected stream clients.
func (s *Server) ClientCount() int {
	return s.clients.count()
}

// Clients returns a snapshot of the connected stream clients.
func (s *Server) Clients() []ClientInfo {
	return s.clients.list()
}

// Listen binds addr for Serve. Binding happens before serving so that an
// address already in use is reported to the caller immediately.
func Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled, then terminates all
// stream handlers and waits for them to exit, bounded by the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("serving")

	select {
	case err := <-errCh:
		s.cancelStreams()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Int("clients", s.clients.count()).Msg("shutting down")
	s.cancelStreams()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	waitCtx := shutdownCtx
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// A handler stalled in a write never sees the cancellation. Closing
		// its connection fails the write, so the stop is still clean once
		// every handler has returned.
		s.log.Warn().Err(err).Msg("graceful shutdown timed out, closing connections")
		srv.Close()

		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancelWait()
	}
	<-errCh

	if err := s.waitHandlers(waitCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// waitHandlers waits for the stream handlers. Hijacked WebSocket connections
// are invisible to http.Server.Shutdown, so they are tracked here.
func (s *Server) waitHandlers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// streamContext derives the context a stream handler runs under: it ends when
// the request does or when the server shuts down.
func (s *Server) streamContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.streams, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// shuttingDown reports whether Serve has begun shutting down.
func (s *Server) shuttingDown() bool {
	return s.streams.Err() != nil
}
