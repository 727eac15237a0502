// Package app wires a frame source through the assembler and frame buffer to
// the streaming server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/picam/internal/capture"
	"github.com/ayusman/picam/internal/config"
	"github.com/ayusman/picam/internal/frame"
	"github.com/ayusman/picam/internal/logging"
	"github.com/ayusman/picam/internal/server"
	"github.com/ayusman/picam/internal/store"
)

// Config holds configuration options for the application.
type Config struct {
	Source capture.Source
	Store  *store.Store
	// RetryDelay is the pause before a failed source is restarted.
	// 0 makes the first source failure end the application.
	RetryDelay time.Duration
	// Server configures the streaming server. Frames, Store and Logger are
	// filled in by New.
	Server server.Config
	Logger zerolog.Logger
}

// App is the running camera streamer: one source feeding one frame buffer
// served to every client.
type App struct {
	config    Config
	frames    *frame.Buffer
	assembler *frame.Assembler
	server    *server.Server
	log       zerolog.Logger
	restarts  atomic.Uint64
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	frames := frame.NewBuffer()

	srvCfg := config.Server
	srvCfg.Frames = frames
	srvCfg.Store = config.Store
	srvCfg.Logger = config.Logger

	return &App{
		config:    config,
		frames:    frames,
		assembler: frame.NewAssembler(frames),
		server:    server.New(srvCfg),
		log:       logging.Component(config.Logger, "app"),
	}
}

// FromConfig builds an App, and its frame source, from a loaded configuration.
// st may be nil.
func FromConfig(cfg *config.Config, st *store.Store, logger zerolog.Logger) (*App, error) {
	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}

	return New(Config{
		Source:     src,
		Store:      st,
		RetryDelay: cfg.Camera.RetryDelay,
		Server: server.Config{
			MaxClients:      cfg.Server.MaxClients,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
		Logger: logger,
	}), nil
}

// NewSource creates the frame source selected by cfg.
func NewSource(cfg *config.Config) (capture.Source, error) {
	settings := cfg.Settings()

	switch cfg.Camera.Source {
	case config.SourceCamera:
		return capture.NewCameraSource(capture.NewCamera(cfg.Camera.Device, settings), settings), nil
	case config.SourceCommand:
		return capture.NewCommandSource(cfg.Camera.Command, settings), nil
	case config.SourceRelay:
		return capture.NewRelaySource(cfg.Camera.URL), nil
	case config.SourceFiles:
		return capture.NewFilesSource(cfg.Camera.Dir, settings.Framerate, true), nil
	default:
		return nil, fmt.Errorf("%w: unknown camera.source %q", config.ErrInvalid, cfg.Camera.Source)
	}
}

// Frames returns the frame buffer shared by the source and the server.
func (a *App) Frames() *frame.Buffer {
	return a.frames
}

// Server returns the streaming server.
func (a *App) Server() *server.Server {
	return a.server
}

// Restarts returns how many times the source has been restarted.
func (a *App) Restarts() uint64 {
	return a.restarts.Load()
}

// Run binds addr and serves until ctx is cancelled or the source fails
// for good.
func (a *App) Run(ctx context.Context, addr string) error {
	ln, err := server.Listen(addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve runs the source and the server on ln. Both stop when ctx is
// cancelled; a fatal source error stops the server too. The frame buffer is
// closed once the server has stopped.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srcErr := make(chan error, 1)
	go func() {
		err := a.runSource(ctx)
		if err != nil {
			cancel()
		}
		srcErr <- err
	}()

	serveErr := a.server.Serve(ctx, ln)
	cancel()
	err := <-srcErr
	a.frames.Close()

	a.log.Info().
		Uint64("frames", a.frames.Generation()).
		Uint64("restarts", a.restarts.Load()).
		Msg("stopped")

	return errors.Join(err, serveErr)
}
