package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/picam/internal/app"
	"github.com/ayusman/picam/internal/config"
	"github.com/ayusman/picam/internal/logging"
	"github.com/ayusman/picam/internal/server"
	"github.com/ayusman/picam/internal/store"
	"github.com/ayusman/picam/internal/tray"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "picam: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseConfig(args, os.Stderr)
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	var st *store.Store
	if cfg.Store.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err = store.New(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	a, err := app.FromConfig(cfg, st, logger)
	if err != nil {
		return err
	}

	ln, err := server.Listen(cfg.Addr())
	if err != nil {
		return err
	}

	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("source", cfg.Camera.Source).
		Stringer("settings", cfg.Settings()).
		Bool("store", st != nil).
		Msg("picam starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Tray {
		return a.Serve(ctx, ln)
	}
	return serveWithTray(ctx, a, ln, logger)
}

// parseConfig loads the config file named by -config and applies the flags
// that were set explicitly on top of it.
func parseConfig(args []string, output io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("picam", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		path       = fs.String("config", config.DefaultPath(), "path to the YAML config file")
		host       = fs.String("host", "", "address to listen on")
		port       = fs.Int("port", 0, "port to listen on")
		rotation   = fs.Int("rot", 0, "degrees rotation (0, 90, 180, 270)")
		framerate  = fs.Int("fr", 0, "framerate")
		resolution = fs.String("res", "", "resolution (480p, 720p, 1080p or WxH)")
		exposure   = fs.String("mode", "", "exposure mode")
		source     = fs.String("source", "", "frame source (camera, command, relay, files)")
		maxClients = fs.Int("max-clients", 0, "maximum concurrent stream clients, 0 for unlimited")
		debug      = fs.Bool("debug", false, "enable debug logging")
		withTray   = fs.Bool("tray", false, "show a system tray icon")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg, err := config.Read(*path)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "rot":
			cfg.Camera.Rotation = *rotation
		case "fr":
			cfg.Camera.Framerate = *framerate
		case "res":
			cfg.Camera.Resolution = *resolution
		case "mode":
			cfg.Camera.Exposure = *exposure
		case "source":
			cfg.Camera.Source = *source
		case "max-clients":
			cfg.Server.MaxClients = *maxClients
		case "debug":
			if *debug {
				cfg.Log.Level = zerolog.LevelDebugValue
			}
		case "tray":
			cfg.Tray = *withTray
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serveWithTray runs the app in the background while the tray owns the main
// goroutine, as systray requires.
func serveWithTray(ctx context.Context, a *app.App, ln net.Listener, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := tray.New()
	t.OnQuit(cancel)
	url := previewURL(ln.Addr())
	t.OnPreview(func() {
		if err := openBrowser(url); err != nil {
			logger.Warn().Err(err).Str("url", url).Msg("failed to open browser")
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Serve(ctx, ln)
		t.Quit()
	}()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.SetClients(a.Server().ClientCount())
			}
		}
	}()

	t.Run()
	cancel()
	return <-errCh
}

// previewURL returns a browsable URL for the listener address.
func previewURL(addr net.Addr) string {
	host, port := "localhost", ""
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
		if !tcp.IP.IsUnspecified() {
			host = tcp.IP.String()
		}
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
