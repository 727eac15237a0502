// Package config loads the picam configuration file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/picam/internal/capture"
)

// Frame source kinds.
const (
	SourceCamera  = "camera"
	SourceCommand = "command"
	SourceRelay   = "relay"
	SourceFiles   = "files"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete picam configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Camera CameraConfig `yaml:"camera"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
	Tray   bool         `yaml:"tray"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxClients      int           `yaml:"max_clients"`   // 0 means unlimited
	WriteTimeout    time.Duration `yaml:"write_timeout"` // per frame
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CameraConfig selects the frame source and the settings forwarded to it.
type CameraConfig struct {
	Source     string        `yaml:"source"` // camera, command, relay, files
	Device     int           `yaml:"device"`
	Resolution string        `yaml:"resolution"`
	Framerate  int           `yaml:"framerate"`
	Rotation   int           `yaml:"rotation"`
	Exposure   string        `yaml:"exposure"`
	Quality    int           `yaml:"quality"`
	Command    []string      `yaml:"command,omitempty"`
	URL        string        `yaml:"url,omitempty"`
	Dir        string        `yaml:"dir,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay"` // 0 makes a source failure fatal
}

// StoreConfig locates the session database. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Camera: CameraConfig{
			Source:     SourceCommand,
			Resolution: capture.DefaultResolution,
			Framerate:  capture.DefaultFramerate,
			Quality:    capture.DefaultQuality,
			RetryDelay: time.Second,
		},
		Store: StoreConfig{
			Path: filepath.Join(DataDir(), "picam.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DataDir returns ~/.picam, or .picam when the home directory is unknown.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".picam"
	}
	return filepath.Join(home, ".picam")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Read reads the YAML file at path over the defaults. A missing file yields
// the defaults. The result is not validated, so callers can apply overrides
// first.
func Read(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.Unmarshal(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is Read followed by Validate.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Unmarshal decodes YAML data over c. Keys absent from data keep their
// current values. The result is not validated.
func (c *Config) Unmarshal(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the server cannot use.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	if c.Server.MaxClients < 0 {
		return fmt.Errorf("%w: server.max_clients must not be negative", ErrInvalid)
	}
	if c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: server timeouts must not be negative", ErrInvalid)
	}

	switch c.Camera.Source {
	case SourceCamera, SourceCommand:
	case SourceRelay:
		if c.Camera.URL == "" {
			return fmt.Errorf("%w: camera.url is required for the relay source", ErrInvalid)
		}
	case SourceFiles:
		if c.Camera.Dir == "" {
			return fmt.Errorf("%w: camera.dir is required for the files source", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown camera.source %q", ErrInvalid, c.Camera.Source)
	}

	if _, _, err := capture.ParseResolution(c.Camera.Resolution); err != nil {
		return fmt.Errorf("%w: camera.resolution: %v", ErrInvalid, err)
	}
	if c.Camera.Framerate <= 0 {
		return fmt.Errorf("%w: camera.framerate must be positive", ErrInvalid)
	}
	if !capture.ValidRotation(c.Camera.Rotation) {
		return fmt.Errorf("%w: camera.rotation must be 0, 90, 180 or 270", ErrInvalid)
	}
	if !capture.ValidExposure(c.Camera.Exposure) {
		return fmt.Errorf("%w: unknown camera.exposure %q", ErrInvalid, c.Camera.Exposure)
	}
	if c.Camera.Quality < 0 || c.Camera.Quality > 100 {
		return fmt.Errorf("%w: camera.quality must be between 0 and 100", ErrInvalid)
	}
	if c.Camera.RetryDelay < 0 {
		return fmt.Errorf("%w: camera.retry_delay must not be negative", ErrInvalid)
	}

	return nil
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Settings converts the camera section into capture settings.
// Validate must have succeeded.
func (c *Config) Settings() capture.Settings {
	w, h, _ := capture.ParseResolution(c.Camera.Resolution)
	return capture.Settings{
		Width:     w,
		Height:    h,
		Framerate: c.Camera.Framerate,
		Rotation:  c.Camera.Rotation,
		Exposure:  c.Camera.Exposure,
		Quality:   c.Camera.Quality,
	}
}
