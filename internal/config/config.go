package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the optional configuration file looked up in the serving directory.
const FileName = "labelserve.toml"

// Values used when FileName does not set them.
const (
	DefaultPort            = 8000
	DefaultEntry           = "web-client.html"
	DefaultShutdownTimeout = 5
)

// Validation errors returned by Load.
var (
	ErrInvalidPort      = errors.New("port must be between 1 and 65535")
	ErrInvalidLogLevel  = errors.New("unknown log level")
	ErrRootNotDirectory = errors.New("root is not a directory")
	ErrInvalidTimeout   = errors.New("shutdown_timeout must not be negative")
	ErrInvalidDebounce  = errors.New("live_reload.debounce_ms must not be negative")
)

// Config is the contents of FileName. Zero-valued keys keep their defaults.
type Config struct {
	Host            string           `toml:"host"`
	Port            int              `toml:"port"`
	Root            string           `toml:"root"`
	Entry           string           `toml:"entry"`
	OpenBrowser     bool             `toml:"open_browser"`
	LogLevel        string           `toml:"log_level"`
	ShutdownTimeout int              `toml:"shutdown_timeout"`
	LiveReload      LiveReloadConfig `toml:"live_reload"`
}

// LiveReloadConfig controls the opt-in reload channel.
type LiveReloadConfig struct {
	Enabled    bool `toml:"enabled"`
	DebounceMS int  `toml:"debounce_ms"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Host:            "",
		Port:            DefaultPort,
		Entry:           DefaultEntry,
		OpenBrowser:     true,
		LogLevel:        "info",
		ShutdownTimeout: DefaultShutdownTimeout,
		LiveReload: LiveReloadConfig{
			Enabled:    false,
			DebounceMS: 250,
		},
	}
}

// Load reads FileName from dir on top of Default. A missing file is not an error.
// Root is resolved to an absolute path; an empty root means dir itself.
func Load(dir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("open config %s: %w", path, err)
	default:
		defer f.Close()

		dec := toml.NewDecoder(f).DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	cfg.Root = resolveRoot(dir, cfg.Root)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ExecutableDir returns the directory containing the running binary.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}

	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	return filepath.Dir(exe), nil
}

func resolveRoot(dir, root string) string {
	if root == "" {
		root = dir
	} else if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}

	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}

	return filepath.Clean(root)
}

// Validate checks ranges and that Root is an existing directory.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	if c.ShutdownTimeout < 0 {
		return ErrInvalidTimeout
	}

	if c.LiveReload.Enabled && c.LiveReload.DebounceMS < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDebounce, c.LiveReload.DebounceMS)
	}

	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("stat root %s: %w", c.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotDirectory, c.Root)
	}

	return nil
}

// Addr is the listen address; an empty host binds all interfaces.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BaseURL is the address printed for the user.
func (c Config) BaseURL() string {
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// EntryURL is the page opened in the browser.
func (c Config) EntryURL() string {
	return c.BaseURL() + "/" + strings.TrimPrefix(c.Entry, "/")
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return level, nil
}

// ShutdownTimeoutDuration bounds how long Stop waits for in-flight requests.
func (c Config) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// Debounce is how long changes are collected before pages reload.
func (c LiveReloadConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}
