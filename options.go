package mimir

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lming/mimir/pkg/engine"
)

// DefaultInstanceName is the reserved name used by DefaultInstance.
const DefaultInstanceName = "default"

// Options configures instance creation. Build it with Option values; zero
// fields fall back to documented defaults.
type Options struct {
	// DataDirectory roots the engine's storage. Defaults to
	// <user cache dir>/mimir/<instance name>.
	DataDirectory string

	// MasterKey protects the engine API when non-empty.
	MasterKey string

	// EngineBinaryPath overrides engine binary discovery.
	EngineBinaryPath string

	// ReadinessTimeout bounds engine startup. Defaults to 30s.
	ReadinessTimeout time.Duration

	// Launcher overrides how the engine is brought up; nil launches the
	// engine binary as a subprocess.
	Launcher engine.Launcher

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithDataDirectory sets the directory the engine owns exclusively.
func WithDataDirectory(dir string) Option {
	return func(o *Options) { o.DataDirectory = dir }
}

// WithMasterKey protects the engine API with a key.
func WithMasterKey(key string) Option {
	return func(o *Options) { o.MasterKey = key }
}

// WithEngineBinary overrides engine binary discovery.
func WithEngineBinary(path string) Option {
	return func(o *Options) { o.EngineBinaryPath = path }
}

// WithReadinessTimeout bounds how long instance creation waits for the
// engine to accept requests.
func WithReadinessTimeout(d time.Duration) Option {
	return func(o *Options) { o.ReadinessTimeout = d }
}

// WithLauncher substitutes the engine launch strategy, e.g. a platform
// specific embedding or an in-process engine in tests.
func WithLauncher(l engine.Launcher) Option {
	return func(o *Options) { o.Launcher = l }
}

// WithLogger routes bridge and engine logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func buildOptions(name string, opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.DataDirectory == "" {
		o.DataDirectory = defaultDataDirectory(name)
	}
	if o.ReadinessTimeout <= 0 {
		o.ReadinessTimeout = engine.DefaultReadinessTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func defaultDataDirectory(name string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "mimir", name)
}
