// Package engine supervises one embedded search engine process per data
// directory: it launches the engine, waits for readiness, observes exits,
// and shuts it down, guarding the directory with a cross-process lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"
)

// Readiness polling bounds, mirrored from the default startup behavior.
const (
	// DefaultReadinessTimeout bounds how long Start waits for the engine
	// to accept requests.
	DefaultReadinessTimeout = 30 * time.Second

	// readyPollInterval is the initial readiness polling interval.
	readyPollInterval = 100 * time.Millisecond

	// maxReadyPollInterval caps the exponential backoff.
	maxReadyPollInterval = 2 * time.Second

	// stopGracePeriod bounds the wait for a graceful exit before the
	// process is force-terminated.
	stopGracePeriod = 10 * time.Second
)

// Sentinel errors surfaced by Start and Stop.
var (
	ErrAlreadyStarted   = errors.New("engine already started")
	ErrNotRunning       = errors.New("engine not running")
	ErrBinaryNotFound   = errors.New("engine binary not found")
	ErrDirectoryLocked  = errors.New("data directory locked by another engine")
	ErrReadinessTimeout = errors.New("timed out waiting for engine readiness")
)

// State is the supervisor's lifecycle position.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures a Supervisor.
type Config struct {
	// DataDirectory is the directory the engine owns. Required.
	DataDirectory string
	// MasterKey protects the engine API when non-empty.
	MasterKey string
	// BinaryPath overrides engine binary discovery.
	BinaryPath string
	// ReadinessTimeout bounds startup; zero means DefaultReadinessTimeout.
	ReadinessTimeout time.Duration
	// Launcher overrides the launch strategy; nil means the subprocess
	// launcher.
	Launcher Launcher
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Supervisor binds exactly one running engine to one data directory for its
// lifetime. A failed request never takes the engine down; only Stop moves a
// ready engine out of StateReady.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	proc   Process
	url    string
	lock   *DirLock
	exited chan error // closed by the monitor goroutine after Wait returns
}

// New creates a supervisor; the engine is not started until Start.
func New(cfg Config) *Supervisor {
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = DefaultReadinessTimeout
	}
	if cfg.Launcher == nil {
		cfg.Launcher = NewBinaryLauncher()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: logger, state: StateNotStarted}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// URL returns the engine's base URL once StateReady is reached.
func (s *Supervisor) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Start launches the engine and blocks until it is ready or startup fails.
// Startup failure is terminal for this supervisor.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNotStarted {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.start(ctx); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Supervisor) start(ctx context.Context) error {
	if s.cfg.DataDirectory == "" {
		return errors.New("engine: data directory is required")
	}
	if err := os.MkdirAll(s.cfg.DataDirectory, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	lock := NewDirLock(s.cfg.DataDirectory)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrDirectoryLocked, s.cfg.DataDirectory)
	}

	addr, err := pickLoopbackAddr()
	if err != nil {
		_ = lock.Unlock()
		return err
	}

	proc, err := s.cfg.Launcher.Launch(ctx, LaunchConfig{
		DataDirectory: s.cfg.DataDirectory,
		Addr:          addr,
		MasterKey:     s.cfg.MasterKey,
		BinaryPath:    s.cfg.BinaryPath,
		Logger:        s.logger,
	})
	if err != nil {
		_ = lock.Unlock()
		return err
	}

	url := "http://" + addr
	if err := s.waitReady(ctx, url); err != nil {
		_ = proc.Kill()
		_ = lock.Unlock()
		return err
	}

	exited := make(chan error, 1)
	s.mu.Lock()
	s.state = StateReady
	s.proc = proc
	s.url = url
	s.lock = lock
	s.exited = exited
	s.mu.Unlock()

	go s.monitor(proc, exited)

	s.logger.Info("engine_ready",
		slog.String("data_dir", s.cfg.DataDirectory),
		slog.String("url", url))
	return nil
}

// waitReady polls the health endpoint with exponential backoff until the
// engine answers or the readiness timeout elapses. Transport errors during
// this window are retried; they only surface as a timeout.
func (s *Supervisor) waitReady(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(s.cfg.ReadinessTimeout)
	interval := readyPollInterval

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrReadinessTimeout, s.cfg.ReadinessTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxReadyPollInterval {
			interval = maxReadyPollInterval
		}
	}
}

// monitor observes the engine process. An exit while the supervisor is
// still StateReady is a crash and moves it to StateFailed.
func (s *Supervisor) monitor(proc Process, exited chan error) {
	err := proc.Wait()
	exited <- err
	close(exited)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		s.state = StateFailed
		if s.lock != nil {
			_ = s.lock.Unlock()
		}
		s.logger.Error("engine_exited_unexpectedly",
			slog.String("data_dir", s.cfg.DataDirectory),
			slog.Any("error", err))
	}
}

// Stop requests a graceful shutdown, waits a bounded grace period, and
// force-terminates an unresponsive engine. The directory lock is always
// released. Stopping an engine that never reached ready, or already
// stopped, is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		// Failed or stopped engines have already released the lock in
		// monitor/start; make release idempotent anyway.
		if s.lock != nil {
			_ = s.lock.Unlock()
		}
		if s.state == StateStarting {
			s.mu.Unlock()
			return ErrNotRunning
		}
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	proc := s.proc
	lock := s.lock
	exited := s.exited
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		if lock != nil {
			_ = lock.Unlock()
		}
	}()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		_ = proc.Kill()
		<-exited
		return nil
	}

	grace := stopGracePeriod
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < grace {
			grace = until
		}
	}

	select {
	case <-exited:
		s.logger.Info("engine_stopped", slog.String("data_dir", s.cfg.DataDirectory))
		return nil
	case <-time.After(grace):
		s.logger.Warn("engine_stop_timeout_killing",
			slog.String("data_dir", s.cfg.DataDirectory))
		_ = proc.Kill()
		<-exited
		return nil
	}
}

// pickLoopbackAddr reserves a free loopback port for the engine to bind.
func pickLoopbackAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("reserve loopback port: %w", err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		return "", fmt.Errorf("release reserved port: %w", err)
	}
	return addr, nil
}
