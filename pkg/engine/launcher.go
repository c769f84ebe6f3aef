package engine

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// DefaultBinaryName is the engine executable searched for on $PATH.
const DefaultBinaryName = "meilisearch"

// EnvBinaryPath overrides binary discovery when set.
const EnvBinaryPath = "MIMIR_ENGINE_PATH"

// LaunchConfig carries everything a Launcher needs to bring up one engine.
type LaunchConfig struct {
	// DataDirectory is the directory the engine owns exclusively.
	DataDirectory string
	// Addr is the loopback host:port the engine must bind.
	Addr string
	// MasterKey protects the engine API when non-empty.
	MasterKey string
	// BinaryPath overrides binary discovery when non-empty.
	BinaryPath string
	// Logger receives engine output; never nil.
	Logger *slog.Logger
}

// Process is a handle to a launched engine. Implementations wrap an OS
// process, but tests may back it with an in-process server.
type Process interface {
	// Signal delivers an OS signal, used for graceful shutdown.
	Signal(sig os.Signal) error
	// Wait blocks until the process exits and returns its exit error.
	// It must be safe to call exactly once.
	Wait() error
	// Kill terminates the process immediately.
	Kill() error
}

// Launcher starts an engine bound to an address. The launch strategy is
// pluggable: the default execs a local binary, other platforms or tests can
// substitute their own.
type Launcher interface {
	Launch(ctx context.Context, cfg LaunchConfig) (Process, error)
}

// BinaryLauncher launches the engine binary as a child process.
type BinaryLauncher struct {
	// lookPath and fileExists are test seams.
	lookPath   func(file string) (string, error)
	fileExists func(path string) bool
}

// NewBinaryLauncher returns the default subprocess launcher.
func NewBinaryLauncher() *BinaryLauncher {
	return &BinaryLauncher{
		lookPath:   exec.LookPath,
		fileExists: fileExists,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ResolveBinary locates the engine executable: explicit override first,
// then the environment, then $PATH, then platform install locations.
func (l *BinaryLauncher) ResolveBinary(override string) (string, error) {
	if override != "" {
		if !l.fileExists(override) {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, override)
		}
		return override, nil
	}
	if envPath := os.Getenv(EnvBinaryPath); envPath != "" {
		if !l.fileExists(envPath) {
			return "", fmt.Errorf("%w: %s (from %s)", ErrBinaryNotFound, envPath, EnvBinaryPath)
		}
		return envPath, nil
	}
	if path, err := l.lookPath(DefaultBinaryName); err == nil {
		return path, nil
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/opt/homebrew/bin/meilisearch",
			"/usr/local/bin/meilisearch",
		}
	case "linux":
		candidates = []string{
			"/usr/local/bin/meilisearch",
			"/usr/bin/meilisearch",
			filepath.Join(os.Getenv("HOME"), ".local", "bin", "meilisearch"),
		}
	}
	for _, p := range candidates {
		if l.fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q not on PATH", ErrBinaryNotFound, DefaultBinaryName)
}

// Launch starts the engine binary rooted at the data directory.
func (l *BinaryLauncher) Launch(ctx context.Context, cfg LaunchConfig) (Process, error) {
	bin, err := l.ResolveBinary(cfg.BinaryPath)
	if err != nil {
		return nil, err
	}

	args := []string{
		"--db-path", filepath.Join(cfg.DataDirectory, "engine"),
		"--http-addr", cfg.Addr,
		"--env", "development",
		"--no-analytics",
	}
	if cfg.MasterKey != "" {
		args = append(args, "--master-key", cfg.MasterKey)
	}

	cmd := exec.Command(bin, args...)
	cmd.Dir = cfg.DataDirectory

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %s: %w", bin, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go forwardOutput(logger, stderr)

	logger.Debug("engine_launched",
		slog.String("binary", bin),
		slog.String("addr", cfg.Addr),
		slog.Int("pid", cmd.Process.Pid))

	return &binaryProcess{cmd: cmd}, nil
}

// forwardOutput streams engine output lines into the logger at debug level.
func forwardOutput(logger *slog.Logger, r interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		logger.Debug("engine_output", slog.String("line", scanner.Text()))
	}
}

type binaryProcess struct {
	cmd *exec.Cmd
}

func (p *binaryProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *binaryProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *binaryProcess) Kill() error {
	return p.cmd.Process.Kill()
}
