// Package cmd provides the CLI commands for mimir.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lming/mimir"
	"github.com/lming/mimir/internal/config"
	"github.com/lming/mimir/internal/logging"
	"github.com/lming/mimir/internal/ui"
	"github.com/lming/mimir/pkg/version"
)

var (
	flagConfig   string
	flagDataDir  string
	flagInstance string
	flagDebug    bool

	cfg            *config.Config
	logger         *slog.Logger
	loggingCleanup func()
)

// NewRootCmd creates the root command for the mimir CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mimir",
		Short: "Embedded search engine bridge",
		Long: `mimir manages local search engine instances: create indexes, add
documents, search, and keep a drop directory ingested.

The engine runs as a managed local subprocess; state lives under the
instance data directory.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("mimir version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default .mimir.yaml)")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Instance data directory")
	cmd.PersistentFlags().StringVar(&flagInstance, "instance", "", "Instance name (default \"default\")")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setup
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration and wires logging before any command runs.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagInstance != "" {
		cfg.Instance = flagInstance
	}

	logCfg := logging.Config{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	}
	if flagDebug {
		logCfg.Level = "debug"
		logCfg.MirrorStderr = true
	}
	logger, loggingCleanup, err = logging.Setup(logCfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// instanceOptions maps the effective config onto library options.
func instanceOptions() []mimir.Option {
	opts := []mimir.Option{mimir.WithLogger(logger)}
	if cfg.DataDir != "" {
		opts = append(opts, mimir.WithDataDirectory(cfg.DataDir))
	}
	if cfg.MasterKey != "" {
		opts = append(opts, mimir.WithMasterKey(cfg.MasterKey))
	}
	if cfg.EngineBinary != "" {
		opts = append(opts, mimir.WithEngineBinary(cfg.EngineBinary))
	}
	if d := cfg.ReadinessTimeoutDuration(); d > 0 {
		opts = append(opts, mimir.WithReadinessTimeout(d))
	}
	return opts
}

// openInstance starts (or joins) the configured instance.
func openInstance(ctx context.Context) (*mimir.Instance, error) {
	return mimir.GetOrCreateInstance(ctx, cfg.Instance, instanceOptions()...)
}

// manifestPath is where the watch command keeps its ingest manifest.
func manifestPath(inst *mimir.Instance) string {
	return filepath.Join(inst.DataDirectory(), "ingest.db")
}

// Execute runs the CLI, shutting instances down on exit and translating
// SIGINT/SIGTERM into context cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = mimir.Shutdown() }()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		ui.New(os.Stderr).Error(err)
		return err
	}
	return nil
}
