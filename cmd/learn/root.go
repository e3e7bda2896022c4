package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/metrics"
	"github.com/Integrum-Global/kailash-learn/internal/pipeline"
	"github.com/Integrum-Global/kailash-learn/internal/storage"
)

var (
	// Global flags
	cfgFile     string
	rootDir     string
	output      string
	verbose     bool
	lockTimeout string

	// Resolved in PersistentPreRunE
	cfg      = config.Default()
	logger   = zap.NewNop()
	recorder = metrics.New()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "learn",
	Short: "Continuous-learning pipeline for coding agents",
	Long: `learn turns what an agent does into knowledge it can reuse.

Pipeline:
  record      Capture one observation (called from hooks)
  process     Distil observations into scored instincts
  evolve      Promote high-confidence instincts into skills, commands, agents
  checkpoint  Snapshot and restore every store

Inspect:
  stats       Observation counts
  instincts   List or import instincts
  trace       Provenance of an evolved artifact
  search      Keyword search over instincts and artifacts
  identity    Thresholds, enabled types, evolution targets
  metrics     Prometheus exposition of store sizes
  config      Resolved settings and their sources

Integrate:
  serve       MCP server on stdio

Every command prints a JSON summary on stdout (-o table|yaml for humans) and
reports failures as {"error": kind, "message": ...} on stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		flags := &config.Config{
			Root:        rootDir,
			Output:      output,
			Verbose:     verbose,
			LockTimeout: lockTimeout,
		}
		loaded, err := config.Load(cfgFile, flags)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded

		l, err := newLogger(cmd.ErrOrStderr(), cfg)
		if err != nil {
			return err
		}
		logger = l
		recorder = metrics.New()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync() //nolint:errcheck // stderr sync is best-effort
	},
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	reportError(rootCmd.ErrOrStderr(), err)
	return exitCode(err)
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Storage root (default: .agents/learning)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .learn/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&lockTimeout, "lock-timeout", "", "Maximum wait for a store lock (default: 5s)")
}

// GetOutput returns the resolved output format for use by subcommands.
func GetOutput() string {
	return cfg.Output
}

// newLogger builds a JSON zap logger writing to w. Verbose forces debug.
func newLogger(w io.Writer, c *config.Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if c.LogLevel != "" {
		parsed, err := zap.ParseAtomicLevel(c.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", c.LogLevel, err)
		}
		level = parsed
	}
	if c.Verbose {
		level.SetLevel(zap.DebugLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), level)
	return zap.New(core), nil
}

// storageRoot resolves the configured root. Left at the default, an
// initialised root in a parent directory wins over creating a new one here.
func storageRoot() string {
	if cfg.Root == storage.DefaultRoot {
		if found := storage.FindRoot(""); found != "" {
			return found
		}
	}
	return cfg.Root
}

// openPipeline wires the pipeline of the resolved storage root.
func openPipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	return pipeline.Open(cmd.Context(), storageRoot(), pipeline.Options{
		Logger:      logger,
		Metrics:     recorder,
		LockTimeout: cfg.LockTimeoutDuration(),
	})
}
