// Conceptd is an orchestration daemon for multi-phase concept
// development sessions with HTTP/SSE transport.
//
// The binary starts the conceptd HTTP server with full service
// initialization: the embedded event bus, the pattern store, the
// checkpoint service, and the mode and consensus engines.
//
// Configuration is loaded from ~/.config/conceptd/config.yaml plus
// CONCEPTD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	conceptd serve
//
//	# Configure via environment
//	CONCEPTD_SERVER_PORT=9180 conceptd serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	"github.com/fyrsmithlabs/conceptd/internal/checkpoint"
	"github.com/fyrsmithlabs/conceptd/internal/config"
	"github.com/fyrsmithlabs/conceptd/internal/consensus"
	"github.com/fyrsmithlabs/conceptd/internal/engine"
	conceptdhttp "github.com/fyrsmithlabs/conceptd/internal/http"
	"github.com/fyrsmithlabs/conceptd/internal/logging"
	"github.com/fyrsmithlabs/conceptd/internal/memory"
	"github.com/fyrsmithlabs/conceptd/internal/mode"
	"github.com/fyrsmithlabs/conceptd/internal/patternstore"
	"github.com/fyrsmithlabs/conceptd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "conceptd",
	Short: "Concept development orchestration daemon",
	Long: `conceptd drives multi-phase, story-first concept development
sessions: versioned session memory, phase gates, adaptive rigor modes,
and multi-signal validation consensus.`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conceptd daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("conceptd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/conceptd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// run starts the conceptd server and blocks until the context is
// cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger and telemetry
//  3. Start the embedded event bus
//  4. Open the pattern store and attach its bus sink
//  5. Open the checkpoint service
//  6. Wire the mode, consensus, and orchestration engines
//  7. Start the HTTP server and the config watcher
//  8. Graceful shutdown on context cancellation
func run(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("starting conceptd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	eventBus, err := bus.Start(cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	defer eventBus.Close()

	patterns, err := patternstore.Open(ctx, cfg.PatternStore, logger)
	if err != nil {
		return fmt.Errorf("failed to open pattern store: %w", err)
	}
	defer func() {
		_ = patterns.Close()
	}()

	batcher := patternstore.NewBatcher(patterns, logger)
	defer batcher.Close()
	sink, err := patternstore.AttachBus(eventBus.Conn(), bus.SubjectPatternObserve, batcher, logger)
	if err != nil {
		return fmt.Errorf("failed to attach pattern sink: %w", err)
	}
	defer func() {
		_ = sink.Unsubscribe()
	}()

	checkpoints, err := checkpoint.NewService(&checkpoint.Config{
		Path:     cfg.Checkpoint.Path,
		Compress: cfg.Checkpoint.Compress,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint service: %w", err)
	}
	defer func() {
		_ = checkpoints.Close()
	}()

	modes, err := mode.NewEngine(cfg.Mode, logger)
	if err != nil {
		return fmt.Errorf("failed to create mode engine: %w", err)
	}
	validator, err := consensus.NewEngine(cfg.Consensus,
		consensus.DefaultProducers(patterns, cfg.Consensus.MinSamples), logger)
	if err != nil {
		return fmt.Errorf("failed to create consensus engine: %w", err)
	}

	eng, err := engine.New(cfg.Engine, memory.NewStore(logger), modes, validator,
		checkpoints, nil, eventBus, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	srv, err := conceptdhttp.NewServer(eng, eventBus, logger, &conceptdhttp.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		ValidateRPS:   cfg.Server.ValidateRPS,
		ValidateBurst: cfg.Server.ValidateBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Hot reload covers the consensus knobs (threshold, floor, weight
	// profiles). Everything else needs a restart.
	watchPath := configPath
	if watchPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			watchPath = filepath.Join(home, ".config", "conceptd", "config.yaml")
		}
	}
	watcher, err := config.Watch(watchPath, func(next *config.Config) {
		if err := validator.SetConfig(next.Consensus); err != nil {
			logger.Warn("rejected consensus config reload", zap.Error(err))
		}
	}, logger)
	if err != nil {
		logger.Warn("config watcher unavailable, hot reload disabled", zap.Error(err))
	} else {
		defer func() {
			_ = watcher.Close()
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
