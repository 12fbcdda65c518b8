package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/telemetry"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/api"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/app"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/config"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/metrics"

	// Import prometheus metrics to register init() functions
	_ "github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nwbd server",
	Long: `Start the nwbd conversion daemon with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/nwbd/config.yaml.

Examples:
  # Start in background (default)
  nwbd start

  # Start in foreground
  nwbd start --foreground

  # Start with custom config file
  nwbd start --config /etc/nwbd/config.yaml

  # Start with environment variable overrides
  NWB_LOGGING_LEVEL=DEBUG nwbd start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/nwbd/nwbd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/nwbd/nwbd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "nwbd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}

	// Initialize metrics FIRST so the workflow wiring sees an enabled
	// registry.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	// Wire the workflow: session store, buses, agents, capabilities.
	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize workflow: %w", err)
	}
	logger.Info("Workflow initialized",
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"upload_dir", cfg.Storage.UploadDir,
		"output_dir", cfg.Storage.OutputDir)

	// Attach the metrics collector to the event bus (if enabled)
	collector := metrics.NewCollector(application.Events, metrics.NewWorkflowMetrics())
	defer collector.Close()

	metricsServer := metrics.NewServer(cfg.Metrics.Port)
	if metricsServer != nil {
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	apiServer := api.NewServer(cfg, application.Store, application.Bus, application.Events)
	logger.Info("API server configured", "host", cfg.Server.Host, "port", cfg.Server.Port)

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// A signal cancels the context; a failing server cancels the group
	// context, which gracefully stops the other one.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error { return apiServer.Start(gctx) })
	g.Go(func() error { return metricsServer.Start(gctx) })

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()

	// Create state directory if it doesn't exist
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "nwbd.pid")
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("nwbd is already running (PID %d)\nUse 'nwbd stop' to stop the running instance", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	// Set default log file if not specified
	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "nwbd.log")
	}

	// Get the executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build arguments for the daemon process
	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	// Create the daemon process
	daemon := exec.Command(executable, daemonArgs...)

	// Open log file for stdout/stderr
	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from parent process
	daemon.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// Start the daemon
	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("nwbd started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'nwbd stop' to stop the server")
	fmt.Println("Use 'nwbd status' to check server status")

	return nil
}
