// Package main is the CLI entry point for fwmon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nettrail/fwmon/internal/config"
	"github.com/nettrail/fwmon/internal/daemon"
	"github.com/nettrail/fwmon/internal/domain"
	"github.com/nettrail/fwmon/internal/infra"
	"github.com/nettrail/fwmon/internal/profile"
	"github.com/nettrail/fwmon/internal/usecase"
	"github.com/nettrail/fwmon/internal/web"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// recentBufferSize is how many displayed records the web API keeps.
const recentBufferSize = 256

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fwmon",
	Short: "Firewall trace monitor - streams virtual filtering platform decisions",
	Long: `fwmon keeps a firewall packet capture session alive and continuously
tails its trace records. New ALLOW/BLOCK decisions matching the configured
addresses are printed as they arrive, one line per record.

The capture session survives monitor restarts. Each run shows records
created after it started; older records stay in the backing file.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor until interrupted",
	Long: `Creates the capture session if needed, starts it, and polls the trace
backing file for new records. Filtered records stream to stdout (and to
NATS and the status HTTP API when configured).

Press Ctrl-C to stop. The capture session is stopped but kept, so the
next run resumes against the same session.`,
	RunE: runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show capture session status",
	Long:  `Shows whether the capture session exists, whether it is running, its providers, and the backing file state.`,
	RunE:  runStatus,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Stop the capture session",
	Long: `Stops the capture session if it is running. The backing file and the
session itself are kept unless --purge is given, which deletes both.`,
	RunE: runCleanup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden inject command - appends synthetic records to the backing file
// so the monitor pipeline can be exercised without a live capture agent.
var injectCmd = &cobra.Command{
	Use:    "inject",
	Hidden: true,
	RunE:   runInject,
}

var (
	configPath string

	flagSource     string
	flagSession    string
	flagPollMs     int
	flagTraceDir   string
	flagAddresses  []string
	flagProfile    string
	flagNoColor    bool
	flagNATSURL    string
	flagListenAddr string
	flagLogFile    string

	injectCount   int
	injectMessage string

	purgeSession bool
	jsonOutput   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	runCmd.Flags().StringVar(&flagSource, "source", "", "Capture source identifier")
	runCmd.Flags().StringVar(&flagSession, "session", "", "Capture session name")
	runCmd.Flags().IntVar(&flagPollMs, "poll-interval-ms", 0, "Poll interval in milliseconds")
	runCmd.Flags().StringVar(&flagTraceDir, "trace-dir", "", "Backing file directory")
	runCmd.Flags().StringSliceVar(&flagAddresses, "addresses", nil, "Addresses of interest (repeatable, comma-separated)")
	runCmd.Flags().StringVar(&flagProfile, "profile", "", "Capture profile (vfp, wfp)")
	runCmd.Flags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	runCmd.Flags().StringVar(&flagNATSURL, "nats-url", "", "Forward records to this NATS server")
	runCmd.Flags().StringVar(&flagListenAddr, "listen-addr", "", "Serve status HTTP API on this address")
	runCmd.Flags().StringVar(&flagLogFile, "log-file", "", "Write daemon logs to this file instead of stderr")

	cleanupCmd.Flags().BoolVar(&purgeSession, "purge", false, "Also remove the session and its backing file")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	injectCmd.Flags().IntVar(&injectCount, "count", 3, "Number of records to append")
	injectCmd.Flags().StringVar(&injectMessage, "message", "", "Record message (default alternates ALLOW/BLOCK lines)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(injectCmd)
}

// loadConfig builds the effective config: defaults, then the YAML file,
// then any flags set on this invocation.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, cfg)

	if err := cfg.Normalize(profile.NewRegistry()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Source = flagSource
	}
	if flags.Changed("session") {
		cfg.SessionName = flagSession
	}
	if flags.Changed("poll-interval-ms") {
		cfg.PollIntervalMs = flagPollMs
	}
	if flags.Changed("trace-dir") {
		cfg.TraceDir = flagTraceDir
	}
	if flags.Changed("addresses") {
		cfg.Addresses = flagAddresses
	}
	if flags.Changed("profile") {
		cfg.Profile = flagProfile
	}
	if flags.Changed("no-color") {
		cfg.NoColor = flagNoColor
	}
	if flags.Changed("nats-url") {
		cfg.NATSURL = flagNATSURL
	}
	if flags.Changed("listen-addr") {
		cfg.ListenAddr = flagListenAddr
	}
	if flags.Changed("log-file") {
		cfg.LogFile = flagLogFile
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.LogFile)
	defer func() { _ = logger.Sync() }()

	var key []byte
	if cfg.StoreKeyFile != "" {
		provider := infra.NewFileKeyProvider(cfg.StoreKeyFile)
		key, err = infra.EnsureKey(provider)
		if err != nil {
			return fmt.Errorf("failed to prepare store key: %w", err)
		}
	}

	spec := cfg.SessionSpec()
	store := infra.NewSQLiteTraceStore(spec.FilePath, key, logger)
	defer store.Close()

	controller := usecase.NewSessionController(store, spec, logger)

	// Preflight only: a missing agent means no new records, not a dead
	// monitor. Startup proceeds either way.
	if cfg.AgentProcess != "" {
		probe := infra.NewProcessProbe()
		pids, err := probe.FindByName(cfg.AgentProcess)
		if err != nil {
			logger.Warn("capture agent lookup failed", zap.Error(err))
		} else if len(pids) == 0 {
			logger.Warn("capture agent process not found, records may not arrive",
				zap.String("process", cfg.AgentProcess))
		} else {
			logger.Info("capture agent found",
				zap.String("process", cfg.AgentProcess),
				zap.Ints("pids", pids))
		}
	}

	console := infra.NewConsoleSink(os.Stdout, cfg.NoColor)
	sinks := []domain.RecordSink{console}

	var recent *infra.RecentBuffer
	if cfg.ListenAddr != "" {
		recent = infra.NewRecentBuffer(recentBufferSize)
		sinks = append(sinks, recent)
	}

	if cfg.NATSURL != "" {
		natsSink, err := infra.NewNATSSink(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return err
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink)
	}

	var sink domain.RecordSink = console
	if len(sinks) > 1 {
		sink = infra.NewMultiSink(sinks...)
	}

	pipeline := usecase.NewFilterPipeline(cfg.InterestSet(), cfg.AllowToken, cfg.BlockToken)
	stats := daemon.NewStats()

	pollerCfg := daemon.DefaultPollerConfig()
	pollerCfg.Interval = cfg.PollInterval()
	pollerCfg.FilePath = spec.FilePath
	poller := daemon.NewPoller(pollerCfg, store, pipeline, sink, stats, logger)

	monitor := daemon.NewMonitor(controller, poller, stats, logger)

	var api *web.Server
	if cfg.ListenAddr != "" {
		api = web.NewServer(cfg.ListenAddr, stats, recent, logger)
		api.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	fmt.Printf("Monitoring capture session %q (source: %s, poll: %s)\n",
		spec.Name, spec.Source, cfg.PollInterval())
	if !cfg.InterestSet().Empty() {
		fmt.Printf("Addresses of interest: %v\n", cfg.InterestSet().Addresses())
	}
	fmt.Println("Press Ctrl-C to stop.")

	runErr := monitor.Run(ctx)

	if api != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := api.Stop(shutdownCtx); err != nil {
			logger.Warn("web API shutdown failed", zap.Error(err))
		}
	}

	return runErr
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	key, err := loadExistingKey(cfg)
	if err != nil {
		return err
	}

	spec := cfg.SessionSpec()
	store := infra.NewSQLiteTraceStore(spec.FilePath, key, zap.NewNop())
	defer store.Close()

	fmt.Println("\n=== fwmon Status ===")

	info, err := store.Describe(context.Background(), cfg.SessionName)
	if errors.Is(err, domain.ErrSessionNotFound) {
		fmt.Println("Session: NOT CREATED")
		fmt.Println("\nRun 'fwmon run' to create the session and start monitoring.")
		return nil
	}
	if err != nil {
		return err
	}

	if info.Running {
		fmt.Println("Session: RUNNING")
	} else {
		fmt.Println("Session: STOPPED (will restart on next run)")
	}
	fmt.Printf("Name: %s\n", info.Name)
	fmt.Printf("Source: %s\n", info.Source)
	fmt.Printf("Backing file: %s (%d bytes)\n", info.FilePath, info.FileBytes)
	fmt.Printf("Records: %d\n", info.RecordCount)
	fmt.Printf("Created: %s\n", info.CreatedAt.Format(time.RFC3339))

	fmt.Println("Providers:")
	for _, p := range info.Providers {
		fmt.Printf("  - %s\n", p)
	}

	if cfg.AgentProcess != "" {
		probe := infra.NewProcessProbe()
		pids, err := probe.FindByName(cfg.AgentProcess)
		if err == nil && len(pids) > 0 {
			fmt.Printf("Capture agent: running (pids %v)\n", pids)
		} else {
			fmt.Println("Capture agent: not found")
		}
	}

	fmt.Println("====================")
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.LogFile)
	defer func() { _ = logger.Sync() }()

	key, err := loadExistingKey(cfg)
	if err != nil {
		return err
	}

	spec := cfg.SessionSpec()
	store := infra.NewSQLiteTraceStore(spec.FilePath, key, logger)
	defer store.Close()

	controller := usecase.NewSessionController(store, spec, logger)
	ctx := context.Background()

	if err := controller.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}
	fmt.Printf("Capture session %q stopped.\n", cfg.SessionName)

	if purgeSession {
		if err := controller.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove session: %w", err)
		}
		fmt.Println("Session and backing file removed.")
	} else {
		fmt.Println("Backing file kept. Use --purge to delete it.")
	}
	return nil
}

func runInject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	key, err := loadExistingKey(cfg)
	if err != nil {
		return err
	}

	spec := cfg.SessionSpec()
	store := infra.NewSQLiteTraceStore(spec.FilePath, key, zap.NewNop())
	defer store.Close()

	now := time.Now()
	recs := make([]domain.RawRecord, 0, injectCount)
	for i := 0; i < injectCount; i++ {
		msg := injectMessage
		if msg == "" {
			if i%2 == 0 {
				msg = fmt.Sprintf("ALLOW tcp 10.0.0.5:%d -> 93.184.216.34:443", 40000+i)
			} else {
				msg = fmt.Sprintf("BLOCK udp 10.0.0.5:%d -> 8.8.8.8:53", 40000+i)
			}
		}
		recs = append(recs, domain.RawRecord{
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond).UnixNano(),
			Message:   msg,
		})
	}

	if err := store.Append(context.Background(), recs); err != nil {
		return fmt.Errorf("failed to append records: %w", err)
	}
	fmt.Printf("Appended %d records to %s\n", len(recs), spec.FilePath)
	return nil
}

// loadExistingKey returns the provisioned store key, if any, without
// generating a new one.
func loadExistingKey(cfg *config.Config) ([]byte, error) {
	if cfg.StoreKeyFile == "" {
		return nil, nil
	}
	provider := infra.NewFileKeyProvider(cfg.StoreKeyFile)
	if !provider.KeyExists() {
		return nil, nil
	}
	return provider.GetKey()
}

// createLogger builds the daemon logger. Logs go to the given file, or
// stderr when none is set: stdout is reserved for the record stream.
func createLogger(logFile string) *zap.Logger {
	config := zap.NewProductionConfig()
	if logFile != "" {
		config.OutputPaths = []string{logFile}
		config.ErrorOutputPaths = []string{logFile}
	} else {
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
	}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("fwmon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
