package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/grabbit/grabbit/internal/config"
	"github.com/grabbit/grabbit/internal/events"
	"github.com/grabbit/grabbit/internal/fetch"
	"github.com/grabbit/grabbit/internal/filter"
	"github.com/grabbit/grabbit/internal/logging"
	"github.com/grabbit/grabbit/internal/metadata"
	"github.com/grabbit/grabbit/internal/metrics"
	"github.com/grabbit/grabbit/internal/pipeline"
	"github.com/grabbit/grabbit/internal/ratelimit"
	"github.com/grabbit/grabbit/internal/recovery"
	"github.com/grabbit/grabbit/internal/source"
	"github.com/grabbit/grabbit/internal/state"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run one download session from a run file",
	Long: `Executes a full session: discover posts for the run file's target, apply
its filter chain, download media, write metadata sidecars and render a report
into the output directory. Connection and retry settings come from the
environment (GRABBIT_* variables).`,
	RunE: runSession,
}

var (
	runFilePath  string
	runOutputDir string
)

func init() {
	runCommand.Flags().StringVarP(&runFilePath, "run-file", "f", "", "Path to the YAML run file (required)")
	runCommand.Flags().StringVarP(&runOutputDir, "output", "o", "", "Output directory (overrides run file and environment)")
	_ = runCommand.MarkFlagRequired("run-file")

	rootCmd.AddCommand(runCommand)
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	rf, err := config.LoadRunFile(runFilePath)
	if err != nil {
		return err
	}

	outputDir := cfg.OutputDir
	if rf.OutputDir != "" {
		outputDir = rf.OutputDir
	}
	if cmd.Flags().Changed("output") {
		outputDir = runOutputDir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	logger = logger.With("session_id", sessionID)
	logger.Info("starting session", "target", rf.TargetValue(), "limit", rf.Limit, "output", outputDir)

	bus := events.NewBus(logger)
	bus.Subscribe(events.NewLogObserver(logger).Handle)

	stats := events.NewStatsCollector()
	bus.Subscribe(stats.Handle)

	recorder := events.NewRecorder()
	bus.Subscribe(recorder.Handle)

	journal, err := state.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()
	bus.Subscribe(journal.Handler(logger))

	collector, err := metrics.NewCollector()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	bus.Subscribe(collector.Handle)

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, collector, logger)
		defer srv.Shutdown(context.Background())
	}

	chain, err := buildChain(rf)
	if err != nil {
		return err
	}

	manager := recovery.NewManager(recoveryPolicy(cfg.Recovery), bus, logger, sessionID)

	gate := ratelimit.NewGate(cfg.Source.PaceInterval)
	httpClient := &http.Client{}
	src := source.NewHTTPSource(cfg.Source.BaseURL, httpClient, gate,
		source.WithUserAgent(cfg.Source.UserAgent),
		source.WithToken(cfg.Source.Token),
		source.WithPageSize(cfg.Source.PageSize),
	)
	fetcher := fetch.New(httpClient, gate)

	pc := &pipeline.Context{
		SessionID: sessionID,
		Target:    rf.TargetValue(),
		Limit:     rf.Limit,
		OutputDir: outputDir,
		Bus:       bus,
		Logger:    logger,
		Recovery:  manager,
		Chain:     chain,
	}

	runner := pipeline.NewRunner(stats, cfg.PartialExecution,
		&pipeline.DiscoverStage{Source: src},
		&pipeline.FilterStage{},
		&pipeline.DownloadStage{
			Fetcher:        fetcher,
			Workers:        cfg.Download.Workers,
			AttemptTimeout: cfg.Download.AttemptTimeout,
		},
		&pipeline.ProcessStage{
			Writer:  metadata.NewWriter(nil),
			Workers: cfg.Download.Workers,
		},
		&pipeline.ExportStage{Recorder: recorder},
	)

	summary, runErr := runner.Run(ctx, pc)

	st := summary.Statistics
	logger.Info("session finished",
		"status", st.Status,
		"posts", st.TotalPosts,
		"downloads_completed", st.DownloadsCompleted,
		"downloads_failed", st.DownloadsFailed,
		"bytes", st.BytesDownloaded,
		"elapsed", st.Elapsed,
	)

	if runErr != nil {
		return fmt.Errorf("session %s: %w", st.Status, runErr)
	}
	return nil
}

func buildChain(rf *config.RunFile) (*filter.Chain, error) {
	specs := make([]filter.Spec, len(rf.Filters))
	for i, f := range rf.Filters {
		specs[i] = filter.Spec{Name: f.Name, Options: f.Options}
	}
	composition := filter.And
	if rf.Composition == string(filter.Or) {
		composition = filter.Or
	}
	return filter.NewRegistry().BuildChain(composition, specs)
}

func recoveryPolicy(cfg config.RecoveryConfig) recovery.Policy {
	policy := recovery.DefaultPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	policy.BaseDelay = cfg.BaseDelay
	policy.MaxDelay = cfg.MaxDelay
	if cfg.OnExhausted == string(recovery.StrategySkip) {
		policy.OnExhausted = recovery.StrategySkip
	}
	return policy
}

func startMetricsServer(addr string, collector *metrics.Collector, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}
