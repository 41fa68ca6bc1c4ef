package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"github.com/kubeadapt/gpumon/internal/agent"
	"github.com/kubeadapt/gpumon/internal/collector"
	"github.com/kubeadapt/gpumon/internal/config"
	"github.com/kubeadapt/gpumon/internal/discovery"
	"github.com/kubeadapt/gpumon/internal/enrichment"
	"github.com/kubeadapt/gpumon/internal/errors"
	"github.com/kubeadapt/gpumon/internal/health"
	"github.com/kubeadapt/gpumon/internal/observability"
	"github.com/kubeadapt/gpumon/internal/snapshot"
	"github.com/kubeadapt/gpumon/internal/store"
)

func main() {
	// 1. Load and validate config.
	cfg, err := config.LoadArgs(os.Args[1:])
	if stderrors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	slog.Info("gpumon starting",
		"session_id", cfg.SessionID,
		"query_interval", cfg.QueryInterval,
		"history", cfg.HistorySize,
		"config_file", cfg.ConfigFile,
	)

	// 3. Detect host tools.
	runner := collector.ExecRunner{}
	caps, err := discovery.Detect(ctx, exec.LookPath, runner, cfg.SMIPath, cfg.PSPath)
	if err != nil {
		slog.Error("failed to detect host tools", "error", err)
		os.Exit(1)
	}
	slog.Info("host tools detected",
		"smi", caps.SMIPath,
		"ps", caps.PSPath,
		"process_stats", caps.ProcessStats,
		"devices", len(caps.Devices),
	)
	for _, d := range caps.Devices {
		slog.Debug("device listed", "index", d.Index, "name", d.Name, "uuid", d.UUID)
	}

	// 4. Create shared infrastructure.
	metrics := observability.NewMetrics()
	errCollector := errors.NewErrorCollector(errors.RealClock{})
	st := store.New(cfg.HistorySize, errors.RealClock{},
		store.WithPipeline(enrichment.NewDefaultPipeline(metrics)),
	)
	sm := agent.NewStateMachine(errors.RealClock{})

	// 5. Build the source supervisor.
	supervisor := collector.NewSupervisor(runner, collector.Options{
		SMIPath:         caps.SMIPath,
		PSPath:          caps.PSPath,
		QueryInterval:   cfg.QueryInterval,
		ChannelCapacity: cfg.ChannelCapacity,
		ProcessStats:    cfg.ProcessStatsEnabled && caps.ProcessStats,
		Hooks: collector.Hooks{
			LineSkipped: func(source string) {
				metrics.LinesSkippedTotal.WithLabelValues(source).Inc()
			},
			QueryFailed: func(source string, err error) {
				metrics.QueryFailuresTotal.WithLabelValues(source).Inc()
				errCollector.Report(errors.PipelineError{
					Code:      errors.ErrQueryFailed,
					Message:   err.Error(),
					Component: source,
					Timestamp: time.Now().UnixMilli(),
					Err:       err,
				})
			},
			QueryDone: func(source string, d time.Duration) {
				metrics.QueryDuration.WithLabelValues(source).Observe(d.Seconds())
			},
		},
	})

	// 6. Snapshot builder and agent.
	builder := snapshot.NewBuilder(st, &cfg, metrics, errCollector, errors.RealClock{})
	ag := agent.NewAgent(&cfg, supervisor, st, builder, sm, errCollector, metrics)

	// 7. Start health server.
	healthSrv := health.NewServer(cfg.HealthPort, health.Deps{
		Metrics:     metrics,
		Readiness:   ag,
		Snapshots:   ag,
		Store:       st,
		Errors:      errCollector,
		LatestError: ag,
	}, cfg.DebugEndpoints)
	if err := healthSrv.Start(); err != nil {
		slog.Error("failed to start health server", "error", err)
		os.Exit(1)
	}
	slog.Info("health server listening", "addr", healthSrv.Addr())

	// 8. Start memory pressure monitor.
	memMon := agent.NewMemoryPressureMonitor(0.8, func(ratio float64) {
		slog.Warn("memory pressure, forcing GC", "usage_ratio", ratio)
		runtime.GC()
		debug.FreeOSMemory()
	}, 30*time.Second, nil,
		agent.WithUsageGauge(metrics.MemoryUsageRatio),
		agent.WithCooldown(2*time.Minute),
	)
	memMon.Start()

	// 9. Run agent (blocks until context is canceled or the sources stop).
	exitCode := 0
	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent exited with error", "error", err)
		exitCode = 1
	}

	// 10. Graceful shutdown.
	memMon.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}

	slog.Info("gpumon stopped", "total_samples", st.TotalSamples())
	if exitCode != 0 {
		shutdownCancel()
		cancel()
		os.Exit(exitCode)
	}
}

// setupLogging installs the default slog logger from the configured level and
// format. Validate has already rejected unknown values.
func setupLogging(cfg config.Config) {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler).With("session_id", cfg.SessionID))
}
