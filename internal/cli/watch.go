package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/fileutil"
	"github.com/morozRed/cfgaudit/internal/metrics"
	"github.com/morozRed/cfgaudit/internal/pipeline"
	"github.com/morozRed/cfgaudit/internal/watch"
)

// RunWatch runs a full audit, then re-runs incrementally on changes until
// interrupted.
func RunWatch(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	scope, err := ParseScope(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	ctx := commandContext(cmd)

	m := metrics.New()
	rt := openRuntime(cfg, logger, m, true)
	defer rt.Close()

	if cfg.Watch.MetricsAddr != "" {
		stop := serveMetrics(ctx, cfg.Watch.MetricsAddr, m, logger)
		defer stop()
	}

	base := pipeline.OptionsFrom(cfg)
	base.Scope = scope
	settings := rt.orchestrator.Settings()
	loop := watch.New(rt.orchestrator, watch.ScanSnapshot(settings), base,
		watch.Config{
			PollInterval: cfg.Watch.PollInterval,
			Debounce:     cfg.Watch.Debounce,
			GracePeriod:  cfg.Watch.GracePeriod,
			Roots:        settings.Roots,
			Exclude:      settings.Exclude,
		},
		watch.WithLogger(logger),
		watch.WithRunHook(func(out *pipeline.Outcome) {
			if asJSON {
				return
			}
			fmt.Printf("%s: run=%s status=%s analyzed=%d failed=%d duration=%dms\n",
				out.Mode, out.RunID, out.Status, out.Analyzed, len(out.Failures), out.Duration().Milliseconds())
			if out.Report != nil {
				fmt.Printf("composite: %.2f %s\n", out.Report.CompositeScore, out.Report.Verdict)
			}
		}),
	)

	if !asJSON {
		fmt.Printf("watching %s (poll=%s debounce=%s), press Ctrl+C to stop\n", cfg.RootDir, cfg.Watch.PollInterval, cfg.Watch.Debounce)
	}
	summary, err := loop.Run(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return fileutil.PrintJSON(os.Stdout, summary)
	}
	fmt.Printf("watch: runs=%d failed=%d duration=%s score=%.2f -> %.2f (%+.2f)\n",
		summary.Runs, summary.Failed, summary.Duration.Round(time.Millisecond),
		summary.InitialScore, summary.FinalScore, summary.Delta)
	return nil
}

// serveMetrics exposes m on addr until the returned func is called.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
