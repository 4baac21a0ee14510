// Command collectord runs the collector's configuration loops: polling the
// control plane for new shipper configuration, promoting enrichment tables,
// and serving Prometheus metrics.
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
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BetterStackHQ/collector/internal/certs"
	"github.com/BetterStackHQ/collector/internal/config"
	"github.com/BetterStackHQ/collector/internal/enrichment"
	"github.com/BetterStackHQ/collector/internal/log"
	"github.com/BetterStackHQ/collector/internal/metrics"
	"github.com/BetterStackHQ/collector/internal/updater"
	"github.com/BetterStackHQ/collector/internal/vector"
	pkgerrors "github.com/BetterStackHQ/collector/pkg/errors"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		baseDir       string
		enrichmentDir string
		ingestURL     string
		pingInterval  time.Duration
		metricsAddr   string
		retention     int
		vectorBin     string
		showVersion   bool
	)

	cmd := &cobra.Command{
		Use:   "collectord",
		Short: "Better Stack collector configuration daemon",
		Long: `collectord keeps the telemetry shipper's configuration in sync with the
Better Stack control plane. It polls for new configuration versions,
validates them with the shipper binary, and promotes them atomically. It
also watches the enrichment directory and promotes updated lookup tables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Printf("collectord %s (commit: %s, built: %s)\n", version, commit, buildDate)
				return nil
			}

			settings := config.FromEnv()
			settings.CollectorVersion = version
			if cmd.Flags().Changed("base-dir") {
				settings.BaseDir = baseDir
			}
			if cmd.Flags().Changed("enrichment-dir") {
				settings.EnrichmentDir = enrichmentDir
			}
			if cmd.Flags().Changed("ingest-url") {
				settings.IngestURL = ingestURL
			}
			if cmd.Flags().Changed("ping-interval") {
				settings.PingInterval = pingInterval
			}
			if cmd.Flags().Changed("metrics-addr") {
				settings.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("retention") {
				settings.Retention = retention
			}
			if cmd.Flags().Changed("vector-bin") {
				settings.VectorBin = vectorBin
			}

			if err := settings.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), settings)
		},
	}

	cmd.Flags().StringVar(&baseDir, "base-dir", config.DefaultBaseDir, "Working directory for versioned configuration")
	cmd.Flags().StringVar(&enrichmentDir, "enrichment-dir", config.DefaultEnrichmentDir, "Directory holding enrichment CSV tables")
	cmd.Flags().StringVar(&ingestURL, "ingest-url", config.DefaultIngestURL, "Control plane base URL")
	cmd.Flags().DurationVar(&pingInterval, "ping-interval", config.DefaultPingInterval, "Control plane polling interval")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Prometheus metrics listen address")
	cmd.Flags().IntVar(&retention, "retention", config.DefaultRetention, "Promoted configuration generations to keep")
	cmd.Flags().StringVar(&vectorBin, "vector-bin", "vector", "Shipper binary used for validation")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")

	return cmd
}

func run(ctx context.Context, settings *config.Settings) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloader := vector.NewExecReloader(settings.ReloadCommand, nil, log.WithComponent(logger, "reload"))
	validator := vector.NewValidator(settings.VectorBin, nil)
	promoter := vector.NewPromoter(settings.BaseDir, settings.Retention, reloader, log.WithComponent(logger, "promote"))
	certsManager := certs.NewFileManager(settings.BaseDir, certs.DefaultGracePeriod)

	client, err := updater.NewClient(settings, validator, promoter, certsManager, reloader,
		log.WithComponent(logger, "updater"))
	if err != nil {
		return err
	}
	poller := updater.NewPoller(client, settings.PingInterval, log.WithComponent(logger, "updater"))

	watcher := enrichment.NewWatcher(settings.EnrichmentDir,
		[]enrichment.Table{enrichment.DockerMappings},
		reloader, client.Record(), log.WithComponent(logger, "enrichment"))

	metricsServer := &http.Server{
		Addr:              settings.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("collectord starting",
		"version", version,
		"base_dir", settings.BaseDir,
		"ingest_url", settings.IngestURL,
		"ping_interval", settings.PingInterval)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return poller.Run(ctx) })
	group.Go(func() error { return watcher.Run(ctx) })
	group.Go(func() error {
		err := metricsServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	switch {
	case err == nil || errors.Is(err, context.Canceled):
		logger.Info("collectord stopped")
		return nil
	case pkgerrors.IsFatal(err):
		logger.Error("collector secret rejected by control plane, exiting", "error", err)
		return err
	default:
		logger.Error("collectord failed", "error", err)
		return err
	}
}
