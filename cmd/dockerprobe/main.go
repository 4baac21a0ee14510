// Command dockerprobe maintains the PID to container mapping consumed by the
// shipper's enrichment tables. It lists running containers, walks the process
// tree under /proc, and writes the mapping CSV into the enrichment directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BetterStackHQ/collector/internal/config"
	"github.com/BetterStackHQ/collector/internal/dockerprobe"
	"github.com/BetterStackHQ/collector/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		enrichmentDir = flag.String("enrichment-dir", "", "Directory holding enrichment CSV tables")
		interval      = flag.Duration("interval", 0, "Mapping refresh interval")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("dockerprobe %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	settings := config.FromEnv()
	if *enrichmentDir != "" {
		settings.EnrichmentDir = *enrichmentDir
	}
	if *interval > 0 {
		settings.ProbeInterval = *interval
	}
	if err := settings.ValidateProbe(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	client, err := dockerprobe.NewDockerClient()
	if err != nil {
		logger.Error("connecting to docker daemon failed", "error", err)
		os.Exit(1)
	}

	mapper := dockerprobe.NewMapper(client, settings.EnrichmentDir, settings.ProbeInterval,
		log.WithComponent(logger, "dockerprobe"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("dockerprobe starting",
		"version", version,
		"enrichment_dir", settings.EnrichmentDir,
		"interval", settings.ProbeInterval)

	if err := mapper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dockerprobe failed", "error", err)
		os.Exit(1)
	}
	logger.Info("dockerprobe stopped")
}
