// Package config holds the runtime settings for the collector helper
// processes. Settings come from the environment (the appliance is configured
// through its container environment) with CLI flags layered on top.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BetterStackHQ/collector/pkg/errors"
)

// Defaults for the helper loops.
const (
	DefaultBaseDir       = "/vector-config"
	DefaultEnrichmentDir = "/enrichment"
	DefaultIngestURL     = "https://telemetry.betterstack.com"
	DefaultPingInterval  = 30 * time.Second
	DefaultProbeInterval = 15 * time.Second
	DefaultMetricsAddr   = "127.0.0.1:39090"
	DefaultRetention     = 5
)

// Settings configures the collector daemons. A zero value is not usable;
// construct via FromEnv and apply flag overrides before Validate.
type Settings struct {
	// BaseDir is the working directory holding versioned configuration
	// downloads and promoted generations.
	BaseDir string

	// EnrichmentDir holds the enrichment CSV tables shared with the shipper.
	EnrichmentDir string

	// IngestURL is the control-plane base URL for ping and manifest requests.
	IngestURL string

	// Secret is the pre-shared collector secret. Required for the updater.
	Secret string

	// Hostname identifies this appliance to the control plane.
	Hostname string

	// PingInterval is the control-plane polling interval.
	PingInterval time.Duration

	// ProbeInterval is the PID mapping refresh interval.
	ProbeInterval time.Duration

	// MetricsAddr is the listen address for the Prometheus endpoint.
	MetricsAddr string

	// Retention is how many promoted configuration generations to keep.
	Retention int

	// VectorBin is the shipper binary used for `vector validate`.
	VectorBin string

	// ReloadCommand reloads the running shipper after a promotion,
	// e.g. "supervisorctl signal HUP vector". Split on whitespace.
	ReloadCommand []string

	// Component version strings reported on ping.
	CollectorVersion string
	VectorVersion    string
	BeylaVersion     string
}

// FromEnv builds Settings from environment variables, falling back to
// defaults. Unset intervals keep their defaults; malformed ones are an error
// at Validate time, not here, so flags still get a chance to override them.
func FromEnv() *Settings {
	s := &Settings{
		BaseDir:          envOr("COLLECTOR_BASE_DIR", DefaultBaseDir),
		EnrichmentDir:    envOr("COLLECTOR_ENRICHMENT_DIR", DefaultEnrichmentDir),
		IngestURL:        envOr("INGESTING_HOST", DefaultIngestURL),
		Secret:           os.Getenv("COLLECTOR_SECRET"),
		Hostname:         envOr("COLLECTOR_HOST", hostname()),
		PingInterval:     envDuration("COLLECTOR_PING_INTERVAL", DefaultPingInterval),
		ProbeInterval:    envDuration("DOCKERPROBE_INTERVAL", DefaultProbeInterval),
		MetricsAddr:      envOr("COLLECTOR_METRICS_ADDR", DefaultMetricsAddr),
		Retention:        envInt("COLLECTOR_RETENTION", DefaultRetention),
		VectorBin:        envOr("VECTOR_BIN", "vector"),
		CollectorVersion: envOr("COLLECTOR_VERSION", "dev"),
		VectorVersion:    os.Getenv("VECTOR_VERSION"),
		BeylaVersion:     os.Getenv("BEYLA_VERSION"),
	}
	if cmd := os.Getenv("COLLECTOR_RELOAD_COMMAND"); cmd != "" {
		s.ReloadCommand = strings.Fields(cmd)
	}
	if !strings.Contains(s.IngestURL, "://") {
		s.IngestURL = "https://" + s.IngestURL
	}
	return s
}

// Validate checks that the settings are usable for the updater loop. The
// dockerprobe does not need a secret and calls ValidateProbe instead.
func (s *Settings) Validate() error {
	if s.Secret == "" {
		return &errors.ConfigError{Key: "COLLECTOR_SECRET", Reason: "collector secret is required"}
	}
	if s.IngestURL == "" {
		return &errors.ConfigError{Key: "INGESTING_HOST", Reason: "control plane URL is required"}
	}
	if s.Hostname == "" {
		return &errors.ConfigError{Key: "COLLECTOR_HOST", Reason: "hostname could not be determined"}
	}
	return s.ValidateProbe()
}

// ValidateProbe checks the subset of settings the PID mapper needs.
func (s *Settings) ValidateProbe() error {
	if s.BaseDir == "" {
		return &errors.ConfigError{Key: "COLLECTOR_BASE_DIR", Reason: "base directory is required"}
	}
	if s.EnrichmentDir == "" {
		return &errors.ConfigError{Key: "COLLECTOR_ENRICHMENT_DIR", Reason: "enrichment directory is required"}
	}
	if s.PingInterval <= 0 || s.ProbeInterval <= 0 {
		return &errors.ConfigError{Key: "interval", Reason: "intervals must be positive"}
	}
	if s.Retention < 1 {
		return &errors.ConfigError{Key: "COLLECTOR_RETENTION", Reason: "retention must keep at least one generation"}
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envDuration parses either a Go duration ("45s") or bare seconds ("45"),
// matching how the shell installers have historically set intervals.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return fallback
}
