// Package metrics exposes Prometheus counters for the collector helper
// loops. Metrics are served by collectord next to the error-record file as a
// second health signal.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PingsTotal counts control-plane polls by outcome
	// (no_update, new_version, error).
	PingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_pings_total",
		Help: "Control-plane ping attempts by outcome.",
	}, []string{"outcome"})

	// PromotionsTotal counts successful configuration promotions.
	PromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_config_promotions_total",
		Help: "Configuration versions promoted to current.",
	})

	// ValidationFailuresTotal counts rejected configuration versions.
	ValidationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_config_validation_failures_total",
		Help: "Configuration versions rejected by validation.",
	})

	// DownloadFailuresTotal counts aborted manifest downloads.
	DownloadFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_config_download_failures_total",
		Help: "Manifest file downloads that failed.",
	})

	// EnrichmentPromotionsTotal counts promoted enrichment tables.
	EnrichmentPromotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_enrichment_promotions_total",
		Help: "Enrichment table promotions by table.",
	}, []string{"table"})

	// MapperCyclesTotal counts completed PID mapping cycles.
	MapperCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_pid_mapper_cycles_total",
		Help: "Completed PID mapping update cycles.",
	})

	// MappedPIDs is the number of PIDs in the last written mapping.
	MappedPIDs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_pid_mapper_mapped_pids",
		Help: "PIDs in the most recent mapping file.",
	})

	// LastPingTimestamp is the unix time of the last ping answered by the
	// control plane, regardless of whether it announced a new version.
	LastPingTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_last_ping_timestamp_seconds",
		Help: "Unix time of the last control-plane ping that got a response.",
	})

	// LastPromotionTimestamp is the unix time of the last successful
	// configuration promotion.
	LastPromotionTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_config_last_promotion_timestamp_seconds",
		Help: "Unix time of the last successful configuration promotion.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
