// Package dockerprobe produces the PID→container enrichment table. Every
// tick it lists running containers, walks the process tree below each
// container's main PID, and writes the full mapping as CSV for the shipper
// to join against telemetry.
package dockerprobe

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BetterStackHQ/collector/internal/enrichment"
	"github.com/BetterStackHQ/collector/internal/metrics"
	"github.com/BetterStackHQ/collector/internal/proctree"
	"github.com/BetterStackHQ/collector/pkg/errors"
)

// shortIDLen is the truncated container ID length used in the mapping
// (e.g. 0dbc098bc64d).
const shortIDLen = 12

// ContainerInfo is the container identity attached to every mapped PID.
// One instance is shared by reference across all PIDs of a container, so a
// container with thousands of processes costs a single allocation.
type ContainerInfo struct {
	Name    string
	ShortID string
	Image   string
}

// Mapper rebuilds the PID mapping from scratch on every tick. The only
// cross-tick state is the previous output file on disk.
type Mapper struct {
	client     DockerClient
	outputPath string
	procPath   string
	interval   time.Duration
	logger     *slog.Logger

	scanWarned bool // the unreadable-proc warning is logged once, not per tick
}

// NewMapper creates a Mapper writing to the docker-mappings incoming file
// under enrichmentDir.
func NewMapper(client DockerClient, enrichmentDir string, interval time.Duration, logger *slog.Logger) *Mapper {
	return &Mapper{
		client:     client,
		outputPath: enrichment.DockerMappings.IncomingPath(enrichmentDir),
		procPath:   "/proc",
		interval:   interval,
		logger:     logger,
	}
}

// Run updates the mapping once immediately and then on every interval until
// ctx is cancelled. Update failures are logged and the loop continues; a
// stale mapping file is better than a dead loop.
func (m *Mapper) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(m.outputPath), 0o755); err != nil {
		return errors.Wrap(err, "creating enrichment directory")
	}

	if err := m.UpdateMappings(ctx); err != nil {
		m.logger.Error("updating PID mappings failed", "error", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.UpdateMappings(ctx); err != nil {
				m.logger.Error("updating PID mappings failed", "error", err)
			}
		}
	}
}

// UpdateMappings builds a fresh point-in-time mapping of every live process
// to its container and atomically replaces the output file. A failure to
// inspect one container skips that container only.
func (m *Mapper) UpdateMappings(ctx context.Context) error {
	containers, err := m.client.ListRunning(ctx)
	if err != nil {
		return errors.Wrap(err, "listing containers")
	}

	table, err := proctree.Scan(m.procPath)
	if err != nil {
		// Transiently unreadable process tables are a soft failure: keep the
		// previous mapping file and try again next tick.
		if !m.scanWarned {
			m.logger.Warn("process table unreadable, keeping previous mapping", "error", err)
			m.scanWarned = true
		}
		return nil
	}
	m.scanWarned = false

	mappings := make(map[string]*ContainerInfo)
	for _, cnt := range containers {
		if err := m.mapContainer(ctx, cnt, table, mappings); err != nil {
			m.logger.Warn("skipping container", "container", cnt.Name, "error", err)
		}
	}

	if err := m.writeCSV(mappings); err != nil {
		return errors.Wrap(err, "writing PID mappings")
	}

	metrics.MapperCyclesTotal.Inc()
	metrics.MappedPIDs.Set(float64(len(mappings)))
	m.logger.Debug("PID mappings updated",
		"pids", len(mappings), "containers", len(containers))
	return nil
}

func (m *Mapper) mapContainer(ctx context.Context, cnt Container, table *proctree.Table, mappings map[string]*ContainerInfo) error {
	pid, err := m.client.MainPID(ctx, cnt.ID)
	if err != nil {
		return err
	}
	if pid <= 0 {
		// Raced a container shutdown between list and inspect.
		return nil
	}

	info := &ContainerInfo{
		Name:    strings.TrimPrefix(cnt.Name, "/"),
		ShortID: shortID(cnt.ID),
		Image:   cnt.Image,
	}
	for _, descendant := range table.Descendants(pid) {
		mappings[strconv.Itoa(descendant)] = info
	}
	return nil
}

// writeCSV writes the mapping sorted numerically by PID for stable diffs,
// via temp-file-then-rename. On failure the temp file is discarded and the
// previous mapping file stays untouched.
func (m *Mapper) writeCSV(mappings map[string]*ContainerInfo) error {
	pids := make([]int, 0, len(mappings))
	for pid := range mappings {
		n, err := strconv.Atoi(pid)
		if err != nil {
			continue
		}
		pids = append(pids, n)
	}
	sort.Ints(pids)

	tmp, err := os.CreateTemp(filepath.Dir(m.outputPath), ".docker-mappings-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	writer := csv.NewWriter(tmp)
	if err := writer.Write(enrichment.DockerMappings.Header); err != nil {
		return err
	}
	for _, pid := range pids {
		info := mappings[strconv.Itoa(pid)]
		if err := writer.Write([]string{strconv.Itoa(pid), info.Name, info.ShortID, info.Image}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, m.outputPath); err != nil {
		return err
	}
	success = true
	return nil
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}
