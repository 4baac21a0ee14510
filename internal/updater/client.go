// Package updater implements the configuration fetch/validate/promote
// pipeline: it polls the control plane for new configuration versions,
// stages downloaded manifests under a versioned directory, and drives
// validation and atomic promotion.
package updater

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/BetterStackHQ/collector/internal/certs"
	"github.com/BetterStackHQ/collector/internal/config"
	"github.com/BetterStackHQ/collector/internal/enrichment"
	"github.com/BetterStackHQ/collector/internal/metrics"
	"github.com/BetterStackHQ/collector/pkg/errors"
	"github.com/BetterStackHQ/collector/pkg/httpclient"
)

// Control-plane endpoints, relative to the ingest base URL.
const (
	pingPath     = "/api/collector/ping"
	manifestPath = "/api/collector/configuration"
)

// statusNewVersion is the ping response status announcing a new
// configuration version.
const statusNewVersion = "new_version_available"

// maxBodySize bounds control-plane response bodies.
const maxBodySize = 4 << 20

// domainFilename is the manifest file carrying the TLS hostname.
const domainFilename = "domain"

// ConfigValidator checks a staged configuration directory before promotion.
type ConfigValidator interface {
	Validate(ctx context.Context, stagedDir string) error
}

// ConfigPromoter atomically makes a staged directory the live configuration.
type ConfigPromoter interface {
	Promote(ctx context.Context, stagedDir string) error
}

// Reloader signals the shipper after an enrichment-only promotion.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Client talks to the control plane and drives the download → validate →
// promote pipeline for new configuration versions.
type Client struct {
	baseURL  string
	secret   string
	hostname string

	collectorVersion string
	vectorVersion    string
	beylaVersion     string

	pingClient  *http.Client
	fetchClient *http.Client

	versions      *Versions
	record        *ErrorRecord
	validator     ConfigValidator
	promoter      ConfigPromoter
	certsManager  certs.Manager
	reloader      Reloader
	enrichmentDir string
	logger        *slog.Logger
}

// NewClient wires a Client from settings and collaborators.
func NewClient(settings *config.Settings, validator ConfigValidator, promoter ConfigPromoter,
	certsManager certs.Manager, reloader Reloader, logger *slog.Logger) (*Client, error) {

	userAgent := "betterstack-collector/" + settings.CollectorVersion

	pingCfg := httpclient.DefaultConfig()
	pingCfg.UserAgent = userAgent
	pingCfg.RetryAttempts = 0 // the poll interval is the retry policy
	pingClient, err := httpclient.New(pingCfg)
	if err != nil {
		return nil, err
	}

	fetchCfg := httpclient.DefaultConfig()
	fetchCfg.UserAgent = userAgent
	// Manifest and download POSTs never mutate control-plane state.
	fetchCfg.AllowNonIdempotentRetry = true
	fetchClient, err := httpclient.New(fetchCfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:          settings.IngestURL,
		secret:           settings.Secret,
		hostname:         settings.Hostname,
		collectorVersion: settings.CollectorVersion,
		vectorVersion:    settings.VectorVersion,
		beylaVersion:     settings.BeylaVersion,
		pingClient:       pingClient,
		fetchClient:      fetchClient,
		versions:         NewVersions(settings.BaseDir),
		record:           NewErrorRecord(filepath.Join(settings.BaseDir, "errors.txt")),
		validator:        validator,
		promoter:         promoter,
		certsManager:     certsManager,
		reloader:         reloader,
		enrichmentDir:    settings.EnrichmentDir,
		logger:           logger,
	}, nil
}

// Record exposes the error record so sibling loops share the same
// last-known-failure file.
func (c *Client) Record() *ErrorRecord {
	return c.record
}

type pingRequest struct {
	Host                 string `json:"host"`
	ConfigurationVersion string `json:"configuration_version,omitempty"`
	CollectorVersion     string `json:"collector_version"`
	VectorVersion        string `json:"vector_version,omitempty"`
	BeylaVersion         string `json:"beyla_version,omitempty"`
}

type pingResponse struct {
	Status               string `json:"status"`
	ConfigurationVersion string `json:"configuration_version"`
}

type manifestFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type manifestResponse struct {
	Files []manifestFile `json:"files"`
}

// Ping reports host identity and the current configuration version to the
// control plane and, when a new version is announced, fetches and processes
// it. Transport-level failures propagate to the polling loop; protocol
// failures other than authentication are recorded and swallowed.
func (c *Client) Ping(ctx context.Context) error {
	payload := pingRequest{
		Host:                 c.hostname,
		ConfigurationVersion: c.versions.LatestVersion(),
		CollectorVersion:     c.collectorVersion,
		VectorVersion:        c.vectorVersion,
		BeylaVersion:         c.beylaVersion,
	}

	resp, err := c.post(ctx, c.pingClient, pingPath, payload)
	if err != nil {
		metrics.PingsTotal.WithLabelValues("error").Inc()
		return err
	}
	defer resp.Body.Close()
	metrics.LastPingTimestamp.SetToCurrentTime()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		metrics.PingsTotal.WithLabelValues("no_update").Inc()
		return c.record.Clear()

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.PingsTotal.WithLabelValues("error").Inc()
		return &errors.AuthError{StatusCode: resp.StatusCode, Endpoint: pingPath}

	case resp.StatusCode == http.StatusOK:
		var announce pingResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&announce); err != nil {
			metrics.PingsTotal.WithLabelValues("error").Inc()
			return c.record.Set(fmt.Sprintf("malformed ping response: %v", err))
		}
		if announce.Status != statusNewVersion || announce.ConfigurationVersion == "" {
			metrics.PingsTotal.WithLabelValues("no_update").Inc()
			return nil
		}
		metrics.PingsTotal.WithLabelValues("new_version").Inc()
		c.logger.Info("new configuration version announced",
			"configuration_version", announce.ConfigurationVersion)
		return c.getConfiguration(ctx, announce.ConfigurationVersion)

	default:
		metrics.PingsTotal.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		return c.record.Set(fmt.Sprintf("unexpected ping response: HTTP %d: %s",
			resp.StatusCode, bytes.TrimSpace(body)))
	}
}

// getConfiguration fetches the file manifest for version and processes it.
// A non-200 manifest response is a soft error: recorded, not raised.
func (c *Client) getConfiguration(ctx context.Context, version string) error {
	resp, err := c.post(ctx, c.fetchClient, manifestPath, map[string]string{
		"configuration_version": version,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &errors.AuthError{StatusCode: resp.StatusCode, Endpoint: manifestPath}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		return c.record.Set(fmt.Sprintf("manifest fetch for %s failed: HTTP %d: %s",
			version, resp.StatusCode, bytes.TrimSpace(body)))
	}

	var manifest manifestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&manifest); err != nil {
		return c.record.Set(fmt.Sprintf("malformed manifest for %s: %v", version, err))
	}

	return c.processConfiguration(ctx, version, manifest.Files)
}

// processConfiguration downloads the manifest files into the version's
// staging directory and drives validation and promotion. All failures here
// are soft: they end up in the error record and the next poll interval
// starts a fresh evaluation.
func (c *Client) processConfiguration(ctx context.Context, version string, files []manifestFile) error {
	if len(files) == 0 {
		return c.record.Set(fmt.Sprintf("manifest for %s lists no files", version))
	}

	// The version identifier becomes a directory name, so it gets the same
	// safety check as the filenames, before any filesystem write.
	if !ValidFilename(version) {
		return c.record.Set(fmt.Sprintf("rejected unsafe configuration version %q", version))
	}
	for _, file := range files {
		if !ValidFilename(file.Name) {
			return c.record.Set(fmt.Sprintf(
				"manifest for %s rejected: unsafe destination filename %q", version, file.Name))
		}
	}

	stagingDir, err := c.versions.StagingDir(version)
	if err != nil {
		return c.record.Set(fmt.Sprintf("creating staging directory for %s: %v", version, err))
	}

	for _, file := range files {
		if err := c.download(ctx, file, stagingDir); err != nil {
			// Abort the version on the first failure; whatever already
			// downloaded stays on disk for inspection.
			metrics.DownloadFailuresTotal.Inc()
			return c.record.Set(err.Error())
		}
	}

	sideTable := filepath.Join(stagingDir, enrichment.Databases.Name+".csv")
	if _, err := os.Stat(sideTable); err != nil {
		sideTable = ""
	}

	if c.domainDelivered(stagingDir) && c.certsManager.SkipValidation() {
		// A freshly changed domain needs its certificate before the shipper
		// configuration referencing it can validate. Skip the primary config
		// this cycle; a co-delivered side table is still independent.
		c.logger.Info("domain changed, skipping configuration validation this cycle",
			"configuration_version", version)
		if sideTable != "" {
			c.promoteSideTable(ctx, sideTable)
		}
		if err := os.RemoveAll(stagingDir); err != nil {
			c.logger.Warn("removing skipped staging directory failed", "error", err)
		}
		return nil
	}

	if err := c.validator.Validate(ctx, stagingDir); err != nil {
		metrics.ValidationFailuresTotal.Inc()
		// The staged directory is left in place for manual inspection.
		return c.record.Set(err.Error())
	}

	if err := c.promoter.Promote(ctx, stagingDir); err != nil {
		return c.record.Set(err.Error())
	}
	metrics.LastPromotionTimestamp.SetToCurrentTime()

	// Side-table promotion is ordered strictly after the primary promotion
	// and its failure never rolls the primary back; it only keeps the error
	// record from being cleared.
	if sideTable != "" {
		if !c.promoteSideTable(ctx, sideTable) {
			return nil
		}
	}
	return c.record.Clear()
}

// domainDelivered hands a staged domain file to the certificate manager.
// Returns true when a domain file was part of this version.
func (c *Client) domainDelivered(stagingDir string) bool {
	data, err := os.ReadFile(filepath.Join(stagingDir, domainFilename))
	if err != nil {
		return false
	}
	if err := c.certsManager.UpdateDomain(string(data)); err != nil {
		c.logger.Warn("recording delivered domain failed", "error", err)
	}
	return true
}

// promoteSideTable validates and promotes a staged databases CSV. Failures
// are recorded and block only the side table, never the primary config.
//
// The versions tree and the enrichment directory are separate volumes on
// the appliance, so the staged file is first copied into the enrichment
// directory; the promoting rename then never crosses filesystems.
func (c *Client) promoteSideTable(ctx context.Context, staged string) bool {
	table := enrichment.Databases
	if err := table.Validate(staged); err != nil {
		if recErr := c.record.Set(err.Error()); recErr != nil {
			c.logger.Warn("writing error record failed", "error", recErr)
		}
		return false
	}
	incoming := table.IncomingPath(c.enrichmentDir)
	if err := copyFile(staged, incoming); err != nil {
		if recErr := c.record.Set(fmt.Sprintf("staging databases table: %v", err)); recErr != nil {
			c.logger.Warn("writing error record failed", "error", recErr)
		}
		return false
	}
	if err := table.Promote(incoming, table.TargetPath(c.enrichmentDir)); err != nil {
		if recErr := c.record.Set(err.Error()); recErr != nil {
			c.logger.Warn("writing error record failed", "error", recErr)
		}
		return false
	}
	metrics.EnrichmentPromotionsTotal.WithLabelValues(table.Name).Inc()
	if err := c.reloader.Reload(ctx); err != nil {
		c.logger.Warn("shipper reload after side-table promotion failed", "error", err)
	}
	return true
}

// copyFile copies src to dst through a temp file in dst's directory,
// making the final rename a same-filesystem operation.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*.tmp")
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

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	success = true
	return nil
}

// download fetches one manifest file into stagingDir via temp-then-rename.
func (c *Client) download(ctx context.Context, file manifestFile, stagingDir string) error {
	url := file.Path
	if !hasScheme(url) {
		url = c.baseURL + file.Path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &errors.DownloadError{Name: file.Name, Cause: err}
	}
	c.authorize(req)

	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return &errors.DownloadError{Name: file.Name, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &errors.DownloadError{Name: file.Name, StatusCode: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(stagingDir, "."+file.Name+"-*.tmp")
	if err != nil {
		return &errors.DownloadError{Name: file.Name, Cause: err}
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return &errors.DownloadError{Name: file.Name, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return &errors.DownloadError{Name: file.Name, Cause: err}
	}
	if err := os.Rename(tmpPath, filepath.Join(stagingDir, file.Name)); err != nil {
		return &errors.DownloadError{Name: file.Name, Cause: err}
	}
	success = true
	return nil
}

// post sends a JSON payload with the collector's bearer secret.
func (c *Client) post(ctx context.Context, client *http.Client, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return client.Do(req)
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.secret)
}

func hasScheme(url string) bool {
	for _, prefix := range []string{"http://", "https://"} {
		if len(url) >= len(prefix) && url[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
