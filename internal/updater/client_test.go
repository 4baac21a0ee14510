package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterStackHQ/collector/internal/log"
	"github.com/BetterStackHQ/collector/pkg/errors"
)

type fakeValidator struct {
	err  error
	dirs []string
}

func (f *fakeValidator) Validate(_ context.Context, dir string) error {
	f.dirs = append(f.dirs, dir)
	return f.err
}

type fakePromoter struct {
	err  error
	dirs []string
}

func (f *fakePromoter) Promote(_ context.Context, dir string) error {
	f.dirs = append(f.dirs, dir)
	return f.err
}

type fakeCerts struct {
	skip    bool
	domains []string
}

func (f *fakeCerts) UpdateDomain(domain string) error {
	f.domains = append(f.domains, domain)
	return nil
}

func (f *fakeCerts) SkipValidation() bool { return f.skip }

type fakeReloader struct {
	calls int
}

func (f *fakeReloader) Reload(context.Context) error {
	f.calls++
	return nil
}

type clientFixture struct {
	client    *Client
	validator *fakeValidator
	promoter  *fakePromoter
	certs     *fakeCerts
	reloader  *fakeReloader
	baseDir   string
	enrichDir string
}

func newClientFixture(t *testing.T, baseURL string) *clientFixture {
	t.Helper()
	baseDir := t.TempDir()
	enrichDir := t.TempDir()

	f := &clientFixture{
		validator: &fakeValidator{},
		promoter:  &fakePromoter{},
		certs:     &fakeCerts{},
		reloader:  &fakeReloader{},
		baseDir:   baseDir,
		enrichDir: enrichDir,
	}
	f.client = &Client{
		baseURL:          baseURL,
		secret:           "test-secret",
		hostname:         "host-1",
		collectorVersion: "1.2.3",
		pingClient:       &http.Client{},
		fetchClient:      &http.Client{},
		versions:         NewVersions(baseDir),
		record:           NewErrorRecord(filepath.Join(baseDir, "errors.txt")),
		validator:        f.validator,
		promoter:         f.promoter,
		certsManager:     f.certs,
		reloader:         f.reloader,
		enrichmentDir:    enrichDir,
		logger:           log.New(&log.Config{Level: "error"}),
	}
	return f
}

// controlPlane is a scriptable control-plane stub.
type controlPlane struct {
	t          *testing.T
	pingStatus int
	pingBody   any
	manifest   manifestResponse
	files      map[string]string
	failFiles  map[string]int

	pings     int
	downloads []string
}

func (cp *controlPlane) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pingPath:
			cp.pings++
			assert.Equal(cp.t, "Bearer test-secret", r.Header.Get("Authorization"))
			if cp.pingBody == nil {
				w.WriteHeader(cp.pingStatus)
				return
			}
			w.WriteHeader(cp.pingStatus)
			_ = json.NewEncoder(w).Encode(cp.pingBody)
		case manifestPath:
			_ = json.NewEncoder(w).Encode(cp.manifest)
		default:
			cp.downloads = append(cp.downloads, r.URL.Path)
			if status, ok := cp.failFiles[r.URL.Path]; ok {
				w.WriteHeader(status)
				return
			}
			content, ok := cp.files[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprint(w, content)
		}
	})
}

func announce(version string) any {
	return pingResponse{Status: statusNewVersion, ConfigurationVersion: version}
}

func TestPingNoContentClearsRecord(t *testing.T) {
	cp := &controlPlane{t: t, pingStatus: http.StatusNoContent}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	require.NoError(t, f.client.record.Set("stale failure"))

	require.NoError(t, f.client.Ping(context.Background()))

	assert.Empty(t, f.client.record.Read())
	assert.Empty(t, cp.downloads)
}

func TestPingAuthFailureIsFatal(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			cp := &controlPlane{t: t, pingStatus: status}
			server := httptest.NewServer(cp.handler())
			defer server.Close()

			f := newClientFixture(t, server.URL)
			err := f.client.Ping(context.Background())

			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestPingUnexpectedStatusIsRecordedSoftError(t *testing.T) {
	cp := &controlPlane{t: t, pingStatus: http.StatusServiceUnavailable}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	require.NoError(t, f.client.Ping(context.Background()))

	assert.Contains(t, f.client.record.Read(), "HTTP 503")
}

func TestPingNewVersionPromotes(t *testing.T) {
	version := "2026-08-31T08-15-00"
	cp := &controlPlane{
		t:          t,
		pingStatus: http.StatusOK,
		pingBody:   announce(version),
		manifest: manifestResponse{Files: []manifestFile{
			{Path: "/files/vector.yaml", Name: "vector.yaml"},
			{Path: "/files/kubernetes-discovery.yaml", Name: "kubernetes-discovery.yaml"},
		}},
		files: map[string]string{
			"/files/vector.yaml":               "sources: {}\n",
			"/files/kubernetes-discovery.yaml": "sinks: {}\n",
		},
	}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	require.NoError(t, f.client.record.Set("stale failure"))

	require.NoError(t, f.client.Ping(context.Background()))

	stagingDir := filepath.Join(f.baseDir, "versions", version)
	require.Equal(t, []string{stagingDir}, f.validator.dirs)
	require.Equal(t, []string{stagingDir}, f.promoter.dirs)

	data, err := os.ReadFile(filepath.Join(stagingDir, "vector.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sources: {}\n", string(data))

	assert.Empty(t, f.client.record.Read(), "record cleared after full success")
}

func TestDownloadFailureAbortsVersion(t *testing.T) {
	version := "2026-08-31T08-15-00"
	cp := &controlPlane{
		t:          t,
		pingStatus: http.StatusOK,
		pingBody:   announce(version),
		manifest: manifestResponse{Files: []manifestFile{
			{Path: "/files/a.yaml", Name: "a.yaml"},
			{Path: "/files/b.yaml", Name: "b.yaml"},
			{Path: "/files/c.yaml", Name: "c.yaml"},
		}},
		files:     map[string]string{"/files/a.yaml": "a: 1\n", "/files/c.yaml": "c: 3\n"},
		failFiles: map[string]int{"/files/b.yaml": http.StatusBadGateway},
	}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	require.NoError(t, f.client.Ping(context.Background()))

	stagingDir := filepath.Join(f.baseDir, "versions", version)

	// First file landed, the failed one aborted the rest.
	_, err := os.Stat(filepath.Join(stagingDir, "a.yaml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(stagingDir, "c.yaml"))
	assert.True(t, os.IsNotExist(err))

	assert.Empty(t, f.promoter.dirs)
	assert.Contains(t, f.client.record.Read(), "b.yaml")
}

func TestUnsafeFilenamesRejectedBeforeAnyWrite(t *testing.T) {
	for _, name := range []string{"../../etc/passwd", "/etc/passwd", "", `sub\file.yaml`} {
		t.Run(fmt.Sprintf("%q", name), func(t *testing.T) {
			version := "2026-08-31T08-15-00"
			cp := &controlPlane{
				t:          t,
				pingStatus: http.StatusOK,
				pingBody:   announce(version),
				manifest: manifestResponse{Files: []manifestFile{
					{Path: "/files/ok.yaml", Name: "ok.yaml"},
					{Path: "/files/evil", Name: name},
				}},
				files: map[string]string{"/files/ok.yaml": "a: 1\n"},
			}
			server := httptest.NewServer(cp.handler())
			defer server.Close()

			f := newClientFixture(t, server.URL)
			require.NoError(t, f.client.Ping(context.Background()))

			assert.Empty(t, cp.downloads, "nothing may be fetched")
			_, err := os.Stat(filepath.Join(f.baseDir, "versions", version))
			assert.True(t, os.IsNotExist(err), "no staging directory may be created")
			assert.Contains(t, f.client.record.Read(), "unsafe destination filename")
		})
	}
}

func TestUnsafeVersionRejected(t *testing.T) {
	cp := &controlPlane{
		t:          t,
		pingStatus: http.StatusOK,
		pingBody:   announce("../outside"),
		manifest: manifestResponse{Files: []manifestFile{
			{Path: "/files/ok.yaml", Name: "ok.yaml"},
		}},
		files: map[string]string{"/files/ok.yaml": "a: 1\n"},
	}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	require.NoError(t, f.client.Ping(context.Background()))

	assert.Empty(t, cp.downloads)
	assert.Contains(t, f.client.record.Read(), "unsafe configuration version")
}

func TestValidationFailureKeepsStagingDir(t *testing.T) {
	version := "2026-08-31T08-15-00"
	cp := &controlPlane{
		t:          t,
		pingStatus: http.StatusOK,
		pingBody:   announce(version),
		manifest:   manifestResponse{Files: []manifestFile{{Path: "/files/vector.yaml", Name: "vector.yaml"}}},
		files:      map[string]string{"/files/vector.yaml": "sources: {}\n"},
	}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	f.validator.err = &errors.ValidationError{Subject: "vector.yaml", Message: "unknown sink type"}

	require.NoError(t, f.client.Ping(context.Background()))

	assert.Empty(t, f.promoter.dirs)
	assert.Contains(t, f.client.record.Read(), "unknown sink type")

	_, err := os.Stat(filepath.Join(f.baseDir, "versions", version, "vector.yaml"))
	assert.NoError(t, err, "failed version stays on disk for inspection")
}

func TestDomainGraceSkipsValidation(t *testing.T) {
	version := "2026-08-31T08-15-00"
	cp := &controlPlane{
		t:          t,
		pingStatus: http.StatusOK,
		pingBody:   announce(version),
		manifest: manifestResponse{Files: []manifestFile{
			{Path: "/files/vector.yaml", Name: "vector.yaml"},
			{Path: "/files/domain", Name: "domain"},
		}},
		files: map[string]string{
			"/files/vector.yaml": "sources: {}\n",
			"/files/domain":      "collector.example.com\n",
		},
	}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	f.certs.skip = true

	require.NoError(t, f.client.Ping(context.Background()))

	assert.Equal(t, []string{"collector.example.com\n"}, f.certs.domains)
	assert.Empty(t, f.validator.dirs)
	assert.Empty(t, f.promoter.dirs)

	_, err := os.Stat(filepath.Join(f.baseDir, "versions", version))
	assert.True(t, os.IsNotExist(err), "skipped staging directory is removed")
}

func TestSideTablePromotedWithPrimary(t *testing.T) {
	version := "2026-08-31T08-15-00"
	csv := "identifier,container,service,host\ndb-1,postgres,orders,10.0.0.5\n"
	cp := &controlPlane{
		t:          t,
		pingStatus: http.StatusOK,
		pingBody:   announce(version),
		manifest: manifestResponse{Files: []manifestFile{
			{Path: "/files/vector.yaml", Name: "vector.yaml"},
			{Path: "/files/databases.csv", Name: "databases.csv"},
		}},
		files: map[string]string{
			"/files/vector.yaml":   "sources: {}\n",
			"/files/databases.csv": csv,
		},
	}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	require.NoError(t, f.client.Ping(context.Background()))

	require.Len(t, f.promoter.dirs, 1)

	data, err := os.ReadFile(filepath.Join(f.enrichDir, "databases.csv"))
	require.NoError(t, err)
	assert.Equal(t, csv, string(data))

	assert.Equal(t, 1, f.reloader.calls)
	assert.Empty(t, f.client.record.Read())
}

func TestSideTablePromotionStaysInsideEnrichmentDir(t *testing.T) {
	version := "2026-08-31T08-15-00"
	csv := "identifier,container,service,host\ndb-1,postgres,orders,10.0.0.5\n"
	cp := &controlPlane{
		t:          t,
		pingStatus: http.StatusOK,
		pingBody:   announce(version),
		manifest: manifestResponse{Files: []manifestFile{
			{Path: "/files/vector.yaml", Name: "vector.yaml"},
			{Path: "/files/databases.csv", Name: "databases.csv"},
		}},
		files: map[string]string{
			"/files/vector.yaml":   "sources: {}\n",
			"/files/databases.csv": csv,
		},
	}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	require.NoError(t, f.client.Ping(context.Background()))

	// The versions tree and the enrichment directory are separate volumes in
	// production, so promotion must copy into the enrichment directory and
	// rename there; the staged file stays behind in its generation.
	_, err := os.Stat(filepath.Join(f.baseDir, "versions", version, "databases.csv"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(f.enrichDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.Equal(t, []string{"databases.csv"}, names, "only the promoted table, no temp leftovers")

	data, err := os.ReadFile(filepath.Join(f.enrichDir, "databases.csv"))
	require.NoError(t, err)
	assert.Equal(t, csv, string(data))
}

func TestSideTableFailureKeepsRecordAfterPrimarySuccess(t *testing.T) {
	version := "2026-08-31T08-15-00"
	cp := &controlPlane{
		t:          t,
		pingStatus: http.StatusOK,
		pingBody:   announce(version),
		manifest: manifestResponse{Files: []manifestFile{
			{Path: "/files/vector.yaml", Name: "vector.yaml"},
			{Path: "/files/databases.csv", Name: "databases.csv"},
		}},
		files: map[string]string{
			"/files/vector.yaml":   "sources: {}\n",
			"/files/databases.csv": "wrong,header,entirely,here\n",
		},
	}
	server := httptest.NewServer(cp.handler())
	defer server.Close()

	f := newClientFixture(t, server.URL)
	require.NoError(t, f.client.Ping(context.Background()))

	require.Len(t, f.promoter.dirs, 1, "primary promotion still happens")

	_, err := os.Stat(filepath.Join(f.enrichDir, "databases.csv"))
	assert.True(t, os.IsNotExist(err))

	assert.NotEmpty(t, f.client.record.Read(), "side-table failure keeps the record set")
}

func TestPingReportsLatestKnownVersion(t *testing.T) {
	var reported pingRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reported))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	f := newClientFixture(t, server.URL)
	_, err := f.client.versions.StagingDir("2026-08-30T00-00-00")
	require.NoError(t, err)
	_, err = f.client.versions.StagingDir("2026-08-31T08-15-00")
	require.NoError(t, err)

	require.NoError(t, f.client.Ping(context.Background()))

	assert.Equal(t, "host-1", reported.Host)
	assert.Equal(t, "2026-08-31T08-15-00", reported.ConfigurationVersion)
	assert.Equal(t, "1.2.3", reported.CollectorVersion)
}
