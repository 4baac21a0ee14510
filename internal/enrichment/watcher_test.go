package enrichment

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(_ context.Context) error {
	f.calls++
	return f.err
}

type fakeRecorder struct {
	messages []string
	cleared  int
}

func (f *fakeRecorder) Set(message string) error {
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeRecorder) Clear() error {
	f.cleared++
	return nil
}

func newTestWatcher(t *testing.T, dir string) (*Watcher, *fakeReloader, *fakeRecorder) {
	t.Helper()
	reloader := &fakeReloader{}
	recorder := &fakeRecorder{}
	w := NewWatcher(dir, []Table{DockerMappings, Databases}, reloader, recorder,
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	w.limiter = rate.NewLimiter(rate.Inf, 1) // tests drive Sync directly
	return w, reloader, recorder
}

func mappingsCSV(rows ...string) string {
	return strings.Join(append([]string{"pid,container_name,container_id,image_name"}, rows...), "\n") + "\n"
}

func TestSyncPromotesChangedTable(t *testing.T) {
	dir := t.TempDir()
	w, reloader, recorder := newTestWatcher(t, dir)

	write(t, DockerMappings.IncomingPath(dir), mappingsCSV("7,web,0dbc098bc64d,nginx:latest"))
	w.Sync(context.Background())

	got, err := os.ReadFile(DockerMappings.TargetPath(dir))
	require.NoError(t, err)
	assert.Contains(t, string(got), "0dbc098bc64d")
	assert.Equal(t, 1, reloader.calls)
	assert.Empty(t, recorder.messages)

	_, err = os.Stat(DockerMappings.IncomingPath(dir))
	assert.True(t, os.IsNotExist(err))
}

func TestSyncSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	w, reloader, _ := newTestWatcher(t, dir)

	content := mappingsCSV("7,web,0dbc098bc64d,nginx:latest")
	write(t, DockerMappings.TargetPath(dir), content)
	write(t, DockerMappings.IncomingPath(dir), content)

	w.Sync(context.Background())
	assert.Equal(t, 0, reloader.calls, "identical content must not trigger a reload")

	// The incoming file is still swallowed.
	_, err := os.Stat(DockerMappings.IncomingPath(dir))
	assert.True(t, os.IsNotExist(err))
}

func TestSyncRecordsInvalidTable(t *testing.T) {
	dir := t.TempDir()
	w, reloader, recorder := newTestWatcher(t, dir)

	write(t, DockerMappings.IncomingPath(dir), "wrong,header\n")
	w.Sync(context.Background())

	assert.Equal(t, 0, reloader.calls)
	require.Len(t, recorder.messages, 1)
	assert.Contains(t, recorder.messages[0], "header")

	// The rejected incoming file stays for inspection; target is untouched.
	_, err := os.Stat(DockerMappings.TargetPath(dir))
	assert.True(t, os.IsNotExist(err))
}

func TestSyncClearsOwnFailureAfterRecovery(t *testing.T) {
	dir := t.TempDir()
	w, _, recorder := newTestWatcher(t, dir)

	write(t, DockerMappings.IncomingPath(dir), "wrong,header\n")
	w.Sync(context.Background())
	require.Len(t, recorder.messages, 1)
	require.Equal(t, 0, recorder.cleared)

	// The operator replaces the bad file; the next sync promotes it and the
	// stale failure is cleared.
	write(t, DockerMappings.IncomingPath(dir), mappingsCSV("7,web,0dbc098bc64d,nginx:latest"))
	w.Sync(context.Background())

	_, err := os.Stat(DockerMappings.TargetPath(dir))
	require.NoError(t, err)
	assert.Equal(t, 1, recorder.cleared)

	// Clean syncs with nothing recorded never touch the record again.
	w.Sync(context.Background())
	assert.Equal(t, 1, recorder.cleared)
}

func TestSyncOneReloadForMultipleTables(t *testing.T) {
	dir := t.TempDir()
	w, reloader, _ := newTestWatcher(t, dir)

	write(t, DockerMappings.IncomingPath(dir), mappingsCSV("7,web,0dbc098bc64d,nginx:latest"))
	write(t, Databases.IncomingPath(dir), "identifier,container,service,host\npg-1,db,postgres,10.0.0.5\n")

	w.Sync(context.Background())
	assert.Equal(t, 1, reloader.calls, "both promotions should share one reload")
}

func TestSyncRateLimited(t *testing.T) {
	dir := t.TempDir()
	w, reloader, _ := newTestWatcher(t, dir)
	w.limiter = rate.NewLimiter(rate.Every(minSyncInterval), 1)

	write(t, DockerMappings.IncomingPath(dir), mappingsCSV("7,web,0dbc098bc64d,nginx:latest"))
	w.Sync(context.Background())
	require.Equal(t, 1, reloader.calls)

	// Second table staged immediately after: the sync is a no-op this soon.
	write(t, Databases.IncomingPath(dir), "identifier,container,service,host\n")
	w.Sync(context.Background())
	assert.Equal(t, 1, reloader.calls)
	_, err := os.Stat(Databases.IncomingPath(dir))
	assert.NoError(t, err, "rate-limited sync must leave the staging file alone")
}

func TestRunCreatesWatchDir(t *testing.T) {
	// A fresh host has no enrichment directory yet; Run must create it
	// before adding the filesystem watch.
	dir := filepath.Join(t.TempDir(), "enrichment")
	w, _, _ := newTestWatcher(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestSyncReloadFailureIsBestEffort(t *testing.T) {
	dir := t.TempDir()
	w, reloader, recorder := newTestWatcher(t, dir)
	reloader.err = os.ErrPermission

	write(t, DockerMappings.IncomingPath(dir), mappingsCSV("7,web,0dbc098bc64d,nginx:latest"))
	w.Sync(context.Background())

	// Promotion stands even though the reload failed, and no error is recorded.
	_, err := os.Stat(DockerMappings.TargetPath(dir))
	assert.NoError(t, err)
	assert.Empty(t, recorder.messages)
}
