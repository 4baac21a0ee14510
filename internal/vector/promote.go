package vector

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/BetterStackHQ/collector/internal/metrics"
	"github.com/BetterStackHQ/collector/pkg/errors"
)

// Pointer names under the base directory. The shipper reads its
// configuration through "current"; "previous" is kept for rollback.
const (
	currentLink  = "current"
	previousLink = "previous"
)

// Promoter swaps the "current" configuration pointer between versioned
// directories. The swap is a symlink replaced via rename, so a reader
// resolving "current" sees either the fully old or fully new generation,
// never a mix.
type Promoter struct {
	baseDir   string
	retention int
	reloader  Reloader
	logger    *slog.Logger
}

// Reloader signals the running shipper to pick up promoted configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// NewPromoter creates a Promoter over baseDir keeping retention generations.
func NewPromoter(baseDir string, retention int, reloader Reloader, logger *slog.Logger) *Promoter {
	return &Promoter{
		baseDir:   baseDir,
		retention: retention,
		reloader:  reloader,
		logger:    logger,
	}
}

// CurrentVersion returns the version directory name "current" points at,
// or an empty string when nothing has been promoted yet.
func (p *Promoter) CurrentVersion() string {
	target, err := os.Readlink(filepath.Join(p.baseDir, currentLink))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

// Promote atomically repoints "current" at stagedDir, maintains the
// "previous" pointer, signals the shipper, and prunes superseded versions.
// A reload failure does not fail the promotion: the files are already live
// and a later health-check restart will pick them up.
func (p *Promoter) Promote(ctx context.Context, stagedDir string) error {
	if _, err := os.Stat(stagedDir); err != nil {
		return errors.Wrap(err, "staged configuration missing")
	}
	absStaged, err := filepath.Abs(stagedDir)
	if err != nil {
		return err
	}

	current := filepath.Join(p.baseDir, currentLink)
	oldTarget, _ := os.Readlink(current)

	if err := swapSymlink(current, absStaged); err != nil {
		return errors.Wrap(err, "swapping current pointer")
	}
	if oldTarget != "" && oldTarget != absStaged {
		if err := swapSymlink(filepath.Join(p.baseDir, previousLink), oldTarget); err != nil {
			p.logger.Warn("updating previous pointer failed", "error", err)
		}
	}

	metrics.PromotionsTotal.Inc()
	p.logger.Info("configuration promoted", "version", filepath.Base(absStaged))

	if err := p.reloader.Reload(ctx); err != nil {
		p.logger.Warn("shipper reload failed, promoted configuration stays live", "error", err)
	}

	if err := p.prune(); err != nil {
		p.logger.Warn("pruning old configuration versions failed", "error", err)
	}
	return nil
}

// swapSymlink atomically replaces link with a symlink to target by creating
// a temporary sibling symlink and renaming it into place.
func swapSymlink(link, target string) error {
	tmp := link + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, link)
}

// prune removes version directories beyond the retention count, oldest
// first by the same lexical order used for latest-version selection.
// Directories still referenced by "current" or "previous" survive even when
// older than the cutoff.
func (p *Promoter) prune() error {
	versionsDir := filepath.Join(p.baseDir, "versions")
	entries, err := os.ReadDir(versionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) <= p.retention {
		return nil
	}
	sort.Strings(names)

	referenced := map[string]bool{}
	for _, link := range []string{currentLink, previousLink} {
		if target, err := os.Readlink(filepath.Join(p.baseDir, link)); err == nil {
			referenced[filepath.Base(target)] = true
		}
	}

	for _, name := range names[:len(names)-p.retention] {
		if referenced[name] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(versionsDir, name)); err != nil {
			return err
		}
		p.logger.Debug("pruned superseded configuration version", "version", name)
	}
	return nil
}
