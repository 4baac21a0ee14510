// Package certs tracks the TLS hostname delivered with configuration
// updates. Certificate issuance itself is handled by an external ACME
// client; this package only decides whether configuration validation should
// be skipped for a cycle to give a freshly changed domain time to obtain
// its certificate.
package certs

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultGracePeriod is how long validation is skipped after a domain change.
const DefaultGracePeriod = 10 * time.Minute

// Manager is the certificate collaborator consumed by the updater.
type Manager interface {
	// UpdateDomain records the delivered domain. A no-op when unchanged.
	UpdateDomain(domain string) error

	// SkipValidation reports whether configuration validation should be
	// bypassed this cycle because the domain changed recently.
	SkipValidation() bool
}

// FileManager persists the active domain to a state file and uses the
// file's modification time as the domain-change clock, so the grace window
// survives process restarts.
type FileManager struct {
	path  string
	grace time.Duration

	now func() time.Time // test hook
}

// NewFileManager creates a manager persisting state under stateDir.
func NewFileManager(stateDir string, grace time.Duration) *FileManager {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &FileManager{
		path:  filepath.Join(stateDir, "domain"),
		grace: grace,
		now:   time.Now,
	}
}

// UpdateDomain implements Manager. Writing only on change keeps the state
// file's mtime meaningful as "time of last domain change".
func (m *FileManager) UpdateDomain(domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil
	}

	current, err := os.ReadFile(m.path)
	if err == nil && strings.TrimSpace(string(current)) == domain {
		return nil
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(domain+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// Domain returns the active domain, or an empty string when none is set.
func (m *FileManager) Domain() string {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SkipValidation implements Manager.
func (m *FileManager) SkipValidation() bool {
	info, err := os.Stat(m.path)
	if err != nil {
		return false
	}
	return m.now().Sub(info.ModTime()) < m.grace
}
