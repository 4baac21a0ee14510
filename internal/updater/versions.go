package updater

import (
	"os"
	"path/filepath"
	"strings"
)

// Versions manages the versioned staging directories under
// <base>/versions. Directory names are the control plane's configuration
// version identifiers.
type Versions struct {
	root string
}

// NewVersions creates a Versions store rooted at baseDir/versions.
func NewVersions(baseDir string) *Versions {
	return &Versions{root: filepath.Join(baseDir, "versions")}
}

// Root returns the versions root directory.
func (v *Versions) Root() string {
	return v.root
}

// LatestVersion returns the lexically maximal directory name under the
// versions root, or an empty string when none exist.
//
// Version identifiers from the control plane are ISO-8601-like timestamps,
// for which lexical order is chronological order. A stray directory whose
// name sorts above a timestamp would be misreported as latest; behaviour is
// kept for compatibility and isolated here so a stricter parse stays a
// one-place change.
func (v *Versions) LatestVersion() string {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return ""
	}
	latest := ""
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if name := entry.Name(); name > latest {
			latest = name
		}
	}
	return latest
}

// StagingDir creates (if needed) and returns the staging directory for
// version.
func (v *Versions) StagingDir(version string) (string, error) {
	dir := filepath.Join(v.root, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// ValidFilename reports whether a manifest-supplied destination filename is
// safe to create inside a staging directory. Anything that could escape the
// directory is rejected: traversal sequences, path separators of either
// flavour, and empty names.
func ValidFilename(name string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}
