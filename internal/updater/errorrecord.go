package updater

import (
	"os"
	"strings"
)

// ErrorRecord persists the last failure message to a well-known file. It is
// the system's "is something wrong" signal: external health checks poll the
// file, a subsequent success deletes it. Each new failure overwrites the
// previous message, so the record always holds the most recent one.
type ErrorRecord struct {
	path string
}

// NewErrorRecord creates a record at path.
func NewErrorRecord(path string) *ErrorRecord {
	return &ErrorRecord{path: path}
}

// Set overwrites the record with message, atomically.
func (r *ErrorRecord) Set(message string) error {
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.TrimSpace(message)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Clear removes the record. A record that never existed is fine.
func (r *ErrorRecord) Clear() error {
	err := os.Remove(r.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Read returns the recorded message, or an empty string when healthy.
func (r *ErrorRecord) Read() string {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
