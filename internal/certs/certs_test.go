package certs

import (
	"os"
	"testing"
	"time"
)

func TestUpdateDomainPersistsAndDedupes(t *testing.T) {
	m := NewFileManager(t.TempDir(), time.Minute)

	if m.Domain() != "" {
		t.Errorf("Domain() = %q before any update", m.Domain())
	}

	if err := m.UpdateDomain("logs.example.com\n"); err != nil {
		t.Fatal(err)
	}
	if got := m.Domain(); got != "logs.example.com" {
		t.Errorf("Domain() = %q, want logs.example.com", got)
	}

	// Age the state file, then re-deliver the same domain: the mtime (and
	// with it the grace window) must not reset.
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(m.path, old, old); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateDomain("logs.example.com"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(m.path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(old) {
		t.Error("unchanged domain rewrote the state file")
	}
}

func TestSkipValidation(t *testing.T) {
	m := NewFileManager(t.TempDir(), time.Minute)

	if m.SkipValidation() {
		t.Error("no domain on record should not skip validation")
	}

	if err := m.UpdateDomain("logs.example.com"); err != nil {
		t.Fatal(err)
	}
	if !m.SkipValidation() {
		t.Error("fresh domain change should skip validation")
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if m.SkipValidation() {
		t.Error("grace window elapsed, validation should run")
	}
}

func TestUpdateDomainEmptyIgnored(t *testing.T) {
	m := NewFileManager(t.TempDir(), time.Minute)
	if err := m.UpdateDomain("  \n"); err != nil {
		t.Fatal(err)
	}
	if m.SkipValidation() {
		t.Error("blank domain must not start a grace window")
	}
}
