// Package enrichment manages the CSV side tables the shipper uses to enrich
// telemetry with container and service metadata. Each table exists in two
// files: an "incoming" staging file written by a producer and a promoted
// target file read by the shipper. Promotion is an atomic rename, so the
// shipper never observes a half-written table.
package enrichment

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BetterStackHQ/collector/pkg/errors"
)

// Table describes one enrichment CSV contract. The header is fixed, ordered,
// and case-sensitive.
type Table struct {
	// Name is the table's base filename without extension.
	Name string

	// Header is the exact required column list, in order.
	Header []string
}

// The two tables shipped with the collector.
var (
	// DockerMappings associates PIDs with container metadata, produced by the
	// dockerprobe loop.
	DockerMappings = Table{
		Name:   "docker-mappings",
		Header: []string{"pid", "container_name", "container_id", "image_name"},
	}

	// Databases lists discovered database endpoints, delivered alongside
	// configuration updates.
	Databases = Table{
		Name:   "databases",
		Header: []string{"identifier", "container", "service", "host"},
	}
)

// IncomingPath returns the staging file location for this table under dir.
func (t Table) IncomingPath(dir string) string {
	return filepath.Join(dir, t.Name+".incoming.csv")
}

// TargetPath returns the promoted file location for this table under dir.
func (t Table) TargetPath(dir string) string {
	return filepath.Join(dir, t.Name+".csv")
}

// Different reports whether promoting incoming would change the target.
// A missing incoming file is never different; a missing target with an
// existing incoming always is.
func (t Table) Different(target, incoming string) bool {
	incomingData, err := os.ReadFile(incoming)
	if err != nil {
		return false
	}
	targetData, err := os.ReadFile(target)
	if err != nil {
		return true
	}
	return !bytes.Equal(targetData, incomingData)
}

// Validate checks the incoming file against the table contract: it must
// exist, be non-empty, start with exactly the required header, and parse as
// structurally sound CSV. A header-only file is valid.
func (t Table) Validate(incoming string) error {
	data, err := os.ReadFile(incoming)
	if err != nil {
		if os.IsNotExist(err) {
			return &errors.ValidationError{Subject: t.Name, Message: fmt.Sprintf("file not found: %s", incoming)}
		}
		return errors.Wrapf(err, "reading %s", incoming)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &errors.ValidationError{Subject: t.Name, Message: "file is empty"}
	}

	reader := csv.NewReader(bytes.NewReader(data))

	header, err := reader.Read()
	if err != nil {
		return &errors.ValidationError{Subject: t.Name, Message: fmt.Sprintf("malformed CSV header: %v", err)}
	}
	if !headerMatches(header, t.Header) {
		return &errors.ValidationError{
			Subject: t.Name,
			Message: fmt.Sprintf("header must be exactly %q, got %q", t.Header, header),
		}
	}

	// Drain the remaining records to surface structural problems such as
	// unbalanced quoting or ragged rows.
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &errors.ValidationError{Subject: t.Name, Message: fmt.Sprintf("malformed CSV: %v", err)}
		}
	}

	return nil
}

// Promote atomically renames incoming onto target. After a successful
// promotion the incoming file no longer exists.
func (t Table) Promote(incoming, target string) error {
	if err := os.Rename(incoming, target); err != nil {
		return errors.Wrapf(err, "promoting %s table", t.Name)
	}
	return nil
}

func headerMatches(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
