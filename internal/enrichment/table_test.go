package enrichment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterStackHQ/collector/pkg/errors"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDifferent(t *testing.T) {
	dir := t.TempDir()
	target := DockerMappings.TargetPath(dir)
	incoming := DockerMappings.IncomingPath(dir)

	// Missing incoming is never different.
	assert.False(t, DockerMappings.Different(target, incoming))

	write(t, incoming, "pid,container_name,container_id,image_name\n")

	// Missing target with existing incoming is different.
	assert.True(t, DockerMappings.Different(target, incoming))

	write(t, target, "pid,container_name,container_id,image_name\n")
	assert.False(t, DockerMappings.Different(target, incoming), "byte-identical files")

	write(t, incoming, "pid,container_name,container_id,image_name\n7,web,0dbc098bc64d,nginx:latest\n")
	assert.True(t, DockerMappings.Different(target, incoming))
}

func TestValidate(t *testing.T) {
	header := strings.Join(Databases.Header, ",")

	tests := []struct {
		name    string
		content *string // nil = do not create the file
		wantErr string
	}{
		{"missing file", nil, "not found"},
		{"empty file", strP(""), "empty"},
		{"whitespace only", strP("\n \n"), "empty"},
		{"header only is valid", strP(header + "\n"), ""},
		{"header plus rows", strP(header + "\npg-1,db,postgres,10.0.0.5\n"), ""},
		{"wrong column order", strP("container,identifier,service,host\n"), "header"},
		{"missing column", strP("identifier,container,service\n"), "header"},
		{"extra column", strP(header + ",port\n"), "header"},
		{"case mismatch", strP(strings.ToUpper(header) + "\n"), "header"},
		{"unbalanced quote", strP(header + "\n\"pg-1,db,postgres,10.0.0.5\n"), "malformed"},
		{"ragged row", strP(header + "\npg-1,db\n"), "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			incoming := Databases.IncomingPath(dir)
			if tt.content != nil {
				write(t, incoming, *tt.content)
			}

			err := Databases.Validate(incoming)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var valErr *errors.ValidationError
			require.True(t, errors.As(err, &valErr), "want ValidationError, got %T", err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPromote(t *testing.T) {
	dir := t.TempDir()
	incoming := Databases.IncomingPath(dir)
	target := Databases.TargetPath(dir)
	content := strings.Join(Databases.Header, ",") + "\n"
	write(t, incoming, content)

	require.NoError(t, Databases.Promote(incoming, target))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	_, err = os.Stat(incoming)
	assert.True(t, os.IsNotExist(err), "incoming must be gone after promotion")
}

func TestPromoteMissingIncoming(t *testing.T) {
	dir := t.TempDir()
	err := Databases.Promote(Databases.IncomingPath(dir), Databases.TargetPath(dir))
	assert.Error(t, err)
}

func TestTablePaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/enrichment", "docker-mappings.incoming.csv"), DockerMappings.IncomingPath("/enrichment"))
	assert.Equal(t, filepath.Join("/enrichment", "docker-mappings.csv"), DockerMappings.TargetPath("/enrichment"))
}

func strP(s string) *string { return &s }
