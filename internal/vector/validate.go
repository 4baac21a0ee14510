// Package vector gates downloaded shipper configuration between "staged"
// and "live": it enforces a content policy, runs Vector's own validator,
// atomically swaps the current generation, and signals the running shipper.
package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BetterStackHQ/collector/pkg/errors"
)

// blockedDirective is the configuration key that would let the control
// plane execute arbitrary shell commands on the appliance (Vector's exec
// source/sink). Rejected at any nesting depth, before the external check
// runs: a compromised control plane must not reach code execution through
// configuration delivery alone.
const blockedDirective = "command"

// placeholderEnv supplies the values Vector's validator would otherwise
// pull from a live cloud-metadata probe, so validation works in staging.
var placeholderEnv = []string{
	"PROVIDER=generic",
	"PUBLIC_IP=127.0.0.1",
	"PRIVATE_IP=127.0.0.1",
	"INSTANCE_ID=validation-placeholder",
	"REGION=validation-placeholder",
}

// Validator checks staged Vector configuration before promotion.
type Validator struct {
	vectorBin string
	runner    CommandRunner
}

// NewValidator creates a Validator using the given vector binary.
func NewValidator(vectorBin string, runner CommandRunner) *Validator {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Validator{vectorBin: vectorBin, runner: runner}
}

// Validate checks every YAML file in stagedDir, first against the directive
// blocklist and then through `vector validate`. Returns nil on success; the
// error message of a failed external check carries the validator's output
// verbatim.
func (v *Validator) Validate(ctx context.Context, stagedDir string) error {
	files, err := configFiles(stagedDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return &errors.ValidationError{Subject: stagedDir, Message: "no configuration files staged"}
	}

	for _, file := range files {
		if err := checkBlockedDirectives(file); err != nil {
			return err
		}
	}

	args := append([]string{"validate"}, files...)
	output, err := v.runner.Run(ctx, v.vectorBin, args, placeholderEnv)
	if err != nil {
		return &errors.ValidationError{
			Subject: stagedDir,
			Message: strings.TrimSpace(string(output)),
		}
	}
	return nil
}

// configFiles lists the YAML files in dir, sorted for deterministic
// validator arguments.
func configFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// checkBlockedDirectives parses file as YAML and rejects it if any mapping
// key equals the blocked directive, at any nesting depth.
func checkBlockedDirectives(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return &errors.ValidationError{
			Subject: filepath.Base(file),
			Message: fmt.Sprintf("not valid YAML: %v", err),
		}
	}

	if node := findBlockedKey(&root); node != nil {
		return &errors.ValidationError{
			Subject: filepath.Base(file),
			Message: fmt.Sprintf("forbidden %q directive at line %d", blockedDirective, node.Line),
		}
	}
	return nil
}

// findBlockedKey walks the YAML node tree and returns the first mapping key
// matching the blocklist, or nil.
func findBlockedKey(node *yaml.Node) *yaml.Node {
	if node == nil {
		return nil
	}
	if node.Kind == yaml.MappingNode {
		// Mapping content alternates key, value, key, value.
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind == yaml.ScalarNode && key.Value == blockedDirective {
				return key
			}
			if found := findBlockedKey(node.Content[i+1]); found != nil {
				return found
			}
		}
		return nil
	}
	for _, child := range node.Content {
		if found := findBlockedKey(child); found != nil {
			return found
		}
	}
	return nil
}
