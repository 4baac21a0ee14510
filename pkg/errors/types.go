package errors

import (
	"fmt"
)

// ValidationError represents a rejected configuration or enrichment table.
// Use this for blocklisted directives, bad CSV headers, unsafe manifest
// filenames, or a failed external syntax check.
type ValidationError struct {
	// Subject identifies what failed validation (e.g. a file path or table name)
	Subject string

	// Message is the human-readable error description, surfaced verbatim in
	// the error-record file
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Subject, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a missing file or resource.
type NotFoundError struct {
	// Resource is the type of resource (e.g. "enrichment table", "staging directory")
	Resource string

	// Path is the location that was not found
	Path string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Path)
}

// AuthError represents an authentication rejection from the control plane.
// This is the only unrecoverable error class: the pre-shared secret is wrong
// and retrying cannot help, so the polling process terminates on it.
type AuthError struct {
	// StatusCode is the HTTP status that signalled the rejection (401 or 403)
	StatusCode int

	// Endpoint is the request path that was rejected
	Endpoint string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected by %s (HTTP %d): check the collector secret", e.Endpoint, e.StatusCode)
}

// DownloadError represents a failed manifest file download. It aborts the
// remaining downloads of the same configuration version.
type DownloadError struct {
	// Name is the destination filename from the manifest
	Name string

	// URL is the sanitized remote location
	URL string

	// StatusCode is the HTTP status, if the request got that far
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	msg := fmt.Sprintf("download of %s failed", e.Name)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for missing settings or invalid config values.
type ConfigError struct {
	// Key is the setting that has the problem (e.g. "COLLECTOR_SECRET", "base-dir")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g. file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
