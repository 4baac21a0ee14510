// Package httpclient provides the HTTP client factory used for all
// control-plane traffic: configuration polling, manifest fetches, and file
// downloads.
//
// Clients are composed from transport layers:
//   - Automatic retry with exponential backoff, jitter, and Retry-After support
//   - Request logging with sanitized URLs (secrets redacted) and a per-request ID
//   - User-Agent header injection
//   - TLS 1.2 minimum, connection pooling
//
// Usage:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.UserAgent = "betterstack-collector/" + version
//	client, err := httpclient.New(cfg)
//
// Only idempotent methods are retried by default. The manifest and download
// requests are POSTs that are safe to repeat (they never mutate control-plane
// state), so callers that need them retried set AllowNonIdempotentRetry.
package httpclient
