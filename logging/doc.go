// Package logging provides a minimal logging interface and adapters for valet.
//
// The Logger interface defines the standard structured logging methods
// (Debug, Info, Warn, Error) that the dispatcher, batch executor, dynamic
// registry and sub-task runner use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	d := dispatch.New(catalog, registry, dispatch.WithLogger(logger))
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
