// Package logging provides the minimal logging interface used across agentpipe.
//
// Components accept a Logger and default to NoOpLogger. Event names are dotted
// keys ("pipeline.attempt.retry", "tool.invoke.error") followed by key/value
// pairs, so any structured backend can index them.
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping *slog.Logger
//   - PipelineLogger with component/session context and domain helpers
//   - NoOpLogger for silent operation (tests, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	exec := pipeline.New(m, catalog, pipeline.WithLogger(logger))
package logging
