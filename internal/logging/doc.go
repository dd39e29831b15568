// Package logging assembles the slog loggers used across hlsgate.
//
// It owns the console and JSON handlers, level parsing, and context helpers
// that tag log lines with request correlation IDs. Components should obtain
// their logger through Component so console output stays readable.
package logging
