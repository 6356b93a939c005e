// Package logging provides structured, rotating file-based logging for the
// indexing and retrieval engine, fanned out to stderr. Logs are written to
// ~/.retrieval-skill/logs/ using log/slog with a JSON handler.
package logging
