// Package logging assembles structured slog loggers for the CLI, the web
// server, and worker processes.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// context helpers that tag log lines with job IDs, stages, and correlation IDs.
// Warnings about degraded capability go through WarnWithContext so they always
// carry an event type, a hint, and the user-facing impact.
package logging
