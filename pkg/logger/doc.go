// Package logger builds the process-wide slog logger: text output for
// development, JSON in production, tagged with the environment.
package logger
