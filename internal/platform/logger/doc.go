// Package logger builds the application's slog logger from server
// configuration.
package logger
