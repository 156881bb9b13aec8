// Package api exposes the batch service over HTTP: starting, resuming and
// cancelling batches, reading their status and results, and streaming
// their events as Server-Sent Events.
package api
