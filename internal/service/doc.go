// Package service coordinates batch runs: it persists batches and item
// transitions, drives the orchestrator, and emits events that the API and
// the Redis publisher fan out to observers.
package service
