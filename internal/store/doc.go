// Package store defines interfaces for persisting batches, their item
// statuses and generated results. These interfaces keep the service layer
// independent of the database behind them; implementations live under
// internal/platform.
package store
