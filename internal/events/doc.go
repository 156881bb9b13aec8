// Package events carries batch activity from the service layer to whoever is
// listening: the SSE handler, the Redis publisher, metrics.
//
// The primary components are:
//   - BatchEvent: one item transition, progress update, partial snapshot or run end
//   - EventHandler / EventEmitter: loose coupling between producers and consumers
//   - Broker: per-batch in-process subscriptions used for streaming to clients
package events
