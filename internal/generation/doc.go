// Package generation defines the boundary between the batch pipeline and the
// language model that produces content, plus the per-item Pipeline that
// streams a response through a partial.Recoverer so callers can render
// progressively richer snapshots while a response is still arriving.
package generation
