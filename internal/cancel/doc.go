// Package cancel provides Token, a cooperative cancellation signal that is
// threaded explicitly through every suspension point of the generation
// pipeline: the retry attempt loop, the backoff sleep and the batch loop.
//
// A Token starts Active and moves to Cancelled exactly once. There is no way
// back. Child tokens derived with Child are cancelled whenever their parent is,
// which lets a batch run cancel only the item currently in flight while still
// being able to observe a run-wide cancel.
package cancel
