// Package partial recovers structured results from a JSON token stream that
// may stop at any byte.
//
// A Recoverer is fed the cumulative buffer after every chunk. It first tries
// a strict parse; when that fails it repairs the prefix (closing an open
// string, dropping a dangling comma, closing every open array and object in
// stack order) and parses again. Whatever it emits is valid JSON according to
// encoding/json. It only reports progress when a new top-level field appears,
// so the set of reported field names never shrinks.
//
// Repair is heuristic: a string cut mid-sentence parses as a shorter valid
// string, and a number cut mid-digit parses as a smaller number. Callers should
// treat intermediate values as previews and rely only on the final snapshot.
package partial
