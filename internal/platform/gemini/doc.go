// Package gemini implements generation.Generator on top of Google's Gemini
// API using the google.golang.org/genai client.
//
// The generator streams responses so the generation pipeline can recover
// partial JSON while text is still arriving. Remote failures are translated
// into errors that carry the HTTP status code, which lets the retry
// classifier tell overload and rate limiting apart from fatal failures.
// Responses stopped by safety filters map to generation.ErrContentBlocked.
package gemini
