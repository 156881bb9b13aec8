// Package retry implements the operation executor used for every call into
// the remote generation service.
//
// Do runs an operation up to Policy.MaxAttempts times. Failures are classified
// into one of four ErrorClass values. Transient classes (overloaded, rate
// limited) are retried after an exponential backoff; fatal classes (auth,
// other) are returned at once. A cancel.Token is observed before every
// attempt, immediately after every failure, and during the backoff sleep, so
// cancellation latency is bounded by those check points and not by the delay.
//
// The result of Do is the usual (value, error) pair. A non-nil error is always
// either a *ClassifiedError or an *AbortedError, so callers can switch on the
// class instead of guessing from a generic error.
package retry
