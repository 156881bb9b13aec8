package retry

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrorClass is the retry decision derived from an operation error.
type ErrorClass int

const (
	// ClassTransientOverloaded covers 5xx and "overloaded"/"unavailable" failures.
	ClassTransientOverloaded ErrorClass = iota
	// ClassTransientRateLimited covers 429 and quota exhaustion.
	ClassTransientRateLimited
	// ClassFatalAuth covers 401/403 and credential problems.
	ClassFatalAuth
	// ClassFatalOther is everything else, including unknown shapes.
	ClassFatalOther
)

// String returns the snake_case class name used in logs and metrics.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransientOverloaded:
		return "transient_overloaded"
	case ClassTransientRateLimited:
		return "transient_rate_limited"
	case ClassFatalAuth:
		return "fatal_auth"
	default:
		return "fatal_other"
	}
}

// Transient reports whether the class is worth retrying.
func (c ErrorClass) Transient() bool {
	return c == ClassTransientOverloaded || c == ClassTransientRateLimited
}

// Classifier maps an operation error to an ErrorClass.
type Classifier func(err error) ErrorClass

// StatusCoder is implemented by errors that carry an HTTP-like status code.
type StatusCoder interface {
	StatusCode() int
}

var (
	overloadedCodes = regexp.MustCompile(`\b(500|502|503|504|529)\b`)
	rateLimitCodes  = regexp.MustCompile(`\b429\b`)
	authCodes       = regexp.MustCompile(`\b(401|403)\b`)

	overloadedMarkers = []string{
		"overloaded", "unavailable", "internal server error", "bad gateway",
		"gateway timeout", "server error", "try again later", "deadline exceeded",
	}
	rateLimitMarkers = []string{
		"rate limit", "ratelimit", "rate_limit", "too many requests",
		"resource_exhausted", "resource exhausted", "quota",
	}
	authMarkers = []string{
		"unauthorized", "unauthenticated", "forbidden", "permission denied",
		"permission_denied", "invalid api key", "api key not valid", "api_key_invalid",
	}
)

// Classify is the default Classifier. It prefers a status code found
// anywhere in the error chain and falls back to message markers. Errors it
// cannot place are ClassFatalOther so they propagate instead of looping.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatalOther
	}

	msg := strings.ToLower(err.Error())

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if class, ok := classifyStatus(code); ok {
			return class
		}
		// Other 4xx codes are fatal unless the message says quota. Gemini
		// reports bad keys and exhausted quota as plain 400s.
		if code >= 400 && code <= 499 {
			switch {
			case containsAny(msg, authMarkers):
				return ClassFatalAuth
			case containsAny(msg, rateLimitMarkers):
				return ClassTransientRateLimited
			}
			return ClassFatalOther
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransientOverloaded
	}

	switch {
	case rateLimitCodes.MatchString(msg) || containsAny(msg, rateLimitMarkers):
		return ClassTransientRateLimited
	case overloadedCodes.MatchString(msg) || containsAny(msg, overloadedMarkers):
		return ClassTransientOverloaded
	case authCodes.MatchString(msg) || containsAny(msg, authMarkers):
		return ClassFatalAuth
	}
	return ClassFatalOther
}

func classifyStatus(code int) (ErrorClass, bool) {
	switch {
	case code == 429:
		return ClassTransientRateLimited, true
	case code == 401 || code == 403:
		return ClassFatalAuth, true
	case code >= 500 && code <= 599:
		return ClassTransientOverloaded, true
	}
	return ClassFatalOther, false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
