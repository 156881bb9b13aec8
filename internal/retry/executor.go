package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-genpipe/internal/cancel"
)

// Operation is a unit of remote work. ctx is cancelled together with the
// token passed to Do, so calls that honour context stop early as well.
type Operation[T any] func(ctx context.Context) (T, error)

// Observer receives attempt-level events. Implementations must be cheap and
// must not block; the metrics package provides the Prometheus one.
type Observer interface {
	AttemptStarted(attempt int)
	AttemptFailed(class ErrorClass, attempt int)
	Retrying(class ErrorClass, delay time.Duration)
	Succeeded(attempts int)
	Aborted(attempts int)
}

type nopObserver struct{}

func (nopObserver) AttemptStarted(int)                 {}
func (nopObserver) AttemptFailed(ErrorClass, int)      {}
func (nopObserver) Retrying(ErrorClass, time.Duration) {}
func (nopObserver) Succeeded(int)                      {}
func (nopObserver) Aborted(int)                        {}

// Executor holds the collaborators shared by every Do call: logging,
// classification and observation. It has no per-call state and is safe for
// concurrent use.
type Executor struct {
	logger     *slog.Logger
	classifier Classifier
	observer   Observer
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier replaces Classify.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger, opts ...Option) (*Executor, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}

	e := &Executor{
		logger:     logger.With("component", "retry_executor"),
		classifier: Classify,
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Do runs op under policy p until it succeeds, fails fatally, exhausts its
// attempts, or tok is cancelled.
func Do[T any](e *Executor, tok *cancel.Token, p Policy, op Operation[T]) (T, error) {
	var zero T
	if tok == nil {
		tok = cancel.New()
	}
	if p.IsZero() {
		p = DefaultPolicy()
	}

	attempts := 0
	var lastErr error
	for attemptIndex := 0; attemptIndex < p.MaxAttempts(); attemptIndex++ {
		if tok.Cancelled() {
			return zero, e.abort(tok, attempts, lastErr)
		}

		attempts++
		e.observer.AttemptStarted(attempts)

		value, err := op(tok.Context())
		if err == nil {
			e.observer.Succeeded(attempts)
			if attempts > 1 {
				e.logger.Info("operation succeeded after retry", "attempts", attempts)
			}
			return value, nil
		}
		lastErr = err

		if tok.Cancelled() {
			return zero, e.abort(tok, attempts, err)
		}

		class := e.classifier(err)
		e.observer.AttemptFailed(class, attempts)

		if !class.Transient() {
			e.logger.Warn("operation failed with non-retryable error",
				"attempt", attempts,
				"error_class", class.String(),
				"error", err)
			return zero, &ClassifiedError{Class: class, Attempts: attempts, Err: err}
		}

		if attempts >= p.MaxAttempts() {
			e.logger.Warn("maximum attempts reached",
				"attempts", attempts,
				"error_class", class.String(),
				"error", err)
			return zero, &ClassifiedError{Class: class, Attempts: attempts, Err: err}
		}

		delay := p.Delay(attemptIndex)
		e.observer.Retrying(class, delay)
		e.logger.Info("retrying after delay",
			"attempt", attempts,
			"max_attempts", p.MaxAttempts(),
			"error_class", class.String(),
			"delay", delay.String())

		if !sleep(tok, delay) {
			return zero, e.abort(tok, attempts, err)
		}
	}

	// Unreachable with a valid policy; kept so the compiler sees a return.
	return zero, &ClassifiedError{Class: ClassFatalOther, Attempts: attempts, Err: lastErr}
}

// Run is Do for operations without a result value.
func (e *Executor) Run(tok *cancel.Token, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(e, tok, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (e *Executor) abort(tok *cancel.Token, attempts int, cause error) error {
	e.observer.Aborted(attempts)
	e.logger.Info("operation aborted", "attempts", attempts, "reason", tok.Reason())
	return &AbortedError{Attempts: attempts, Reason: tok.Reason(), Cause: cause}
}

// sleep waits for d or until tok is cancelled. It returns false when woken
// by cancellation.
func sleep(tok *cancel.Token, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-tok.Done():
		return false
	}
}
