package cancel

import (
	"context"
	"sync"
)

// State is the observable state of a Token.
type State int

const (
	// Active means the token has not been cancelled.
	Active State = iota
	// Cancelled is terminal.
	Cancelled
)

// String returns the lower-case state name.
func (s State) String() string {
	if s == Cancelled {
		return "cancelled"
	}
	return "active"
}

// Token is a cooperative cancellation signal. The zero value is not usable;
// create tokens with New, FromContext or Child.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	reason string
}

// New returns an Active token with no parent.
func New() *Token {
	return FromContext(context.Background())
}

// FromContext returns a token that is cancelled when ctx is done or when
// Cancel is called, whichever comes first.
func FromContext(ctx context.Context) *Token {
	c, fn := context.WithCancel(ctx)
	return &Token{ctx: c, cancel: fn}
}

// Child derives a token that is cancelled with t. Cancelling the child does
// not affect t.
func (t *Token) Child() *Token {
	return FromContext(t.ctx)
}

// Cancel moves the token to Cancelled. Calling it again is a no-op; the first
// non-empty reason wins.
func (t *Token) Cancel(reason string) {
	t.mu.Lock()
	if t.reason == "" {
		t.reason = reason
	}
	t.mu.Unlock()
	t.cancel()
}

// Release frees resources held by a child token without changing what its
// parent observes. It is equivalent to Cancel with no reason.
func (t *Token) Release() {
	t.cancel()
}

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

// State returns Active or Cancelled.
func (t *Token) State() State {
	if t.Cancelled() {
		return Cancelled
	}
	return Active
}

// Done returns a channel closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Reason returns the reason given to Cancel, or the context error when the
// token was cancelled by its parent context.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reason != "" {
		return t.reason
	}
	if err := t.ctx.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Context exposes the token as a context so that delegated calls honouring
// context cancellation stop together with the token.
func (t *Token) Context() context.Context {
	return t.ctx
}
