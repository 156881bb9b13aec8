package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/scry-genpipe/internal/cancel"
	"github.com/phrazzld/scry-genpipe/internal/retry"
)

// ItemFunc performs the work for one spec and returns an opaque handle to
// the stored result. It is invoked once per attempt.
type ItemFunc[S any] func(ctx context.Context, spec S, index int) (string, error)

// TransitionFunc observes every status change. It is called synchronously
// from the run goroutine and must not block for long.
type TransitionFunc func(item Item)

// Config holds the optional settings of an Orchestrator.
type Config struct {
	// Policy is applied to every item. The zero value means retry.DefaultPolicy.
	Policy retry.Policy

	// OnTransition, when set, is called for every Generating, Done and Error
	// transition.
	OnTransition TransitionFunc
}

// Orchestrator processes batches of specs sequentially.
type Orchestrator[S any] struct {
	executor     *retry.Executor
	policy       retry.Policy
	onTransition TransitionFunc
	logger       *slog.Logger
	now          func() time.Time
}

// NewOrchestrator creates an Orchestrator for specs of type S.
func NewOrchestrator[S any](executor *retry.Executor, logger *slog.Logger, cfg Config) (*Orchestrator[S], error) {
	if executor == nil {
		return nil, ErrNilExecutor
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	policy := cfg.Policy
	if policy.IsZero() {
		policy = retry.DefaultPolicy()
	}

	return &Orchestrator[S]{
		executor:     executor,
		policy:       policy,
		onTransition: cfg.OnTransition,
		logger:       logger.With("component", "batch_orchestrator"),
		now:          time.Now,
	}, nil
}

// Start launches a run over specs and returns immediately. prior maps item
// indexes to their state from an earlier run; Done items are skipped and
// every other status is processed again. Cancelling ctx cancels the run.
func (o *Orchestrator[S]) Start(ctx context.Context, specs []S, op ItemFunc[S], prior map[int]Item) *Run {
	r := &Run{
		tok:      cancel.FromContext(ctx),
		progress: make(chan Progress, len(specs)),
		done:     make(chan struct{}),
		items:    make([]Item, len(specs)),
	}
	r.summary.Total = len(specs)

	for i := range specs {
		it, ok := prior[i]
		if !ok {
			it = Item{Status: StatusIdle}
		}
		it.Index = i
		switch it.Status {
		case StatusDone:
			r.summary.Done++
		case StatusError:
			r.summary.Errors++
		case StatusIdle, StatusGenerating:
		default:
			it.Status = StatusIdle
		}
		r.items[i] = it
	}

	go o.run(r, specs, op)
	return r
}

func (o *Orchestrator[S]) run(r *Run, specs []S, op ItemFunc[S]) {
	defer close(r.done)
	defer close(r.progress)

	o.logger.Info("batch run started",
		"total", r.summary.Total,
		"done", r.summary.Done,
		"errors", r.summary.Errors)

	for i, spec := range specs {
		if r.tok.Cancelled() {
			o.logger.Info("batch run cancelled", "next_index", i, "reason", r.tok.Reason())
			break
		}

		prev := r.item(i)
		if prev.Status == StatusDone {
			continue
		}

		o.transition(r, i, func(it *Item, s *Summary) {
			if it.Status == StatusError {
				s.Errors--
			}
			it.Status = StatusGenerating
			it.Error = ""
			it.Attempts = 0
		})

		attempts := 0
		child := r.tok.Child()
		handle, err := retry.Do(o.executor, child, o.policy, func(ctx context.Context) (string, error) {
			attempts++
			return op(ctx, spec, i)
		})
		child.Release()

		final := o.transition(r, i, func(it *Item, s *Summary) {
			it.Attempts = attempts
			if err != nil {
				it.Status = StatusError
				it.Error = err.Error()
				s.Errors++
				return
			}
			it.Status = StatusDone
			it.ResultHandle = handle
			s.Done++
		})

		if err != nil {
			o.logger.Warn("batch item failed", "index", i, "attempts", attempts, "error", err)
		} else {
			o.logger.Debug("batch item done", "index", i, "attempts", attempts)
		}

		s := r.Summary()
		r.progress <- Progress{
			Index:  i,
			Item:   final,
			Done:   s.Done,
			Errors: s.Errors,
			Total:  s.Total,
		}
	}

	r.mu.Lock()
	r.summary.Cancelled = r.tok.Cancelled()
	s := r.summary
	r.mu.Unlock()
	r.tok.Release()

	o.logger.Info("batch run finished",
		"done", s.Done,
		"errors", s.Errors,
		"pending", s.Pending(),
		"cancelled", s.Cancelled)
}

// transition applies fn to item i under the run lock, stamps it and hands a
// copy to the transition hook.
func (o *Orchestrator[S]) transition(r *Run, i int, fn func(it *Item, s *Summary)) Item {
	r.mu.Lock()
	it := &r.items[i]
	fn(it, &r.summary)
	it.UpdatedAt = o.now()
	snapshot := *it
	r.mu.Unlock()

	if o.onTransition != nil {
		o.onTransition(snapshot)
	}
	return snapshot
}

// Run is a batch in progress.
type Run struct {
	tok      *cancel.Token
	progress chan Progress
	done     chan struct{}

	mu      sync.Mutex
	items   []Item
	summary Summary
}

// Progress returns a channel receiving one update per completed item. It is
// buffered to the batch size and closed when the run ends, so callers may
// ignore it.
func (r *Run) Progress() <-chan Progress {
	return r.progress
}

// Cancel stops the run. The in-flight item is aborted and recorded as Error;
// items not yet started keep their status.
func (r *Run) Cancel() {
	r.tok.Cancel("batch cancelled")
}

// Done returns a channel closed when the run has ended.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns its final counters.
func (r *Run) Wait() Summary {
	<-r.done
	return r.Summary()
}

// Summary returns the current counters.
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// Items returns a copy of every item's current state.
func (r *Run) Items() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Item, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Run) item(i int) Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[i]
}
