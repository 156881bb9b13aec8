package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/events"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/metrics"
	"github.com/phrazzld/scry-genpipe/internal/partial"
	"github.com/phrazzld/scry-genpipe/internal/retry"
	"github.com/phrazzld/scry-genpipe/internal/store"
)

// persistTimeout bounds every store write made on behalf of a run.
const persistTimeout = 5 * time.Second

// ItemGenerator produces the final JSON object for one request, reporting
// partial snapshots as they grow. *generation.Pipeline implements it.
type ItemGenerator interface {
	Generate(ctx context.Context, req generation.Request, onSnapshot generation.SnapshotFunc) (partial.Snapshot, error)
}

// Config holds the batch service settings.
type Config struct {
	// Policy is applied to every item. The zero value means retry.DefaultPolicy.
	Policy retry.Policy

	// MaxItems caps the size of new batches; zero means unlimited.
	MaxItems int
}

// BatchStatus is the observable state of a batch.
type BatchStatus struct {
	Batch   *store.Batch       `json:"batch"`
	Items   []store.ItemRecord `json:"items"`
	Done    int                `json:"done"`
	Errors  int                `json:"errors"`
	Pending int                `json:"pending"`
	Total   int                `json:"total"`
	Running bool               `json:"running"`
}

// BatchService owns the active runs of the process.
type BatchService struct {
	store     store.BatchStore
	generator ItemGenerator
	executor  *retry.Executor
	emitter   events.EventEmitter
	validate  *validator.Validate
	cfg       Config
	logger    *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	runs    map[uuid.UUID]*batch.Run
	closing bool
}

// NewBatchService creates a BatchService. It returns an error if any of the
// required dependencies are nil.
func NewBatchService(
	batchStore store.BatchStore,
	generator ItemGenerator,
	executor *retry.Executor,
	emitter events.EventEmitter,
	logger *slog.Logger,
	cfg Config,
) (*BatchService, error) {
	switch {
	case batchStore == nil:
		return nil, &BatchServiceError{Operation: "create_service", Message: "store cannot be nil"}
	case generator == nil:
		return nil, &BatchServiceError{Operation: "create_service", Message: "generator cannot be nil"}
	case executor == nil:
		return nil, &BatchServiceError{Operation: "create_service", Message: "executor cannot be nil"}
	case emitter == nil:
		return nil, &BatchServiceError{Operation: "create_service", Message: "emitter cannot be nil"}
	}

	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy.IsZero() {
		cfg.Policy = retry.DefaultPolicy()
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &BatchService{
		store:     batchStore,
		generator: generator,
		executor:  executor,
		emitter:   emitter,
		validate:  validator.New(),
		cfg:       cfg,
		logger:    logger.With("component", "batch_service"),
		baseCtx:   baseCtx,
		stop:      stop,
		runs:      make(map[uuid.UUID]*batch.Run),
	}, nil
}

// CreateBatch persists a new batch and starts running it.
func (s *BatchService) CreateBatch(ctx context.Context, name string, requests []generation.Request) (*store.Batch, error) {
	if err := s.validateBatch(name, requests); err != nil {
		return nil, err
	}

	b := store.NewBatch(strings.TrimSpace(name), len(requests))
	if err := s.store.CreateBatch(ctx, b, requests); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist batch", "error", err, "name", b.Name)
		return nil, NewBatchServiceError("create_batch", "failed to save batch", err)
	}

	if err := s.start(b, requests, nil); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "batch created", "batch_id", b.ID, "name", b.Name, "total", b.Total)
	return b, nil
}

// ResumeBatch starts a new run of a stored batch. Done items are kept;
// every other item is generated again.
func (s *BatchService) ResumeBatch(ctx context.Context, id uuid.UUID) (*store.Batch, error) {
	if s.isRunning(id) {
		return nil, ErrBatchRunning
	}

	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, NewBatchServiceError("resume_batch", "failed to load batch", err)
	}
	records, err := s.store.ListItems(ctx, id)
	if err != nil {
		return nil, NewBatchServiceError("resume_batch", "failed to load items", err)
	}

	prior := batch.PriorFromItems(store.Items(records))
	if err := s.start(b, store.Requests(records), prior); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "batch resumed", "batch_id", b.ID, "total", b.Total)
	return b, nil
}

// CancelBatch cancels the active run of a batch.
func (s *BatchService) CancelBatch(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return ErrBatchNotRunning
	}

	run.Cancel()
	s.logger.InfoContext(ctx, "batch cancel requested", "batch_id", id)
	return nil
}

// GetStatus returns the stored batch with live item states for active runs.
func (s *BatchService) GetStatus(ctx context.Context, id uuid.UUID) (*BatchStatus, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, NewBatchServiceError("get_status", "failed to load batch", err)
	}
	records, err := s.store.ListItems(ctx, id)
	if err != nil {
		return nil, NewBatchServiceError("get_status", "failed to load items", err)
	}

	s.mu.Lock()
	run, running := s.runs[id]
	s.mu.Unlock()

	if running {
		live := run.Items()
		for i := range records {
			if idx := records[i].Index; idx >= 0 && idx < len(live) {
				records[i].Item = live[idx]
			}
		}
	}

	status := &BatchStatus{
		Batch:   b,
		Items:   records,
		Total:   len(records),
		Running: running,
	}
	for _, r := range records {
		switch r.Status {
		case batch.StatusDone:
			status.Done++
		case batch.StatusError:
			status.Errors++
		}
	}
	status.Pending = status.Total - status.Done - status.Errors
	return status, nil
}

// GetResult returns the stored JSON for a result handle.
func (s *BatchService) GetResult(ctx context.Context, handle string) ([]byte, error) {
	content, err := s.store.GetResult(ctx, handle)
	if err != nil {
		return nil, NewBatchServiceError("get_result", "failed to load result", err)
	}
	return content, nil
}

// Running reports the IDs of batches with an active run.
func (s *BatchService) Running() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every active run and waits for them to finish or for
// ctx to expire. No new runs are accepted afterwards.
func (s *BatchService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	active := len(s.runs)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "shutting down batch service", "active_runs", active)
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d batch runs: %w", active, ctx.Err())
	}
}

func (s *BatchService) validateBatch(name string, requests []generation.Request) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidBatch)
	}
	if len(requests) == 0 {
		return fmt.Errorf("%w: batch has no items", ErrInvalidBatch)
	}
	if s.cfg.MaxItems > 0 && len(requests) > s.cfg.MaxItems {
		return fmt.Errorf("%w: %d items exceeds the limit of %d", ErrInvalidBatch, len(requests), s.cfg.MaxItems)
	}
	for i := range requests {
		if err := s.validate.Struct(requests[i]); err != nil {
			return fmt.Errorf("%w: item %d: %v", ErrInvalidBatch, i, err)
		}
	}
	return nil
}

func (s *BatchService) isRunning(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[id]
	return ok
}

func (s *BatchService) start(b *store.Batch, requests []generation.Request, prior map[int]batch.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return ErrShuttingDown
	}
	if _, ok := s.runs[b.ID]; ok {
		return ErrBatchRunning
	}

	orch, err := batch.NewOrchestrator[generation.Request](s.executor, s.logger.With("batch_id", b.ID), batch.Config{
		Policy:       s.cfg.Policy,
		OnTransition: s.transitionHook(b.ID),
	})
	if err != nil {
		return NewBatchServiceError("start_run", "failed to create orchestrator", err)
	}

	run := orch.Start(s.baseCtx, requests, s.itemFunc(b.ID), prior)
	s.runs[b.ID] = run
	s.wg.Add(1)
	metrics.ActiveRuns.Inc()

	go s.watch(b.ID, run)
	return nil
}

// watch forwards progress, then retires the run.
func (s *BatchService) watch(id uuid.UUID, run *batch.Run) {
	defer s.wg.Done()
	ctx := context.WithoutCancel(s.baseCtx)

	for p := range run.Progress() {
		s.emit(ctx, id, events.TypeProgress, p)
	}
	summary := run.Wait()

	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()
	metrics.ActiveRuns.Dec()

	s.logger.Info("batch run ended",
		"batch_id", id,
		"done", summary.Done,
		"errors", summary.Errors,
		"cancelled", summary.Cancelled)
	s.emit(ctx, id, events.TypeRunFinished, summary)
}

// transitionHook persists every item transition. Writes outlive the run's
// cancellation so the aborted item is still recorded as Error.
func (s *BatchService) transitionHook(id uuid.UUID) batch.TransitionFunc {
	return func(item batch.Item) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), persistTimeout)
		defer cancel()

		if err := s.store.UpdateItem(ctx, id, item); err != nil {
			level := slog.LevelError
			if store.IsNotFoundError(err) {
				// The batch was deleted under a live run; nothing to repair.
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "failed to persist item transition",
				"error", err,
				"batch_id", id,
				"index", item.Index,
				"status", item.Status,
				"not_found", store.IsNotFoundError(err))
		}
		metrics.RecordTransition(item)
		s.emit(ctx, id, events.TypeItemTransition, item)
	}
}

func (s *BatchService) itemFunc(id uuid.UUID) batch.ItemFunc[generation.Request] {
	return func(ctx context.Context, req generation.Request, index int) (string, error) {
		snap, err := s.generator.Generate(ctx, req, func(snap partial.Snapshot) {
			s.emit(ctx, id, events.TypeSnapshot, events.SnapshotPayload{
				Index:      index,
				FieldNames: snap.FieldNames,
				Partial:    snap.JSON(),
			})
		})
		if err != nil {
			return "", err
		}

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		handle, err := s.store.SaveResult(saveCtx, id, index, snap.JSON())
		if err != nil {
			return "", fmt.Errorf("failed to save result: %w", err)
		}
		return handle, nil
	}
}

func (s *BatchService) emit(ctx context.Context, id uuid.UUID, eventType string, payload any) {
	event, err := events.NewBatchEvent(id, eventType, payload)
	if err == nil {
		err = s.emitter.EmitEvent(ctx, event)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "failed to emit batch event",
			"error", err,
			"batch_id", id,
			"event_type", eventType)
	}
}
