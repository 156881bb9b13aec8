package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/scry-genpipe/internal/partial"
)

// SnapshotFunc receives every snapshot that adds fields.
type SnapshotFunc func(snap partial.Snapshot)

// Pipeline turns one streamed response into a recovered JSON object.
type Pipeline struct {
	generator Generator
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(generator Generator, logger *slog.Logger) (*Pipeline, error) {
	if generator == nil {
		return nil, fmt.Errorf("%w: generator cannot be nil", ErrInvalidConfig)
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Pipeline{
		generator: generator,
		logger:    logger.With("component", "generation_pipeline"),
	}, nil
}

// Generate streams req and returns the final snapshot. Each call uses a fresh
// recoverer, so a retried attempt starts from an empty field set. onSnapshot
// may be nil.
func (p *Pipeline) Generate(ctx context.Context, req Request, onSnapshot SnapshotFunc) (partial.Snapshot, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return partial.Snapshot{}, ErrEmptyPrompt
	}

	rec := partial.NewRecoverer()
	var buf strings.Builder
	chunks := 0

	err := p.generator.GenerateStream(ctx, req, func(text string) {
		chunks++
		buf.WriteString(text)
		if snap, grew := rec.Feed(buf.String()); grew && onSnapshot != nil {
			onSnapshot(snap)
		}
	})
	if err != nil {
		return partial.Snapshot{}, err
	}

	// Repaired snapshots are progress views only; the finished response must
	// parse as-is.
	final, err := partial.Parse(buf.String())
	if err != nil {
		p.logger.WarnContext(ctx, "response is not a complete JSON object",
			"title", req.Title,
			"chunks", chunks,
			"response_length", buf.Len(),
			"recovered_fields", len(rec.Current().FieldNames))
		return partial.Snapshot{}, fmt.Errorf("%w: %d byte response is not a complete JSON object", ErrInvalidResponse, buf.Len())
	}
	if final.Empty() {
		return partial.Snapshot{}, fmt.Errorf("%w: response object has no fields", ErrInvalidResponse)
	}

	p.logger.DebugContext(ctx, "response recovered",
		"title", req.Title,
		"chunks", chunks,
		"fields", len(final.FieldNames))
	return final, nil
}
