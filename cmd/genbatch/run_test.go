package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const moonsFile = `name: moons
items:
  - title: Io
    prompt: Describe Io.
  - title: Europa
    prompt: Describe Europa.
  - title: Ganymede
    prompt: Describe Ganymede.
`

// countingGenerator fails prompts mentioning a moon in failing and counts
// every call.
type countingGenerator struct {
	calls   atomic.Int32
	failing atomic.Value
}

func (g *countingGenerator) GenerateStream(_ context.Context, req generation.Request, onText func(string)) error {
	g.calls.Add(1)
	if f, _ := g.failing.Load().(string); f != "" && strings.Contains(req.Prompt, f) {
		return errors.New("model refused request")
	}
	onText(`{"name":"` + req.Title + `",`)
	onText(`"facts":["` + req.Prompt + `"]}`)
	return nil
}

func testOptions(t *testing.T) runOptions {
	t.Helper()
	return runOptions{
		file:      writeFile(t, "moons.yaml", moonsFile),
		statePath: filepath.Join(t.TempDir(), "state.db"),
		policy:    retry.MustPolicy(1, time.Millisecond, 2, 0),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunBatch_CompletesAndSkipsWhenDone(t *testing.T) {
	opts := testOptions(t)
	gen := &countingGenerator{}
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runBatch(ctx, &out, discardLogger(), opts, gen))
	assert.Contains(t, out.String(), "started batch moons")
	assert.Contains(t, out.String(), "3 done, 0 failed, 0 pending")
	assert.Equal(t, int32(3), gen.calls.Load())

	out.Reset()
	require.NoError(t, runBatch(ctx, &out, discardLogger(), opts, gen))
	assert.Contains(t, out.String(), "already complete")
	assert.Equal(t, int32(3), gen.calls.Load())
}

func TestRunBatch_ResumeRetriesOnlyFailedItems(t *testing.T) {
	opts := testOptions(t)
	gen := &countingGenerator{}
	gen.failing.Store("Europa")
	ctx := context.Background()

	var out bytes.Buffer
	err := runBatch(ctx, &out, discardLogger(), opts, gen)
	require.ErrorIs(t, err, errItemsFailed)
	assert.Contains(t, out.String(), "2 done, 1 failed, 0 pending")
	assert.Contains(t, out.String(), "model refused request")
	assert.Equal(t, int32(3), gen.calls.Load())

	gen.failing.Store("")
	out.Reset()
	require.NoError(t, runBatch(ctx, &out, discardLogger(), opts, gen))
	assert.Contains(t, out.String(), "resuming batch moons")
	assert.Contains(t, out.String(), "3 done, 0 failed, 0 pending")
	assert.Equal(t, int32(4), gen.calls.Load())

	out.Reset()
	require.NoError(t, printStatus(ctx, &out, opts.statePath, "moons", false))
	assert.Contains(t, out.String(), "Europa")
	assert.Contains(t, out.String(), "3 done, 0 failed, 0 pending")
}

func TestRunBatch_FreshStartsNewBatch(t *testing.T) {
	opts := testOptions(t)
	gen := &countingGenerator{}
	ctx := context.Background()

	require.NoError(t, runBatch(ctx, io.Discard, discardLogger(), opts, gen))

	opts.fresh = true
	var out bytes.Buffer
	require.NoError(t, runBatch(ctx, &out, discardLogger(), opts, gen))
	assert.Contains(t, out.String(), "started batch moons")
	assert.Equal(t, int32(6), gen.calls.Load())
}

func TestRunBatch_CancelledContext(t *testing.T) {
	opts := testOptions(t)
	started := make(chan struct{})
	var once sync.Once
	gen := generation.GeneratorFunc(func(ctx context.Context, _ generation.Request, _ func(string)) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	var out bytes.Buffer
	err := runBatch(ctx, &out, discardLogger(), opts, gen)
	require.ErrorIs(t, err, errCancelled)
	assert.Contains(t, out.String(), "0 done, 1 failed, 2 pending")
}

func TestPrintStatus_UnknownBatch(t *testing.T) {
	opts := testOptions(t)
	err := printStatus(context.Background(), io.Discard, opts.statePath, "nope", false)
	assert.ErrorContains(t, err, `no batch named "nope"`)
}
