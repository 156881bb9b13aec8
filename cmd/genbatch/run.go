package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/config"
	"github.com/phrazzld/scry-genpipe/internal/events"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/metrics"
	"github.com/phrazzld/scry-genpipe/internal/platform/gemini"
	"github.com/phrazzld/scry-genpipe/internal/platform/logger"
	"github.com/phrazzld/scry-genpipe/internal/platform/sqlite"
	"github.com/phrazzld/scry-genpipe/internal/retry"
	"github.com/phrazzld/scry-genpipe/internal/service"
	"github.com/phrazzld/scry-genpipe/internal/store"
	"github.com/spf13/cobra"
)

var (
	// errItemsFailed makes the process exit non-zero when any item failed.
	errItemsFailed = errors.New("some items failed; run again to retry them")

	// errCancelled is returned when the run was interrupted.
	errCancelled = errors.New("run cancelled; run again to resume")
)

var runCmd = &cobra.Command{
	Use:   "run --file batch.yaml",
	Short: "Run or resume a batch file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		file, _ := cmd.Flags().GetString("file")
		fresh, _ := cmd.Flags().GetBool("fresh")

		log, err := logger.New(cmd.ErrOrStderr(), config.ServerConfig{LogLevel: logLevel, LogFormat: "text"})
		if err != nil {
			return err
		}

		llm := config.LLMConfig{
			GeminiAPIKey:       settings.GetString("llm.gemini_api_key"),
			ModelName:          settings.GetString("llm.model_name"),
			PromptTemplatePath: settings.GetString("llm.prompt_template_path"),
		}
		policy, err := retry.NewPolicy(
			settings.GetInt("retry.max_attempts"),
			settings.GetDuration("retry.base_delay"),
			settings.GetFloat64("retry.backoff_factor"),
			settings.GetDuration("retry.max_delay"),
		)
		if err != nil {
			return err
		}

		generator, err := gemini.NewGeminiGenerator(ctx, log, llm)
		if err != nil {
			return err
		}

		return runBatch(ctx, cmd.OutOrStdout(), log, runOptions{
			file:      file,
			statePath: statePath,
			policy:    policy,
			fresh:     fresh,
		}, generator)
	},
}

type runOptions struct {
	file      string
	statePath string
	policy    retry.Policy
	fresh     bool
}

// runBatch runs the batch in opts.file to completion or until ctx is
// cancelled, printing progress to out.
func runBatch(ctx context.Context, out io.Writer, log *slog.Logger, opts runOptions, generator generation.Generator) error {
	bf, err := readBatchFile(opts.file)
	if err != nil {
		return err
	}

	st, err := openState(ctx, opts.statePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if _, err := st.ResetInterrupted(ctx); err != nil {
		return err
	}

	pipeline, err := generation.NewPipeline(generator, log)
	if err != nil {
		return err
	}
	executor, err := retry.NewExecutor(log, retry.WithObserver(metrics.NewObserver("generate_item")))
	if err != nil {
		return err
	}

	printer := newProgressPrinter(out)
	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(printer)

	svc, err := service.NewBatchService(st, pipeline, executor, emitter, log, service.Config{Policy: opts.policy})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Shutdown(context.WithoutCancel(ctx)) }()

	b, err := startOrResume(ctx, out, svc, st, bf, opts.fresh)
	if err != nil || b == nil {
		return err
	}

	var summary batch.Summary
	select {
	case summary = <-printer.finished:
	case <-ctx.Done():
		fmt.Fprintln(out, "cancelling...")
		if err := svc.CancelBatch(context.WithoutCancel(ctx), b.ID); err != nil && !errors.Is(err, service.ErrBatchNotRunning) {
			return err
		}
		summary = <-printer.finished
	}

	fmt.Fprintf(out, "batch %s (%s): %d done, %d failed, %d pending\n",
		b.Name, b.ID, summary.Done, summary.Errors, summary.Pending())

	switch {
	case summary.Cancelled:
		return errCancelled
	case summary.Errors > 0:
		return errItemsFailed
	}
	return nil
}

// startOrResume resumes the latest batch created from the same file
// contents, or creates a new one. It returns a nil batch when there is
// nothing left to do.
func startOrResume(
	ctx context.Context,
	out io.Writer,
	svc *service.BatchService,
	st *sqlite.BatchStore,
	bf *batchFile,
	fresh bool,
) (*store.Batch, error) {
	if !fresh {
		prev, err := st.LatestBatch(ctx, bf.Name)
		switch {
		case errors.Is(err, store.ErrBatchNotFound):
		case err != nil:
			return nil, err
		default:
			status, err := svc.GetStatus(ctx, prev.ID)
			if err != nil {
				return nil, err
			}
			if sameRequests(store.Requests(status.Items), bf.Items) {
				if status.Pending == 0 && status.Errors == 0 {
					fmt.Fprintf(out, "batch %s (%s) is already complete\n", prev.Name, prev.ID)
					return nil, nil
				}
				fmt.Fprintf(out, "resuming batch %s (%s): %d of %d done\n", prev.Name, prev.ID, status.Done, status.Total)
				return svc.ResumeBatch(ctx, prev.ID)
			}
			fmt.Fprintf(out, "batch file changed since run %s; starting a new batch\n", prev.ID)
		}
	}

	b, err := svc.CreateBatch(ctx, bf.Name, bf.Items)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "started batch %s (%s): %d items\n", b.Name, b.ID, b.Total)
	return b, nil
}

func openState(ctx context.Context, path string) (*sqlite.BatchStore, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	st := sqlite.NewBatchStore(db)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// progressPrinter prints item outcomes and reports the end of the run.
type progressPrinter struct {
	out      io.Writer
	finished chan batch.Summary
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, finished: make(chan batch.Summary, 1)}
}

func (p *progressPrinter) HandleEvent(_ context.Context, event *events.BatchEvent) error {
	switch event.Type {
	case events.TypeProgress:
		var pr batch.Progress
		if err := event.UnmarshalPayload(&pr); err != nil {
			return err
		}
		line := fmt.Sprintf("[%d/%d] item %d %s", pr.Done+pr.Errors, pr.Total, pr.Index, pr.Item.Status)
		if pr.Item.Error != "" {
			line += ": " + pr.Item.Error
		}
		fmt.Fprintln(p.out, line)
	case events.TypeRunFinished:
		var s batch.Summary
		if err := event.UnmarshalPayload(&s); err != nil {
			return err
		}
		p.finished <- s
	}
	return nil
}
