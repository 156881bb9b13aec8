package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-genpipe/internal/config"
	"github.com/phrazzld/scry-genpipe/internal/events"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/metrics"
	"github.com/phrazzld/scry-genpipe/internal/platform/gemini"
	"github.com/phrazzld/scry-genpipe/internal/platform/postgres"
	redispub "github.com/phrazzld/scry-genpipe/internal/platform/redis"
	"github.com/phrazzld/scry-genpipe/internal/retry"
	"github.com/phrazzld/scry-genpipe/internal/service"
)

// application holds the shared dependencies of the server and releases them
// on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	broker    *events.Broker
	publisher *redispub.Publisher
	service   *service.BatchService
}

// newApplication wires stores, the generator, the event fan-out and the
// batch service.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	batchStore := postgres.NewBatchStore(db, logger)
	if _, err := batchStore.ResetInterrupted(ctx); err != nil {
		return nil, err
	}

	generator, err := gemini.NewGeminiGenerator(ctx, logger, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM generator: %w", err)
	}
	pipeline, err := generation.NewPipeline(generator, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("LLM generator initialized", "model", cfg.LLM.ModelName)

	policy, err := cfg.Retry.Policy()
	if err != nil {
		return nil, err
	}
	executor, err := retry.NewExecutor(logger, retry.WithObserver(metrics.NewObserver("generate_item")))
	if err != nil {
		return nil, err
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	app.broker = events.NewBroker(64)
	emitter.RegisterHandler(app.broker)

	if cfg.Redis.URL != "" {
		app.publisher, err = redispub.NewPublisher(ctx, redispub.Config{
			URL:           cfg.Redis.URL,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		emitter.RegisterHandler(app.publisher)
		logger.Info("publishing batch events to redis", "channel_prefix", cfg.Redis.ChannelPrefix)
	}

	app.service, err = service.NewBatchService(batchStore, pipeline, executor, emitter, logger, service.Config{
		Policy:   policy,
		MaxItems: cfg.Batch.MaxItems,
	})
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create batch service: %w", err)
	}

	logger.Info("application initialized",
		"max_attempts", policy.MaxAttempts(),
		"base_delay", policy.BaseDelay(),
		"max_items", cfg.Batch.MaxItems)
	return app, nil
}

// cleanup releases connections owned by the application. The database is
// closed by main.
func (app *application) cleanup() {
	if app.broker != nil {
		app.broker.Close()
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Error("error closing redis connection", "error", err)
		}
	}
}
