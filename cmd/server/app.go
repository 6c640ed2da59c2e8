package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/prism-api/internal/aggregate"
	"github.com/phrazzld/prism-api/internal/api"
	"github.com/phrazzld/prism-api/internal/config"
	"github.com/phrazzld/prism-api/internal/coordinator"
	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/enrich"
	"github.com/phrazzld/prism-api/internal/generation"
	"github.com/phrazzld/prism-api/internal/platform/gemini"
	"github.com/phrazzld/prism-api/internal/platform/metrics"
	"github.com/phrazzld/prism-api/internal/service/auth"
	"github.com/phrazzld/prism-api/internal/task"
	"github.com/phrazzld/prism-api/internal/worker"
	prom "github.com/prometheus/client_golang/prometheus"
)

// application holds the wired components of a running server.
type application struct {
	config *config.Config
	logger *slog.Logger

	queue       *task.Queue
	coordinator *coordinator.Coordinator
	stream      *api.EventStream
	registry    *prom.Registry
	jwtService  auth.JWTService

	unsubscribe []func()
}

// newApplication builds every component from cfg. A nil generator means
// the LLM worker is built from cfg.LLM when a key is configured.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	return newApplicationWithGenerator(ctx, cfg, logger, nil)
}

func newApplicationWithGenerator(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	generator generation.Generator,
) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		registry: prom.NewRegistry(),
	}

	app.queue = task.NewQueue(task.Config{
		Concurrency:       cfg.Queue.Concurrency,
		MaxPending:        cfg.Queue.MaxPending,
		DefaultTimeout:    cfg.Queue.TaskTimeout,
		DefaultMaxRetries: cfg.Queue.MaxRetries,
		RetryDelay:        cfg.Queue.RetryDelay,
	}, logger)

	agg := aggregate.New(aggregate.Config{
		Strategy:            domain.Strategy(cfg.Aggregator.Strategy),
		MaxVariants:         cfg.Aggregator.MaxVariants,
		SimilarityThreshold: cfg.Aggregator.SimilarityThreshold,
	}, logger)

	workers := worker.Defaults(logger)
	if generator == nil && cfg.LLM.Enabled() {
		g, err := gemini.NewGenerator(ctx, logger, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini generator: %w", err)
		}
		generator = g
	}
	if generator != nil {
		workers = append(workers, worker.NewLLM(generator, worker.DefaultPricing, logger))
	}

	coord, err := coordinator.New(workers, enrich.NewTagger(nil, logger), agg, app.queue, coordinator.Config{
		Mode:          coordinator.Mode(cfg.Coordinator.Mode),
		MaxVariants:   cfg.Coordinator.MaxVariants,
		WorkerTimeout: cfg.Coordinator.WorkerTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	app.coordinator = coord

	exporter, err := metrics.NewExporter(app.registry, metrics.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	app.unsubscribe = append(app.unsubscribe, exporter.Watch(app.queue, coord))

	app.stream = api.NewEventStream(logger)
	app.unsubscribe = append(app.unsubscribe, app.stream.Watch(coord, app.queue))

	if cfg.Auth.Enabled() {
		app.jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT service: %w", err)
		}
	}

	logger.Info("application initialized",
		"workers", coord.Workers(),
		"strategy", agg.Config().Strategy,
		"mode", coord.Config().Mode)
	return app, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down.
func (app *application) Run(ctx context.Context) error {
	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup releases resources once the HTTP server has stopped.
func (app *application) cleanup(ctx context.Context) {
	app.stream.Close(ctx)
	for _, stop := range app.unsubscribe {
		stop()
	}
	app.queue.Close()
	app.logger.Info("application shutdown completed")
}
