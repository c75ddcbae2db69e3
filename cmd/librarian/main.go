// cmd/librarian/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/config"
	"librarydesk/internal/logging"
	"librarydesk/internal/membership"
	"librarydesk/internal/telemetry"
	"librarydesk/internal/validation"
	"librarydesk/internal/walkthrough"
)

func main() {
	configPath := flag.String("config", os.Getenv("LIBRARYDESK_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "librarian: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	providers, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "librarian: telemetry shutdown: %v\n", err)
		}
	}()

	logger, err := logging.New(cfg.Log, os.Stderr, logging.WithLoggerProvider(providers.LoggerProvider))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var registryOpts []membership.Option
	if cfg.Limiter.Enabled {
		registryOpts = append(registryOpts,
			membership.WithRegistrationLimiter(rate.NewLimiter(rate.Limit(cfg.Limiter.RPS), cfg.Limiter.Burst)))
	}

	engine := circulation.New(
		catalog.New(validation.New(cfg.Library.Genres...)),
		membership.NewRegistry(registryOpts...),
		circulation.WithBorrowLimit(cfg.Library.BorrowLimit),
		circulation.WithLogger(logger),
		circulation.WithTracer(otel.Tracer("librarydesk/circulation")),
		circulation.WithMeter(otel.Meter("librarydesk/circulation")),
	)

	logger.Info("starting walkthrough",
		"borrow_limit", engine.BorrowLimit(),
		"genres", cfg.Library.Genres,
		"limiter", cfg.Limiter.Enabled,
	)

	results, err := walkthrough.NewRunner(engine, logger).RunAll(ctx, walkthrough.Scenarios(engine.BorrowLimit()))

	logger.Info("walkthrough finished",
		"scenarios", len(results),
		"books", len(engine.ListBooks(ctx)),
		"members", len(engine.ListMembers(ctx)),
		"events", len(engine.Events(ctx, 0, 1<<20)),
	)
	return err
}
