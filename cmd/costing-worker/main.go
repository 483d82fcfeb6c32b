package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clinicledger/costing/internal/adapters/events"
	"github.com/clinicledger/costing/internal/adapters/storage"
	"github.com/clinicledger/costing/internal/application/services"
	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/providers"
	"github.com/clinicledger/costing/internal/infrastructure/clients/redis"
	"github.com/clinicledger/costing/internal/infrastructure/observability"
	"github.com/clinicledger/costing/pkg/config"
	"github.com/clinicledger/costing/pkg/secrets"
)

type options struct {
	provision     string
	source        string
	copyLatest    bool
	fixedCosts    bool
	recalculate   string
	includeLocked bool
	export        string
	format        string
	archive       bool
	out           string
	actor         string
}

func main() {
	var opts options
	flag.StringVar(&opts.provision, "provision", "", "Create a DRAFT snapshot for the month (YYYY-MM)")
	flag.StringVar(&opts.source, "source", "", "Snapshot ID to copy when provisioning")
	flag.BoolVar(&opts.copyLatest, "copy-latest", false, "Copy the latest earlier snapshot when provisioning")
	flag.BoolVar(&opts.fixedCosts, "fixed-costs", false, "Include fixed costs in the provisioned snapshot")
	flag.StringVar(&opts.recalculate, "recalculate", "", "Snapshot ID to recalculate, or \"all\"")
	flag.BoolVar(&opts.includeLocked, "include-locked", false, "Also recalculate LOCKED snapshots with -recalculate all")
	flag.StringVar(&opts.export, "export", "", "Snapshot ID whose results to export")
	flag.StringVar(&opts.format, "format", services.ExportFormatCSV, "Export format (csv or xlsx)")
	flag.BoolVar(&opts.archive, "archive", false, "Write the export to the configured archive")
	flag.StringVar(&opts.out, "out", "", "Write the export to this file instead of stdout")
	flag.StringVar(&opts.actor, "actor", "", "User recorded on lock changes")
	flag.Parse()

	if opts.provision == "" && opts.recalculate == "" && opts.export == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// secrets must be in the environment before config.Load reads it
	if _, err := secrets.ApplyVaultSecrets(ctx, secrets.LoadVaultConfigFromEnv(""), log.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load Vault secrets: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.OTEL.ServiceName, cfg.App.Env)

	if err := run(ctx, cfg, opts); err != nil {
		log.Error().Err(err).Msg("costing worker failed")
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	logger := observability.ComponentLogger("costing-worker")

	var redisClient *redis.Client
	if cfg.Store.Driver == config.StoreDriverRedis || cfg.Redis.EventChannel != "" {
		redisClient, err = redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			if cfg.Store.Driver == config.StoreDriverRedis {
				return err
			}
			log.Warn().Err(err).Msg("redis unavailable, costing events will not be published")
		} else {
			defer redisClient.Close()
		}
	}

	store, closeStore, err := openStore(ctx, cfg, redisClient, metrics)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifier *services.EventNotifier
	if redisClient != nil {
		bus := events.NewRedisEventBus(redisClient, observability.ComponentLogger("event-bus"))
		defer bus.Close()
		notifier = services.NewEventNotifier(bus, cfg.Redis.EventChannel, logger)
	}

	archive, err := storage.Open(ctx, cfg.Archive)
	if err != nil {
		return err
	}

	snapshots := services.NewSnapshotService(store, notifier, logger)
	calculation := services.NewCalculationService(
		services.NewRecalculationService(store, notifier, metrics, logger),
		services.NewResultQueryService(store, archive, metrics, logger),
	)

	if opts.actor != "" {
		ctx = services.WithActor(ctx, opts.actor)
	}

	// each step is bounded by the store's mutation timeout
	step := func(fn func(ctx context.Context) error) error {
		stepCtx, cancel := context.WithTimeout(ctx, cfg.Store.MutateTimeout)
		defer cancel()
		return fn(stepCtx)
	}

	if opts.provision != "" {
		if err := step(func(ctx context.Context) error { return provision(ctx, snapshots, opts) }); err != nil {
			return err
		}
	}
	if opts.recalculate != "" {
		if err := recalculate(ctx, calculation, opts, step); err != nil {
			return err
		}
	}
	if opts.export != "" {
		if err := step(func(ctx context.Context) error { return export(ctx, calculation, opts) }); err != nil {
			return err
		}
	}
	return nil
}

func provision(ctx context.Context, snapshots providers.SnapshotLifecycle, opts options) error {
	input := entities.CreateSnapshotInput{Month: opts.provision, IncludeFixedCosts: opts.fixedCosts}

	switch {
	case opts.source != "" && opts.copyLatest:
		return errors.New("-source and -copy-latest are mutually exclusive")
	case opts.source != "":
		input.SourceSnapshotID = &opts.source
	case opts.copyLatest:
		list, err := snapshots.List(ctx)
		if err != nil {
			return err
		}
		// list is newest month first
		for _, s := range list {
			if s.Month < opts.provision {
				id := s.ID
				input.SourceSnapshotID = &id
				break
			}
		}
	}

	detail, err := snapshots.Create(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to provision %s: %w", opts.provision, err)
	}

	event := log.Info().
		Str("snapshot_id", detail.ID).
		Str("month", detail.Month).
		Int("procedures", len(detail.Procedures)).
		Int("staff", len(detail.Staff))
	if input.SourceSnapshotID != nil {
		event = event.Str("source_snapshot_id", *input.SourceSnapshotID)
	}
	event.Msg("snapshot provisioned")
	return nil
}

func recalculate(ctx context.Context, calculation *services.CalculationService, opts options, step func(func(context.Context) error) error) error {
	start := time.Now()

	if opts.recalculate != "all" {
		return step(func(ctx context.Context) error {
			job, err := calculation.Recalculate(ctx, opts.recalculate)
			if err != nil {
				return fmt.Errorf("failed to recalculate %s: %w", opts.recalculate, err)
			}
			log.Info().Str("job_id", job.JobID).Int("rows", job.RowCount).Dur("took", time.Since(start)).Msg("recalculation finished")
			return nil
		})
	}

	jobs, err := calculation.RecalculateAll(ctx, opts.includeLocked)
	rows := 0
	for _, job := range jobs {
		rows += job.RowCount
	}
	log.Info().
		Int("snapshots", len(jobs)).
		Int("rows", rows).
		Dur("took", time.Since(start)).
		Msg("recalculation of all snapshots finished")
	return err
}

func export(ctx context.Context, calculation *services.CalculationService, opts options) error {
	if opts.archive {
		obj, err := calculation.ArchiveExport(ctx, opts.export, opts.format)
		if err != nil {
			return err
		}
		log.Info().Str("location", obj.Location).Int64("size", obj.Size).Msg("export archived")
		return nil
	}

	payload, err := calculation.ExportResults(ctx, opts.export, opts.format)
	if err != nil {
		return err
	}
	if payload.Fallback {
		log.Warn().Str("format", payload.Format).Msg("format not supported, exported as CSV")
	}

	if opts.out == "" {
		_, err = os.Stdout.Write(payload.Data)
		return err
	}
	if err := os.WriteFile(opts.out, payload.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	log.Info().Str("path", opts.out).Str("filename", payload.Filename).Msg("export written")
	return nil
}
