package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/remitflow/remitflow/internal/bucketing"
	"github.com/remitflow/remitflow/internal/changefeed"
	"github.com/remitflow/remitflow/internal/config"
	"github.com/remitflow/remitflow/internal/eventbus"
	"github.com/remitflow/remitflow/internal/generation"
	"github.com/remitflow/remitflow/internal/ingest"
	"github.com/remitflow/remitflow/internal/scheduler"
	"github.com/remitflow/remitflow/internal/storage/sqlite"
	"github.com/remitflow/remitflow/internal/telemetry"
)

// bucketSweepInterval is the cadence of the TIME-threshold sweep.
const bucketSweepInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := config.Load()
	logger := log.New(os.Stderr, "", log.LstdFlags)

	shutdownTelemetry, err := telemetry.Setup(ctx, "remitd", logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Printf("serve: telemetry shutdown: %v", err)
		}
	}()

	store, err := sqlite.New(ctx, settings.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// A new feed version per daemon run; old changes order before it.
	feedVersion, err := store.NextFeedVersion(ctx)
	if err != nil {
		return err
	}
	logger.Printf("serve: change feed version %d", feedVersion)

	bus := eventbus.New(eventbus.WithLogger(logger))
	sched := scheduler.New(logger)

	// Bucketing: lifecycle, aggregator, and the claims-feed subscription.
	lifecycle := bucketing.NewLifecycle(store, bus, logger)
	aggregator := bucketing.NewAggregator(store, lifecycle, logger)
	consumer := changefeed.New("bucket-router", store,
		changefeed.WithBatchSize(settings.FeedBatchSize),
		changefeed.WithLogger(logger))
	consumer.Register(bucketing.NewFeedHandler(store, aggregator, logger))
	sched.Add("changefeed-poll", settings.FeedPollInterval, consumer.Poll)
	sched.Add("bucket-sweep", bucketSweepInterval, lifecycle.Sweep)

	// NCPDP ingestion tasks.
	controller := ingest.New(store,
		ingest.WithBatchSize(settings.NcpdpBatchSize),
		ingest.WithMaxRetries(settings.NcpdpMaxRetries),
		ingest.WithStuckThreshold(settings.NcpdpStuckAfter),
		ingest.WithLogger(logger))
	controller.Register(sched, settings.NcpdpPollInterval)

	// File generation on the bus, delivery on the scheduler.
	factory := generation.NewCachingSessionFactory(
		&generation.SSHDialer{ConnectTimeout: settings.SftpConnTimeout},
		generation.PlaintextDecrypter{},
		settings.SftpPoolSize,
		logger)
	defer factory.Shutdown()
	bus.Register(generation.NewHandler(store, generation.X12Stub{}, bus, settings.OutputDir, logger))
	bus.Register(factory.ConfigChangeHandler())
	deliverer := generation.NewDeliverer(store, factory, settings.DeliveryMaxRetries, logger)
	deliverer.Register(sched, settings.FeedPollInterval)

	if settings.PayerSeedFile != "" {
		if err := importSeedFile(ctx, store, bus, settings.PayerSeedFile, logger); err != nil {
			return err
		}
	}

	bus.Start(ctx)
	defer bus.Stop()
	sched.Start(ctx)
	defer sched.Stop()

	g, ctx := errgroup.WithContext(ctx)
	if settings.PayerSeedFile != "" {
		g.Go(func() error {
			return watchSeedFile(ctx, store, bus, settings.PayerSeedFile, logger)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	logger.Printf("serve: remitd running (db=%s out=%s)", settings.DatabasePath, settings.OutputDir)
	err = g.Wait()
	logger.Printf("serve: shutting down")
	return err
}

// watchSeedFile re-imports payer/payee configuration when the seed file
// changes and publishes config-change events so cached SFTP sessions are
// evicted.
func watchSeedFile(ctx context.Context, store *sqlite.Store, bus *eventbus.Bus, path string, logger *log.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := importSeedFile(ctx, store, bus, path, logger); err != nil {
				logger.Printf("serve: reload seed file: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("serve: seed file watcher: %v", err)
		}
	}
}
