package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-querycache/pkg/binding"
	"github.com/illmade-knight/go-querycache/pkg/eventsink"
	"github.com/illmade-knight/go-querycache/pkg/fetchevents"
	"github.com/illmade-knight/go-querycache/pkg/microservice"
	"github.com/illmade-knight/go-querycache/pkg/querycache"
	querysignal "github.com/illmade-knight/go-querycache/pkg/signal"
	"github.com/illmade-knight/go-querycache/pkg/sources"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
)

// app owns every long-lived component of the demo process.
type app struct {
	root       zerolog.Logger
	logger     zerolog.Logger
	client     *querycache.Client
	aggregator *fetchevents.Aggregator
	focus      *querysignal.Focus
	ticker     *querysignal.Ticker
	server     *microservice.QueryServer
	provider   *sdkmetric.MeterProvider
	sink       *eventsink.PubsubSink
	opts       binding.Options

	definitions []querycache.Definition
	bindings    []*binding.Binding
	cleanup     []func() error
}

// newApp builds the component graph without starting anything.
func newApp(ctx context.Context, cfg *Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		root:   logger,
		logger: logger.With().Str("component", "QueryDemo").Logger(),
	}
	if err := a.build(ctx, cfg, logger); err != nil {
		_ = a.runCleanup()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	a.client = querycache.NewClient(&cfg.Cache, nil, logger)
	bus := a.client.Events()

	a.aggregator = fetchevents.NewAggregator(bus, fetchevents.Filter{}, logger)
	a.cleanup = append(a.cleanup, func() error { a.aggregator.Close(); return nil })
	unwatch := a.aggregator.Watch(func(fetching bool) {
		a.logger.Info().Bool("fetching", fetching).Msg("Fetch activity changed.")
	})
	a.cleanup = append(a.cleanup, func() error { unwatch(); return nil })

	a.provider = sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(a.provider)
	// The demo's keys come from config, so per-key series stay bounded.
	metrics, err := fetchevents.NewMetrics(otel.GetMeterProvider(), fetchevents.WithQueryKeyAttribute())
	if err != nil {
		return fmt.Errorf("failed to create fetch metrics: %w", err)
	}
	detach := metrics.Attach(bus)
	a.cleanup = append(a.cleanup, func() error { detach(); return nil })

	a.focus = querysignal.NewFocus(logger)
	a.ticker = querysignal.NewTicker(logger)
	a.opts = binding.Options{Focus: a.focus, Interval: a.ticker}
	if cfg.Dedupe {
		a.opts.Dedupe = &singleflight.Group{}
	}

	if err := a.buildDefinitions(ctx, cfg, logger); err != nil {
		return err
	}

	if cfg.Pubsub.TopicID != "" {
		if err := a.attachPubsubSink(ctx, cfg, logger); err != nil {
			return err
		}
	}

	a.server = microservice.NewQueryServer(cfg.HTTPPort, a.client, a.aggregator, a.focus, logger)
	return nil
}

func (a *app) buildDefinitions(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	httpSource, err := sources.NewHTTPSource(&cfg.HTTP, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create http source: %w", err)
	}
	for _, q := range cfg.Queries {
		a.addDefinition(q.Definition(httpSource.JSON(q.Path)))
	}

	if cfg.Firestore.CollectionName != "" && cfg.FirestoreDoc != "" {
		projectID := cfg.Firestore.ProjectID
		if projectID == "" {
			projectID = cfg.ProjectID
		}
		fsClient, err := firestore.NewClient(ctx, projectID, clientOptions(cfg.CredentialsFile, logger)...)
		if err != nil {
			return fmt.Errorf("firestore.NewClient: %w", err)
		}
		a.cleanup = append(a.cleanup, fsClient.Close)

		fsSource, err := sources.NewFirestoreSource[map[string]any](&cfg.Firestore, fsClient, logger)
		if err != nil {
			return err
		}
		a.addDefinition(querycache.Definition{
			Key:            "firestore:" + cfg.FirestoreDoc,
			Fetch:          fsSource.Document(cfg.FirestoreDoc),
			RefetchOnFocus: true,
		})
	}

	if cfg.Redis.Addr != "" && cfg.RedisKey != "" {
		redisSource, err := sources.NewRedisSource[any](ctx, &cfg.Redis, logger)
		if err != nil {
			return err
		}
		a.cleanup = append(a.cleanup, redisSource.Close)
		a.addDefinition(querycache.Definition{
			Key:   "redis:" + cfg.RedisKey,
			Fetch: redisSource.Key(cfg.RedisKey),
		})
	}
	return nil
}

// addDefinition attaches logging callbacks and queues def for mounting.
func (a *app) addDefinition(def querycache.Definition) {
	key := def.Key
	def.OnSuccess = func(any) {
		a.logger.Info().Str("query_key", key).Msg("Query refreshed.")
	}
	def.OnError = func(err error) {
		a.logger.Warn().Err(err).Str("query_key", key).Msg("Query fetch failed.")
	}
	a.definitions = append(a.definitions, def)
}

func (a *app) attachPubsubSink(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOptions(cfg.CredentialsFile, logger)...)
	if err != nil {
		return fmt.Errorf("pubsub.NewClient: %w", err)
	}
	a.cleanup = append(a.cleanup, psClient.Close)

	sink, err := eventsink.NewPubsubSink(ctx, &cfg.Pubsub, psClient, logger)
	if err != nil {
		return err
	}
	a.sink = sink
	detach := sink.Attach(a.client.Events())
	a.cleanup = append(a.cleanup, func() error { detach(); return nil })
	return nil
}

// clientOptions uses Application Default Credentials unless a credentials
// file is given.
func clientOptions(credentialsFile string, logger zerolog.Logger) []option.ClientOption {
	if credentialsFile == "" {
		logger.Info().Msg("Using Application Default Credentials (ADC) for Google Cloud clients.")
		return nil
	}
	logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for Google Cloud clients.")
	return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
}

// Start serves HTTP and mounts one binding per definition.
func (a *app) Start(ctx context.Context) error {
	if err := a.server.Start(); err != nil {
		return err
	}
	for _, def := range a.definitions {
		b, err := binding.Mount(ctx, a.client, def, a.opts, a.root)
		if err != nil {
			return fmt.Errorf("failed to mount query %q: %w", def.Key, err)
		}
		a.bindings = append(a.bindings, b)
	}
	a.logger.Info().Int("queries", len(a.bindings)).Str("port", a.server.Port()).Msg("Query demo started.")
	return nil
}

// Shutdown unmounts bindings, waits for their fetches, stops the server and
// flushes the sinks. It returns every error encountered.
func (a *app) Shutdown(ctx context.Context) error {
	var errs []error
	for _, b := range a.bindings {
		errs = append(errs, b.Close())
	}
	for _, b := range a.bindings {
		b.Wait()
	}
	a.ticker.Wait()

	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.sink != nil {
		errs = append(errs, a.sink.Stop(ctx))
	}
	if a.provider != nil {
		errs = append(errs, a.provider.Shutdown(ctx))
	}
	errs = append(errs, a.runCleanup())
	return errors.Join(errs...)
}

func (a *app) runCleanup() error {
	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		errs = append(errs, a.cleanup[i]())
	}
	a.cleanup = nil
	return errors.Join(errs...)
}
