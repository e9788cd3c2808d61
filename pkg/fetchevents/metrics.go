package fetchevents

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/illmade-knight/go-querycache/pkg/fetchevents"

// Metrics records fetch events as OpenTelemetry instruments.
type Metrics struct {
	started      metric.Int64Counter
	ended        metric.Int64Counter
	inFlight     metric.Int64UpDownCounter
	withQueryKey bool
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*Metrics)

// WithQueryKeyAttribute adds a query_key attribute to every data point. Only
// enable it when the set of query keys is small and fixed: each key becomes
// its own time series.
func WithQueryKeyAttribute() MetricsOption {
	return func(m *Metrics) { m.withQueryKey = true }
}

// NewMetrics creates the fetch instruments on the given provider. Data points
// carry no query key unless WithQueryKeyAttribute is given.
func NewMetrics(provider metric.MeterProvider, opts ...MetricsOption) (*Metrics, error) {
	if provider == nil {
		return nil, fmt.Errorf("meter provider cannot be nil")
	}
	m := &Metrics{}
	for _, opt := range opts {
		opt(m)
	}
	meter := provider.Meter(instrumentationName)

	started, err := meter.Int64Counter(
		"querycache.fetch.started",
		metric.WithDescription("Number of fetches started by bindings"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create started counter: %w", err)
	}

	ended, err := meter.Int64Counter(
		"querycache.fetch.ended",
		metric.WithDescription("Number of fetches settled, by outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ended counter: %w", err)
	}

	inFlight, err := meter.Int64UpDownCounter(
		"querycache.fetch.in_flight",
		metric.WithDescription("Number of fetches currently in flight"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-flight counter: %w", err)
	}

	m.started, m.ended, m.inFlight = started, ended, inFlight
	return m, nil
}

// Attach subscribes the instruments to bus.
func (m *Metrics) Attach(bus *Bus) (unsubscribe func()) {
	return bus.Subscribe(m.record)
}

func (m *Metrics) record(ev Event) {
	ctx := context.Background()
	var attrs []attribute.KeyValue
	if m.withQueryKey {
		attrs = append(attrs, attribute.String("query_key", ev.QueryKey))
	}

	switch ev.Kind {
	case FetchStarted:
		m.started.Add(ctx, 1, metric.WithAttributes(attrs...))
		m.inFlight.Add(ctx, 1, metric.WithAttributes(attrs...))
	case FetchEnded:
		outcome := "success"
		if ev.Err != nil {
			outcome = "error"
		}
		m.ended.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("outcome", outcome))...))
		m.inFlight.Add(ctx, -1, metric.WithAttributes(attrs...))
	}
}
