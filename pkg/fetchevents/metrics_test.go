package fetchevents_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-querycache/pkg/fetchevents"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// sumFor totals the int64 sum data points of the named metric that carry attr.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s should be an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestMetrics_RecordsFetchEventsPerKey(t *testing.T) {
	// Arrange
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	bus := fetchevents.NewBus(zerolog.Nop())
	m, err := fetchevents.NewMetrics(provider, fetchevents.WithQueryKeyAttribute())
	require.NoError(t, err)
	unsubscribe := m.Attach(bus)
	t.Cleanup(unsubscribe)

	// Act
	bus.Publish(fetchevents.Started("users"))
	bus.Publish(fetchevents.Started("users"))
	bus.Publish(fetchevents.Ended("users", nil))
	bus.Publish(fetchevents.Started("posts"))
	bus.Publish(fetchevents.Ended("posts", errors.New("down")))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	// Assert
	users := attribute.String("query_key", "users")
	posts := attribute.String("query_key", "posts")
	assert.Equal(t, int64(2), sumFor(t, rm, "querycache.fetch.started", users))
	assert.Equal(t, int64(1), sumFor(t, rm, "querycache.fetch.started", posts))
	assert.Equal(t, int64(1), sumFor(t, rm, "querycache.fetch.in_flight", users))
	assert.Equal(t, int64(0), sumFor(t, rm, "querycache.fetch.in_flight", posts))
	assert.Equal(t, int64(1), sumFor(t, rm, "querycache.fetch.ended", attribute.String("outcome", "error")))
	assert.Equal(t, int64(1), sumFor(t, rm, "querycache.fetch.ended", attribute.String("outcome", "success")))
}

func TestMetrics_OmitsQueryKeyByDefault(t *testing.T) {
	// Arrange
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	bus := fetchevents.NewBus(zerolog.Nop())
	m, err := fetchevents.NewMetrics(provider)
	require.NoError(t, err)
	t.Cleanup(m.Attach(bus))

	// Act
	bus.Publish(fetchevents.Started("users"))
	bus.Publish(fetchevents.Started("posts"))
	bus.Publish(fetchevents.Ended("posts", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	// Assert
	var startedPoints int
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				_, hasKey := dp.Attributes.Value("query_key")
				assert.False(t, hasKey, "metric %s carries a query key", metric.Name)
				switch metric.Name {
				case "querycache.fetch.started":
					startedPoints++
					assert.Equal(t, int64(2), dp.Value)
				case "querycache.fetch.in_flight":
					assert.Equal(t, int64(1), dp.Value)
				}
			}
		}
	}
	assert.Equal(t, 1, startedPoints, "all keys share one series")
	assert.Equal(t, int64(1), sumFor(t, rm, "querycache.fetch.ended", attribute.String("outcome", "success")))
}

func TestNewMetrics_NilProvider(t *testing.T) {
	_, err := fetchevents.NewMetrics(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meter provider cannot be nil")
}
