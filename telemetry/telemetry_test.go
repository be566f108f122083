package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Sum[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func TestMetrics_CountersCarryAttributes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.ClaimSubmitted(ctx, "domain")
	m.ClaimSubmitted(ctx, "domain")
	m.ClaimPromoted(ctx, "automatic")
	m.PromotionSkipped(ctx, "lost_race")

	sums := collect(t, reader)

	submitted, ok := sums["claims.submitted"]
	require.True(t, ok)
	require.Len(t, submitted.DataPoints, 1)
	assert.Equal(t, int64(2), submitted.DataPoints[0].Value)
	mode, _ := submitted.DataPoints[0].Attributes.Value(attribute.Key("mode"))
	assert.Equal(t, "domain", mode.AsString())

	assert.Equal(t, int64(1), sums["claims.promoted"].DataPoints[0].Value)
	assert.Equal(t, int64(1), sums["claims.promotion_conflicts"].DataPoints[0].Value)
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ClaimSubmitted(context.Background(), "manual")
		m.RedeemFailed(context.Background(), "expired")
	})
}

func TestInit_DisabledInstallsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Default())
}
