// Package telemetry provides OpenTelemetry metrics for the claim workflow.
//
// Telemetry is disabled by default. When disabled, Init installs a no-op
// meter provider; when enabled, metrics are exported to stdout periodically.
package telemetry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "realtyclaims"

// Options configures Init.
type Options struct {
	Enabled        bool
	ServiceName    string
	Version        string
	ExportInterval time.Duration
}

// Init installs the global meter provider and returns its shutdown function.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if !opts.Enabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.Version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "telemetry: resource")
	}

	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, eris.Wrap(err, "telemetry: stdout exporter")
	}

	interval := opts.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// Meter returns the service meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}

// Metrics holds the claim workflow counters.
type Metrics struct {
	submitted     metric.Int64Counter
	verified      metric.Int64Counter
	promoted      metric.Int64Counter
	conflicts     metric.Int64Counter
	adminActions  metric.Int64Counter
	redeemFailed  metric.Int64Counter
	mailDelivered metric.Int64Counter
}

// NewMetrics registers the workflow counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.submitted, "claims.submitted", "Claim requests accepted, by verification mode"},
		{&m.verified, "claims.emails_verified", "Claim email flags flipped, by party"},
		{&m.promoted, "claims.promoted", "Claim requests promoted to approved, by path"},
		{&m.conflicts, "claims.promotion_conflicts", "Convergence attempts that performed no promotion, by reason"},
		{&m.adminActions, "claims.admin_actions", "Admin moderation actions, by action"},
		{&m.redeemFailed, "verification.redeem_failures", "Unusable action codes, by reason"},
		{&m.mailDelivered, "mail.delivered", "Outbound messages, by outcome"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, eris.Wrapf(err, "telemetry: counter %s", c.name)
		}
	}
	return &m, nil
}

// Default registers the counters on the global meter, falling back to a
// no-op meter if registration fails.
func Default() *Metrics {
	m, err := NewMetrics(Meter())
	if err != nil {
		m, _ = NewMetrics(metricnoop.NewMeterProvider().Meter(instrumentationScope))
	}
	return m
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, key, value string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String(key, value)))
}

func (m *Metrics) ClaimSubmitted(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.add(ctx, m.submitted, "mode", mode)
}

func (m *Metrics) EmailVerified(ctx context.Context, party string) {
	if m == nil {
		return
	}
	m.add(ctx, m.verified, "party", party)
}

func (m *Metrics) ClaimPromoted(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.add(ctx, m.promoted, "path", path)
}

func (m *Metrics) PromotionSkipped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.conflicts, "reason", reason)
}

func (m *Metrics) AdminAction(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.add(ctx, m.adminActions, "action", action)
}

func (m *Metrics) RedeemFailed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.redeemFailed, "reason", reason)
}

func (m *Metrics) MailDelivered(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.add(ctx, m.mailDelivered, "outcome", outcome)
}
