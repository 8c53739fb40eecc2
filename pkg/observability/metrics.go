// Package observability exposes the proxy's metrics: an OpenTelemetry
// meter backed by the Prometheus exporter, served through promhttp.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/saffronlabs/saffron"

// PoolCounts feeds the account and session gauges.
type PoolCounts struct {
	ValidAccounts       int64
	RateLimitedAccounts int64
	InvalidAccounts     int64
	ActiveSessions      int64
}

// Metrics is the proxy's instrument set. A disabled Metrics is a cheap
// no-op on every method.
type Metrics struct {
	enabled  bool
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	requests  metric.Int64Counter
	errors    metric.Int64Counter
	toolCalls metric.Int64Counter
	duration  metric.Float64Histogram
}

// New builds the meter provider and instruments. When disabled, no
// exporter is created and every record call is a no-op.
func New(enabled bool) (*Metrics, error) {
	m := &Metrics{enabled: enabled}
	if !enabled {
		return m, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	m.provider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	m.handler = promhttp.Handler()

	meter := m.provider.Meter(meterName)

	if m.requests, err = meter.Int64Counter("saffron_requests_total",
		metric.WithDescription("Messages API requests received")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("saffron_request_errors_total",
		metric.WithDescription("Messages API requests that failed")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("saffron_tool_calls_total",
		metric.WithDescription("Client tool calls intercepted")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("saffron_request_duration_seconds",
		metric.WithDescription("Messages API request duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// Handler returns the /metrics handler, nil when disabled.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordRequest counts one inbound request.
func (m *Metrics) RecordRequest(ctx context.Context, model string) {
	if !m.enabled {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

// RecordError counts one failed request by error kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if !m.enabled {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordToolCall counts one intercepted client tool call.
func (m *Metrics) RecordToolCall(ctx context.Context) {
	if !m.enabled {
		return
	}
	m.toolCalls.Add(ctx, 1)
}

// RecordDuration records one request's wall time.
func (m *Metrics) RecordDuration(ctx context.Context, seconds float64, model string) {
	if !m.enabled {
		return
	}
	m.duration.Record(ctx, seconds, metric.WithAttributes(attribute.String("model", model)))
}

// RegisterPoolGauges wires observable gauges for account and session
// counts; counts is sampled at collection time.
func (m *Metrics) RegisterPoolGauges(counts func() PoolCounts) error {
	if !m.enabled {
		return nil
	}

	meter := m.provider.Meter(meterName)

	valid, err := meter.Int64ObservableGauge("saffron_accounts_valid")
	if err != nil {
		return err
	}
	rateLimited, err := meter.Int64ObservableGauge("saffron_accounts_rate_limited")
	if err != nil {
		return err
	}
	invalid, err := meter.Int64ObservableGauge("saffron_accounts_invalid")
	if err != nil {
		return err
	}
	sessions, err := meter.Int64ObservableGauge("saffron_sessions_active")
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		c := counts()
		o.ObserveInt64(valid, c.ValidAccounts)
		o.ObserveInt64(rateLimited, c.RateLimitedAccounts)
		o.ObserveInt64(invalid, c.InvalidAccounts)
		o.ObserveInt64(sessions, c.ActiveSessions)
		return nil
	}, valid, rateLimited, invalid, sessions)
	return err
}
