// Package telemetry exposes orchestrator counters as Prometheus metrics through
// an OpenTelemetry meter.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	prometheus2 "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	metric2 "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// DefaultEndpoint is where the daemon serves metrics
const DefaultEndpoint = "/metrics"

// Metrics holds the update orchestrator instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ctx      context.Context
	provider *metric.MeterProvider
	registry *prometheus2.Registry

	checks           metric2.Int64Counter
	channelChecks    metric2.Int64Counter
	discoveries      metric2.Int64Counter
	downloads        metric2.Int64Counter
	downloadDuration metric2.Int64Histogram
	installs         metric2.Int64Counter
}

// New creates the meter provider backed by a dedicated Prometheus registry
func New(ctx context.Context) (*Metrics, error) {
	registry := prometheus2.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	meter := provider.Meter(reflect.TypeOf(Metrics{}).PkgPath())

	checks, err := meter.Int64Counter("updater.checks",
		metric2.WithDescription("update checks started, by trigger source"))
	if err != nil {
		return nil, err
	}

	channelChecks, err := meter.Int64Counter("updater.channel.checks",
		metric2.WithDescription("single channel checks performed during a cascade"))
	if err != nil {
		return nil, err
	}

	discoveries, err := meter.Int64Counter("updater.discoveries",
		metric2.WithDescription("updates discovered, by origin channel"))
	if err != nil {
		return nil, err
	}

	downloads, err := meter.Int64Counter("updater.downloads",
		metric2.WithDescription("finished downloads, by result"))
	if err != nil {
		return nil, err
	}

	downloadDuration, err := meter.Int64Histogram("updater.download.duration.ms",
		metric2.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	installs, err := meter.Int64Counter("updater.installs",
		metric2.WithDescription("installs started, by trigger"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ctx:              ctx,
		provider:         provider,
		registry:         registry,
		checks:           checks,
		channelChecks:    channelChecks,
		discoveries:      discoveries,
		downloads:        downloads,
		downloadDuration: downloadDuration,
		installs:         installs,
	}, nil
}

// Handler serves the collected metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Close flushes and stops the meter provider
func (m *Metrics) Close() error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(context.Background())
}

// CountCheck counts a cascade started from source
func (m *Metrics) CountCheck(source string) {
	if m == nil {
		return
	}
	m.checks.Add(m.ctx, 1, metric2.WithAttributes(attribute.String("source", source)))
}

// CountChannelCheck counts a single channel check; result is found, not_found or error
func (m *Metrics) CountChannelCheck(channel, result string) {
	if m == nil {
		return
	}
	opts := metric2.WithAttributeSet(attribute.NewSet(
		attribute.String("channel", channel),
		attribute.String("result", result),
	))
	m.channelChecks.Add(m.ctx, 1, opts)
}

// CountDiscovery counts an update discovered on channel
func (m *Metrics) CountDiscovery(channel string) {
	if m == nil {
		return
	}
	m.discoveries.Add(m.ctx, 1, metric2.WithAttributes(attribute.String("channel", channel)))
}

// CountDownload counts a finished download and records how long it took
func (m *Metrics) CountDownload(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	opts := metric2.WithAttributes(attribute.String("result", result))
	m.downloads.Add(m.ctx, 1, opts)
	m.downloadDuration.Record(m.ctx, duration.Milliseconds(), opts)
}

// CountInstall counts an install started by trigger (user, countdown or quit)
func (m *Metrics) CountInstall(trigger string) {
	if m == nil {
		return
	}
	m.installs.Add(m.ctx, 1, metric2.WithAttributes(attribute.String("trigger", trigger)))
}
