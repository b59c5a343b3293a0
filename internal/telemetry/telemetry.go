// Package telemetry wires OpenTelemetry metrics and tracing for the service
// and exposes them through a Prometheus endpoint.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics for the REST surface
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Runtime health
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	uptime         metric.Float64Gauge

	// Business metrics
	sessionsTotal    metric.Int64Counter
	sessionsActive   metric.Int64UpDownCounter
	sessionDuration  metric.Float64Histogram
	filesTotal       metric.Int64Counter
	fileResetsTotal  metric.Int64Counter
	chunksTotal      metric.Int64Counter
	bytesDownloaded  metric.Int64Counter
	resolutionsTotal metric.Int64Counter

	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance. A disabled config yields a no-op
// instance whose record methods are safe to call.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectRuntimeMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest records RED metrics for one handled request.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordSession records the outcome and duration of one download session.
func (t *Telemetry) RecordSession(status string, duration time.Duration) {
	if t.sessionsTotal != nil {
		t.sessionsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}

	if t.sessionDuration != nil {
		t.sessionDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// IncrementActiveSessions increments the active session counter.
func (t *Telemetry) IncrementActiveSessions() {
	if t.sessionsActive != nil {
		t.sessionsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveSessions decrements the active session counter.
func (t *Telemetry) DecrementActiveSessions() {
	if t.sessionsActive != nil {
		t.sessionsActive.Add(context.Background(), -1)
	}
}

// RecordFile records the outcome of one file download.
func (t *Telemetry) RecordFile(status string) {
	if t.filesTotal != nil {
		t.filesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordFileReset counts files restarted from zero after a refused range
// request.
func (t *Telemetry) RecordFileReset() {
	if t.fileResetsTotal != nil {
		t.fileResetsTotal.Add(context.Background(), 1)
	}
}

// RecordChunk records one durably stored chunk and its size.
func (t *Telemetry) RecordChunk(size int) {
	if t.chunksTotal != nil {
		t.chunksTotal.Add(context.Background(), 1)
	}

	if t.bytesDownloaded != nil {
		t.bytesDownloaded.Add(context.Background(), int64(size))
	}
}

// RecordResolution records the outcome of a manifest resolution.
func (t *Telemetry) RecordResolution(status string) {
	if t.resolutionsTotal != nil {
		t.resolutionsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordDBOperation records storage operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeBusinessMetrics(); err != nil {
		return err
	}

	return t.initializeRuntimeMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.sessionsTotal, err = t.meter.Int64Counter(
		"download_sessions_total",
		metric.WithDescription("Total number of download sessions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_sessions_total counter: %w", err)
	}

	t.sessionsActive, err = t.meter.Int64UpDownCounter(
		"download_sessions_active",
		metric.WithDescription("Number of active download sessions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_sessions_active counter: %w", err)
	}

	t.sessionDuration, err = t.meter.Float64Histogram(
		"download_session_duration_seconds",
		metric.WithDescription("Download session duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_session_duration histogram: %w", err)
	}

	t.filesTotal, err = t.meter.Int64Counter(
		"download_files_total",
		metric.WithDescription("Total number of file downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_files_total counter: %w", err)
	}

	t.fileResetsTotal, err = t.meter.Int64Counter(
		"download_file_resets_total",
		metric.WithDescription("Files restarted from zero after a refused range request"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_file_resets_total counter: %w", err)
	}

	t.chunksTotal, err = t.meter.Int64Counter(
		"download_chunks_total",
		metric.WithDescription("Total number of durably stored chunks"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_chunks_total counter: %w", err)
	}

	t.bytesDownloaded, err = t.meter.Int64Counter(
		"download_bytes_total",
		metric.WithDescription("Total number of bytes durably stored"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_bytes_total counter: %w", err)
	}

	t.resolutionsTotal, err = t.meter.Int64Counter(
		"manifest_resolutions_total",
		metric.WithDescription("Total number of manifest resolutions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create manifest_resolutions_total counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Storage operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeRuntimeMetrics() error {
	var err error

	t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory_usage gauge: %w", err)
	}

	t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutine_count",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create goroutine_count gauge: %w", err)
	}

	t.uptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("Service uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

func (t *Telemetry) collectRuntimeMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateRuntimeMetrics(startTime)
		}
	}
}

func (t *Telemetry) updateRuntimeMetrics(startTime time.Time) {
	var m runtime.MemStats

	runtime.ReadMemStats(&m)

	if t.memoryUsage != nil {
		t.memoryUsage.Record(context.Background(), int64(m.Alloc))
	}

	if t.goroutineCount != nil {
		t.goroutineCount.Record(context.Background(), int64(runtime.NumGoroutine()))
	}

	if t.uptime != nil {
		t.uptime.Record(context.Background(), time.Since(startTime).Seconds())
	}
}
