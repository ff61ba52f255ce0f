package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/q-controller/imgrelay"

const (
	ArtifactsRegistered = "artifacts_registered_total"
	ArtifactsServed     = "artifacts_served_total"
	ArtifactsRemoved    = "artifacts_removed_total"
	ArtifactsNotFound   = "artifacts_not_found_total"
	PipelineRuns        = "pipeline_runs_total"
	JanitorDeleted      = "janitor_files_deleted_total"
	JanitorFailures     = "janitor_delete_failures_total"
	HTTPRequests        = "http_requests_total"
)

// Registry owns an OpenTelemetry meter provider with two readers: a
// Prometheus exporter behind /metrics and a manual reader that Value
// collects from. A nil *Registry is valid and records nothing.
type Registry struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
	gatherer prometheus.Gatherer
	meter    metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
}

func NewRegistry() *Registry {
	promRegistry := prometheus.NewRegistry()
	reader := sdkmetric.NewManualReader()
	options := []sdkmetric.Option{sdkmetric.WithReader(reader)}

	exporter, exporterErr := otelprom.New(
		otelprom.WithRegisterer(promRegistry),
		otelprom.WithoutScopeInfo(),
		otelprom.WithoutTargetInfo(),
	)
	if exporterErr != nil {
		slog.Warn("Prometheus exporter disabled", "error", exporterErr)
	} else {
		options = append(options, sdkmetric.WithReader(exporter))
	}

	provider := sdkmetric.NewMeterProvider(options...)
	return &Registry{
		provider: provider,
		reader:   reader,
		gatherer: promRegistry,
		meter:    provider.Meter(meterName),
		counters: make(map[string]metric.Int64Counter),
	}
}

// Install makes the registry's provider the global OpenTelemetry meter
// provider, so instruments created through otel.Meter land here too.
func (r *Registry) Install() {
	if r == nil {
		return
	}
	otel.SetMeterProvider(r.provider)
}

// Shutdown flushes and stops the meter provider.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := r.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down meter provider: %w", err)
	}
	return nil
}

func (r *Registry) counter(name string) metric.Int64Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.counters[name]; c != nil {
		return c
	}
	c, err := r.meter.Int64Counter(name)
	if err != nil {
		slog.Debug("Failed to create counter", "name", name, "error", err)
		return nil
	}
	r.counters[name] = c
	return c
}

func (r *Registry) Inc(ctx context.Context, name string, labels map[string]string) {
	r.Add(ctx, name, labels, 1)
}

func (r *Registry) Add(ctx context.Context, name string, labels map[string]string, n int64) {
	if r == nil {
		return
	}
	c := r.counter(name)
	if c == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Value collects from the manual reader and returns the counter value
// whose attributes are exactly labels. Instruments from any meter of the
// provider are visible.
func (r *Registry) Value(name string, labels map[string]string) int64 {
	if r == nil {
		return 0
	}
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		slog.Debug("Failed to collect metrics", "error", err)
		return 0
	}

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if sameLabels(dp.Attributes, labels) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func sameLabels(set attribute.Set, labels map[string]string) bool {
	if set.Len() != len(labels) {
		return false
	}
	for k, v := range labels {
		got, ok := set.Value(attribute.Key(k))
		if !ok || got.AsString() != v {
			return false
		}
	}
	return true
}

// Get serves the Prometheus text exposition of every instrument.
func (r *Registry) Get(w http.ResponseWriter, req *http.Request, pathParams map[string]string) {
	if r == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, req)
}

// StatusClass buckets an HTTP status code for use as a label.
func StatusClass(code int) string {
	switch {
	case code >= 100 && code < 600:
		return fmt.Sprintf("%dxx", code/100)
	default:
		return "0"
	}
}
