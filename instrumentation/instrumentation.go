package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "mcp-authserver"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// scopePrefix prefixes every meter and tracer name
	scopePrefix = "github.com/giantswarm/mcp-authserver/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (e.g., "mcp-authserver")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active
	// When false, uses no-op providers (zero overhead)
	Enabled bool

	// PrometheusEnabled exports metrics through a Prometheus registry served
	// by MetricsHandler. Ignored unless Enabled is set.
	PrometheusEnabled bool

	// OTLPEndpoint is a host:port for an OTLP/HTTP trace collector.
	// Empty disables trace export.
	OTLPEndpoint string

	// OTLPInsecure sends traces over plain HTTP
	OTLPInsecure bool

	// LogClientIPs controls whether client IP addresses are included in traces.
	// Client IP addresses may be considered personal data under GDPR and
	// similar regulations.
	LogClientIPs bool

	// Resource allows custom resource attributes
	// If nil, default resource is created with service name and version
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	// registry is non-nil when the Prometheus exporter is active
	registry *prometheus.Registry

	metrics *Metrics

	// Shutdown functions (registered during New() only)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(ctx context.Context, config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			ctx,
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(ctx); err != nil {
			_ = inst.Shutdown(ctx)
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		_ = inst.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders wires the configured exporters. Signals without an
// exporter fall back to no-op providers.
func (i *Instrumentation) initializeProviders(ctx context.Context) error {
	if i.config.PrometheusEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(i.resource),
			sdkmetric.WithReader(exporter),
		)
		i.registry = registry
		i.meterProvider = mp
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
	} else {
		i.meterProvider = noop.NewMeterProvider()
	}

	if i.config.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(i.config.OTLPEndpoint)}
		if i.config.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(i.resource),
			sdktrace.WithBatcher(exporter),
		)
		i.tracerProvider = tp
		i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
	} else {
		i.tracerProvider = tracenoop.NewTracerProvider()
	}

	return nil
}

// Shutdown flushes and stops all instrumentation providers.
// Safe to call more than once; only the first call has an effect.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			shutdownErr = errors.Join(shutdownErr, fn(ctx))
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope
// Scopes are layer names like "http", "server", "storage", "security"
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// MetricsHandler serves the Prometheus exposition format. It returns nil when
// the Prometheus exporter is not enabled.
func (i *Instrumentation) MetricsHandler() http.Handler {
	if i.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// ShouldLogClientIPs returns whether client IP addresses should be recorded
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks registers gauges reporting the number of
// registered clients and live authorization codes. Stores call this from
// SetInstrumentation.
func (i *Instrumentation) RegisterStorageSizeCallbacks(clientsCount, codesCount StorageSizeCallback) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	meter := i.Meter("storage")

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if clientsCount != nil {
				observer.ObserveInt64(i.metrics.StorageSizeClients, clientsCount())
			}
			if codesCount != nil {
				observer.ObserveInt64(i.metrics.StorageSizeCodes, codesCount())
			}
			return nil
		},
		i.metrics.StorageSizeClients,
		i.metrics.StorageSizeCodes,
	)

	return err
}
