// Package telemetry configures OpenTelemetry tracing and metrics export.
//
// When disabled the global no-op providers stay in place, so instrumented
// packages can call otel.Tracer unconditionally.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string // grpc | http/protobuf
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	SampleRate     float64
	ExportInterval time.Duration
}

// NewDefaultConfig returns local-development defaults. Telemetry is off by default.
func NewDefaultConfig() Config {
	return Config{
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		Insecure:       true,
		ServiceName:    "minutes",
		ServiceVersion: "dev",
		SampleRate:     1.0,
		ExportInterval: 15 * time.Second,
	}
}

// Validate checks configuration for errors.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return errors.New("service name is required when telemetry is enabled")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.ExportInterval <= 0 {
		return errors.New("export interval must be positive")
	}
	return nil
}

// Telemetry owns the SDK providers for the process lifetime.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logger         *zap.Logger
}

// New installs global tracer and meter providers when enabled.
// Exporter construction failures degrade to no-op telemetry rather than failing startup.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{logger: logger}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		logger.Warn("tracer provider unavailable, tracing disabled", zap.Error(err))
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		logger.Warn("meter provider unavailable, otel metrics disabled", zap.Error(err))
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return t, nil
}

// Tracer returns a tracer from the installed provider, or the global one.
func (t *Telemetry) Tracer(name string) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.Tracer(name)
	}
	return t.tracerProvider.Tracer(name)
}

// Enabled reports whether an SDK tracer provider is installed.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.tracerProvider != nil
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
