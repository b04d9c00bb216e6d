package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/minutes/internal/http"

const streamRoute = "/api/v1/tasks/stream"

// HTTPMetrics records API traffic. Streamed extraction is kept out of the
// request latency histogram and gets its own, since those connections stay
// open for the whole model reply.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	streamDur      metric.Float64Histogram
	uploadSize     metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates a new HTTPMetrics instance.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"minutes.http.requests_total",
		metric.WithDescription("API requests labeled by resource, route, method and status class"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"minutes.http.request_duration_seconds",
		metric.WithDescription("Latency of non-streaming API requests"),
		metric.WithUnit("s"),
		// Upper buckets cover a blocking /tasks call waiting on the model.
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 10, 30, 120),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.streamDur, err = m.meter.Float64Histogram(
		"minutes.http.stream_duration_seconds",
		metric.WithDescription("Lifetime of streamed extraction connections"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600),
	)
	if err != nil {
		m.logger.Warn("failed to create stream duration histogram", zap.Error(err))
	}

	m.uploadSize, err = m.meter.Int64Histogram(
		"minutes.http.upload_size_bytes",
		metric.WithDescription("Size of uploaded meeting notes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 4<<10, 16<<10, 64<<10, 256<<10, 1<<20, 4<<20),
	)
	if err != nil {
		m.logger.Warn("failed to create upload size histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"minutes.http.active_requests",
		metric.WithDescription("In-flight API requests by resource"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()
			route := c.Path()
			resource := attribute.String("resource", resourceOf(route))

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1, metric.WithAttributes(resource))
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				resource,
				attribute.String("route", route),
				attribute.String("method", req.Method),
				attribute.String("status_class", statusClass(status)),
			)

			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}

			elapsed := time.Since(start).Seconds()
			if route == streamRoute {
				if m.streamDur != nil {
					m.streamDur.Record(ctx, elapsed, attrs)
				}
			} else if m.requestDur != nil {
				m.requestDur.Record(ctx, elapsed, attrs)
			}

			if req.Method == echo.POST && route == "/api/v1/corpora" && req.ContentLength > 0 && m.uploadSize != nil {
				m.uploadSize.Record(ctx, req.ContentLength, attrs)
			}

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1, metric.WithAttributes(resource))
			}

			return err
		}
	}
}

// resourceOf names the API resource a matched route belongs to. Unmatched
// requests have an empty route.
func resourceOf(route string) string {
	rest, ok := strings.CutPrefix(route, "/api/v1/")
	if !ok {
		switch route {
		case "/health", "/metrics":
			return "ops"
		}
		return "unmatched"
	}
	name, _, _ := strings.Cut(rest, "/")
	switch name {
	case "corpora", "search", "tasks", "issues":
		return name
	}
	return "unmatched"
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}
