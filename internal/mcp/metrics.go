package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
	"github.com/fyrsmithlabs/minutes/internal/tracker"
)

const instrumentationName = "github.com/fyrsmithlabs/minutes/internal/mcp"

// Metrics records tool invocations and what the tools produced: tasks per
// extraction mode and publish outcomes per item status.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
	tasksExtracted metric.Int64Counter
	publishItems   metric.Int64Counter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.invocations, err = m.meter.Int64Counter(
		"minutes.mcp.tool.invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"minutes.mcp.tool.duration_seconds",
		metric.WithDescription("Duration of MCP tool invocations"),
		metric.WithUnit("s"),
		// search_passages lands in the low buckets, extract_tasks in the high ones.
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60, 120, 300),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"minutes.mcp.tool.errors_total",
		metric.WithDescription("Total number of MCP tool errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"minutes.mcp.tool.active_requests",
		metric.WithDescription("Number of currently active MCP tool requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}

	m.tasksExtracted, err = m.meter.Int64Counter(
		"minutes.mcp.extract.tasks_total",
		metric.WithDescription("Tasks returned by extract_tasks, labeled by extraction mode"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		m.logger.Warn("failed to create tasks counter", zap.Error(err))
	}

	m.publishItems, err = m.meter.Int64Counter(
		"minutes.mcp.publish.items_total",
		metric.WithDescription("publish_issues outcomes, labeled by item status and dry run"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		m.logger.Warn("failed to create publish items counter", zap.Error(err))
	}
}

// RecordInvocation records a tool invocation metric.
func (m *Metrics) RecordInvocation(ctx context.Context, toolName string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("tool", toolName),
	}

	if m.invocations != nil {
		m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}

	if err != nil && m.errors != nil {
		errorAttrs := append(attrs, attribute.String("reason", categorizeError(err)))
		m.errors.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
	}
}

// RecordExtraction counts the tasks one extraction produced. A run that
// found nothing is still recorded so the mode shows up with a zero.
func (m *Metrics) RecordExtraction(ctx context.Context, mode string, tasks int) {
	if m.tasksExtracted != nil {
		m.tasksExtracted.Add(ctx, int64(tasks), metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// RecordPublish counts report items by status.
func (m *Metrics) RecordPublish(ctx context.Context, report publisher.Report, dryRun bool) {
	if m.publishItems == nil {
		return
	}
	counts := map[string]int64{}
	for _, it := range report.Items {
		counts[it.Status]++
	}
	for status, n := range counts {
		m.publishItems.Add(ctx, n, metric.WithAttributes(
			attribute.String("status", status),
			attribute.Bool("dry_run", dryRun),
		))
	}
}

// IncrementActive increments the active requests counter.
func (m *Metrics) IncrementActive(ctx context.Context, toolName string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", toolName),
		))
	}
}

// DecrementActive decrements the active requests counter.
func (m *Metrics) DecrementActive(ctx context.Context, toolName string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, -1, metric.WithAttributes(
			attribute.String("tool", toolName),
		))
	}
}

// categorizeError categorizes an error into a reason string.
func categorizeError(err error) string {
	if err == nil {
		return ""
	}

	var te *tracker.TransportError
	switch {
	case errors.Is(err, corpus.ErrValidation),
		errors.Is(err, extraction.ErrValidation),
		errors.Is(err, publisher.ErrValidation):
		return "validation_error"
	case errors.Is(err, tracker.ErrNotConfigured):
		return "not_configured"
	case errors.As(err, &te):
		return "tracker_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "invalid"):
		return "validation_error"
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "vectorstore") || strings.Contains(errStr, "embedding") || strings.Contains(errStr, "sqlite"):
		return "storage_error"
	default:
		return "internal_error"
	}
}
