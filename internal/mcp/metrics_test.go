package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
	"github.com/fyrsmithlabs/minutes/internal/tracker"
)

func newTestMetrics(t *testing.T) (*Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: zap.NewNop(),
	}
	m.init()
	return m, reader
}

func sumOf(t *testing.T, reader *metric.ManualReader, name string) (int64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

func TestMetrics_RecordInvocation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInvocation(ctx, "extract_tasks", 100*time.Millisecond, nil)
	m.RecordInvocation(ctx, "extract_tasks", 50*time.Millisecond, corpus.ErrValidation)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["minutes.mcp.tool.invocations_total"])
	assert.True(t, names["minutes.mcp.tool.duration_seconds"])
	assert.True(t, names["minutes.mcp.tool.errors_total"])

	invocations, ok := sumOf(t, reader, "minutes.mcp.tool.invocations_total")
	require.True(t, ok)
	assert.Equal(t, int64(2), invocations)

	errs, ok := sumOf(t, reader, "minutes.mcp.tool.errors_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), errs)
}

func TestMetrics_ActiveRequests(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.IncrementActive(ctx, "publish_issues")
	m.IncrementActive(ctx, "publish_issues")
	m.DecrementActive(ctx, "publish_issues")

	active, ok := sumOf(t, reader, "minutes.mcp.tool.active_requests")
	require.True(t, ok)
	assert.Equal(t, int64(1), active)
}

func TestMetrics_RecordExtraction(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordExtraction(ctx, extraction.ModeStructured, 3)
	m.RecordExtraction(ctx, extraction.ModeHeuristic, 2)
	m.RecordExtraction(ctx, extraction.ModeHeuristic, 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	byMode := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "minutes.mcp.extract.tasks_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				mode, _ := dp.Attributes.Value("mode")
				byMode[mode.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{extraction.ModeStructured: 3, extraction.ModeHeuristic: 2}, byMode)
}

func TestMetrics_RecordPublish(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPublish(ctx, publisher.Report{Target: "acme/roadmap", Items: []publisher.Item{
		{Title: "Book venue", Status: publisher.StatusCreated},
		{Title: "Send agenda", Status: publisher.StatusCreated},
		{Title: "Order food", Status: publisher.StatusSkippedDuplicate},
	}}, false)
	m.RecordPublish(ctx, publisher.Report{Target: "acme/roadmap", Items: []publisher.Item{
		{Title: "Book venue", Status: publisher.StatusWouldCreate},
	}}, true)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	byStatus := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "minutes.mcp.publish.items_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				status, _ := dp.Attributes.Value("status")
				dry, _ := dp.Attributes.Value("dry_run")
				byStatus[fmt.Sprintf("%s/%t", status.AsString(), dry.AsBool())] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"created/false":           2,
		"skipped-duplicate/false": 1,
		"would-create/true":       1,
	}, byStatus)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"corpus validation", fmt.Errorf("ingest failed: %w", corpus.ErrValidation), "validation_error"},
		{"publisher validation", &publisher.ValidationError{Field: "repo", Reason: "must be owner/name"}, "validation_error"},
		{"no tracker", tracker.ErrNotConfigured, "not_configured"},
		{"tracker transport", fmt.Errorf("publish failed: %w", &tracker.TransportError{Status: 502}), "tracker_error"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"invalid input", errors.New("invalid k"), "validation_error"},
		{"embedding error", errors.New("embedding generation failed"), "storage_error"},
		{"generic error", errors.New("something went wrong"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, categorizeError(tt.err))
		})
	}
}
