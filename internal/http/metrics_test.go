package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestHTTPMetrics(t *testing.T) (*HTTPMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()
	return m, reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func histCount(data metricdata.Aggregation) uint64 {
	hist, ok := data.(metricdata.Histogram[float64])
	if !ok {
		return 0
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	m, reader := newTestHTTPMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/corpora", func(c echo.Context) error {
		return c.JSON(http.StatusCreated, map[string]string{"corpus_id": "weekly"})
	})
	e.POST("/api/v1/tasks", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "corpus_id is required")
	})
	e.POST(streamRoute, func(c echo.Context) error {
		return c.String(http.StatusOK, "data: {}\n\n")
	})

	notes := "# Weekly\n- Alice to book the venue\n"
	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/corpora", strings.NewReader(notes)),
		httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil),
		httptest.NewRequest(http.MethodPost, streamRoute, nil),
	}
	for _, req := range requests {
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	got := collect(t, reader)

	sum, ok := got["minutes.http.requests_total"].(metricdata.Sum[int64])
	require.True(t, ok, "requests counter not found")
	byResource := map[string]int64{}
	classes := map[string]int64{}
	for _, dp := range sum.DataPoints {
		r, _ := dp.Attributes.Value(attribute.Key("resource"))
		c, _ := dp.Attributes.Value(attribute.Key("status_class"))
		byResource[r.AsString()] += dp.Value
		classes[c.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"ops": 1, "corpora": 1, "tasks": 2}, byResource)
	assert.Equal(t, int64(1), classes["4xx"])
	assert.Equal(t, int64(3), classes["2xx"])

	assert.Equal(t, uint64(3), histCount(got["minutes.http.request_duration_seconds"]))
	assert.Equal(t, uint64(1), histCount(got["minutes.http.stream_duration_seconds"]))

	upload, ok := got["minutes.http.upload_size_bytes"].(metricdata.Histogram[int64])
	require.True(t, ok, "upload size histogram not found")
	require.Len(t, upload.DataPoints, 1)
	assert.Equal(t, uint64(1), upload.DataPoints[0].Count)
	assert.Equal(t, int64(len(notes)), upload.DataPoints[0].Sum)
}

func TestResourceOf(t *testing.T) {
	tests := []struct {
		route string
		want  string
	}{
		{"", "unmatched"},
		{"/health", "ops"},
		{"/metrics", "ops"},
		{"/api/v1/corpora", "corpora"},
		{"/api/v1/search", "search"},
		{"/api/v1/tasks/stream", "tasks"},
		{"/api/v1/issues/preview", "issues"},
		{"/api/v1/unknown", "unmatched"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, resourceOf(tt.route), tt.route)
	}
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusCreated))
	assert.Equal(t, "4xx", statusClass(http.StatusUnprocessableEntity))
	assert.Equal(t, "5xx", statusClass(http.StatusBadGateway))
	assert.Equal(t, "unknown", statusClass(0))
}
