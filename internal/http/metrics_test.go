package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*HTTPMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsMiddlewareRecordsRequests(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/sessions/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})

	for _, target := range []string{"/health", "/api/v1/sessions/abc", "/api/v1/sessions/def"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	metrics := collect(t, reader)

	requests, ok := metrics["conceptd.http.requests"]
	require.True(t, ok, "request counter not found")
	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	routes := map[string]int64{}
	for _, dp := range sum.DataPoints {
		total += dp.Value
		if route, ok := dp.Attributes.Value("route"); ok {
			routes[route.AsString()] += dp.Value
		}
	}
	assert.Equal(t, int64(3), total)
	// Both session requests fold into one route label.
	assert.Equal(t, int64(2), routes["/api/v1/sessions/:id"])
	assert.Equal(t, int64(1), routes["/health"])

	duration, ok := metrics["conceptd.http.request_duration"]
	require.True(t, ok, "duration histogram not found")
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	inFlight, ok := metrics["conceptd.http.in_flight_requests"]
	require.True(t, ok, "in-flight counter not found")
	gauge, ok := inFlight.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var open int64
	for _, dp := range gauge.DataPoints {
		open += dp.Value
	}
	assert.Equal(t, int64(0), open)
}

func TestStreamGaugeTracksOpenStreams(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/events", nil), httptest.NewRecorder())

	m.StreamOpened(c)
	m.StreamOpened(c)

	metrics := collect(t, reader)
	streams, ok := metrics["conceptd.http.active_event_streams"]
	require.True(t, ok, "stream counter not found")
	sum, ok := streams.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var open int64
	for _, dp := range sum.DataPoints {
		open += dp.Value
	}
	assert.Equal(t, int64(2), open)

	m.StreamClosed(c)
	m.StreamClosed(c)

	metrics = collect(t, reader)
	sum = metrics["conceptd.http.active_event_streams"].Data.(metricdata.Sum[int64])
	open = 0
	for _, dp := range sum.DataPoints {
		open += dp.Value
	}
	assert.Equal(t, int64(0), open)
}

func TestRoutePattern(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/nowhere", nil), httptest.NewRecorder())
	assert.Equal(t, "/", routePattern(c))
}
