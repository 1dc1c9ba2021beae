package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/conceptd/internal/http"

// Latency buckets skewed toward the sub-second range; turns and
// validation calls dominate traffic and stay well under a second.
var durationBuckets = []float64{0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5}

// HTTPMetrics records request counts, latency, in-flight requests, and
// open SSE streams for the API surface.
type HTTPMetrics struct {
	meter         metric.Meter
	logger        *zap.Logger
	requests      metric.Int64Counter
	duration      metric.Float64Histogram
	inFlight      metric.Int64UpDownCounter
	activeStreams metric.Int64UpDownCounter
}

// NewHTTPMetrics creates metrics on the global meter provider.
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

	m.requests, err = m.meter.Int64Counter(
		"conceptd.http.requests",
		metric.WithDescription("HTTP requests by method, route, and status code."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create request counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"conceptd.http.request_duration",
		metric.WithDescription("HTTP request duration by method, route, and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.inFlight, err = m.meter.Int64UpDownCounter(
		"conceptd.http.in_flight_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create in-flight counter", zap.Error(err))
	}

	m.activeStreams, err = m.meter.Int64UpDownCounter(
		"conceptd.http.active_event_streams",
		metric.WithDescription("Open server-sent event streams."),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		m.logger.Warn("failed to create stream counter", zap.Error(err))
	}
}

// StreamOpened records an SSE stream opening. The caller pairs it with
// StreamClosed when the stream ends.
func (m *HTTPMetrics) StreamOpened(c echo.Context) {
	if m.activeStreams != nil {
		m.activeStreams.Add(c.Request().Context(), 1)
	}
}

// StreamClosed records an SSE stream closing.
func (m *HTTPMetrics) StreamClosed(c echo.Context) {
	if m.activeStreams != nil {
		m.activeStreams.Add(c.Request().Context(), -1)
	}
}

// MetricsMiddleware records per-request metrics. Route labels use the
// registered route pattern (":id" segments, not session IDs), which
// keeps metric cardinality bounded.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routePattern(c)),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.inFlight != nil {
				m.inFlight.Add(ctx, -1)
			}

			return err
		}
	}
}

func routePattern(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "/"
}
