package http

import (
	"context"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/notesrag/internal/http"

// HTTPMetrics records request counts, latency and payload size per route.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *logging.Logger

	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

// init creates each instrument. An instrument that fails to register is
// left nil and skipped when recording.
func (m *HTTPMetrics) init() {
	warn := func(name string, err error) {
		if err != nil {
			m.logger.Warn(context.Background(), "failed to create http instrument",
				zap.String("instrument", name), zap.Error(err))
		}
	}

	var err error
	m.requestsTotal, err = m.meter.Int64Counter("notesrag.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status code."),
		metric.WithUnit("{request}"),
	)
	warn("requests_total", err)

	// answer requests are dominated by generation, so the buckets reach a minute
	m.requestDur, err = m.meter.Float64Histogram("notesrag.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60),
	)
	warn("request_duration_seconds", err)

	m.responseSize, err = m.meter.Int64Histogram("notesrag.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route and status code."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536),
	)
	warn("response_size_bytes", err)

	m.activeRequests, err = m.meter.Int64UpDownCounter("notesrag.http.active_requests",
		metric.WithDescription("HTTP requests currently in flight."),
		metric.WithUnit("{request}"),
	)
	warn("active_requests", err)
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", normalizePath(c.Path())),
				attribute.String("status", strconv.Itoa(c.Response().Status)),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// normalizePath keeps the route label bounded. Routes are fixed, so only
// unmatched requests (empty route) need folding.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
