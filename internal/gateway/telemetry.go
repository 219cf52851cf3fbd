package gateway

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tb-dash/gateway"

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_gateway_requests_total",
		Help: "Backend requests issued by the gateway, by operation and outcome.",
	}, []string{"op", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tbdash_gateway_request_duration_seconds",
		Help:    "Latency of backend requests issued by the gateway.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	droppedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_gateway_dropped_records_total",
		Help: "Records dropped from list responses because they failed parsing or validation.",
	}, []string{"collection"})
)

func (c *Client) startSpan(ctx context.Context, op, method, path string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
}

func endSpan(span trace.Span, status int, err error) {
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case *TimeoutError:
		return "timeout"
	case *ConflictError:
		return "conflict"
	default:
		return "error"
	}
}
