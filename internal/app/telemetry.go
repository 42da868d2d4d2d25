package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the package-level tracer for service operations.
var tracer = otel.Tracer("bomcat.app")

var (
	// codesRenumbered counts nodes whose code, position or depth was rewritten, by operation.
	codesRenumbered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bomcat_codes_renumbered_total",
		Help: "Total process nodes rewritten by the code allocator",
	}, []string{"operation"})

	// ragRecomputes counts RAG recomputes by resulting overall status.
	ragRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bomcat_rag_recompute_total",
		Help: "Total RAG recomputes by resulting overall status",
	}, []string{"overall", "changed"})

	// sequenceRetries counts issue creates retried after a sequence collision.
	sequenceRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bomcat_issue_sequence_retries_total",
		Help: "Total issue creates retried after a sequence number collision",
	})

	// heatmapDuration tracks heatmap build latency.
	heatmapDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bomcat_heatmap_build_duration_seconds",
		Help:    "Heatmap build duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"view"})
)

// startSpan opens a span for one service operation scoped to a tenant.
func startSpan(ctx context.Context, operation, tenantID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("bomcat.tenant_id", tenantID))
	return tracer.Start(ctx, "Service."+operation, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
