package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartDispatchSpan creates the span covering one completion dispatch, from
// admission through the provider answer. When the request arrived over HTTP
// it nests under the server span created by HTTPMiddleware.
func StartDispatchSpan(ctx context.Context, requestID, caller, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gateway.dispatch",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("request.caller", caller),
			attribute.String("request.model", model),
		),
	)
}

// StartUpstreamSpan creates a client span for an outbound provider call.
func StartUpstreamSpan(ctx context.Context, url, provider string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.url", url),
			attribute.String("upstream.provider", provider),
		),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so the upstream service can continue
// the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetCompletionAttributes records how a dispatch was answered on the current
// span: the provider and model that served it, billed tokens, cost, and
// whether the answer came from cache.
func SetCompletionAttributes(ctx context.Context, provider, model string, tokensIn, tokensOut int, cacheHit bool, costUSD float64) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("completion.provider", provider),
		attribute.String("completion.model", model),
		attribute.Int("completion.tokens_in", tokensIn),
		attribute.Int("completion.tokens_out", tokensOut),
		attribute.Bool("completion.cache_hit", cacheHit),
		attribute.Float64("completion.cost_usd", costUSD),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
