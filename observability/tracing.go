package observability

import (
	"context"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
)

// StartSpan is a helper function that we should always use instead of tracer.StartSpanFromContext to ensure that our
// context logger gets updated with trace and span ID. When ctx carries a request store the span is also tagged with
// the traced context fields.
func StartSpan(ctx context.Context, opName string, opts ...tracer.StartSpanOption) (*tracer.Span, context.Context) {
	span, ctx := tracer.StartSpanFromContext(ctx, opName, opts...)
	ctx = logger.ContextWithFields(ctx, logger.WithTrace(span.Context())...)

	if p, ok := propagation.FromContext(ctx); ok {
		if store, ok := correlation.StoreFromContext(ctx); ok {
			for k, v := range TraceTags(p.Config, store) {
				span.SetTag(k, v)
			}
		}
	}
	return span, ctx
}
