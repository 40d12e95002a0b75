package gin

import (
	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/gin-gonic/gin"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
	"github.com/rainbow-me/ctxfields/observability"
)

// TracingMiddleware continues the trace found in the request headers, or starts a new one, and
// injects the trace/span ids in the context log fields. Once the handler returned, the span is
// tagged with the response code and with the traced context fields, including the ones resolved
// after authentication or captured from downstream calls.
func TracingMiddleware(c *gin.Context) {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	spanOpts := []tracer.StartSpanOption{
		tracer.Tag(ext.Component, componentName),
		tracer.Tag(ext.SpanType, ext.SpanTypeWeb),
		tracer.Tag(ext.HTTPMethod, c.Request.Method),
		tracer.Tag(ext.HTTPURL, c.Request.URL.String()),
		tracer.Tag(ext.HTTPRoute, route),
		tracer.ResourceName(c.Request.Method + " " + route),
	}
	if sCtx, err := tracer.Extract(tracer.HTTPHeadersCarrier(c.Request.Header)); err == nil && sCtx != nil {
		spanOpts = append(spanOpts, tracer.ChildOf(sCtx))
	}

	span := tracer.StartSpan(httpHandlerOp, spanOpts...)
	defer span.Finish()

	ctx := tracer.ContextWithSpan(c.Request.Context(), span)
	ctx = logger.ContextWithFields(ctx, logger.WithTrace(span.Context())...)
	c.Request = c.Request.WithContext(ctx)
	c.Next()

	// c.Request now carries the store installed further down the chain
	ctx = c.Request.Context()
	if p, ok := propagation.FromContext(ctx); ok {
		if store, ok := correlation.StoreFromContext(ctx); ok {
			for k, v := range observability.TraceTags(p.Config, store) {
				span.SetTag(k, v)
			}
		}
	}

	status := c.Writer.Status()
	span.SetTag(ext.HTTPCode, status)
	if status >= 500 {
		span.SetTag(ext.Error, true)
	}
}
