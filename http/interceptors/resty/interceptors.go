package resty

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/go-resty/resty/v2"

	"github.com/rainbow-me/ctxfields/common/headers"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
)

const (
	httpRequestOp      = "http.request"
	restyComponentName = "resty"
)

type interceptorCfg struct {
	TracingEnabled bool
	FieldsEnabled  bool
	// Propagator is used when the request context does not carry one.
	Propagator *propagation.Propagator
	// no timeout specified, that is handled by the underlying http client config
}

type InterceptorOpt func(*interceptorCfg)

// WithFieldsEnabled enables/disables context field propagation. Default is enabled.
func WithFieldsEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.FieldsEnabled = enabled
	}
}

// WithPropagator sets the propagator for requests whose context was not prepared by an inbound middleware.
func WithPropagator(p *propagation.Propagator) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.Propagator = p
	}
}

// WithTracingEnabled enables/disables tracing. Default is enabled.
func WithTracingEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.TracingEnabled = enabled
	}
}

// InjectInterceptors injects all interceptors required to get Resty requests to propagate traces and context fields.
// Default behaviour can be changed by passing any of the WithXXX options.
//
// Responses read with SetDoNotParseResponse skip resty's response middlewares; build clients for
// such calls with http.NewStreamingResty.
func InjectInterceptors(client *resty.Client, opts ...InterceptorOpt) {
	cfg := &interceptorCfg{
		TracingEnabled: true,
		FieldsEnabled:  true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.TracingEnabled {
		before, after := TracingMiddleware()
		client.OnBeforeRequest(before)
		client.OnAfterResponse(after)
	}
	if cfg.FieldsEnabled {
		client.OnBeforeRequest(EnrichmentMiddleware(cfg.Propagator))
		client.OnAfterResponse(CaptureMiddleware(cfg.Propagator))
	}
}

// TracingMiddleware propagates traces from context to http headers.
// Also, creates a new span and tags it with the http method, url, status code etc.
func TracingMiddleware() (resty.RequestMiddleware, resty.ResponseMiddleware) {
	beforeRequest := func(_ *resty.Client, req *resty.Request) error {
		opts := []tracer.StartSpanOption{
			tracer.SpanType(ext.SpanTypeHTTP),
			tracer.Tag(ext.HTTPMethod, req.Method),
			tracer.Tag(ext.HTTPURL, req.URL),
			tracer.Tag(ext.Component, restyComponentName),
			tracer.Tag(ext.SpanKind, ext.SpanKindClient),
		}
		if parsedURL, err := url.Parse(req.URL); err == nil {
			opts = append(opts, tracer.Tag(ext.NetworkDestinationName, parsedURL.Hostname()))
			opts = append(opts, tracer.Tag("http.host", parsedURL.Host))
			opts = append(opts, tracer.Tag("http.path", parsedURL.Path))
		}

		span, ctx := tracer.StartSpanFromContext(req.Context(), httpRequestOp, opts...)
		req.SetContext(ctx)

		req.SetHeader(headers.HeaderXTraceID, span.Context().TraceID())

		// also propagate through DataDog's standard headers
		if err := tracer.Inject(span.Context(), tracer.HTTPHeadersCarrier(req.Header)); err != nil {
			// this should never happen
			logger.FromContext(ctx).Warn("failed to inject trace header", logger.Error(err))
		}
		return nil
	}

	afterResponse := func(_ *resty.Client, resp *resty.Response) error {
		span, ok := tracer.SpanFromContext(resp.Request.Context())
		if !ok {
			return nil // No span found, skip
		}
		span.SetTag(ext.HTTPCode, resp.StatusCode())
		span.SetTag("http.response_size", len(resp.Body()))

		if resp.StatusCode() >= 400 {
			span.SetTag(ext.Error, true)
			span.SetTag(ext.ErrorMsg, fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.Status()))
		}
		span.Finish()

		return nil
	}

	return beforeRequest, afterResponse
}

// EnrichmentMiddleware writes the downstream outbound fields of the request store into the call.
// Requests whose context carries no store are left untouched.
func EnrichmentMiddleware(fallback *propagation.Propagator) resty.RequestMiddleware {
	return func(_ *resty.Client, req *resty.Request) error {
		p := propagatorFor(req, fallback)
		if p == nil {
			return nil
		}
		applied := p.EnrichDownstream(req.Context(), &request{req: req})
		if len(applied) > 0 {
			logger.FromContext(req.Context()).Debug("enriched downstream request",
				logger.String("url", req.URL),
				logger.Int("fields", len(applied)),
			)
		}
		return nil
	}
}

// CaptureMiddleware extracts the downstream inbound fields of the response into the request store.
func CaptureMiddleware(fallback *propagation.Propagator) resty.ResponseMiddleware {
	return func(_ *resty.Client, resp *resty.Response) error {
		if resp == nil || resp.Request == nil {
			return nil
		}
		p := propagatorFor(resp.Request, fallback)
		if p == nil {
			return nil
		}
		p.CaptureDownstream(resp.Request.Context(), response{resp: resp})
		return nil
	}
}

func propagatorFor(req *resty.Request, fallback *propagation.Propagator) *propagation.Propagator {
	if p, ok := propagation.FromContext(req.Context()); ok {
		return p
	}
	return fallback
}

// request exposes a resty request before resty builds the underlying *http.Request.
type request struct {
	req *resty.Request
}

func (r *request) Header() http.Header { return r.req.Header }

func (r *request) QueryParam(key string) string { return r.req.QueryParam.Get(key) }

func (r *request) SetQueryParam(key, value string) { r.req.SetQueryParam(key, value) }

func (r *request) PathParam(name string) string { return r.req.PathParams[name] }

func (r *request) SetPathParam(name, value string) { r.req.SetPathParam(name, value) }

func (r *request) Body() any { return r.req.Body }

func (r *request) SetBody(body any) { r.req.SetBody(body) }

type response struct {
	resp *resty.Response
}

func (r response) Header() http.Header { return r.resp.Header() }

func (r response) Cookies() []*http.Cookie { return r.resp.Cookies() }

func (r response) Body() []byte { return r.resp.Body() }
