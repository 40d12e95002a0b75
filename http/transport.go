package http

import (
	"net/http"

	httptrace "github.com/DataDog/dd-trace-go/contrib/net/http/v2"

	"github.com/rainbow-me/ctxfields/common/bodybuf"
	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
	"github.com/rainbow-me/ctxfields/common/source"
)

// Transport propagates context fields on plain net/http clients. Outgoing requests are enriched
// from the store of their context and responses are captured back into it.
type Transport struct {
	Base http.RoundTripper
	// Propagator is used when the request context does not carry one.
	Propagator *propagation.Propagator
}

// NewTransport wraps base, http.DefaultTransport when nil.
func NewTransport(base http.RoundTripper, p *propagation.Propagator) *Transport {
	return &Transport{Base: base, Propagator: p}
}

// NewTracedTransport is NewTransport with a Datadog client span around every call. Fields are
// written before the span starts, trace headers are injected into the enriched request.
func NewTracedTransport(base http.RoundTripper, p *propagation.Propagator) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return NewTransport(httptrace.WrapRoundTripper(base), p)
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	ctx := req.Context()
	p, ok := propagation.FromContext(ctx)
	if !ok {
		p = t.Propagator
	}
	if p == nil || correlation.FromContext(ctx) == nil {
		return base.RoundTrip(req)
	}

	out := req.Clone(ctx)
	p.EnrichDownstream(ctx, source.NewOutgoingRequest(out))

	resp, err := base.RoundTrip(out)
	if err != nil {
		return resp, err
	}

	var buf *bodybuf.Buffer
	if p.NeedsBody(fields.DownstreamInbound) && resp.Body != nil {
		b, body, err := bodybuf.Wrap(resp.Body, p.MaxBodyBytes())
		resp.Body = body
		if err != nil {
			logger.FromContext(ctx).Debug("downstream body not buffered", logger.Error(err))
		} else {
			buf = b
		}
	}
	p.CaptureDownstream(ctx, source.HTTPResponse{Response: resp, Buffer: buf})

	return resp, nil
}
