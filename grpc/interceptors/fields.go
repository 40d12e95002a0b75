package interceptors

import (
	"context"
	"net/http"
	"strings"
	"sync"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
	"github.com/rainbow-me/ctxfields/common/source"
	"github.com/rainbow-me/ctxfields/observability"
)

type claimsKey struct{}

// ContextWithClaims hands the claims resolved by an authentication interceptor over to
// PostAuthUnaryServerInterceptor.
func ContextWithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func claimsFromContext(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return claims
}

// UnaryServerInterceptor creates the request store, extracts the pre-authentication fields from
// the incoming metadata and sends the upstream outbound HEADER fields as response headers.
// recorder may be nil.
func UnaryServerInterceptor(p *propagation.Propagator, recorder *observability.Recorder) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, store := startCall(ctx, p)

		resp, err := handler(ctx, req)

		sendFieldHeaders(ctx, p, store, func(md metadata.MD) error { return grpc.SetHeader(ctx, md) })
		recorder.RecordRequest(ctx, store, methodAttribute(info.FullMethod))
		return resp, err
	}
}

// StreamServerInterceptor is the streaming variant of UnaryServerInterceptor. Response headers
// are set right before the first message or explicit header is sent.
func StreamServerInterceptor(p *propagation.Propagator, recorder *observability.Recorder) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, store := startCall(ss.Context(), p)

		wrapped := &fieldsServerStream{WrappedServerStream: grpcmiddleware.WrapServerStream(ss)}
		wrapped.WrappedContext = ctx
		wrapped.send = func() {
			sendFieldHeaders(ctx, p, store, ss.SetHeader)
		}

		err := handler(srv, wrapped)

		wrapped.enrich()
		recorder.RecordRequest(ctx, store, methodAttribute(info.FullMethod))
		return err
	}
}

// PostAuthUnaryServerInterceptor runs the post-authentication extraction. Chain it after the
// authentication interceptor, which exposes claims through ContextWithClaims.
func PostAuthUnaryServerInterceptor(p *propagation.Propagator) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		store, ok := correlation.StoreFromContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)

		before := store.Snapshot()
		p.Extractor.ExtractPostAuth(ctx, store, &incomingMetadata{md: md, claims: claimsFromContext(ctx)})
		ctx = logger.ContextWithFields(ctx, observability.LogFieldsSince(p.Config, store, before)...)
		observability.TagSpan(ctx, p.Config, store)
		return handler(ctx, req)
	}
}

// UnaryClientInterceptor writes the downstream outbound HEADER fields into the outgoing metadata
// and captures the downstream inbound fields from the response header metadata.
func UnaryClientInterceptor(fallback *propagation.Propagator) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req,
		reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		p := propagatorFor(ctx, fallback)
		if p == nil {
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		ctx = enrichOutgoing(ctx, p)

		var header metadata.MD
		err := invoker(ctx, method, req, reply, cc, append(opts, grpc.Header(&header))...)
		if header != nil {
			p.CaptureDownstream(ctx, metadataResponse{md: header})
		}
		return err
	}
}

// StreamClientInterceptor enriches the outgoing metadata of streaming calls and captures the
// response header metadata once the server sent it.
func StreamClientInterceptor(fallback *propagation.Propagator) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		p := propagatorFor(ctx, fallback)
		if p == nil {
			return streamer(ctx, desc, cc, method, opts...)
		}
		ctx = enrichOutgoing(ctx, p)

		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			return cs, err
		}
		return &fieldsClientStream{ClientStream: cs, capture: func() {
			if md, err := cs.Header(); err == nil && md != nil {
				p.CaptureDownstream(ctx, metadataResponse{md: md})
			}
		}}, nil
	}
}

func startCall(ctx context.Context, p *propagation.Propagator) (context.Context, *correlation.Store) {
	ctx, store := p.Start(ctx)
	ctx = propagation.ContextWithPropagator(ctx, p)
	md, _ := metadata.FromIncomingContext(ctx)

	p.Extractor.ExtractPreAuth(ctx, store, &incomingMetadata{md: md})
	ctx = observability.ContextWithFields(ctx, p.Config, store)
	observability.TagSpan(ctx, p.Config, store)
	return ctx, store
}

func sendFieldHeaders(ctx context.Context, p *propagation.Propagator, store *correlation.Store, set func(metadata.MD) error) {
	header := http.Header{}
	p.Enricher.ApplyUpstreamResponse(ctx, store, outgoingHeaders{header: header})
	md := toMetadata(header)
	if md.Len() == 0 {
		return
	}
	if err := set(md); err != nil {
		logger.FromContext(ctx).Debug("failed to set field response headers", logger.Error(err))
	}
}

func enrichOutgoing(ctx context.Context, p *propagation.Propagator) context.Context {
	if correlation.FromContext(ctx) == nil {
		return ctx
	}
	out, _ := metadata.FromOutgoingContext(ctx)
	req := &outgoingRequest{header: toHeader(out)}
	p.EnrichDownstream(ctx, req)

	md := toMetadata(req.header)
	return metadata.NewOutgoingContext(ctx, md)
}

func propagatorFor(ctx context.Context, fallback *propagation.Propagator) *propagation.Propagator {
	if p, ok := propagation.FromContext(ctx); ok {
		return p
	}
	return fallback
}

func methodAttribute(fullMethod string) attribute.KeyValue {
	return attribute.String("rpc.method", fullMethod)
}

func toHeader(md metadata.MD) http.Header {
	h := make(http.Header, len(md))
	for k, values := range md {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	return h
}

func toMetadata(h http.Header) metadata.MD {
	md := make(metadata.MD, len(h))
	for k, values := range h {
		md.Append(strings.ToLower(k), values...)
	}
	return md
}

type fieldsServerStream struct {
	*grpcmiddleware.WrappedServerStream
	once sync.Once
	send func()
}

func (s *fieldsServerStream) enrich() {
	s.once.Do(s.send)
}

func (s *fieldsServerStream) SendHeader(md metadata.MD) error {
	s.enrich()
	return s.WrappedServerStream.SendHeader(md)
}

func (s *fieldsServerStream) SendMsg(m interface{}) error {
	s.enrich()
	return s.WrappedServerStream.SendMsg(m)
}

type fieldsClientStream struct {
	grpc.ClientStream
	once    sync.Once
	capture func()
}

func (s *fieldsClientStream) RecvMsg(m interface{}) error {
	err := s.ClientStream.RecvMsg(m)
	s.once.Do(s.capture)
	return err
}

// incomingMetadata exposes the metadata of an incoming call. gRPC has no query string, route
// variables, session or body, those sources resolve to nothing.
type incomingMetadata struct {
	md     metadata.MD
	claims map[string]any
	attrs  *source.AttributeMap
}

func (r *incomingMetadata) Header(key string) []string { return r.md.Get(key) }

func (r *incomingMetadata) Cookie(name string) (string, bool) {
	req := http.Request{Header: http.Header{"Cookie": r.md.Get("cookie")}}
	c, err := req.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (r *incomingMetadata) Query(string) []string { return nil }

func (r *incomingMetadata) PathParam(string) (string, bool) { return "", false }

func (r *incomingMetadata) Session(bool) source.Attributes { return nil }

func (r *incomingMetadata) Attributes() source.Attributes {
	if r.attrs == nil {
		r.attrs = source.NewAttributeMap(nil)
	}
	return r.attrs
}

func (r *incomingMetadata) Body() []byte { return nil }

func (r *incomingMetadata) Claims() map[string]any { return r.claims }

type outgoingHeaders struct {
	header http.Header
}

func (w outgoingHeaders) Header() http.Header { return w.header }

func (w outgoingHeaders) Attributes() source.Attributes { return nil }

// outgoingRequest collects the metadata of an outgoing call. Only HEADER enrichment has a
// metadata equivalent.
type outgoingRequest struct {
	header http.Header
}

func (r *outgoingRequest) Header() http.Header { return r.header }

func (r *outgoingRequest) QueryParam(string) string { return "" }

func (r *outgoingRequest) SetQueryParam(string, string) {}

func (r *outgoingRequest) PathParam(string) string { return "" }

func (r *outgoingRequest) SetPathParam(string, string) {}

func (r *outgoingRequest) Body() any { return nil }

func (r *outgoingRequest) SetBody(any) {}

type metadataResponse struct {
	md metadata.MD
}

func (r metadataResponse) Header() http.Header { return toHeader(r.md) }

func (r metadataResponse) Cookies() []*http.Cookie { return nil }

func (r metadataResponse) Body() []byte { return nil }
