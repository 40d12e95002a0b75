package gin

import (
	"sync"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rainbow-me/ctxfields/common/bodybuf"
	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
	"github.com/rainbow-me/ctxfields/common/source"
	"github.com/rainbow-me/ctxfields/observability"
)

const (
	// ClaimsKey is the gin key under which the authentication middleware stores the caller's claims
	// as a map[string]any.
	ClaimsKey = "ctxfields.claims"
	// SessionKey is the gin key under which a session middleware stores the session as source.Attributes.
	SessionKey = "ctxfields.session"

	upstreamRequestKey = "ctxfields.upstream_request"
)

// ContextFieldsMiddleware creates the request store, runs the pre-authentication extraction and
// arranges for the upstream outbound fields to be written into the response before its headers
// are sent. recorder may be nil.
func ContextFieldsMiddleware(p *propagation.Propagator, recorder *observability.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, store := p.Start(c.Request.Context())
		ctx = propagation.ContextWithPropagator(ctx, p)

		req := &ginRequest{c: c}
		if p.NeedsBody(fields.UpstreamInbound) && c.Request.Body != nil {
			buf, body, err := bodybuf.Wrap(c.Request.Body, p.MaxBodyBytes())
			c.Request.Body = body
			if err != nil {
				logger.FromContext(ctx).Warn("Failed to buffer request body, BODY and FORM fields are skipped", logger.Error(err))
			}
			req.body = buf
		}
		c.Set(upstreamRequestKey, req)

		p.Extractor.ExtractPreAuth(ctx, store, req)
		ctx = observability.ContextWithFields(ctx, p.Config, store)
		observability.TagSpan(ctx, p.Config, store)
		c.Request = c.Request.WithContext(ctx)

		w := &enrichingWriter{ResponseWriter: c.Writer}
		w.apply = func() {
			resp := source.HTTPResponseWriter{Writer: w.ResponseWriter, Attrs: ginAttributes{c: c}}
			p.Enricher.ApplyUpstreamResponse(c.Request.Context(), store, resp)
		}
		c.Writer = w

		c.Next()

		// gin flushes headers of empty responses through its own writer
		w.enrich()
		recorder.RecordRequest(c.Request.Context(), store, routeAttribute(c))
	}
}

// PostAuthMiddleware runs the post-authentication extraction (CLAIM and PATH sources). Mount it
// after the authentication middleware; it is a no-op without ContextFieldsMiddleware.
func PostAuthMiddleware(p *propagation.Propagator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		store, ok := correlation.StoreFromContext(ctx)
		if !ok {
			c.Next()
			return
		}
		req, ok := c.Value(upstreamRequestKey).(*ginRequest)
		if !ok {
			req = &ginRequest{c: c}
		}

		before := store.Snapshot()
		p.Extractor.ExtractPostAuth(ctx, store, req)
		ctx = logger.ContextWithFields(ctx, observability.LogFieldsSince(p.Config, store, before)...)
		observability.TagSpan(ctx, p.Config, store)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// enrichingWriter applies the upstream response enrichment right before the first byte or header
// is flushed.
type enrichingWriter struct {
	gin.ResponseWriter
	once  sync.Once
	apply func()
}

func (w *enrichingWriter) enrich() {
	w.once.Do(w.apply)
}

func (w *enrichingWriter) WriteHeader(code int) {
	w.enrich()
	w.ResponseWriter.WriteHeader(code)
}

func (w *enrichingWriter) WriteHeaderNow() {
	w.enrich()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *enrichingWriter) Write(data []byte) (int, error) {
	w.enrich()
	return w.ResponseWriter.Write(data)
}

func (w *enrichingWriter) WriteString(s string) (int, error) {
	w.enrich()
	return w.ResponseWriter.WriteString(s)
}

// ginRequest exposes a gin request to the source handlers.
type ginRequest struct {
	c    *gin.Context
	body *bodybuf.Buffer
}

func (r *ginRequest) Header(key string) []string {
	return r.c.Request.Header.Values(key)
}

func (r *ginRequest) Cookie(name string) (string, bool) {
	v, err := r.c.Cookie(name)
	return v, err == nil
}

func (r *ginRequest) Query(key string) []string {
	return r.c.QueryArray(key)
}

func (r *ginRequest) PathParam(name string) (string, bool) {
	return r.c.Params.Get(name)
}

func (r *ginRequest) Session(create bool) source.Attributes {
	if s, ok := r.c.Value(SessionKey).(source.Attributes); ok {
		return s
	}
	if !create {
		return nil
	}
	s := source.NewAttributeMap(nil)
	r.c.Set(SessionKey, s)
	return s
}

func (r *ginRequest) Attributes() source.Attributes {
	return ginAttributes{c: r.c}
}

func (r *ginRequest) Body() []byte {
	return r.body.Bytes()
}

func (r *ginRequest) Claims() map[string]any {
	claims, _ := r.c.Value(ClaimsKey).(map[string]any)
	return claims
}

// ginAttributes maps request attributes onto the gin context keys.
type ginAttributes struct {
	c *gin.Context
}

func (a ginAttributes) Attribute(key string) (string, bool) {
	v, ok := a.c.Value(key).(string)
	return v, ok
}

func (a ginAttributes) SetAttribute(key, value string) {
	a.c.Set(key, value)
}

func routeAttribute(c *gin.Context) attribute.KeyValue {
	return attribute.String("http.route", c.FullPath())
}
