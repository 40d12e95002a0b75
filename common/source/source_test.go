package source_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbow-me/ctxfields/common/bodybuf"
	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/source"
)

func handler(t *testing.T, r *source.Registry, s fields.SourceType) source.Handler {
	t.Helper()
	h, ok := r.Handler(s)
	require.True(t, ok, s)
	require.Equal(t, s, h.Source())
	return h
}

func inbound(s fields.SourceType, key string) *fields.InboundConfig {
	return &fields.InboundConfig{Source: s, Key: key}
}

func TestRegistryCoversEverySource(t *testing.T) {
	r := source.NewRegistry()
	for _, s := range fields.SourceTypes {
		handler(t, r, s)
	}
	for _, e := range fields.EnrichmentTypes {
		_, ok := r.ForTarget(e)
		assert.True(t, ok, e)
	}
}

func TestUnsupportedDirections(t *testing.T) {
	r := source.NewRegistry()
	resp := source.HTTPResponseWriter{Writer: httptest.NewRecorder()}
	data := source.PropagationData{Key: "k", Value: "v", Override: true}

	for _, s := range []fields.SourceType{fields.SourceQuery, fields.SourcePath, fields.SourceBody, fields.SourceForm, fields.SourceClaim, fields.SourceSession} {
		err := handler(t, r, s).EnrichUpstreamResponse(resp, data)
		assert.ErrorIs(t, err, source.ErrUnsupported, s)
	}
	_, err := handler(t, r, fields.SourcePath).ExtractFromDownstreamResponse(source.HTTPResponse{Response: &http.Response{}}, inbound(fields.SourcePath, "id"))
	assert.ErrorIs(t, err, source.ErrUnsupported)

	out := source.NewOutgoingRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, handler(t, r, fields.SourceAttribute).EnrichDownstreamRequest(out, data), source.ErrUnsupported)
}

func TestHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Add("X-User-ID", "  u-42 ")
	req.Header.Add("X-User-ID", "u-43")
	in := &source.HTTPRequest{Request: req}

	raw, err := handler(t, source.NewRegistry(), fields.SourceHeader).ExtractFromUpstreamRequest(in, inbound(fields.SourceHeader, "x-user-id"))
	require.NoError(t, err)
	assert.Equal(t, "  u-42 ", raw)

	h := handler(t, source.NewRegistry(source.WithNormalizeHeaders(true)), fields.SourceHeader)
	v, err := h.ExtractFromUpstreamRequest(in, inbound(fields.SourceHeader, "X-User-ID"))
	require.NoError(t, err)
	assert.Equal(t, "u-42", v)

	missing, err := h.ExtractFromUpstreamRequest(in, inbound(fields.SourceHeader, "X-Missing"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestHeaderEnrichmentIsIdempotent(t *testing.T) {
	h := handler(t, source.NewRegistry(), fields.SourceHeader)
	rec := httptest.NewRecorder()
	resp := source.HTTPResponseWriter{Writer: rec}
	data := source.PropagationData{Key: "X-Request-ID", Value: "r-1", Override: true}

	require.NoError(t, h.EnrichUpstreamResponse(resp, data))
	require.NoError(t, h.EnrichUpstreamResponse(resp, data))
	assert.Equal(t, []string{"r-1"}, rec.Header().Values("X-Request-ID"))

	keep := data
	keep.Value, keep.Override = "r-2", false
	require.NoError(t, h.EnrichUpstreamResponse(resp, keep))
	assert.Equal(t, []string{"r-1"}, rec.Header().Values("X-Request-ID"))

	replace := keep
	replace.Override = true
	require.NoError(t, h.EnrichUpstreamResponse(resp, replace))
	assert.Equal(t, []string{"r-2"}, rec.Header().Values("X-Request-ID"))
}

func TestCookie(t *testing.T) {
	h := handler(t, source.NewRegistry(), fields.SourceCookie)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "s-1"})
	v, err := h.ExtractFromUpstreamRequest(&source.HTTPRequest{Request: req}, inbound(fields.SourceCookie, "session_id"))
	require.NoError(t, err)
	assert.Equal(t, "s-1", v)

	rec := httptest.NewRecorder()
	rec.Header().Add("Set-Cookie", "other=1")
	resp := source.HTTPResponseWriter{Writer: rec}
	data := source.PropagationData{Key: "tenant", Value: "t-1", Override: true}
	require.NoError(t, h.EnrichUpstreamResponse(resp, data))
	require.NoError(t, h.EnrichUpstreamResponse(resp, data))
	lines := rec.Header().Values("Set-Cookie")
	require.Len(t, lines, 2)
	assert.Equal(t, "other=1", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "tenant=t-1"))

	out := source.NewOutgoingRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	out.Header().Set("Cookie", "a=1; tenant=old")
	require.NoError(t, h.EnrichDownstreamRequest(out, data))
	assert.Equal(t, "a=1; tenant=t-1", out.Header().Get("Cookie"))

	downstream := &http.Response{Header: http.Header{"Set-Cookie": {"version=v2; Path=/"}}}
	v, err = h.ExtractFromDownstreamResponse(source.HTTPResponse{Response: downstream}, inbound(fields.SourceCookie, "version"))
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestQueryAndPath(t *testing.T) {
	r := source.NewRegistry()
	req := httptest.NewRequest(http.MethodGet, "/orders/7?tenant=t-1&tenant=t-2", nil)
	in := &source.HTTPRequest{Request: req, PathParams: map[string]string{"orderId": "7"}}

	v, err := handler(t, r, fields.SourceQuery).ExtractFromUpstreamRequest(in, inbound(fields.SourceQuery, "tenant"))
	require.NoError(t, err)
	assert.Equal(t, "t-1", v)

	v, err = handler(t, r, fields.SourcePath).ExtractFromUpstreamRequest(in, inbound(fields.SourcePath, "orderId"))
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	out := source.NewOutgoingRequest(httptest.NewRequest(http.MethodGet, "http://svc/orders/{orderId}?a=1", nil))
	require.NoError(t, handler(t, r, fields.SourceQuery).EnrichDownstreamRequest(out, source.PropagationData{Key: "tenant", Value: "t-1", Override: true}))
	require.NoError(t, handler(t, r, fields.SourceQuery).EnrichDownstreamRequest(out, source.PropagationData{Key: "a", Value: "2"}))
	require.NoError(t, handler(t, r, fields.SourcePath).EnrichDownstreamRequest(out, source.PropagationData{Key: "orderId", Value: "7", Override: true}))
	assert.Equal(t, "/orders/7", out.Request.URL.Path)
	assert.Equal(t, "1", out.Request.URL.Query().Get("a"))
	assert.Equal(t, "t-1", out.Request.URL.Query().Get("tenant"))
}

func TestSessionAndAttribute(t *testing.T) {
	r := source.NewRegistry()
	var created bool
	session := source.NewAttributeMap(map[string]string{"cart": "c-9"})
	in := &source.HTTPRequest{
		Request: httptest.NewRequest(http.MethodGet, "/", nil),
		Attrs:   source.NewAttributeMap(map[string]string{"route": "orders"}),
		SessionFunc: func(create bool) source.Attributes {
			if !create {
				return nil
			}
			created = true
			return session
		},
	}

	v, err := handler(t, r, fields.SourceSession).ExtractFromUpstreamRequest(in, inbound(fields.SourceSession, "cart"))
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.False(t, created)

	cfg := inbound(fields.SourceSession, "cart")
	cfg.CreateSession = true
	v, err = handler(t, r, fields.SourceSession).ExtractFromUpstreamRequest(in, cfg)
	require.NoError(t, err)
	assert.Equal(t, "c-9", v)
	assert.True(t, created)

	v, err = handler(t, r, fields.SourceAttribute).ExtractFromUpstreamRequest(in, inbound(fields.SourceAttribute, "route"))
	require.NoError(t, err)
	assert.Equal(t, "orders", v)

	attrs := source.NewAttributeMap(nil)
	resp := source.HTTPResponseWriter{Writer: httptest.NewRecorder(), Attrs: attrs}
	require.NoError(t, handler(t, r, fields.SourceAttribute).EnrichUpstreamResponse(resp, source.PropagationData{Key: "userId", Value: "u-1", Override: true}))
	require.NoError(t, handler(t, r, fields.SourceAttribute).EnrichUpstreamResponse(resp, source.PropagationData{Key: "userId", Value: "u-2"}))
	got, ok := attrs.Attribute("userId")
	assert.True(t, ok)
	assert.Equal(t, "u-1", got)
}

func TestClaim(t *testing.T) {
	h := handler(t, source.NewRegistry(), fields.SourceClaim)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "u-42",
		"user": map[string]any{"email": "john@example.com", "age": 42, "admin": true},
		"https://example.com/tenant": "t-1",
	}).SignedString([]byte("not-verified-here"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	in := &source.HTTPRequest{Request: req}

	tests := []struct {
		path string
		want string
	}{
		{"sub", "u-42"},
		{"user.email", "john@example.com"},
		{"user.age", "42"},
		{"user.admin", "true"},
		{"user", `{"admin":true,"age":42,"email":"john@example.com"}`},
		{"https://example.com/tenant", "t-1"},
		{"user.email.domain", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, err := h.ExtractFromUpstreamRequest(in, inbound(fields.SourceClaim, tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	exposed := &source.HTTPRequest{Request: req, ClaimSet: map[string]any{"sub": "from-auth"}}
	v, err := h.ExtractFromUpstreamRequest(exposed, inbound(fields.SourceClaim, "sub"))
	require.NoError(t, err)
	assert.Equal(t, "from-auth", v)

	noToken := &source.HTTPRequest{Request: httptest.NewRequest(http.MethodGet, "/", nil)}
	v, err = h.ExtractFromUpstreamRequest(noToken, inbound(fields.SourceClaim, "user.email"))
	require.NoError(t, err)
	assert.Empty(t, v)

	garbage := httptest.NewRequest(http.MethodGet, "/", nil)
	garbage.Header.Set("Authorization", "Bearer not.a.jwt")
	v, err = h.ExtractFromUpstreamRequest(&source.HTTPRequest{Request: garbage}, inbound(fields.SourceClaim, "sub"))
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestBodyExtraction(t *testing.T) {
	h := handler(t, source.NewRegistry(), fields.SourceBody)
	doc := `{"user":{"id":"u-1","tags":["a","b"]},"items":[{"sku":"s-1","qty":2}],"ok":true,"nothing":null,"a.b":"dotted"}`

	tests := []struct {
		name string
		body string
		key  string
		want string
	}{
		{"whole document", doc, "$", doc},
		{"nested", doc, "$.user.id", "u-1"},
		{"array index", doc, "$.items[0].sku", "s-1"},
		{"number", doc, "$.items[0].qty", "2"},
		{"bool", doc, "$.ok", "true"},
		{"object", doc, "$.user.tags", `["a","b"]`},
		{"bracket key", doc, "$['a.b']", "dotted"},
		{"null", doc, "$.nothing", ""},
		{"missing path", doc, "$.missing.path", ""},
		{"invalid json", `{"user":`, "$.missing.path", ""},
		{"invalid json nested", `{"user":`, "$.user", ""},
		{"empty body", "", "$.user.id", ""},
		{"bare path", doc, "user.id", "u-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &source.HTTPRequest{
				Request: httptest.NewRequest(http.MethodPost, "/", nil),
				Buffer:  bodybuf.FromBytes([]byte(tt.body)),
			}
			v, err := h.ExtractFromUpstreamRequest(in, inbound(fields.SourceBody, tt.key))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)

			resp := source.HTTPResponse{Response: &http.Response{Header: http.Header{}}, Buffer: bodybuf.FromBytes([]byte(tt.body))}
			v, err = h.ExtractFromDownstreamResponse(resp, inbound(fields.SourceBody, tt.key))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	unbuffered := &source.HTTPRequest{Request: httptest.NewRequest(http.MethodPost, "/", strings.NewReader(doc))}
	v, err := h.ExtractFromUpstreamRequest(unbuffered, inbound(fields.SourceBody, "$.user.id"))
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestBodyEnrichment(t *testing.T) {
	h := handler(t, source.NewRegistry(), fields.SourceBody)
	data := source.PropagationData{Key: "$.meta.tenant", Value: "t-1", Override: true}

	req := httptest.NewRequest(http.MethodPost, "http://svc/", strings.NewReader(`{"name":"x"}`))
	out := source.NewOutgoingRequest(req)
	require.NoError(t, h.EnrichDownstreamRequest(out, data))
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","meta":{"tenant":"t-1"}}`, string(body))
	assert.Equal(t, int64(len(body)), req.ContentLength)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	empty := source.NewOutgoingRequest(httptest.NewRequest(http.MethodPost, "http://svc/", nil))
	require.NoError(t, h.EnrichDownstreamRequest(empty, data))
	assert.JSONEq(t, `{"meta":{"tenant":"t-1"}}`, string(empty.Body().([]byte)))

	keep := source.NewOutgoingRequest(httptest.NewRequest(http.MethodPost, "http://svc/", strings.NewReader(`{"meta":{"tenant":"t-0"}}`)))
	noOverride := data
	noOverride.Override = false
	require.NoError(t, h.EnrichDownstreamRequest(keep, noOverride))
	assert.JSONEq(t, `{"meta":{"tenant":"t-0"}}`, string(keep.Body().([]byte)))
}

func TestForm(t *testing.T) {
	h := handler(t, source.NewRegistry(), fields.SourceForm)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	in := &source.HTTPRequest{Request: req, Buffer: bodybuf.FromBytes([]byte("tenant=t-1&tenant=t-2&user=u%201"))}

	v, err := h.ExtractFromUpstreamRequest(in, inbound(fields.SourceForm, "tenant"))
	require.NoError(t, err)
	assert.Equal(t, "t-1", v)

	v, err = h.ExtractFromUpstreamRequest(in, inbound(fields.SourceForm, "user"))
	require.NoError(t, err)
	assert.Equal(t, "u 1", v)

	req.Header.Set("Content-Type", "application/json")
	v, err = h.ExtractFromUpstreamRequest(in, inbound(fields.SourceForm, "tenant"))
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestPropagationDataMasked(t *testing.T) {
	assert.Equal(t, "u-1", source.PropagationData{Value: "u-1"}.Masked())
	assert.Equal(t, "***", source.PropagationData{Value: "u-1", Sensitive: true}.Masked())
	assert.Equal(t, "***1111", source.PropagationData{Value: "4111111111111111", Sensitive: true, Masking: "*-4"}.Masked())
}
