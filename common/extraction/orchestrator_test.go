package extraction_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/rainbow-me/ctxfields/common/bodybuf"
	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/extraction"
	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/source"
)

const config = `
fields:
  userId:
    upstream:
      inbound:
        source: HEADER
        key: X-User-ID
        fallback:
          source: QUERY
          key: user_id
          fallback:
            source: COOKIE
            key: uid
  tenantId:
    upstream:
      inbound:
        source: HEADER
        key: X-Tenant-ID
        required: true
        transformation: LOWERCASE
  email:
    upstream:
      inbound:
        source: CLAIM
        claimPath: user.email
        defaultValue: anonymous@example.com
        required: false
  orderId:
    upstream:
      inbound:
        source: PATH
        key: orderId
  requestId:
    upstream:
      inbound:
        source: HEADER
        key: X-Request-ID
        generateIfAbsent: true
  version:
    downstream:
      inbound:
        source: BODY
        key: $.meta.version
        fallback:
          source: HEADER
          key: X-Version
`

type fixedGenerator struct{ value string }

func (g fixedGenerator) Generate(fields.GeneratorType) (string, error) { return g.value, nil }

func newOrchestrator(t *testing.T, doc string, opts ...extraction.Opt) (*extraction.Orchestrator, *fields.Config) {
	t.Helper()
	cfg, err := fields.Parse([]byte(doc))
	require.NoError(t, err)
	return extraction.New(cfg, source.NewRegistryForConfig(cfg), opts...), cfg
}

func testContext(t *testing.T) context.Context {
	return logger.ContextWithLogger(context.Background(), *logger.NewLogger(zaptest.NewLogger(t)))
}

func TestSummary(t *testing.T) {
	o, _ := newOrchestrator(t, config)
	assert.Equal(t, extraction.Summary{
		PreAuthFields:    []string{"requestId", "tenantId", "userId"},
		PostAuthFields:   []string{"email", "orderId"},
		DownstreamFields: []string{"version"},
	}, o.Summary())
}

func TestExtractPhases(t *testing.T) {
	o, cfg := newOrchestrator(t, config, extraction.WithGenerator(fixedGenerator{value: "generated-1"}))
	ctx := testContext(t)

	req := httptest.NewRequest(http.MethodGet, "/orders/9?user_id=u-from-query", nil)
	req.Header.Set("X-Tenant-ID", "ACME")
	in := &source.HTTPRequest{Request: req, PathParams: map[string]string{"orderId": "9"}}

	store := correlation.NewStore(cfg)
	o.ExtractPreAuth(ctx, store, in)
	assert.Equal(t, correlation.Data{
		"userId":    "u-from-query",
		"tenantId":  "acme",
		"requestId": "generated-1",
	}, store.Snapshot())

	o.ExtractPostAuth(ctx, store, in)
	assert.Equal(t, "anonymous@example.com", store.Get("email"))
	assert.Equal(t, "9", store.Get("orderId"))
	assert.Empty(t, store.Diagnostics())
}

func TestClaimDefaultWithoutToken(t *testing.T) {
	o, cfg := newOrchestrator(t, config)
	store := correlation.NewStore(cfg)
	o.ExtractPostAuth(testContext(t), store, &source.HTTPRequest{Request: httptest.NewRequest(http.MethodGet, "/", nil)})

	assert.Equal(t, "anonymous@example.com", store.Get("email"))
	assert.Empty(t, store.Diagnostics())
}

func TestRequiredFieldMissing(t *testing.T) {
	o, cfg := newOrchestrator(t, config)
	store := correlation.NewStore(cfg)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u-42")

	o.ExtractPreAuth(testContext(t), store, &source.HTTPRequest{Request: req})

	assert.Equal(t, "u-42", store.Get("userId"))
	assert.False(t, store.Has("tenantId"))
	require.Len(t, store.Diagnostics(), 1)
	assert.Equal(t, correlation.Diagnostic{Field: "tenantId", Stage: "upstream.inbound", Message: "required field is missing"}, store.Diagnostics()[0])

	_, err := uuid.Parse(store.Get("requestId"))
	assert.NoError(t, err, "default generator produces a uuid")
}

func TestExtractDownstream(t *testing.T) {
	o, cfg := newOrchestrator(t, config)
	ctx := testContext(t)
	store := correlation.NewStore(cfg)

	resp := source.HTTPResponse{
		Response: &http.Response{Header: http.Header{"X-Version": {"v-header"}}},
		Buffer:   bodybuf.FromBytes([]byte(`{"meta":{"version":"v-body"}}`)),
	}
	o.ExtractDownstream(ctx, store, resp)
	assert.Equal(t, "v-body", store.Get("version"))

	invalid := source.HTTPResponse{Response: resp.Response, Buffer: bodybuf.FromBytes([]byte(`not json`))}
	o.ExtractDownstream(ctx, store, invalid)
	assert.Equal(t, "v-header", store.Get("version"))

	empty := source.HTTPResponse{Response: &http.Response{Header: http.Header{}}}
	o.ExtractDownstream(ctx, store, empty)
	assert.Equal(t, "v-header", store.Get("version"), "empty capture keeps the previous value")
}

func TestExtractDownstreamDefaultKeepsStoredValue(t *testing.T) {
	cfg, err := fields.Parse([]byte(`
fields:
  serviceVersion:
    downstream:
      inbound: {source: HEADER, key: X-Version, defaultValue: unknown, required: true}
`))
	require.NoError(t, err)
	o := extraction.New(cfg, source.NewRegistry())
	ctx := testContext(t)

	fresh := correlation.NewStore(cfg)
	o.ExtractDownstream(ctx, fresh, source.HTTPResponse{Response: &http.Response{Header: http.Header{}}})
	assert.Equal(t, "unknown", fresh.Get("serviceVersion"), "default applies while nothing is stored")

	store := correlation.NewStore(cfg)
	o.ExtractDownstream(ctx, store, source.HTTPResponse{Response: &http.Response{Header: http.Header{"X-Version": {"v1"}}}})
	require.Equal(t, "v1", store.Get("serviceVersion"))

	o.ExtractDownstream(ctx, store, source.HTTPResponse{Response: &http.Response{Header: http.Header{}}})
	assert.Equal(t, "v1", store.Get("serviceVersion"))
	assert.Empty(t, store.Diagnostics())
}

type panickingHandler struct {
	source.Handler
}

func (panickingHandler) Source() fields.SourceType { return fields.SourceCookie }

func (panickingHandler) ExtractFromUpstreamRequest(source.UpstreamRequest, *fields.InboundConfig) (string, error) {
	panic("boom")
}

func TestFieldFailuresAreIsolated(t *testing.T) {
	cfg, err := fields.Parse([]byte(`
fields:
  broken:
    upstream: {inbound: {source: COOKIE, key: c}}
  userId:
    upstream: {inbound: {source: HEADER, key: X-User-ID}}
`))
	require.NoError(t, err)
	o := extraction.New(cfg, source.NewRegistry(source.WithHandler(panickingHandler{})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u-1")
	store := correlation.NewStore(cfg)
	o.ExtractPreAuth(testContext(t), store, &source.HTTPRequest{Request: req})

	assert.Equal(t, "u-1", store.Get("userId"))
	require.Len(t, store.Diagnostics(), 1)
	assert.Equal(t, "broken", store.Diagnostics()[0].Field)
}

func TestNilStoreIsIgnored(t *testing.T) {
	o, _ := newOrchestrator(t, config)
	assert.NotPanics(t, func() {
		o.ExtractPreAuth(context.Background(), nil, &source.HTTPRequest{Request: httptest.NewRequest(http.MethodGet, "/", nil)})
	})
}

// The stored value is the first non-empty resolution along the chain.
func TestFallbackChainResolvesLastNonEmpty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, fields.MaxFallbackDepth).Draw(t, "fallbacks")
		value := rapid.StringMatching(`[a-z0-9-]{1,16}`).Draw(t, "value")

		primary := &fields.InboundConfig{Source: fields.SourceHeader, Key: "X-K0"}
		last := primary
		for i := 1; i <= n; i++ {
			last.Fallback = &fields.InboundConfig{Source: fields.SourceHeader, Key: fmt.Sprintf("X-K%d", i)}
			last = last.Fallback
		}
		cfg, err := fields.New(map[string]*fields.FieldConfiguration{
			"f": {Upstream: &fields.Direction{Inbound: primary}},
		}, fields.Settings{})
		if err != nil {
			t.Fatalf("config: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(last.Key, value)
		store := correlation.NewStore(cfg)
		extraction.New(cfg, source.NewRegistry()).ExtractPreAuth(context.Background(), store, &source.HTTPRequest{Request: req})

		if got := store.Get("f"); got != value {
			t.Fatalf("stored %q, want %q", got, value)
		}
	})
}

func TestIDGenerator(t *testing.T) {
	g := extraction.NewIDGenerator()

	for _, kind := range []fields.GeneratorType{fields.GeneratorUUID, fields.GeneratorUUIDv7} {
		v, err := g.Generate(kind)
		require.NoError(t, err)
		_, err = uuid.Parse(v)
		assert.NoError(t, err, kind)
	}

	ts, err := g.Generate(fields.GeneratorTimestamp)
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339Nano, ts)
	assert.NoError(t, err)

	a, err := g.Generate(fields.GeneratorSequence)
	require.NoError(t, err)
	b, err := g.Generate(fields.GeneratorSequence)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = g.Generate("NOPE")
	assert.Error(t, err)
}
