package gin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/mocktracer"
	"github.com/cockroachdb/errors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbow-me/ctxfields/common/propagation"
	"github.com/rainbow-me/ctxfields/common/test"
	ginterceptors "github.com/rainbow-me/ctxfields/http/interceptors/gin"
)

const tracedDoc = `
fields:
  userId:
    upstream:
      inbound: {source: HEADER, key: X-User-ID}
      outbound: {enrichAs: HEADER, key: X-User-ID}
    observability:
      tracing: {enabled: true, name: user.id}
`

func newTracedRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p := propagation.New(test.NewConfig(t, tracedDoc))

	r := gin.New()
	r.Use(ginterceptors.DefaultInterceptors(
		ginterceptors.WithPropagator(p),
		ginterceptors.WithCompressionLevel(gzip.NoCompression),
	)...)
	r.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/panic", func(*gin.Context) {
		panic("boom")
	})
	r.GET("/timeout", func(c *gin.Context) {
		_ = c.Error(errors.Wrap(context.DeadlineExceeded, "inventory call"))
	})
	r.GET("/failure", func(c *gin.Context) {
		_ = c.Error(errors.New("broken"))
	})
	return r
}

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-User-ID", "u-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTracingTagsContextFields(t *testing.T) {
	mt := mocktracer.Start()
	defer mt.Stop()

	rec := serve(newTracedRouter(t), "/ok")
	require.Equal(t, http.StatusOK, rec.Code)

	spans := mt.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "u-42", spans[0].Tag("user.id"))
	assert.Equal(t, "/ok", spans[0].Tag("http.route"))
}

func TestResiliency(t *testing.T) {
	mt := mocktracer.Start()
	defer mt.Stop()
	router := newTracedRouter(t)

	tests := []struct {
		path   string
		status int
	}{
		{path: "/panic", status: http.StatusInternalServerError},
		{path: "/timeout", status: http.StatusGatewayTimeout},
		{path: "/failure", status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(router, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "u-42", rec.Header().Get("X-User-ID"), "fields are still written on failures")
		})
	}
}
