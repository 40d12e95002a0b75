package gin_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
	"github.com/rainbow-me/ctxfields/common/test"
	ctxhttp "github.com/rainbow-me/ctxfields/http"
	ginterceptors "github.com/rainbow-me/ctxfields/http/interceptors/gin"
	"github.com/rainbow-me/ctxfields/http/interceptors/resty"
)

const fieldsDoc = `
fields:
  userId:
    upstream:
      inbound:
        source: HEADER
        key: X-User-ID
      outbound:
        enrichAs: HEADER
        key: X-User-ID
    downstream:
      outbound:
        enrichAs: HEADER
        key: X-User-ID
  requestId:
    upstream:
      inbound:
        source: HEADER
        key: X-Request-ID
        generateIfAbsent: true
      outbound:
        enrichAs: HEADER
        key: X-Request-ID
  email:
    upstream:
      inbound:
        source: CLAIM
        claimPath: user.email
    downstream:
      outbound:
        enrichAs: HEADER
        key: X-User-Email
    security:
      sensitive: true
      masking: email
  orderId:
    upstream:
      inbound:
        source: PATH
        key: orderId
    downstream:
      outbound:
        enrichAs: QUERY
        key: order
  accountId:
    upstream:
      inbound:
        source: BODY
        key: $.account.id
  downstreamVersion:
    downstream:
      inbound:
        source: HEADER
        key: X-Version
    upstream:
      outbound:
        enrichAs: HEADER
        key: X-Downstream-Version
`

type downstreamCall struct {
	userID string
	email  string
	order  string
}

func newRouter(t *testing.T, downstreamURL string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p := propagation.New(test.NewConfig(t, fieldsDoc))
	client := ctxhttp.NewRestyWithClient(&http.Client{}, test.NewLogger(t), resty.WithTracingEnabled(false))
	log := test.NewLogger(t)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), *log))
		c.Next()
	})
	r.Use(ginterceptors.DefaultInterceptors(
		ginterceptors.WithPropagator(p),
		ginterceptors.WithTracingEnabled(false),
		ginterceptors.WithCompressionLevel(gzip.NoCompression),
	)...)
	r.Use(func(c *gin.Context) {
		if c.GetHeader("Authorization") == "Bearer valid" {
			c.Set(ginterceptors.ClaimsKey, map[string]any{
				"user": map[string]any{"email": "jane.doe@example.com"},
			})
		}
		c.Next()
	})
	r.Use(ginterceptors.PostAuthMiddleware(p))

	r.GET("/orders/:orderId", func(c *gin.Context) {
		resp, err := client.R().SetContext(c.Request.Context()).Get(downstreamURL)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"downstream": resp.StatusCode()})
	})
	r.POST("/accounts", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"accountId": correlation.Get(c.Request.Context(), "accountId"),
			"echo":      body["account"],
		})
	})
	r.DELETE("/orders/:orderId", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func newDownstream(t *testing.T, calls chan<- downstreamCall) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- downstreamCall{
			userID: r.Header.Get("X-User-ID"),
			email:  r.Header.Get("X-User-Email"),
			order:  r.URL.Query().Get("order"),
		}
		w.Header().Set("X-Version", "inventory-3.1")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFieldsEndToEnd(t *testing.T) {
	calls := make(chan downstreamCall, 1)
	router := newRouter(t, newDownstream(t, calls).URL)

	req := httptest.NewRequest(http.MethodGet, "/orders/o-17", nil)
	req.Header.Set("X-User-ID", "u-42")
	req.Header.Set("X-Request-ID", "req-1")
	req.Header.Set("Authorization", "Bearer valid")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	call := <-calls
	assert.Equal(t, "u-42", call.userID)
	assert.Equal(t, "jane.doe@example.com", call.email, "downstream receives the raw value")
	assert.Equal(t, "o-17", call.order)

	assert.Equal(t, "u-42", rec.Header().Get("X-User-ID"))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "inventory-3.1", rec.Header().Get("X-Downstream-Version"))
}

func TestFieldsGeneratedRequestID(t *testing.T) {
	calls := make(chan downstreamCall, 1)
	router := newRouter(t, newDownstream(t, calls).URL)

	req := httptest.NewRequest(http.MethodGet, "/orders/o-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	call := <-calls
	assert.Empty(t, call.userID)
	assert.Empty(t, call.email, "claims are not available without authentication")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
	assert.Empty(t, rec.Header().Values("X-User-ID"))
}

func TestFieldsBodySource(t *testing.T) {
	router := newRouter(t, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"account":{"id":"acc-9"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accountId":"acc-9","echo":{"id":"acc-9"}}`, string(body))
}

func TestFieldsEmptyResponse(t *testing.T) {
	router := newRouter(t, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodDelete, "/orders/o-2", nil)
	req.Header.Set("X-User-ID", "u-5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-5", rec.Header().Get("X-User-ID"))
}

func TestPostAuthWithoutStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := propagation.New(test.NewConfig(t, fieldsDoc))

	r := gin.New()
	r.Use(ginterceptors.PostAuthMiddleware(p))
	r.GET("/", func(c *gin.Context) {
		_, ok := correlation.StoreFromContext(c.Request.Context())
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
