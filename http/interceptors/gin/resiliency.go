package gin

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/rainbow-me/ctxfields/common/env"
	"github.com/rainbow-me/ctxfields/common/logger"
)

// ErrorHandlingMiddleware logs the last handler error with the request logger, which carries the
// context fields, and tags the span with it. Handlers that did not write a response get a 504
// when their context timed out and a 500 otherwise.
func ErrorHandlingMiddleware(c *gin.Context) {
	c.Next()
	if len(c.Errors) == 0 {
		return
	}
	err := c.Errors.Last().Err
	ctx := c.Request.Context()

	status, kind := http.StatusInternalServerError, "internal"
	if errors.Is(err, context.DeadlineExceeded) {
		status, kind = http.StatusGatewayTimeout, "timeout"
	}
	logger.FromContext(ctx).Error("Error in gin http handler",
		logger.String("path", c.FullPath()),
		logger.Int("status", status),
		logger.Error(err),
	)
	if env.IsLocalApplicationEnv() {
		// stack traces of cockroachdb errors are only printed with %+v
		_, _ = fmt.Fprintf(os.Stderr, "Error in gin http handler: %+v\n", err)
	}
	tagSpanAsError(ctx, kind, err)
	if !c.Writer.Written() {
		c.JSON(status, gin.H{"message": http.StatusText(status)})
	}
}

// PanicRecoveryMiddleware turns a handler panic into a 500 response, logs it and tags the span.
func PanicRecoveryMiddleware(c *gin.Context) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ctx := c.Request.Context()
		logger.FromContext(ctx).Error("Recovered from panic in gin http handler", logger.WithPanic(r)...)
		if env.IsLocalApplicationEnv() {
			_, _ = fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
		}
		tagSpanAsError(ctx, "panic", errors.Newf("panic: %v", r))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"message": http.StatusText(http.StatusInternalServerError),
		})
	}()
	c.Next()
}

func tagSpanAsError(ctx context.Context, kind string, err error) {
	span, ok := tracer.SpanFromContext(ctx)
	if !ok {
		return
	}
	span.SetTag(ext.Error, true)
	span.SetTag(ext.ErrorType, kind)
	span.SetTag(ext.ErrorMsg, err.Error())
}

// TimeoutMiddleware bounds the request context. Downstream calls made with it are cancelled on
// expiry and leave their fields unset.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
