package gin

import (
	"bytes"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rainbow-me/ctxfields/common/bodybuf"
	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/logger"
)

// traceBodyLimit caps how much of a body is kept for trace logging.
const traceBodyLimit = 64 << 10

type loggingCfg struct {
	debug bool
	trace bool
}

type responseWriterCapture struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriterCapture) Write(data []byte) (int, error) {
	if room := traceBodyLimit - w.body.Len(); room > 0 {
		w.body.Write(data[:min(len(data), room)])
	}
	return w.ResponseWriter.Write(data)
}

func (w *responseWriterCapture) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func RequestLogging(cfg loggingCfg) gin.HandlerFunc {
	return func(c *gin.Context) {
		var reqBody []byte

		if cfg.trace && c.Request.Body != nil {
			buf, body, err := bodybuf.Wrap(c.Request.Body, traceBodyLimit)
			c.Request.Body = body
			if err == nil {
				reqBody = buf.Bytes()
			}
		}

		start := time.Now()

		var responseCapture *responseWriterCapture
		if cfg.trace {
			responseCapture = &responseWriterCapture{
				ResponseWriter: c.Writer,
				body:           &bytes.Buffer{},
			}
			c.Writer = responseCapture
		}

		c.Next()

		// the store is attached further down the chain, so read it from the final request context
		ctx := c.Request.Context()
		store := correlation.FromContext(ctx)
		if diags := store.Diagnostics(); len(diags) > 0 {
			missing := make([]string, 0, len(diags))
			for _, d := range diags {
				missing = append(missing, d.Field)
			}
			logger.FromContext(ctx).Warn("Context fields could not be resolved",
				logger.Strings("fields", missing),
				logger.String("path", c.Request.URL.Path),
			)
		}

		if !cfg.debug {
			return
		}
		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("component", componentName),
		}
		if cfg.trace {
			fields = append(fields,
				logger.ByteString("request_body", reqBody),
				logger.ByteString("response_body", responseCapture.body.Bytes()),
			)
		}

		logLevel := logger.DebugLevel
		if c.Writer.Status() >= 500 {
			logLevel = logger.ErrorLevel
		} else if c.Writer.Status() >= 400 {
			logLevel = logger.WarnLevel
		}
		logger.FromContext(ctx).Log(logLevel, "HTTP request handled", fields...)
	}
}
