package logger

import (
	"fmt"
	"strconv"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Field = zap.Field

var (
	Any        = zap.Any
	Bool       = zap.Bool
	ByteString = zap.ByteString
	Duration   = zap.Duration
	Float64    = zap.Float64
	Int        = zap.Int
	Int64      = zap.Int64
	String     = zap.String
	Strings    = zap.Strings
	Uint64     = zap.Uint64
	Error      = zap.Error
	Errors     = zap.Errors
)

type Level zapcore.Level

const (
	DebugLevel  = Level(zapcore.DebugLevel)
	InfoLevel   = Level(zapcore.InfoLevel)
	WarnLevel   = Level(zapcore.WarnLevel)
	ErrorLevel  = Level(zapcore.ErrorLevel)
	DPanicLevel = Level(zapcore.DPanicLevel)
	PanicLevel  = Level(zapcore.PanicLevel)
	FatalLevel  = Level(zapcore.FatalLevel)
)

// Log keys shared by the trace helpers
const (
	TraceIDKey   = "dd.trace_id"
	SpanIDKey    = "dd.span_id"
	PanicKey     = "panic_value"
	PanicTypeKey = "panic_type"
)

// WithTrace returns the fields that correlate a log line with a Datadog span.
func WithTrace(spanCtx *tracer.SpanContext) []Field {
	if spanCtx == nil {
		return nil
	}
	return []Field{
		String(TraceIDKey, spanCtx.TraceID()),
		String(SpanIDKey, strconv.FormatUint(spanCtx.SpanID(), 10)),
	}
}

// WithPanic returns fields describing a recovered panic, including the stack.
func WithPanic(r any) []Field {
	return []Field{
		String(PanicKey, fmt.Sprintf("%v", r)),
		String(PanicTypeKey, fmt.Sprintf("%T", r)),
		zap.StackSkip("stack_trace", 2),
	}
}
