package interceptors

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/rainbow-me/ctxfields/common/logger"
)

const (
	DefaultInterceptorLogLevel      = logger.InfoLevel
	DefaultInterceptorErrorLogLevel = logger.WarnLevel
)

type LoggingInterceptorConfig struct {
	LogEnabled   bool
	LogRequests  bool
	LogResponses bool
	// LogParamsBlocklist prunes payload fields, by protobuf field path, before they are logged.
	LogParamsBlocklist []*fieldmaskpb.FieldMask
	LogLevel           logger.Level
	ErrorLogLevel      logger.Level

	// GrpcCodeLogLevel overrides ErrorLogLevel for the listed codes. codes.OK has no effect.
	GrpcCodeLogLevel map[codes.Code]logger.Level

	skipLoggingByMethod map[string]struct{}
}

type LoggingInterceptorOption func(*LoggingInterceptorConfig)

// LogParams logs both request and response payloads.
func LogParams(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogRequests = v
		o.LogResponses = v
	}
}

func LogEnabled(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogEnabled = v
	}
}

func LogRequests(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogRequests = v
	}
}

func LogResponses(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogResponses = v
	}
}

func LogLevel(level logger.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogLevel = level
	}
}

func ErrorLogLevel(level logger.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.ErrorLogLevel = level
	}
}

func GrpcCodeLogLevel(levels map[codes.Code]logger.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.GrpcCodeLogLevel = levels
	}
}

// WithPayloadBlocklist drops the given protobuf field paths, e.g. "user.password", from logged
// payloads.
func WithPayloadBlocklist(paths ...string) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogParamsBlocklist = append(o.LogParamsBlocklist, &fieldmaskpb.FieldMask{Paths: paths})
	}
}

func WithSkippedLogsByMethods(methods ...string) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		if o.skipLoggingByMethod == nil {
			o.skipLoggingByMethod = make(map[string]struct{}, len(methods))
		}
		for _, method := range methods {
			o.skipLoggingByMethod[method] = struct{}{}
		}
	}
}

func interceptorConfig(opts ...LoggingInterceptorOption) *LoggingInterceptorConfig {
	cfg := &LoggingInterceptorConfig{
		LogEnabled:    true,
		LogLevel:      DefaultInterceptorLogLevel,
		ErrorLogLevel: DefaultInterceptorErrorLogLevel,
		GrpcCodeLogLevel: map[codes.Code]logger.Level{ //nolint:exhaustive
			codes.Canceled: logger.WarnLevel,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
