package interceptors

import (
	"context"
	"time"

	grpctrace "github.com/DataDog/dd-trace-go/contrib/google.golang.org/grpc/v2"
	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcrecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
	"github.com/rainbow-me/ctxfields/observability"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Config holds the options of the default server interceptor chain.
type Config struct {
	// ServiceName enables Datadog tracing when set.
	ServiceName          string
	RequestTimeout       time.Duration
	PanicRecoveryEnabled bool
	Propagator           *propagation.Propagator
	Recorder             *observability.Recorder
	// Logger receives the request log lines, the global logger when nil.
	Logger         *logger.Logger
	LoggingOptions []LoggingInterceptorOption
}

// ConfigOption is a functional option for configuring the interceptor chain
type ConfigOption func(*Config)

// WithRequestTimeout sets the server-side request timeout duration, 0 disables it.
func WithRequestTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = timeout
	}
}

// WithPanicRecovery enables or disables panic recovery interceptor
func WithPanicRecovery(enabled bool) ConfigOption {
	return func(c *Config) {
		c.PanicRecoveryEnabled = enabled
	}
}

// WithTracing traces every call except health checks under serviceName.
func WithTracing(serviceName string) ConfigOption {
	return func(c *Config) {
		c.ServiceName = serviceName
	}
}

// WithPropagator enables context field extraction and response header enrichment.
func WithPropagator(p *propagation.Propagator) ConfigOption {
	return func(c *Config) {
		c.Propagator = p
	}
}

func WithMetricsRecorder(r *observability.Recorder) ConfigOption {
	return func(c *Config) {
		c.Recorder = r
	}
}

func WithLogger(log *logger.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithLoggingOptions replaces the default logging options, which skip health checks.
func WithLoggingOptions(opts ...LoggingInterceptorOption) ConfigOption {
	return func(c *Config) {
		c.LoggingOptions = opts
	}
}

// NewConfig creates a new configuration with sensible defaults
func NewConfig(opts ...ConfigOption) *Config {
	config := &Config{
		RequestTimeout:       30 * time.Second,
		PanicRecoveryEnabled: true,
		LoggingOptions: []LoggingInterceptorOption{
			WithSkippedLogsByMethods(healthCheckMethod),
		},
	}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// DefaultUnaryServerInterceptors chains panic recovery, tracing, the server deadline, the context
// field interceptor, which tags the active span, and request logging. Mount
// PostAuthUnaryServerInterceptor after the authentication interceptor.
func DefaultUnaryServerInterceptors(opts ...ConfigOption) grpc.UnaryServerInterceptor {
	cfg := NewConfig(opts...)

	var chain []grpc.UnaryServerInterceptor
	if cfg.PanicRecoveryEnabled {
		chain = append(chain, grpcrecovery.UnaryServerInterceptor(
			grpcrecovery.WithRecoveryHandlerContext(recoverPanic),
		))
	}
	if cfg.ServiceName != "" {
		chain = append(chain, grpctrace.UnaryServerInterceptor(
			grpctrace.WithService(cfg.ServiceName),
			grpctrace.WithUntracedMethods(healthCheckMethod),
		))
	}
	if cfg.RequestTimeout > 0 {
		chain = append(chain, ServerDeadlineInterceptor(cfg.RequestTimeout))
	}
	if cfg.Propagator != nil {
		chain = append(chain, UnaryServerInterceptor(cfg.Propagator, cfg.Recorder))
	}
	chain = append(chain, UnaryLoggerServerInterceptor(cfg.Logger, cfg.LoggingOptions...))
	return grpcmiddleware.ChainUnaryServer(chain...)
}

// DefaultStreamServerInterceptors is the streaming counterpart of DefaultUnaryServerInterceptors.
// Streams carry no server deadline.
func DefaultStreamServerInterceptors(opts ...ConfigOption) grpc.StreamServerInterceptor {
	cfg := NewConfig(opts...)

	var chain []grpc.StreamServerInterceptor
	if cfg.PanicRecoveryEnabled {
		chain = append(chain, grpcrecovery.StreamServerInterceptor(
			grpcrecovery.WithRecoveryHandlerContext(recoverPanic),
		))
	}
	if cfg.ServiceName != "" {
		chain = append(chain, grpctrace.StreamServerInterceptor(grpctrace.WithService(cfg.ServiceName)))
	}
	if cfg.Propagator != nil {
		chain = append(chain, StreamServerInterceptor(cfg.Propagator, cfg.Recorder))
	}
	chain = append(chain, StreamLoggerServerInterceptor(cfg.Logger, cfg.LoggingOptions...))
	return grpcmiddleware.ChainStreamServer(chain...)
}

// DefaultUnaryClientInterceptors traces outgoing calls under serviceName, when set, propagates
// context fields and logs the calls. fallback is used when the call context carries no propagator.
func DefaultUnaryClientInterceptors(
	serviceName string,
	fallback *propagation.Propagator,
	log *logger.Logger,
	loggerOpts ...LoggingInterceptorOption,
) grpc.UnaryClientInterceptor {
	var chain []grpc.UnaryClientInterceptor
	if serviceName != "" {
		chain = append(chain, grpctrace.UnaryClientInterceptor(grpctrace.WithService(serviceName)))
	}
	chain = append(chain,
		UnaryLoggerClientInterceptor(log, loggerOpts...),
		UnaryClientInterceptor(fallback),
	)
	return grpcmiddleware.ChainUnaryClient(chain...)
}

// recoverPanic logs the panic and hides its details from the client.
func recoverPanic(ctx context.Context, p interface{}) error {
	logger.FromContext(ctx).Error("Recovered from panic in gRPC handler", logger.WithPanic(p)...)
	return status.Error(codes.Internal, "Internal server error occurred")
}

// ServerDeadlineInterceptor enforces a maximum server-side timeout. A shorter client deadline wins.
func ServerDeadlineInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context, req interface{},
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctxWithTimeout, req)
	}
}
