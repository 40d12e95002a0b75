package observability

import (
	"context"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/rainbow-me/ctxfields/common/logger"
)

type config struct {
	RuntimeMetrics bool
	Analytics      bool
	DebugStack     bool
	MeterReaders   []sdkmetric.Reader
}

type Option func(o *config)

// WithRuntimeMetrics enables Go runtime metrics pushed to DataDog. Default enabled.
func WithRuntimeMetrics(enabled bool) Option {
	return func(c *config) {
		c.RuntimeMetrics = enabled
	}
}

// WithAnalytics toggles trace analytics. Default enabled.
func WithAnalytics(enabled bool) Option {
	return func(c *config) {
		c.Analytics = enabled
	}
}

// WithDebugStack captures stack traces when an error is set on a span. Default disabled.
func WithDebugStack(enabled bool) Option {
	return func(c *config) {
		c.DebugStack = enabled
	}
}

// WithMeterReader registers a reader on the global OpenTelemetry meter provider that backs the
// context field metrics. Without readers the global provider is left untouched.
func WithMeterReader(reader sdkmetric.Reader) Option {
	return func(c *config) {
		c.MeterReaders = append(c.MeterReaders, reader)
	}
}

// InitObservability starts the tracer and, when readers are given, installs the meter provider.
// The returned function shuts both down.
func InitObservability(serviceName, env string, log *logger.Logger, opts ...Option) (shutdown func()) {
	log.Info("Starting tracer")
	cfg := &config{
		RuntimeMetrics: true,
		Analytics:      true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	tracerOpts := []tracer.StartOption{
		tracer.WithEnv(env),
		tracer.WithService(serviceName),
		tracer.WithLogger((*logger.Adapter)(log)),
		tracer.WithDebugStack(cfg.DebugStack),
		tracer.WithAnalytics(cfg.Analytics),
	}
	if cfg.RuntimeMetrics {
		tracerOpts = append(tracerOpts, tracer.WithRuntimeMetrics())
	}
	if err := tracer.Start(tracerOpts...); err != nil {
		log.Error("Failed to start tracer", logger.Error(err))
	}

	var provider *sdkmetric.MeterProvider
	if len(cfg.MeterReaders) > 0 {
		providerOpts := make([]sdkmetric.Option, 0, len(cfg.MeterReaders))
		for _, r := range cfg.MeterReaders {
			providerOpts = append(providerOpts, sdkmetric.WithReader(r))
		}
		provider = sdkmetric.NewMeterProvider(providerOpts...)
		otel.SetMeterProvider(provider)
	}

	return func() {
		tracer.Stop()
		if provider != nil {
			if err := provider.Shutdown(context.Background()); err != nil {
				log.Warn("Failed to shut down meter provider", logger.Error(err))
			}
		}
	}
}
