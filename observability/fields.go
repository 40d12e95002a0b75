package observability

import (
	"context"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/logger"
)

// LogFields returns the stored fields that have logging enabled. Sensitive values are masked.
func LogFields(cfg *fields.Config, store *correlation.Store) []logger.Field {
	snap := store.Snapshot()
	var out []logger.Field
	for _, name := range cfg.Names() {
		v, ok := snap[name]
		if !ok {
			continue
		}
		f, _ := cfg.Field(name)
		if !f.Observability.Logging.On(true) {
			continue
		}
		out = append(out, logger.String(f.Observability.Logging.TagName(name), f.Mask(v)))
	}
	return out
}

// TraceTags returns span tags for fields with tracing enabled. Sensitive fields are left out unless
// allowSensitive is set, in which case they are masked.
func TraceTags(cfg *fields.Config, store *correlation.Store) map[string]string {
	snap := store.Snapshot()
	tags := map[string]string{}
	for _, name := range cfg.Names() {
		v, ok := snap[name]
		if !ok {
			continue
		}
		f, _ := cfg.Field(name)
		if !f.Observability.Tracing.On(false) {
			continue
		}
		if v, ok = exportable(f, v); ok {
			tags[f.Observability.Tracing.TagName(name)] = v
		}
	}
	return tags
}

// MetricAttributes returns metric attributes for fields with metrics enabled whose cardinality is
// known and no higher than the configured maximum.
func MetricAttributes(cfg *fields.Config, store *correlation.Store) []attribute.KeyValue {
	snap := store.Snapshot()
	maxRank := cfg.Settings().MetricsMaxCardinality.Rank()

	var attrs []attribute.KeyValue
	for _, name := range cfg.Names() {
		v, ok := snap[name]
		if !ok {
			continue
		}
		f, _ := cfg.Field(name)
		card := f.Observability.Cardinality
		if !f.Observability.Metrics.On(false) || card == fields.CardinalityNone || card.Rank() > maxRank {
			continue
		}
		if v, ok = exportable(f, v); ok {
			attrs = append(attrs, attribute.String(f.Observability.Metrics.TagName(name), v))
		}
	}
	return attrs
}

// TagSpan sets the trace tags on the active span of ctx, if any.
func TagSpan(ctx context.Context, cfg *fields.Config, store *correlation.Store) {
	span, ok := tracer.SpanFromContext(ctx)
	if !ok {
		return
	}
	for k, v := range TraceTags(cfg, store) {
		span.SetTag(k, v)
	}
}

// ContextWithFields adds the log fields of the store to the context logger.
func ContextWithFields(ctx context.Context, cfg *fields.Config, store *correlation.Store) context.Context {
	return logger.ContextWithFields(ctx, LogFields(cfg, store)...)
}

func exportable(f *fields.FieldConfiguration, v string) (string, bool) {
	if !f.Security.Sensitive {
		return v, true
	}
	if !f.Observability.AllowSensitive {
		return "", false
	}
	return f.Mask(v), true
}

// LogFieldsSince returns the log fields of values that were added or changed after before was taken.
func LogFieldsSince(cfg *fields.Config, store *correlation.Store, before correlation.Data) []logger.Field {
	snap := store.Snapshot()
	var out []logger.Field
	for _, name := range cfg.Names() {
		v, ok := snap[name]
		if !ok || before[name] == v {
			continue
		}
		f, _ := cfg.Field(name)
		if !f.Observability.Logging.On(true) {
			continue
		}
		out = append(out, logger.String(f.Observability.Logging.TagName(name), f.Mask(v)))
	}
	return out
}
