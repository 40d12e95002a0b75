package observability

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/fields"
)

const (
	meterName = "github.com/rainbow-me/ctxfields"

	metricRequests    = "ctxfields.requests"
	metricDiagnostics = "ctxfields.diagnostics"
)

// Recorder counts requests and extraction diagnostics, labelled with the metric attributes of the
// request store.
type Recorder struct {
	cfg         *fields.Config
	requests    metric.Int64Counter
	diagnostics metric.Int64Counter
}

// NewRecorder creates the instruments on provider, or on the global provider when nil.
func NewRecorder(cfg *fields.Config, provider metric.MeterProvider) (*Recorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	r := &Recorder{cfg: cfg}
	var err error
	if r.requests, err = meter.Int64Counter(metricRequests,
		metric.WithDescription("Requests processed with context fields"), metric.WithUnit("{request}")); err != nil {
		return nil, errors.Wrap(err, "failed to create requests counter")
	}
	if r.diagnostics, err = meter.Int64Counter(metricDiagnostics,
		metric.WithDescription("Context fields that could not be resolved"), metric.WithUnit("{diagnostic}")); err != nil {
		return nil, errors.Wrap(err, "failed to create diagnostics counter")
	}
	return r, nil
}

// RecordRequest adds one request, plus one diagnostic per unresolved field.
func (r *Recorder) RecordRequest(ctx context.Context, store *correlation.Store, extra ...attribute.KeyValue) {
	if r == nil {
		return
	}
	attrs := append(MetricAttributes(r.cfg, store), extra...)
	r.requests.Add(ctx, 1, metric.WithAttributes(attrs...))

	for _, d := range store.Diagnostics() {
		r.diagnostics.Add(ctx, 1, metric.WithAttributes(
			attribute.String("field", d.Field),
			attribute.String("stage", d.Stage),
		))
	}
}
