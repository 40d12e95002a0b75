// Package enrichment turns stored context fields into propagation instructions for the upstream
// response and for downstream calls, and applies them through the source handlers.
package enrichment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/source"
)

var (
	placeholderPattern = regexp.MustCompile(`#([A-Za-z_][A-Za-z0-9_]*)`)
	decimalPattern     = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	hasValuePattern    = regexp.MustCompile(`^\s*hasValue\(\s*#?([A-Za-z_][A-Za-z0-9_]*)\s*\)\s*$`)
)

type Engine struct {
	cfg      *fields.Config
	registry *source.Registry
}

func New(cfg *fields.Config, registry *source.Registry) *Engine {
	return &Engine{cfg: cfg, registry: registry}
}

// Compute returns the propagation data for an outbound stage, in field name order. Fields without
// a value, failing their condition or with an unusable value are skipped.
func (e *Engine) Compute(ctx context.Context, store *correlation.Store, stage fields.Stage) []source.PropagationData {
	if store == nil {
		return nil
	}
	var out []source.PropagationData
	for _, name := range e.cfg.Names() {
		f, _ := e.cfg.Field(name)
		oc := f.Outbound(stage)
		if oc == nil {
			continue
		}
		if data, ok := e.compute(ctx, store, name, f, oc); ok {
			out = append(out, data)
		}
	}
	return out
}

func (e *Engine) compute(ctx context.Context, store *correlation.Store, name string, f *fields.FieldConfiguration,
	oc *fields.OutboundConfig,
) (source.PropagationData, bool) {
	log := logger.FromContext(ctx).With(logger.String("field", name))

	raw := store.Get(name)
	if oc.ValueAs == fields.ValueExpression {
		raw = substitute(oc.Expression, store)
	}
	if raw == "" {
		return source.PropagationData{}, false
	}
	if !e.condition(oc.Condition, store, log) {
		return source.PropagationData{}, false
	}

	value, err := represent(name, raw, oc.ValueAs)
	if err != nil {
		log.Debug("dropping context field from propagation", logger.Error(err))
		return source.PropagationData{}, false
	}

	return source.PropagationData{
		Field:     name,
		Target:    oc.EnrichAs,
		Key:       oc.Key,
		Value:     value,
		Sensitive: f.Security.Sensitive,
		Masking:   f.Security.Masking,
		Override:  oc.ShouldOverride(),
	}, true
}

// condition only understands hasValue(field). Anything else passes.
func (e *Engine) condition(expr string, store *correlation.Store, log logger.Logger) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}
	m := hasValuePattern.FindStringSubmatch(expr)
	if m == nil {
		log.Debug("unsupported propagation condition, treating as true", logger.String("condition", expr))
		return true
	}
	return store.Get(m[1]) != ""
}

// substitute replaces #field placeholders with stored values. It yields "" when none of the
// referenced fields has a value.
func substitute(expr string, store *correlation.Store) string {
	var found bool
	out := placeholderPattern.ReplaceAllStringFunc(expr, func(match string) string {
		v := store.Get(match[1:])
		if v != "" {
			found = true
		}
		return v
	})
	if !found && placeholderPattern.MatchString(expr) {
		return ""
	}
	return out
}

func represent(name, value string, as fields.ValueType) (string, error) {
	switch as {
	case fields.ValueNumber:
		v := strings.TrimSpace(value)
		if !decimalPattern.MatchString(v) {
			return "", errors.Newf("%q is not a decimal number", value)
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "", errors.Wrapf(err, "%q is not a number", value)
		}
		return v, nil
	case fields.ValueBoolean:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "y", "on":
			return "true", nil
		default:
			return "false", nil
		}
	case fields.ValueBase64:
		return base64.StdEncoding.EncodeToString([]byte(value)), nil
	case fields.ValueURLEncoded:
		return url.QueryEscape(value), nil
	case fields.ValueJSONArray:
		b, err := json.Marshal([]string{value})
		return string(b), err
	case fields.ValueJSONObject:
		b, err := json.Marshal(map[string]string{name: value})
		return string(b), err
	default:
		return value, nil
	}
}

// ApplyUpstreamResponse writes the upstream outbound fields into the response to the caller and
// returns what was written.
func (e *Engine) ApplyUpstreamResponse(ctx context.Context, store *correlation.Store, resp source.UpstreamResponse) []source.PropagationData {
	return e.apply(ctx, store, fields.UpstreamOutbound, func(h source.Handler, data source.PropagationData) error {
		return h.EnrichUpstreamResponse(resp, data)
	})
}

// ApplyDownstreamRequest writes the downstream outbound fields into an outgoing call and returns
// what was written.
func (e *Engine) ApplyDownstreamRequest(ctx context.Context, store *correlation.Store, req source.DownstreamRequest) []source.PropagationData {
	return e.apply(ctx, store, fields.DownstreamOutbound, func(h source.Handler, data source.PropagationData) error {
		return h.EnrichDownstreamRequest(req, data)
	})
}

func (e *Engine) apply(ctx context.Context, store *correlation.Store, stage fields.Stage,
	write func(source.Handler, source.PropagationData) error,
) []source.PropagationData {
	var applied []source.PropagationData
	for _, data := range e.Compute(ctx, store, stage) {
		if e.applyOne(ctx, stage, data, write) {
			applied = append(applied, data)
		}
	}
	return applied
}

func (e *Engine) applyOne(ctx context.Context, stage fields.Stage, data source.PropagationData,
	write func(source.Handler, source.PropagationData) error,
) (ok bool) {
	log := logger.FromContext(ctx).With(
		logger.String("field", data.Field),
		logger.String("stage", stage.String()),
		logger.String("target", string(data.Target)),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while propagating context field", logger.WithPanic(r)...)
			ok = false
		}
	}()

	h, found := e.registry.ForTarget(data.Target)
	if !found {
		return false
	}
	if err := write(h, data); err != nil {
		if errors.Is(err, source.ErrUnsupported) {
			log.Debug("propagation target not supported here", logger.Error(err))
		} else {
			log.Warn("failed to propagate context field", logger.String("value", data.Masked()), logger.Error(err))
		}
		return false
	}
	return true
}
