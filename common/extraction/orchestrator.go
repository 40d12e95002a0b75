// Package extraction resolves configured context fields from a request and its downstream responses
// into the request store.
//
// Upstream fields are resolved in two phases. The pre-authentication phase handles every source that
// is readable before the caller is identified; the post-authentication phase handles CLAIM and PATH
// and must run after the authentication layer. The phase of a field is decided by its primary
// source. Downstream capture runs once per downstream response.
package extraction

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/source"
)

// Summary lists the fields handled by each phase, for diagnostics.
type Summary struct {
	PreAuthFields    []string `json:"preAuthFields"`
	PostAuthFields   []string `json:"postAuthFields"`
	DownstreamFields []string `json:"downstreamFields"`
}

type Orchestrator struct {
	cfg       *fields.Config
	registry  *source.Registry
	generator Generator
	summary   Summary
}

type Opt func(*Orchestrator)

// WithGenerator replaces the identifier generator.
func WithGenerator(g Generator) Opt {
	return func(o *Orchestrator) {
		o.generator = g
	}
}

func New(cfg *fields.Config, registry *source.Registry, opts ...Opt) *Orchestrator {
	o := &Orchestrator{cfg: cfg, registry: registry, generator: NewIDGenerator()}
	for _, opt := range opts {
		opt(o)
	}

	for _, name := range cfg.Names() {
		f, _ := cfg.Field(name)
		if in := f.Inbound(fields.UpstreamInbound); in != nil {
			if in.Source.PostAuth() {
				o.summary.PostAuthFields = append(o.summary.PostAuthFields, name)
			} else {
				o.summary.PreAuthFields = append(o.summary.PreAuthFields, name)
			}
		}
		if f.Inbound(fields.DownstreamInbound) != nil {
			o.summary.DownstreamFields = append(o.summary.DownstreamFields, name)
		}
	}
	return o
}

func (o *Orchestrator) Summary() Summary {
	return o.summary
}

// ExtractPreAuth resolves the fields whose primary source is available before authentication.
func (o *Orchestrator) ExtractPreAuth(ctx context.Context, store *correlation.Store, req source.UpstreamRequest) {
	o.run(ctx, store, fields.UpstreamInbound, o.summary.PreAuthFields, upstreamExtractor(req))
}

// ExtractPostAuth resolves CLAIM and PATH fields. Call it once authentication has completed.
func (o *Orchestrator) ExtractPostAuth(ctx context.Context, store *correlation.Store, req source.UpstreamRequest) {
	o.run(ctx, store, fields.UpstreamInbound, o.summary.PostAuthFields, upstreamExtractor(req))
}

// ExtractDownstream captures fields from a downstream response. Fields that resolve empty keep
// their current value.
func (o *Orchestrator) ExtractDownstream(ctx context.Context, store *correlation.Store, resp source.DownstreamResponse) {
	o.run(ctx, store, fields.DownstreamInbound, o.summary.DownstreamFields, downstreamExtractor(resp))
}

type extractor func(h source.Handler, in *fields.InboundConfig) (string, error)

func upstreamExtractor(req source.UpstreamRequest) extractor {
	return func(h source.Handler, in *fields.InboundConfig) (string, error) {
		return h.ExtractFromUpstreamRequest(req, in)
	}
}

func downstreamExtractor(resp source.DownstreamResponse) extractor {
	return func(h source.Handler, in *fields.InboundConfig) (string, error) {
		return h.ExtractFromDownstreamResponse(resp, in)
	}
}

func (o *Orchestrator) run(ctx context.Context, store *correlation.Store, stage fields.Stage, names []string, extract extractor) {
	if store == nil {
		return
	}
	for _, name := range names {
		o.resolveField(ctx, store, stage, name, extract)
	}
}

// resolveField walks primary, fallbacks, default and generator in that order. A panic is confined
// to the field it happened in.
func (o *Orchestrator) resolveField(ctx context.Context, store *correlation.Store, stage fields.Stage, name string, extract extractor) {
	log := logger.FromContext(ctx).With(logger.String("field", name), logger.String("stage", stage.String()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while extracting context field", logger.WithPanic(r)...)
			store.AddDiagnostic(correlation.Diagnostic{Field: name, Stage: stage.String(), Message: "extraction panicked"})
		}
	}()

	f, ok := o.cfg.Field(name)
	if !ok {
		return
	}
	primary := f.Inbound(stage)
	chain := primary.Chain()

	var (
		value    string
		resolved = primary
	)
	for _, in := range chain {
		v, err := o.extractOne(in, extract)
		if err != nil {
			log.Debug("context field source failed", logger.String("source", string(in.Source)), logger.Error(err))
			continue
		}
		if v != "" {
			value, resolved = v, in
			break
		}
	}

	// a downstream response without the field leaves what the store already holds
	if value == "" && stage == fields.DownstreamInbound && store.Has(name) {
		return
	}

	if value == "" {
		for _, in := range chain {
			if in.DefaultValue != "" {
				value = in.DefaultValue
				break
			}
		}
	}

	if value == "" && stage == fields.UpstreamInbound && primary.GenerateIfAbsent {
		v, err := o.generator.Generate(primary.Generator)
		if err != nil {
			log.Warn("failed to generate context field", logger.Error(err))
		}
		value = v
	}

	if value == "" {
		if required(chain) {
			log.Warn("required context field is missing")
			store.AddDiagnostic(correlation.Diagnostic{Field: name, Stage: stage.String(), Message: "required field is missing"})
		}
		return
	}

	transform := resolved.Transformation
	if transform == fields.TransformNone {
		transform = primary.Transformation
	}
	store.Set(name, transform.Apply(value))
}

func (o *Orchestrator) extractOne(in *fields.InboundConfig, extract extractor) (string, error) {
	h, ok := o.registry.Handler(in.Source)
	if !ok {
		return "", errors.Newf("no handler for source %s", in.Source)
	}
	return extract(h, in)
}

func required(chain []*fields.InboundConfig) bool {
	for _, in := range chain {
		if in.Required {
			return true
		}
	}
	return false
}
