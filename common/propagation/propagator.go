// Package propagation bundles the field configuration with the extraction orchestrator and the
// enrichment engine. Framework middlewares share one Propagator per service.
package propagation

import (
	"context"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/enrichment"
	"github.com/rainbow-me/ctxfields/common/extraction"
	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/source"
)

type Propagator struct {
	Config    *fields.Config
	Registry  *source.Registry
	Extractor *extraction.Orchestrator
	Enricher  *enrichment.Engine
}

type propagatorCfg struct {
	registryOpts   []source.RegistryOpt
	extractionOpts []extraction.Opt
}

type Opt func(*propagatorCfg)

func WithRegistryOpts(opts ...source.RegistryOpt) Opt {
	return func(c *propagatorCfg) {
		c.registryOpts = append(c.registryOpts, opts...)
	}
}

func WithExtractionOpts(opts ...extraction.Opt) Opt {
	return func(c *propagatorCfg) {
		c.extractionOpts = append(c.extractionOpts, opts...)
	}
}

func New(cfg *fields.Config, opts ...Opt) *Propagator {
	c := &propagatorCfg{}
	for _, opt := range opts {
		opt(c)
	}
	registry := source.NewRegistryForConfig(cfg, c.registryOpts...)
	return &Propagator{
		Config:    cfg,
		Registry:  registry,
		Extractor: extraction.New(cfg, registry, c.extractionOpts...),
		Enricher:  enrichment.New(cfg, registry),
	}
}

// Start returns a context carrying the request store, reusing one that is already attached.
func (p *Propagator) Start(ctx context.Context) (context.Context, *correlation.Store) {
	return correlation.EnsureStore(ctx, p.Config)
}

// EnrichDownstream writes the downstream outbound fields of the request store into req.
func (p *Propagator) EnrichDownstream(ctx context.Context, req source.DownstreamRequest) []source.PropagationData {
	return p.Enricher.ApplyDownstreamRequest(ctx, correlation.FromContext(ctx), req)
}

// CaptureDownstream extracts the downstream inbound fields of resp into the request store.
func (p *Propagator) CaptureDownstream(ctx context.Context, resp source.DownstreamResponse) {
	p.Extractor.ExtractDownstream(ctx, correlation.FromContext(ctx), resp)
}

// NeedsBody reports whether the inbound stage has to buffer bodies.
func (p *Propagator) NeedsBody(stage fields.Stage) bool {
	return p.Config.NeedsBody(stage)
}

// MaxBodyBytes is the buffering limit for BODY and FORM sources.
func (p *Propagator) MaxBodyBytes() int64 {
	return p.Config.Settings().MaxBodyBytes
}

type propagatorKey struct{}

// ContextWithPropagator makes p available to code running under ctx, such as http clients.
func ContextWithPropagator(ctx context.Context, p *Propagator) context.Context {
	return context.WithValue(ctx, propagatorKey{}, p)
}

func FromContext(ctx context.Context) (*Propagator, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(propagatorKey{}).(*Propagator)
	return p, ok && p != nil
}
