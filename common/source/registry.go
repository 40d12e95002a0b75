package source

import (
	"github.com/rainbow-me/ctxfields/common/fields"
)

type registryCfg struct {
	normalizeHeaders bool
	overrides        map[fields.SourceType]Handler
}

type RegistryOpt func(*registryCfg)

// WithNormalizeHeaders trims header values on extraction.
func WithNormalizeHeaders(normalize bool) RegistryOpt {
	return func(c *registryCfg) {
		c.normalizeHeaders = normalize
	}
}

// WithHandler replaces the built-in handler for h.Source().
func WithHandler(h Handler) RegistryOpt {
	return func(c *registryCfg) {
		c.overrides[h.Source()] = h
	}
}

// Registry maps every source kind to its handler.
type Registry struct {
	handlers map[fields.SourceType]Handler
}

func NewRegistry(opts ...RegistryOpt) *Registry {
	cfg := &registryCfg{overrides: map[fields.SourceType]Handler{}}
	for _, opt := range opts {
		opt(cfg)
	}

	r := &Registry{handlers: make(map[fields.SourceType]Handler, len(fields.SourceTypes))}
	for _, s := range fields.SourceTypes {
		if h, ok := cfg.overrides[s]; ok {
			r.handlers[s] = h
			continue
		}
		r.handlers[s] = newHandler(s, cfg)
	}
	return r
}

// NewRegistryForConfig applies the engine settings of cfg.
func NewRegistryForConfig(cfg *fields.Config, opts ...RegistryOpt) *Registry {
	return NewRegistry(append([]RegistryOpt{WithNormalizeHeaders(cfg.Settings().NormalizeHeaders)}, opts...)...)
}

func newHandler(s fields.SourceType, cfg *registryCfg) Handler {
	base := unsupported{source: s}
	switch s {
	case fields.SourceHeader:
		return headerHandler{unsupported: base, normalize: cfg.normalizeHeaders}
	case fields.SourceCookie:
		return cookieHandler{unsupported: base}
	case fields.SourceQuery:
		return queryHandler{unsupported: base}
	case fields.SourcePath:
		return pathHandler{unsupported: base}
	case fields.SourceSession:
		return sessionHandler{unsupported: base}
	case fields.SourceClaim:
		return newClaimHandler()
	case fields.SourceBody:
		return bodyHandler{unsupported: base}
	case fields.SourceForm:
		return formHandler{unsupported: base}
	case fields.SourceAttribute:
		return attributeHandler{unsupported: base}
	default:
		return base
	}
}

// Handler returns the handler for a source kind.
func (r *Registry) Handler(s fields.SourceType) (Handler, bool) {
	h, ok := r.handlers[s]
	return h, ok
}

// ForTarget returns the handler that writes an enrichment target.
func (r *Registry) ForTarget(e fields.EnrichmentType) (Handler, bool) {
	return r.Handler(e.Source())
}
