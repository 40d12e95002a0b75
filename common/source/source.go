// Package source implements one handler per source kind behind a single contract. A handler reads a
// value from an inbound carrier or writes a propagated value into an outbound one.
//
// Handlers never fail on absent data: a missing key yields "" and a nil error so that fallback
// chains and defaults can apply. Directions a source kind cannot serve return ErrUnsupported.
package source

import (
	"github.com/cockroachdb/errors"

	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/masking"
)

// ErrUnsupported is returned for directions a source kind has no meaning for.
var ErrUnsupported = errors.New("operation not supported for source")

// Handler is implemented once per fields.SourceType.
type Handler interface {
	Source() fields.SourceType
	ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error)
	EnrichUpstreamResponse(resp UpstreamResponse, data PropagationData) error
	EnrichDownstreamRequest(req DownstreamRequest, data PropagationData) error
	ExtractFromDownstreamResponse(resp DownstreamResponse, cfg *fields.InboundConfig) (string, error)
}

// PropagationData is a single computed write of a field into an outbound carrier.
type PropagationData struct {
	Field     string
	Target    fields.EnrichmentType
	Key       string
	Value     string
	Sensitive bool
	Masking   string
	Override  bool
}

// Masked returns the value as it may appear in logs.
func (p PropagationData) Masked() string {
	if !p.Sensitive {
		return p.Value
	}
	pattern := p.Masking
	if pattern == "" {
		pattern = masking.Masked
	}
	return masking.Mask(p.Value, pattern)
}

// unsupported provides the ErrUnsupported default for every operation.
type unsupported struct {
	source fields.SourceType
}

func (u unsupported) Source() fields.SourceType { return u.source }

func (u unsupported) ExtractFromUpstreamRequest(UpstreamRequest, *fields.InboundConfig) (string, error) {
	return "", u.err("upstream request extraction")
}

func (u unsupported) EnrichUpstreamResponse(UpstreamResponse, PropagationData) error {
	return u.err("upstream response enrichment")
}

func (u unsupported) EnrichDownstreamRequest(DownstreamRequest, PropagationData) error {
	return u.err("downstream request enrichment")
}

func (u unsupported) ExtractFromDownstreamResponse(DownstreamResponse, *fields.InboundConfig) (string, error) {
	return "", u.err("downstream response extraction")
}

func (u unsupported) err(op string) error {
	return errors.Wrapf(ErrUnsupported, "%s: %s", u.source, op)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
