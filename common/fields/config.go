// Package fields holds the declarative description of every context field a service tracks:
// where each value is read from, how it is transformed and masked, where it is propagated and
// which observability signals it feeds.
package fields

import (
	"sort"

	"github.com/rainbow-me/ctxfields/common/masking"
)

const (
	// MaxFallbackDepth bounds the number of fallbacks chained behind a primary source.
	MaxFallbackDepth = 5
	// DefaultMaxBodyBytes caps how much of a body is buffered for BODY and FORM extraction.
	DefaultMaxBodyBytes int64 = 1 << 20
)

// FieldConfiguration describes a single named context field.
type FieldConfiguration struct {
	Upstream      *Direction    `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	Downstream    *Direction    `yaml:"downstream,omitempty" json:"downstream,omitempty"`
	Observability Observability `yaml:"observability" json:"observability"`
	Security      Security      `yaml:"security" json:"security"`
}

// Direction pairs the read side and the write side of one leg of the request.
type Direction struct {
	Inbound  *InboundConfig  `yaml:"inbound,omitempty" json:"inbound,omitempty"`
	Outbound *OutboundConfig `yaml:"outbound,omitempty" json:"outbound,omitempty"`
}

type InboundConfig struct {
	Source SourceType `yaml:"source" json:"source"`
	Key    string     `yaml:"key" json:"key"`
	// ClaimPath is accepted in place of Key for CLAIM sources.
	ClaimPath        string         `yaml:"claimPath,omitempty" json:"claimPath,omitempty"`
	DefaultValue     string         `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
	Required         bool           `yaml:"required,omitempty" json:"required,omitempty"`
	Fallback         *InboundConfig `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Transformation   TransformType  `yaml:"transformation,omitempty" json:"transformation,omitempty"`
	GenerateIfAbsent bool           `yaml:"generateIfAbsent,omitempty" json:"generateIfAbsent,omitempty"`
	Generator        GeneratorType  `yaml:"generator,omitempty" json:"generator,omitempty"`
	// CreateSession lets SESSION extraction create the session when the request has none.
	CreateSession bool `yaml:"createSession,omitempty" json:"createSession,omitempty"`
}

// Chain returns the primary config followed by its fallbacks. The walk stops at
// MaxFallbackDepth fallbacks or at the first repeated config.
func (c *InboundConfig) Chain() []*InboundConfig {
	var (
		out  []*InboundConfig
		seen = map[*InboundConfig]bool{}
	)
	for cur := c; cur != nil && !seen[cur] && len(out) <= MaxFallbackDepth; cur = cur.Fallback {
		seen[cur] = true
		out = append(out, cur)
	}
	return out
}

type OutboundConfig struct {
	EnrichAs   EnrichmentType `yaml:"enrichAs" json:"enrichAs"`
	Key        string         `yaml:"key" json:"key"`
	ValueAs    ValueType      `yaml:"valueAs,omitempty" json:"valueAs,omitempty"`
	Expression string         `yaml:"expression,omitempty" json:"expression,omitempty"`
	Condition  string         `yaml:"condition,omitempty" json:"condition,omitempty"`
	Override   *bool          `yaml:"override,omitempty" json:"override,omitempty"`
}

// ShouldOverride reports whether an existing carrier value is replaced. Defaults to true.
func (c *OutboundConfig) ShouldOverride() bool {
	return c.Override == nil || *c.Override
}

// Signal toggles one observability output and optionally renames the tag.
type Signal struct {
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
}

func (s Signal) On(def bool) bool {
	if s.Enabled == nil {
		return def
	}
	return *s.Enabled
}

// TagName is the configured name or, when unset, the field name.
func (s Signal) TagName(field string) string {
	if s.Name != "" {
		return s.Name
	}
	return field
}

type Observability struct {
	// Logging is on unless disabled explicitly; metrics and tracing are opt-in.
	Logging     Signal      `yaml:"logging" json:"logging"`
	Metrics     Signal      `yaml:"metrics" json:"metrics"`
	Tracing     Signal      `yaml:"tracing" json:"tracing"`
	Cardinality Cardinality `yaml:"cardinality,omitempty" json:"cardinality,omitempty"`
	// AllowSensitive lets a sensitive field reach metrics and traces, masked.
	AllowSensitive bool `yaml:"allowSensitive,omitempty" json:"allowSensitive,omitempty"`
}

type Security struct {
	Sensitive bool     `yaml:"sensitive,omitempty" json:"sensitive,omitempty"`
	Masking   string   `yaml:"masking,omitempty" json:"masking,omitempty"`
	PII       PIIClass `yaml:"pii,omitempty" json:"pii,omitempty"`
}

// Settings are engine wide options.
type Settings struct {
	NormalizeHeaders      bool        `yaml:"normalizeHeaders" json:"normalizeHeaders"`
	MaxBodyBytes          int64       `yaml:"maxBodyBytes" json:"maxBodyBytes"`
	MetricsMaxCardinality Cardinality `yaml:"metricsMaxCardinality" json:"metricsMaxCardinality"`
}

// Inbound returns the read side for stage, nil when the field has none.
func (f *FieldConfiguration) Inbound(stage Stage) *InboundConfig {
	switch stage {
	case UpstreamInbound:
		if f.Upstream != nil {
			return f.Upstream.Inbound
		}
	case DownstreamInbound:
		if f.Downstream != nil {
			return f.Downstream.Inbound
		}
	}
	return nil
}

// Outbound returns the write side for stage, nil when the field has none.
func (f *FieldConfiguration) Outbound(stage Stage) *OutboundConfig {
	switch stage {
	case UpstreamOutbound:
		if f.Upstream != nil {
			return f.Upstream.Outbound
		}
	case DownstreamOutbound:
		if f.Downstream != nil {
			return f.Downstream.Outbound
		}
	}
	return nil
}

// Mask returns the masked projection of value, or value itself when the field is not sensitive.
func (f *FieldConfiguration) Mask(value string) string {
	if !f.Security.Sensitive {
		return value
	}
	pattern := f.Security.Masking
	if pattern == "" {
		pattern = masking.Masked
	}
	return masking.Mask(value, pattern)
}

// Config is a validated, immutable set of field configurations.
type Config struct {
	fields   map[string]*FieldConfiguration
	names    []string
	settings Settings
}

// Fields returns the configured fields by name. Callers must not modify the result.
func (c *Config) Fields() map[string]*FieldConfiguration {
	return c.fields
}

func (c *Config) Field(name string) (*FieldConfiguration, bool) {
	f, ok := c.fields[name]
	return f, ok
}

// Names returns the field names in lexical order.
func (c *Config) Names() []string {
	return c.names
}

func (c *Config) Settings() Settings {
	return c.settings
}

// Mask masks value according to the named field's security settings. Unknown fields are masked fully.
func (c *Config) Mask(name, value string) string {
	f, ok := c.fields[name]
	if !ok {
		return masking.Mask(value, masking.Masked)
	}
	return f.Mask(value)
}

// NeedsBody reports whether any field reads a body at the given inbound stage.
func (c *Config) NeedsBody(stage Stage) bool {
	for _, f := range c.fields {
		for _, in := range f.Inbound(stage).Chain() {
			if in.Source.ReadsBody() {
				return true
			}
		}
	}
	return false
}

// Warnings lists fields that can never hold a value.
func (c *Config) Warnings() []string {
	var out []string
	for _, name := range c.names {
		f := c.fields[name]
		if f.Inbound(UpstreamInbound) == nil && f.Inbound(DownstreamInbound) == nil {
			out = append(out, "field "+name+" has no inbound source and is never populated")
		}
	}
	return out
}

func sortedNames(m map[string]*FieldConfiguration) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
