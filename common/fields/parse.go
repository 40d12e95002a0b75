package fields

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/rainbow-me/ctxfields/common/masking"
)

// ErrInvalidConfig marks every configuration problem reported by Parse and New.
var ErrInvalidConfig = errors.New("invalid field configuration")

type document struct {
	Fields   map[string]*FieldConfiguration `yaml:"fields"`
	Settings Settings                       `yaml:"settings"`
}

// Parse decodes a YAML or JSON field document and validates it.
//
//	fields:
//	  userId:
//	    upstream:
//	      inbound: {source: HEADER, key: X-User-ID}
//	    downstream:
//	      outbound: {enrichAs: HEADER, key: X-User-ID}
//	settings:
//	  normalizeHeaders: true
func Parse(data []byte) (*Config, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return New(doc.Fields, doc.Settings)
}

// New validates fields and settings and builds a Config. All problems are reported together.
func New(fields map[string]*FieldConfiguration, settings Settings) (*Config, error) {
	cfg := &Config{fields: make(map[string]*FieldConfiguration, len(fields)), settings: settings}
	for name, f := range fields {
		if f == nil {
			f = &FieldConfiguration{}
		}
		cfg.fields[name] = f
	}
	cfg.names = sortedNames(cfg.fields)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.settings.MaxBodyBytes <= 0 {
		c.settings.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.settings.MetricsMaxCardinality == "" {
		c.settings.MetricsMaxCardinality = CardinalityLow
	}

	for _, name := range c.names {
		f := c.fields[name]
		if f.Observability.Cardinality == "" {
			f.Observability.Cardinality = CardinalityHigh
		}
		if f.Security.PII == "" {
			f.Security.PII = PIINone
		}
		for _, d := range []*Direction{f.Upstream, f.Downstream} {
			if d == nil {
				continue
			}
			for _, in := range d.Inbound.Chain() {
				if in.Key == "" {
					in.Key = in.ClaimPath
				}
				if in.Key == "" && in.Source == SourceBody {
					in.Key = "$"
				}
				if in.GenerateIfAbsent && in.Generator == "" {
					in.Generator = GeneratorUUID
				}
			}
			if out := d.Outbound; out != nil {
				if out.ValueAs == "" {
					out.ValueAs = ValueString
				}
				if out.Key == "" {
					out.Key = defaultOutboundKey(name, f, d)
				}
			}
		}
	}
}

// defaultOutboundKey reuses the inbound key of the same leg, then the upstream one, then the field name.
func defaultOutboundKey(name string, f *FieldConfiguration, d *Direction) string {
	if d.Inbound != nil && d.Inbound.Key != "" {
		return d.Inbound.Key
	}
	if in := f.Inbound(UpstreamInbound); in != nil && in.Key != "" {
		return in.Key
	}
	return name
}

// Validate checks enum membership, masking syntax and fallback chains.
func (c *Config) Validate() error {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !c.settings.MetricsMaxCardinality.Valid() {
		report("settings: unknown metricsMaxCardinality %q", c.settings.MetricsMaxCardinality)
	}
	for _, name := range c.names {
		f := c.fields[name]
		if strings.TrimSpace(name) == "" {
			report("field name must not be empty")
		}
		legs := []struct {
			path string
			dir  *Direction
		}{{name + ".upstream", f.Upstream}, {name + ".downstream", f.Downstream}}
		for _, leg := range legs {
			if leg.dir == nil {
				continue
			}
			validateInbound(leg.path+".inbound", leg.dir.Inbound, report)
			validateOutbound(leg.path+".outbound", leg.dir.Outbound, report)
		}
		if !f.Observability.Cardinality.Valid() {
			report("%s.observability: unknown cardinality %q", name, f.Observability.Cardinality)
		}
		if !f.Security.PII.Valid() {
			report("%s.security: unknown pii class %q", name, f.Security.PII)
		}
		if err := masking.Validate(f.Security.Masking); err != nil {
			report("%s.security: %s", name, err)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Wrapf(ErrInvalidConfig, "%d problem(s): %s", len(problems), strings.Join(problems, "; "))
}

func validateInbound(path string, in *InboundConfig, report func(string, ...any)) {
	seen := map[*InboundConfig]bool{}
	depth := 0
	for cur := in; cur != nil; cur = cur.Fallback {
		if seen[cur] {
			report("%s: fallback chain is cyclic", path)
			return
		}
		if depth > MaxFallbackDepth {
			report("%s: fallback chain deeper than %d", path, MaxFallbackDepth)
			return
		}
		seen[cur] = true

		if !cur.Source.Valid() {
			report("%s: unknown source %q", path, cur.Source)
		}
		if cur.Key == "" {
			report("%s: key is required for source %s", path, cur.Source)
		}
		if !cur.Transformation.Valid() {
			report("%s: unknown transformation %q", path, cur.Transformation)
		}
		if cur.GenerateIfAbsent && !cur.Generator.Valid() {
			report("%s: unknown generator %q", path, cur.Generator)
		}
		path += ".fallback"
		depth++
	}
}

func validateOutbound(path string, out *OutboundConfig, report func(string, ...any)) {
	if out == nil {
		return
	}
	if !out.EnrichAs.Valid() {
		report("%s: unknown enrichAs %q", path, out.EnrichAs)
	}
	if !out.ValueAs.Valid() {
		report("%s: unknown valueAs %q", path, out.ValueAs)
	}
	if out.ValueAs == ValueExpression && strings.TrimSpace(out.Expression) == "" {
		report("%s: valueAs EXPRESSION requires an expression", path)
	}
}
