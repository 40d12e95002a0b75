package http

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/handlers"

	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/headers"
)

// CORSOption is a functional option for configuring CORS
type CORSOption func(*CORSConfig)

// WithAllowedOrigins sets the allowed origins for CORS
func WithAllowedOrigins(origins []string) CORSOption {
	return func(c *CORSConfig) {
		c.AllowedOrigins = origins
	}
}

// WithAllowedMethods sets the allowed methods for CORS
func WithAllowedMethods(methods []string) CORSOption {
	return func(c *CORSConfig) {
		c.AllowedMethods = methods
	}
}

// WithAllowedHeaders adds allowed request headers on top of the ones the field configuration reads.
func WithAllowedHeaders(headers []string) CORSOption {
	return func(c *CORSConfig) {
		c.AllowedHeaders = append(c.AllowedHeaders, headers...)
	}
}

// WithAllowCredentials sets whether credentials are allowed
func WithAllowCredentials(allow bool) CORSOption {
	return func(c *CORSConfig) {
		c.AllowCredentials = allow
	}
}

// CORSConfig holds the CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
}

// DefaultCORSConfig returns the default CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
			http.MethodHead,
			http.MethodPatch,
		},
		AllowedHeaders:   headers.DefaultAllowedHeaders(),
		AllowCredentials: true,
	}
}

// NewCORSConfig derives the header lists from cfg: HEADER inbound keys, fallbacks included, are
// allowed and upstream outbound HEADER keys are exposed to browsers.
func NewCORSConfig(cfg *fields.Config, opts ...CORSOption) CORSConfig {
	c := DefaultCORSConfig()
	if cfg != nil {
		for _, name := range cfg.Names() {
			f, _ := cfg.Field(name)
			for _, in := range f.Inbound(fields.UpstreamInbound).Chain() {
				if in.Source == fields.SourceHeader && in.Key != "" {
					c.AllowedHeaders = append(c.AllowedHeaders, in.Key)
				}
			}
			if out := f.Outbound(fields.UpstreamOutbound); out != nil && out.EnrichAs == fields.EnrichHeader && out.Key != "" {
				c.ExposedHeaders = append(c.ExposedHeaders, out.Key)
			}
		}
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.AllowedHeaders = dedupHeaders(c.AllowedHeaders)
	c.ExposedHeaders = dedupHeaders(c.ExposedHeaders)
	return c
}

// CORS wraps handler with the CORS middleware built from c.
func CORS(handler http.Handler, c CORSConfig) http.Handler {
	options := []handlers.CORSOption{
		handlers.AllowedOrigins(c.AllowedOrigins),
		handlers.AllowedMethods(c.AllowedMethods),
		handlers.AllowedHeaders(c.AllowedHeaders),
		handlers.OptionStatusCode(http.StatusNoContent),
	}
	if len(c.ExposedHeaders) > 0 {
		options = append(options, handlers.ExposedHeaders(c.ExposedHeaders))
	}

	if c.AllowCredentials {
		options = append(options, handlers.AllowCredentials())
	}

	return handlers.CORS(options...)(handler)
}

func dedupHeaders(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = http.CanonicalHeaderKey(strings.TrimSpace(h))
		if h != "" && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	return out
}
