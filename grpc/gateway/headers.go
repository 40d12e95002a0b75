// Package gateway lets context field headers cross a grpc-gateway proxy unchanged.
package gateway

import (
	"net/textproto"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/rainbow-me/ctxfields/common/fields"
)

// IncomingHeaderMatcher forwards the HTTP headers read by HEADER sources, fallbacks included, as
// plain gRPC metadata. Other headers follow runtime.DefaultHeaderMatcher.
func IncomingHeaderMatcher(cfg *fields.Config) runtime.HeaderMatcherFunc {
	keys := map[string]bool{}
	for _, name := range cfg.Names() {
		f, _ := cfg.Field(name)
		for _, in := range f.Inbound(fields.UpstreamInbound).Chain() {
			if in.Source == fields.SourceHeader {
				keys[textproto.CanonicalMIMEHeaderKey(in.Key)] = true
			}
		}
	}
	return func(key string) (string, bool) {
		if keys[textproto.CanonicalMIMEHeaderKey(key)] {
			return strings.ToLower(key), true
		}
		return runtime.DefaultHeaderMatcher(key)
	}
}

// OutgoingHeaderMatcher writes the response metadata of upstream outbound HEADER fields back as
// HTTP headers without the Grpc-Metadata- prefix.
func OutgoingHeaderMatcher(cfg *fields.Config) runtime.HeaderMatcherFunc {
	keys := map[string]bool{}
	for _, name := range cfg.Names() {
		f, _ := cfg.Field(name)
		if out := f.Outbound(fields.UpstreamOutbound); out != nil && out.EnrichAs == fields.EnrichHeader {
			keys[strings.ToLower(out.Key)] = true
		}
	}
	return func(key string) (string, bool) {
		if keys[strings.ToLower(key)] {
			return textproto.CanonicalMIMEHeaderKey(key), true
		}
		return runtime.MetadataHeaderPrefix + key, true
	}
}

// ServeMuxOptions returns the matcher options for runtime.NewServeMux.
func ServeMuxOptions(cfg *fields.Config) []runtime.ServeMuxOption {
	return []runtime.ServeMuxOption{
		runtime.WithIncomingHeaderMatcher(IncomingHeaderMatcher(cfg)),
		runtime.WithOutgoingHeaderMatcher(OutgoingHeaderMatcher(cfg)),
	}
}
