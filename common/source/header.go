package source

import (
	"net/http"
	"strings"

	"github.com/rainbow-me/ctxfields/common/fields"
)

type headerHandler struct {
	unsupported
	normalize bool
}

func (h headerHandler) ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error) {
	return h.value(req.Header(cfg.Key)), nil
}

func (h headerHandler) EnrichUpstreamResponse(resp UpstreamResponse, data PropagationData) error {
	setHeader(resp.Header(), data)
	return nil
}

func (h headerHandler) EnrichDownstreamRequest(req DownstreamRequest, data PropagationData) error {
	setHeader(req.Header(), data)
	return nil
}

func (h headerHandler) ExtractFromDownstreamResponse(resp DownstreamResponse, cfg *fields.InboundConfig) (string, error) {
	return h.value(resp.Header().Values(cfg.Key)), nil
}

func (h headerHandler) value(values []string) string {
	v := first(values)
	if h.normalize {
		v = strings.TrimSpace(v)
	}
	return v
}

// setHeader replaces any previous value so repeated calls leave a single entry.
func setHeader(h http.Header, data PropagationData) {
	if !data.Override && h.Get(data.Key) != "" {
		return
	}
	h.Set(data.Key, data.Value)
}
