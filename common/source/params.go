package source

import (
	"github.com/rainbow-me/ctxfields/common/fields"
)

type queryHandler struct {
	unsupported
}

func (queryHandler) ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error) {
	return first(req.Query(cfg.Key)), nil
}

func (queryHandler) EnrichDownstreamRequest(req DownstreamRequest, data PropagationData) error {
	if !data.Override && req.QueryParam(data.Key) != "" {
		return nil
	}
	req.SetQueryParam(data.Key, data.Value)
	return nil
}

// pathHandler reads route variables bound by the router; it never parses templates itself.
type pathHandler struct {
	unsupported
}

func (pathHandler) ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error) {
	v, _ := req.PathParam(cfg.Key)
	return v, nil
}

func (pathHandler) EnrichDownstreamRequest(req DownstreamRequest, data PropagationData) error {
	if !data.Override && req.PathParam(data.Key) != "" {
		return nil
	}
	req.SetPathParam(data.Key, data.Value)
	return nil
}
