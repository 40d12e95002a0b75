package source

import (
	"github.com/rainbow-me/ctxfields/common/fields"
)

type sessionHandler struct {
	unsupported
}

func (sessionHandler) ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error) {
	session := req.Session(cfg.CreateSession)
	if session == nil {
		return "", nil
	}
	v, _ := session.Attribute(cfg.Key)
	return v, nil
}

type attributeHandler struct {
	unsupported
}

func (attributeHandler) ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error) {
	attrs := req.Attributes()
	if attrs == nil {
		return "", nil
	}
	v, _ := attrs.Attribute(cfg.Key)
	return v, nil
}

// EnrichUpstreamResponse exposes the value to the rest of the request as an attribute.
func (attributeHandler) EnrichUpstreamResponse(resp UpstreamResponse, data PropagationData) error {
	attrs := resp.Attributes()
	if attrs == nil {
		return nil
	}
	if v, ok := attrs.Attribute(data.Key); ok && v != "" && !data.Override {
		return nil
	}
	attrs.SetAttribute(data.Key, data.Value)
	return nil
}
