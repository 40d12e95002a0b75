package source

import (
	"net/http"
	"strings"

	"github.com/rainbow-me/ctxfields/common/fields"
)

const (
	cookieHeader    = "Cookie"
	setCookieHeader = "Set-Cookie"
)

type cookieHandler struct {
	unsupported
}

func (cookieHandler) ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error) {
	v, _ := req.Cookie(cfg.Key)
	return v, nil
}

// EnrichUpstreamResponse rewrites the Set-Cookie line for the cookie, keeping the others.
func (cookieHandler) EnrichUpstreamResponse(resp UpstreamResponse, data PropagationData) error {
	h := resp.Header()
	prefix := data.Key + "="

	var kept []string
	for _, line := range h.Values(setCookieHeader) {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			if !data.Override {
				return nil
			}
			continue
		}
		kept = append(kept, line)
	}

	c := &http.Cookie{Name: data.Key, Value: data.Value, Path: "/", HttpOnly: data.Sensitive, Secure: data.Sensitive}
	h.Del(setCookieHeader)
	for _, line := range kept {
		h.Add(setCookieHeader, line)
	}
	h.Add(setCookieHeader, c.String())
	return nil
}

func (cookieHandler) EnrichDownstreamRequest(req DownstreamRequest, data PropagationData) error {
	h := req.Header()
	existing := (&http.Request{Header: h}).Cookies()

	parts := make([]string, 0, len(existing)+1)
	for _, c := range existing {
		if c.Name == data.Key {
			if !data.Override {
				return nil
			}
			continue
		}
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	parts = append(parts, (&http.Cookie{Name: data.Key, Value: data.Value}).String())
	h.Set(cookieHeader, strings.Join(parts, "; "))
	return nil
}

func (cookieHandler) ExtractFromDownstreamResponse(resp DownstreamResponse, cfg *fields.InboundConfig) (string, error) {
	for _, c := range resp.Cookies() {
		if c.Name == cfg.Key {
			return c.Value, nil
		}
	}
	return "", nil
}
