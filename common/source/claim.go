package source

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/headers"
)

// claimHandler resolves a dot separated path in the caller's claims. Signatures are verified by the
// authentication layer; tokens found on the request are only decoded.
type claimHandler struct {
	unsupported
	parser *jwt.Parser
}

func newClaimHandler() claimHandler {
	return claimHandler{unsupported: unsupported{source: fields.SourceClaim}, parser: jwt.NewParser()}
}

func (h claimHandler) ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error) {
	claims := req.Claims()
	if claims == nil {
		claims = h.bearerClaims(first(req.Header(headers.HeaderAuthorization)))
	}
	return resolveClaim(claims, cfg.Key), nil
}

func (h claimHandler) bearerClaims(authorization string) map[string]any {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, headers.BearerScheme) {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := h.parser.ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil
	}
	return claims
}

// resolveClaim looks the path up literally first, since claim names may contain dots.
func resolveClaim(claims map[string]any, path string) string {
	if len(claims) == 0 || path == "" {
		return ""
	}
	if v, ok := claims[path]; ok {
		return formatClaim(v)
	}

	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return ""
		}
		if cur, ok = m[part]; !ok {
			return ""
		}
	}
	return formatClaim(cur)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case jwt.MapClaims:
		return m, true
	}
	return nil, false
}

func formatClaim(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
