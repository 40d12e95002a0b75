package source

import (
	"encoding/json"
	"mime"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/headers"
)

// bodyHandler evaluates a JSON path against a buffered body.
type bodyHandler struct {
	unsupported
}

func (bodyHandler) ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error) {
	return extractJSON(req.Body(), cfg.Key), nil
}

func (bodyHandler) ExtractFromDownstreamResponse(resp DownstreamResponse, cfg *fields.InboundConfig) (string, error) {
	return extractJSON(resp.Body(), cfg.Key), nil
}

// EnrichDownstreamRequest writes the value at a JSON path of the outgoing body. Byte, string and
// nil bodies are edited as JSON documents, maps are edited in place and other values are
// marshalled first.
func (bodyHandler) EnrichDownstreamRequest(req DownstreamRequest, data PropagationData) error {
	path, ok := jsonPath(data.Key)
	if !ok || path == "" {
		return nil
	}

	switch body := req.Body().(type) {
	case map[string]any:
		setMapPath(body, strings.Split(path, "."), data)
		return nil
	case map[string]string:
		if _, exists := body[path]; !exists || data.Override {
			body[path] = data.Value
		}
		return nil
	default:
		doc, err := bodyBytes(body)
		if err != nil {
			return err
		}
		if len(doc) == 0 {
			doc = []byte("{}")
		}
		if !gjson.ValidBytes(doc) {
			return nil
		}
		if !data.Override && gjson.GetBytes(doc, path).Exists() {
			return nil
		}
		doc, err = sjson.SetBytes(doc, path, data.Value)
		if err != nil {
			return err
		}
		req.SetBody(doc)
		if req.Header().Get(headers.HeaderContentType) == "" {
			req.Header().Set(headers.HeaderContentType, headers.MIMEJSON)
		}
		return nil
	}
}

func bodyBytes(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

func setMapPath(m map[string]any, parts []string, data PropagationData) {
	for i, part := range parts {
		if i == len(parts)-1 {
			if _, exists := m[part]; exists && !data.Override {
				return
			}
			m[part] = data.Value
			return
		}
		next, ok := m[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}
}

func extractJSON(body []byte, expr string) string {
	if len(body) == 0 {
		return ""
	}
	path, ok := jsonPath(expr)
	if !ok {
		return ""
	}
	if path == "" {
		return string(body)
	}
	if !gjson.ValidBytes(body) {
		return ""
	}
	res := gjson.GetBytes(body, path)
	switch {
	case !res.Exists(), res.Type == gjson.Null:
		return ""
	case res.Type == gjson.JSON:
		return res.Raw
	default:
		return res.String()
	}
}

// jsonPath translates "$", "$.a.b", "$.arr[0].field" and "$['a.b']" into gjson syntax. The empty
// result stands for the whole document.
func jsonPath(expr string) (string, bool) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "$":
		return "", true
	case strings.HasPrefix(expr, "$."):
		expr = expr[2:]
	case strings.HasPrefix(expr, "$["):
		expr = expr[1:]
	}

	var (
		parts []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(expr); i++ {
		switch c := expr[i]; c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return "", false
			}
			inner := strings.Trim(expr[i+1:i+end], `'"`)
			if inner == "" {
				return "", false
			}
			parts = append(parts, escapePathKey(inner))
			i += end
		default:
			if strings.IndexByte(`*?|#@!=<>%\`, c) >= 0 {
				cur.WriteByte('\\')
			}
			cur.WriteByte(c)
		}
	}
	flush()
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "."), true
}

func escapePathKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(`.*?|#@!=<>%\`, key[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(key[i])
	}
	return b.String()
}

// formHandler reads url encoded form fields from a buffered body.
type formHandler struct {
	unsupported
}

func (formHandler) ExtractFromUpstreamRequest(req UpstreamRequest, cfg *fields.InboundConfig) (string, error) {
	return formValue(first(req.Header(headers.HeaderContentType)), req.Body(), cfg.Key), nil
}

func (formHandler) ExtractFromDownstreamResponse(resp DownstreamResponse, cfg *fields.InboundConfig) (string, error) {
	return formValue(resp.Header().Get(headers.HeaderContentType), resp.Body(), cfg.Key), nil
}

func formValue(contentType string, body []byte, key string) string {
	if len(body) == 0 {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != headers.MIMEForm {
		return ""
	}
	// ParseQuery keeps the pairs it could decode
	values, _ := url.ParseQuery(string(body))
	return values.Get(key)
}
