package source

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rainbow-me/ctxfields/common/bodybuf"
)

// HTTPRequest adapts an inbound *http.Request. Everything the request itself cannot tell, such as
// route variables, claims or the session, is supplied by the host layer.
type HTTPRequest struct {
	Request    *http.Request
	PathParams map[string]string
	Buffer     *bodybuf.Buffer
	ClaimSet   map[string]any
	Attrs      Attributes
	// SessionFunc looks the session up, creating it when create is true.
	SessionFunc func(create bool) Attributes

	query url.Values
}

func (r *HTTPRequest) Header(key string) []string {
	return r.Request.Header.Values(key)
}

func (r *HTTPRequest) Cookie(name string) (string, bool) {
	c, err := r.Request.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (r *HTTPRequest) Query(key string) []string {
	if r.query == nil {
		r.query = r.Request.URL.Query()
	}
	return r.query[key]
}

func (r *HTTPRequest) PathParam(name string) (string, bool) {
	v, ok := r.PathParams[name]
	return v, ok
}

func (r *HTTPRequest) Session(create bool) Attributes {
	if r.SessionFunc == nil {
		return nil
	}
	return r.SessionFunc(create)
}

func (r *HTTPRequest) Attributes() Attributes { return r.Attrs }

func (r *HTTPRequest) Body() []byte { return r.Buffer.Bytes() }

func (r *HTTPRequest) Claims() map[string]any { return r.ClaimSet }

// HTTPResponseWriter adapts the writer of the upstream response.
type HTTPResponseWriter struct {
	Writer http.ResponseWriter
	Attrs  Attributes
}

func (w HTTPResponseWriter) Header() http.Header { return w.Writer.Header() }

func (w HTTPResponseWriter) Attributes() Attributes { return w.Attrs }

// OutgoingRequest adapts an outbound *http.Request. Path parameters replace "{name}" placeholders
// in the URL path.
type OutgoingRequest struct {
	Request *http.Request

	pathParams map[string]string
	body       []byte
	bodyRead   bool
}

func NewOutgoingRequest(r *http.Request) *OutgoingRequest {
	return &OutgoingRequest{Request: r, pathParams: map[string]string{}}
}

func (r *OutgoingRequest) Header() http.Header { return r.Request.Header }

func (r *OutgoingRequest) QueryParam(key string) string {
	return r.Request.URL.Query().Get(key)
}

func (r *OutgoingRequest) SetQueryParam(key, value string) {
	q := r.Request.URL.Query()
	q.Set(key, value)
	r.Request.URL.RawQuery = q.Encode()
}

func (r *OutgoingRequest) PathParam(name string) string {
	return r.pathParams[name]
}

func (r *OutgoingRequest) SetPathParam(name, value string) {
	r.pathParams[name] = value
	placeholder := "{" + name + "}"
	u := r.Request.URL
	u.Path = strings.ReplaceAll(u.Path, placeholder, value)
	if u.RawPath != "" {
		u.RawPath = strings.ReplaceAll(u.RawPath, placeholder, url.PathEscape(value))
	}
}

// Body buffers the request body on first use and puts an equivalent body back on the request.
func (r *OutgoingRequest) Body() any {
	if !r.bodyRead {
		r.bodyRead = true
		if r.Request.Body != nil && r.Request.Body != http.NoBody {
			buf, rc, err := bodybuf.Wrap(r.Request.Body, 0)
			r.Request.Body = rc
			if err != nil {
				return nil
			}
			r.body = buf.Bytes()
			r.Request.Body = buf.ReadCloser()
		}
	}
	if r.body == nil {
		return nil
	}
	return r.body
}

func (r *OutgoingRequest) SetBody(body any) {
	var data []byte
	switch b := body.(type) {
	case []byte:
		data = b
	case string:
		data = []byte(b)
	default:
		return
	}
	r.body, r.bodyRead = data, true
	r.Request.Body = io.NopCloser(bytes.NewReader(data))
	r.Request.ContentLength = int64(len(data))
	r.Request.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// HTTPResponse adapts a downstream *http.Response whose body may have been buffered.
type HTTPResponse struct {
	Response *http.Response
	Buffer   *bodybuf.Buffer
}

func (r HTTPResponse) Header() http.Header { return r.Response.Header }

func (r HTTPResponse) Cookies() []*http.Cookie { return r.Response.Cookies() }

func (r HTTPResponse) Body() []byte { return r.Buffer.Bytes() }
