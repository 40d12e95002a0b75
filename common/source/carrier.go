package source

import (
	"net/http"
	"sync"
)

// Attributes is a string keyed scratch space such as a session or request attributes.
type Attributes interface {
	Attribute(key string) (string, bool)
	SetAttribute(key, value string)
}

// UpstreamRequest is the inbound request as exposed by the host layer.
type UpstreamRequest interface {
	Header(key string) []string
	Cookie(name string) (string, bool)
	Query(key string) []string
	// PathParam returns a route variable already bound by the router.
	PathParam(name string) (string, bool)
	// Session returns nil when there is no session and create is false.
	Session(create bool) Attributes
	Attributes() Attributes
	// Body returns the buffered body, nil when it was not buffered.
	Body() []byte
	// Claims are the claims resolved by the authentication layer, nil when it exposed none.
	Claims() map[string]any
}

// UpstreamResponse is the response written back to the original caller.
type UpstreamResponse interface {
	Header() http.Header
	Attributes() Attributes
}

// DownstreamRequest is an outbound call before it is dispatched.
type DownstreamRequest interface {
	Header() http.Header
	QueryParam(key string) string
	SetQueryParam(key, value string)
	PathParam(name string) string
	SetPathParam(name, value string)
	Body() any
	SetBody(body any)
}

// DownstreamResponse is the response of an outbound call.
type DownstreamResponse interface {
	Header() http.Header
	Cookies() []*http.Cookie
	// Body returns the buffered body, nil when it was not buffered.
	Body() []byte
}

// AttributeMap is a concurrency safe Attributes implementation.
type AttributeMap struct {
	m sync.Map
}

func NewAttributeMap(values map[string]string) *AttributeMap {
	a := &AttributeMap{}
	for k, v := range values {
		a.m.Store(k, v)
	}
	return a
}

func (a *AttributeMap) Attribute(key string) (string, bool) {
	v, ok := a.m.Load(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a *AttributeMap) SetAttribute(key, value string) {
	a.m.Store(key, value)
}
