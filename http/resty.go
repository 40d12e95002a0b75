package http

import (
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
	interceptors "github.com/rainbow-me/ctxfields/http/interceptors/resty"
)

// NewRestyWithClient builds a resty client on top of client with tracing and context field
// propagation installed.
func NewRestyWithClient(client *http.Client, log *logger.Logger, opt ...interceptors.InterceptorOpt) *resty.Client {
	restyClient := resty.NewWithClient(client)
	interceptors.InjectInterceptors(restyClient, opt...)

	if log != nil {
		restyClient.SetLogger((*logger.Adapter)(log))
	}
	return restyClient
}

// NewStreamingResty builds a resty client for calls read with SetDoNotParseResponse. Response
// middlewares never run for those calls, so fields travel through a Transport installed on a copy
// of client instead of the resty hooks. client is not modified.
func NewStreamingResty(
	client *http.Client,
	log *logger.Logger,
	p *propagation.Propagator,
	opt ...interceptors.InterceptorOpt,
) *resty.Client {
	if client == nil {
		client = &http.Client{}
	}
	streaming := *client
	streaming.Transport = NewTransport(client.Transport, p)

	opt = append(opt, interceptors.WithFieldsEnabled(false))
	return NewRestyWithClient(&streaming, log, opt...)
}
