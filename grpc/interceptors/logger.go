package interceptors

import (
	"context"
	"reflect"
	"regexp"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/mennanov/fmutils"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/rainbow-me/ctxfields/common/correlation"
	"github.com/rainbow-me/ctxfields/common/headers"
	"github.com/rainbow-me/ctxfields/common/logger"
	"github.com/rainbow-me/ctxfields/common/propagation"
	"github.com/rainbow-me/ctxfields/observability"
)

// Structured logging field keys
const (
	durationKey   = "duration"
	isNewTraceKey = "is_new_trace"
	clientIDKey   = "client_id"
	serviceKey    = "service"
	methodKey     = "method"
	grpcStatusKey = "status"
	requestKey    = "request"
	responseKey   = "response"
)

var methodRegex = regexp.MustCompile(`\/(.+)\/(.+)$`)

// UnaryLoggerServerInterceptor logs every call once it completed: method, duration, status, the
// context fields of the request (sensitive values masked) and, when enabled, the payloads.
// Chain it after UnaryServerInterceptor so the request store is available. A nil log uses the
// global logger.
func UnaryLoggerServerInterceptor(log *logger.Logger, opts ...LoggingInterceptorOption) grpc.UnaryServerInterceptor {
	config := interceptorConfig(opts...)

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		return logCall(ctx, "server.request", info.FullMethod, config, log, req,
			func(ctx context.Context) (interface{}, error) {
				return handler(ctx, req)
			},
		)
	}
}

// StreamLoggerServerInterceptor logs every stream once it completed. Stream payloads are not logged.
func StreamLoggerServerInterceptor(log *logger.Logger, opts ...LoggingInterceptorOption) grpc.StreamServerInterceptor {
	config := interceptorConfig(opts...)

	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		_, err := logCall(ss.Context(), "server.stream", info.FullMethod, config, log, nil,
			func(context.Context) (interface{}, error) {
				return nil, handler(srv, ss)
			},
		)
		return err
	}
}

// UnaryLoggerClientInterceptor logs outgoing calls with the context fields of the calling request.
func UnaryLoggerClientInterceptor(log *logger.Logger, opts ...LoggingInterceptorOption) grpc.UnaryClientInterceptor {
	config := interceptorConfig(opts...)

	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		_, err := logCall(ctx, "client.request", method, config, log, req,
			func(ctx context.Context) (interface{}, error) {
				err := invoker(ctx, method, req, reply, cc, callOpts...)
				return reply, err
			},
		)
		return err
	}
}

func logCall(
	ctx context.Context,
	at string,
	fullMethod string,
	config *LoggingInterceptorConfig,
	log *logger.Logger,
	req interface{},
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if _, skip := config.skipLoggingByMethod[fullMethod]; skip {
		return handler(ctx)
	}

	grpcService, grpcMethod := GetServiceAndMethod(fullMethod)
	ctx = logger.ContextWithFields(ctx,
		logger.String(methodKey, grpcMethod),
		logger.String(serviceKey, grpcService),
	)

	start := time.Now()
	resp, err := handler(ctx)
	if !config.LogEnabled && err == nil {
		return resp, err
	}

	fields := []logger.Field{
		logger.String(methodKey, grpcMethod),
		logger.String(serviceKey, grpcService),
		logger.Duration(durationKey, time.Since(start)),
		logger.String(grpcStatusKey, status.Code(err).String()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if config.LogRequests && req != nil {
		fields = append(fields, GrpcMessageField(requestKey, req, config.LogParamsBlocklist))
	}
	if config.LogResponses && resp != nil && !reflect.ValueOf(resp).IsZero() {
		fields = append(fields, GrpcMessageField(responseKey, resp, config.LogParamsBlocklist))
	}
	if span, ok := tracer.SpanFromContext(ctx); ok {
		fields = append(fields, logger.WithTrace(span.Context())...)
	}
	fields = append(fields, metadataLogFields(ctx)...)
	fields = append(fields, contextLogFields(ctx)...)

	base := logger.Instance()
	if log != nil {
		base = *log
	}
	base.Log(logLevel(config, err), at, fields...)
	return resp, err
}

// contextLogFields reads the store at the end of the call, so fields resolved after
// authentication or captured from downstream calls are included.
func contextLogFields(ctx context.Context) []logger.Field {
	p, ok := propagation.FromContext(ctx)
	if !ok {
		return nil
	}
	store, ok := correlation.StoreFromContext(ctx)
	if !ok {
		return nil
	}
	return observability.LogFields(p.Config, store)
}

func logLevel(config *LoggingInterceptorConfig, err error) logger.Level {
	if err == nil {
		return config.LogLevel
	}
	if level, ok := config.GrpcCodeLogLevel[status.Code(err)]; ok {
		return level
	}
	return config.ErrorLogLevel
}

func metadataLogFields(ctx context.Context) []logger.Field {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	clientID := "unknown"
	if ids := md.Get(headers.HeaderClientTaggingHeader); len(ids) > 0 {
		clientID = ids[0]
	}
	return []logger.Field{
		logger.String(clientIDKey, clientID),
		logger.Bool(isNewTraceKey, len(md.Get(tracer.DefaultTraceIDHeader)) == 0),
	}
}

// GrpcMessageField renders a protobuf message as JSON with the blocklisted paths pruned from a
// clone. Other values are logged as is.
func GrpcMessageField(key string, message interface{}, masks []*fieldmaskpb.FieldMask) logger.Field {
	msg, ok := message.(proto.Message)
	if !ok {
		return logger.Any(key, message)
	}
	if len(masks) > 0 {
		msg = proto.Clone(msg)
		for _, mask := range masks {
			fmutils.Prune(msg, mask.GetPaths())
		}
	}
	b, err := protojson.Marshal(msg)
	if err != nil {
		return logger.String(key, "<unmarshalable "+string(msg.ProtoReflect().Descriptor().FullName())+">")
	}
	return logger.ByteString(key, b)
}

// GetServiceAndMethod splits "/rainbow.rates.Rates/Spot" into "rainbow.rates.Rates" and "Spot".
func GetServiceAndMethod(fullMethod string) (string, string) {
	parts := methodRegex.FindStringSubmatch(fullMethod)
	if len(parts) < 3 {
		return "unknown", fullMethod
	}
	return parts[1], parts[2]
}
