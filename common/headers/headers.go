package headers

// Request Identification Headers
const (
	// HeaderXRequestID uniquely identifies an individual HTTP request
	HeaderXRequestID = "x-request-id"

	// HeaderXCorrelationID correlates every request belonging to one business transaction
	HeaderXCorrelationID = "x-correlation-id"

	// HeaderXTraceID carries the Datadog trace id to callers and downstream services
	HeaderXTraceID = "x-trace-id"
)

// Identity Headers, typically filled from claims after authentication
const (
	HeaderXUserID   = "x-user-id"
	HeaderXTenantID = "x-tenant-id"
)

// Authentication Headers
const (
	// HeaderAuthorization carries the bearer token the CLAIM source reads when the
	// authentication layer did not hand over resolved claims
	HeaderAuthorization = "authorization"

	BearerScheme = "Bearer"
)

// Client Identification Headers
const (
	// HeaderClientTaggingHeader tags requests from specific clients or applications
	HeaderClientTaggingHeader = "x-client-id"
)

const (
	HeaderContentType = "content-type"
	MIMEJSON          = "application/json"
	MIMEForm          = "application/x-www-form-urlencoded"
)

// DefaultAllowedHeaders returns the request headers every service accepts cross-origin,
// on top of the ones declared by the field configuration.
func DefaultAllowedHeaders() []string {
	return []string{
		HeaderXRequestID,
		HeaderXCorrelationID,
		HeaderXTraceID,
		HeaderAuthorization,
		HeaderClientTaggingHeader,
		HeaderContentType,
	}
}
