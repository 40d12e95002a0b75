package fields_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbow-me/ctxfields/common/fields"
)

const document = `
fields:
  userId:
    upstream:
      inbound:
        source: header
        key: X-User-ID
        fallback:
          source: query
          key: user_id
    downstream:
      outbound:
        enrichAs: HEADER
  email:
    upstream:
      inbound:
        source: TOKEN
        claimPath: user.email
        defaultValue: anonymous@example.com
    security:
      sensitive: true
      masking: email
  requestId:
    upstream:
      inbound:
        source: HEADER
        key: X-Request-ID
        generateIfAbsent: true
      outbound:
        enrichAs: HEADER
    observability:
      tracing:
        enabled: true
        name: request.id
  orphan:
    downstream:
      outbound:
        enrichAs: QUERY
        key: orphan
settings:
  normalizeHeaders: true
`

func TestParse(t *testing.T) {
	cfg, err := fields.Parse([]byte(document))
	require.NoError(t, err)

	assert.Equal(t, []string{"email", "orphan", "requestId", "userId"}, cfg.Names())
	assert.True(t, cfg.Settings().NormalizeHeaders)
	assert.Equal(t, fields.DefaultMaxBodyBytes, cfg.Settings().MaxBodyBytes)
	assert.Equal(t, fields.CardinalityLow, cfg.Settings().MetricsMaxCardinality)

	userID, ok := cfg.Field("userId")
	require.True(t, ok)
	in := userID.Inbound(fields.UpstreamInbound)
	require.NotNil(t, in)
	assert.Equal(t, fields.SourceHeader, in.Source)
	require.Len(t, in.Chain(), 2)
	assert.Equal(t, fields.SourceQuery, in.Chain()[1].Source)

	out := userID.Outbound(fields.DownstreamOutbound)
	require.NotNil(t, out)
	assert.Equal(t, "X-User-ID", out.Key, "outbound key defaults to the upstream inbound key")
	assert.Equal(t, fields.ValueString, out.ValueAs)
	assert.True(t, out.ShouldOverride())

	email, _ := cfg.Field("email")
	assert.Equal(t, fields.SourceClaim, email.Upstream.Inbound.Source)
	assert.Equal(t, "user.email", email.Upstream.Inbound.Key)
	assert.Equal(t, "j***@***.com", cfg.Mask("email", "john@example.com"))
	assert.Equal(t, "u-1", cfg.Mask("userId", "u-1"))

	requestID, _ := cfg.Field("requestId")
	assert.Equal(t, fields.GeneratorUUID, requestID.Upstream.Inbound.Generator)
	assert.True(t, requestID.Observability.Tracing.On(false))
	assert.Equal(t, "request.id", requestID.Observability.Tracing.TagName("requestId"))
	assert.True(t, requestID.Observability.Logging.On(true))

	assert.Equal(t, []string{"field orphan has no inbound source and is never populated"}, cfg.Warnings())
	assert.False(t, cfg.NeedsBody(fields.UpstreamInbound))
}

func TestParseJSON(t *testing.T) {
	cfg, err := fields.Parse([]byte(`{"fields":{"version":{"downstream":{"inbound":{"source":"BODY","key":"$.meta.version"}}}}}`))
	require.NoError(t, err)
	assert.True(t, cfg.NeedsBody(fields.DownstreamInbound))
	assert.False(t, cfg.NeedsBody(fields.UpstreamInbound))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr []string
	}{
		{
			name:    "unknown source",
			doc:     "fields: {a: {upstream: {inbound: {source: CARRIER_PIGEON, key: k}}}}",
			wantErr: []string{`a.upstream.inbound: unknown source "CARRIER_PIGEON"`},
		},
		{
			name:    "unknown enrichAs and valueAs",
			doc:     "fields: {a: {downstream: {outbound: {enrichAs: SMOKE, valueAs: XML}}}}",
			wantErr: []string{`unknown enrichAs "SMOKE"`, `unknown valueAs "XML"`},
		},
		{
			name:    "malformed masking",
			doc:     "fields: {a: {upstream: {inbound: {source: HEADER, key: k}}, security: {sensitive: true, masking: '{4***'}}}",
			wantErr: []string{"a.security", "invalid masking pattern"},
		},
		{
			name:    "expression without template",
			doc:     "fields: {a: {downstream: {outbound: {enrichAs: HEADER, key: k, valueAs: EXPRESSION}}}}",
			wantErr: []string{"requires an expression"},
		},
		{
			name: "fallback too deep",
			doc: `fields: {a: {upstream: {inbound: {source: HEADER, key: k0, fallback: {source: HEADER, key: k1,
  fallback: {source: HEADER, key: k2, fallback: {source: HEADER, key: k3, fallback: {source: HEADER, key: k4,
  fallback: {source: HEADER, key: k5, fallback: {source: HEADER, key: k6}}}}}}}}}}`,
			wantErr: []string{"fallback chain deeper than 5"},
		},
		{
			name:    "missing key",
			doc:     "fields: {a: {upstream: {inbound: {source: COOKIE}}}}",
			wantErr: []string{"key is required for source COOKIE"},
		},
		{
			name:    "problems are aggregated",
			doc:     "fields: {a: {upstream: {inbound: {source: NOPE, key: k}}}, b: {observability: {cardinality: HUGE}}}",
			wantErr: []string{"2 problem(s)", "unknown source", `unknown cardinality "HUGE"`},
		},
		{
			name:    "not a document",
			doc:     "fields: [",
			wantErr: []string{"invalid field configuration"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fields.Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, fields.ErrInvalidConfig)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestNewRejectsCyclicFallback(t *testing.T) {
	a := &fields.InboundConfig{Source: fields.SourceHeader, Key: "a"}
	b := &fields.InboundConfig{Source: fields.SourceHeader, Key: "b", Fallback: a}
	a.Fallback = b

	_, err := fields.New(map[string]*fields.FieldConfiguration{
		"loop": {Upstream: &fields.Direction{Inbound: a}},
	}, fields.Settings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
	assert.Len(t, a.Chain(), 2)
}

func TestTransformApply(t *testing.T) {
	tests := []struct {
		transform fields.TransformType
		in, want  string
	}{
		{fields.TransformNone, " Ab ", " Ab "},
		{fields.TransformUppercase, "ab", "AB"},
		{fields.TransformLowercase, "AB", "ab"},
		{fields.TransformTrim, "  ab\t", "ab"},
		{fields.TransformHash, "abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{fields.TransformBase64, "abc", "YWJj"},
		{fields.TransformURLEncode, "a b&c", "a+b%26c"},
	}
	for _, tt := range tests {
		t.Run(string(tt.transform), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.transform.Apply(tt.in))
		})
	}
}

func TestSourceTypePhases(t *testing.T) {
	for _, s := range fields.SourceTypes {
		want := s == fields.SourceClaim || s == fields.SourcePath
		assert.Equal(t, want, s.PostAuth(), s)
	}
}
