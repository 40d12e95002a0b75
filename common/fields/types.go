package fields

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strings"
)

// SourceType is where an inbound value is read from.
type SourceType string

const (
	SourceHeader    SourceType = "HEADER"
	SourceCookie    SourceType = "COOKIE"
	SourceQuery     SourceType = "QUERY"
	SourcePath      SourceType = "PATH"
	SourceSession   SourceType = "SESSION"
	SourceClaim     SourceType = "CLAIM"
	SourceBody      SourceType = "BODY"
	SourceForm      SourceType = "FORM"
	SourceAttribute SourceType = "ATTRIBUTE"
)

// SourceTypes lists every source kind in registry order.
var SourceTypes = []SourceType{
	SourceHeader, SourceCookie, SourceQuery, SourcePath, SourceSession,
	SourceClaim, SourceBody, SourceForm, SourceAttribute,
}

func (s *SourceType) UnmarshalText(b []byte) error {
	v := normalize(string(b))
	if v == "TOKEN" {
		v = string(SourceClaim)
	}
	*s = SourceType(v)
	return nil
}

func (s SourceType) Valid() bool {
	for _, v := range SourceTypes {
		if s == v {
			return true
		}
	}
	return false
}

// PostAuth reports whether values of this kind are only available once the caller is authenticated.
// PATH belongs here since route variables are bound after the security layer.
func (s SourceType) PostAuth() bool {
	return s == SourceClaim || s == SourcePath
}

// ReadsBody reports whether extraction needs the materialised body.
func (s SourceType) ReadsBody() bool {
	return s == SourceBody || s == SourceForm
}

// EnrichmentType is the carrier slot a value is written to.
type EnrichmentType string

const (
	EnrichHeader    EnrichmentType = "HEADER"
	EnrichQuery     EnrichmentType = "QUERY"
	EnrichCookie    EnrichmentType = "COOKIE"
	EnrichPath      EnrichmentType = "PATH"
	EnrichAttribute EnrichmentType = "ATTRIBUTE"
	EnrichBody      EnrichmentType = "BODY"
)

var EnrichmentTypes = []EnrichmentType{
	EnrichHeader, EnrichQuery, EnrichCookie, EnrichPath, EnrichAttribute, EnrichBody,
}

func (e *EnrichmentType) UnmarshalText(b []byte) error {
	*e = EnrichmentType(normalize(string(b)))
	return nil
}

func (e EnrichmentType) Valid() bool {
	for _, v := range EnrichmentTypes {
		if e == v {
			return true
		}
	}
	return false
}

// Source returns the source kind whose handler owns this enrichment target.
func (e EnrichmentType) Source() SourceType {
	return SourceType(e)
}

// ValueType is the representation a value takes when it is propagated.
type ValueType string

const (
	ValueString     ValueType = "STRING"
	ValueNumber     ValueType = "NUMBER"
	ValueBoolean    ValueType = "BOOLEAN"
	ValueBase64     ValueType = "BASE64"
	ValueURLEncoded ValueType = "URL_ENCODED"
	ValueJSONArray  ValueType = "JSON_ARRAY"
	ValueJSONObject ValueType = "JSON_OBJECT"
	ValueExpression ValueType = "EXPRESSION"
)

var ValueTypes = []ValueType{
	ValueString, ValueNumber, ValueBoolean, ValueBase64, ValueURLEncoded,
	ValueJSONArray, ValueJSONObject, ValueExpression,
}

func (v *ValueType) UnmarshalText(b []byte) error {
	*v = ValueType(normalize(string(b)))
	return nil
}

func (v ValueType) Valid() bool {
	for _, t := range ValueTypes {
		if v == t {
			return true
		}
	}
	return false
}

// TransformType is applied to an extracted value before it is stored.
type TransformType string

const (
	TransformNone      TransformType = ""
	TransformUppercase TransformType = "UPPERCASE"
	TransformLowercase TransformType = "LOWERCASE"
	TransformTrim      TransformType = "TRIM"
	TransformHash      TransformType = "HASH"
	TransformBase64    TransformType = "BASE64"
	TransformURLEncode TransformType = "URL_ENCODE"
)

var TransformTypes = []TransformType{
	TransformUppercase, TransformLowercase, TransformTrim, TransformHash, TransformBase64, TransformURLEncode,
}

func (t *TransformType) UnmarshalText(b []byte) error {
	*t = TransformType(normalize(string(b)))
	return nil
}

func (t TransformType) Valid() bool {
	if t == TransformNone {
		return true
	}
	for _, v := range TransformTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Apply transforms value. HASH is the hex encoded SHA-256 digest.
func (t TransformType) Apply(value string) string {
	switch t {
	case TransformUppercase:
		return strings.ToUpper(value)
	case TransformLowercase:
		return strings.ToLower(value)
	case TransformTrim:
		return strings.TrimSpace(value)
	case TransformHash:
		sum := sha256.Sum256([]byte(value))
		return hex.EncodeToString(sum[:])
	case TransformBase64:
		return base64.StdEncoding.EncodeToString([]byte(value))
	case TransformURLEncode:
		return url.QueryEscape(value)
	default:
		return value
	}
}

// GeneratorType produces a value for an absent field.
type GeneratorType string

const (
	GeneratorUUID      GeneratorType = "UUID"
	GeneratorUUIDv7    GeneratorType = "UUID_V7"
	GeneratorTimestamp GeneratorType = "TIMESTAMP"
	GeneratorSequence  GeneratorType = "SEQUENCE"
)

var GeneratorTypes = []GeneratorType{GeneratorUUID, GeneratorUUIDv7, GeneratorTimestamp, GeneratorSequence}

func (g *GeneratorType) UnmarshalText(b []byte) error {
	*g = GeneratorType(normalize(string(b)))
	return nil
}

func (g GeneratorType) Valid() bool {
	for _, v := range GeneratorTypes {
		if g == v {
			return true
		}
	}
	return false
}

// Cardinality classifies how many distinct values a field takes.
type Cardinality string

const (
	CardinalityNone   Cardinality = "NONE"
	CardinalityLow    Cardinality = "LOW"
	CardinalityMedium Cardinality = "MEDIUM"
	CardinalityHigh   Cardinality = "HIGH"
)

func (c *Cardinality) UnmarshalText(b []byte) error {
	*c = Cardinality(normalize(string(b)))
	return nil
}

// Rank orders cardinalities, -1 for unknown values.
func (c Cardinality) Rank() int {
	switch c {
	case CardinalityNone:
		return 0
	case CardinalityLow:
		return 1
	case CardinalityMedium:
		return 2
	case CardinalityHigh:
		return 3
	default:
		return -1
	}
}

func (c Cardinality) Valid() bool { return c.Rank() >= 0 }

// PIIClass tags the kind of personal data a field carries.
type PIIClass string

const (
	PIINone       PIIClass = "NONE"
	PIIPersonal   PIIClass = "PERSONAL"
	PIIFinancial  PIIClass = "FINANCIAL"
	PIICredential PIIClass = "CREDENTIAL"
)

func (p *PIIClass) UnmarshalText(b []byte) error {
	*p = PIIClass(normalize(string(b)))
	return nil
}

func (p PIIClass) Valid() bool {
	switch p {
	case PIINone, PIIPersonal, PIIFinancial, PIICredential:
		return true
	}
	return false
}

// Stage is one of the four moments a field is read or written during a request.
type Stage int

const (
	UpstreamInbound Stage = iota
	UpstreamOutbound
	DownstreamOutbound
	DownstreamInbound
)

func (s Stage) String() string {
	switch s {
	case UpstreamInbound:
		return "upstream.inbound"
	case UpstreamOutbound:
		return "upstream.outbound"
	case DownstreamOutbound:
		return "downstream.outbound"
	case DownstreamInbound:
		return "downstream.inbound"
	}
	return "unknown"
}

func normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "-", "_")
}
