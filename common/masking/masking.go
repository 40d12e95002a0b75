// Package masking redacts sensitive context values for logs and telemetry.
//
// Pattern families, by precedence:
//
//	{n}          advanced: a leading {n} shows the first n characters, a trailing {n} the last n,
//	             '*' runs and other literals are copied as written ("{4}****{4}", "***-{4}")
//	x@y          email-aware, when the value is an email as well ("***@***.***" is returned as is)
//	email        default email shape: first character, "***@***." and the last domain segment
//	*-n          legacy partial: "***" followed by the last n characters
//	anything     the pattern itself is the replacement ("***", "[REDACTED]")
//
// Mask never fails: malformed advanced patterns produce Masked. Validate reports those problems
// ahead of time and is meant to be called when the configuration is loaded.
package masking

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Masked is the fail-closed replacement.
const Masked = "***"

const (
	// FullEmailPattern hides every part of an email address.
	FullEmailPattern = "***@***.***"
	// EmailKeyword selects the default email shape.
	EmailKeyword = "email"

	maxShown = 1 << 16
)

// ErrInvalidPattern is returned by Validate for malformed advanced patterns.
var ErrInvalidPattern = errors.New("invalid masking pattern")

var legacyPattern = regexp.MustCompile(`^\*-(\d+)$`)

// Mask applies pattern to value. Empty values are returned unchanged and an empty pattern
// masks the value entirely.
func Mask(value, pattern string) string {
	if value == "" {
		return value
	}
	switch {
	case pattern == "":
		return Masked
	case isAdvanced(pattern):
		return maskAdvanced(value, pattern)
	case strings.Contains(pattern, "@") && strings.Contains(value, "@"):
		if pattern == FullEmailPattern {
			return FullEmailPattern
		}
		return maskEmail(value)
	case pattern == EmailKeyword:
		if !strings.Contains(value, "@") {
			return Masked
		}
		return maskEmail(value)
	}
	if m := legacyPattern.FindStringSubmatch(pattern); m != nil {
		return maskLegacy(value, m[1])
	}
	return pattern
}

// Validate checks that pattern is well formed without masking anything.
func Validate(pattern string) error {
	if !isAdvanced(pattern) {
		return nil
	}
	tokens, err := tokenize(pattern)
	if err != nil {
		return errors.Wrapf(ErrInvalidPattern, "%q: %s", pattern, err)
	}
	if err := checkPlacement(tokens); err != nil {
		return errors.Wrapf(ErrInvalidPattern, "%q: %s", pattern, err)
	}
	return nil
}

func isAdvanced(pattern string) bool {
	return strings.ContainsAny(pattern, "{}")
}

func maskAdvanced(value, pattern string) string {
	tokens, err := tokenize(pattern)
	if err != nil || checkPlacement(tokens) != nil {
		return Masked
	}

	runes := []rune(value)
	lead, trail := 0, 0
	if tokens[0].kind == tokenShow {
		lead = tokens[0].n
	}
	if last := len(tokens) - 1; last > 0 && tokens[last].kind == tokenShow {
		trail = tokens[last].n
	}
	// showing everything would hide nothing
	if lead+trail >= len(runes) {
		return Masked
	}

	var b strings.Builder
	for i, t := range tokens {
		switch t.kind {
		case tokenShow:
			if i == 0 {
				b.WriteString(string(runes[:lead]))
			} else {
				b.WriteString(string(runes[len(runes)-trail:]))
			}
		case tokenStar:
			b.WriteString(strings.Repeat("*", t.n))
		case tokenLiteral:
			b.WriteString(t.text)
		}
	}
	return b.String()
}

func maskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	local, domain := value[:at], value[at+1:]

	var b strings.Builder
	if local != "" {
		r := []rune(local)
		b.WriteRune(r[0])
	}
	b.WriteString("***@***")
	if dot := strings.LastIndex(domain, "."); dot >= 0 && dot < len(domain)-1 {
		b.WriteString(".")
		b.WriteString(domain[dot+1:])
	}
	return b.String()
}

func maskLegacy(value, digits string) string {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return Masked
	}
	runes := []rune(value)
	if len(runes) <= n {
		return value
	}
	return Masked + string(runes[len(runes)-n:])
}

type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenStar
	tokenShow
)

type token struct {
	kind tokenKind
	text string
	n    int
}

// tokenize splits an advanced pattern into literal, star-run and {n} tokens.
func tokenize(pattern string) ([]token, error) {
	const (
		inText = iota
		inBrace
	)
	var (
		tokens  []token
		literal strings.Builder
		digits  strings.Builder
		state   = inText
	)
	flush := func() {
		if literal.Len() > 0 {
			tokens = append(tokens, token{kind: tokenLiteral, text: literal.String()})
			literal.Reset()
		}
	}

	for _, r := range pattern {
		switch state {
		case inText:
			switch r {
			case '{':
				flush()
				digits.Reset()
				state = inBrace
			case '}':
				return nil, errors.New("unbalanced '}'")
			case '*':
				flush()
				if n := len(tokens); n > 0 && tokens[n-1].kind == tokenStar {
					tokens[n-1].n++
				} else {
					tokens = append(tokens, token{kind: tokenStar, n: 1})
				}
			default:
				literal.WriteRune(r)
			}
		case inBrace:
			switch {
			case r >= '0' && r <= '9':
				digits.WriteRune(r)
			case r == '}':
				if digits.Len() == 0 {
					return nil, errors.New("empty braces")
				}
				n, err := strconv.Atoi(digits.String())
				if err != nil || n > maxShown {
					return nil, errors.Newf("count %s out of range", digits.String())
				}
				tokens = append(tokens, token{kind: tokenShow, n: n})
				state = inText
			default:
				return nil, errors.Newf("unexpected %q inside braces", r)
			}
		}
	}
	if state == inBrace {
		return nil, errors.New("unbalanced '{'")
	}
	flush()
	if len(tokens) == 0 {
		return nil, errors.New("empty pattern")
	}
	return tokens, nil
}

// checkPlacement only allows {n} as the first or the last token.
func checkPlacement(tokens []token) error {
	for i, t := range tokens {
		if t.kind == tokenShow && i != 0 && i != len(tokens)-1 {
			return errors.Newf("{%d} must lead or trail the pattern", t.n)
		}
	}
	return nil
}
