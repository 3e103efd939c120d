package dialect

import (
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
)

// MaxRawFormatLength bounds caller-supplied date format patterns.
const MaxRawFormatLength = 64

// Raw date formats accept a strftime subset. Specifiers outside rawSpecifiers and
// literal characters outside rawLiterals are rejected, so a pattern can never
// close the string literal it is rendered into.
const (
	rawSpecifiers = "YmdHMSj"
	rawLiterals   = "0123456789 -:/.,_"
)

type formatToken struct {
	spec    byte   // 0 for literal text
	literal string // set when spec == 0
}

func parseRawFormat(format string) ([]formatToken, error) {
	if format == "" {
		return nil, apperrors.InvalidQuery("raw date format is empty")
	}
	if len(format) > MaxRawFormatLength {
		return nil, apperrors.InvalidQuery("raw date format exceeds %d characters", MaxRawFormatLength)
	}

	var tokens []formatToken
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, formatToken{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '%' {
			if i+1 >= len(format) {
				return nil, apperrors.InvalidQuery("raw date format ends with a bare %%")
			}
			next := format[i+1]
			i++
			if next == '%' {
				lit.WriteByte('%')
				continue
			}
			if !strings.ContainsRune(rawSpecifiers, rune(next)) {
				return nil, apperrors.InvalidQuery("raw date format specifier %%%c is not supported", next)
			}
			flush()
			tokens = append(tokens, formatToken{spec: next})
			continue
		}
		if !strings.ContainsRune(rawLiterals, rune(c)) {
			return nil, apperrors.InvalidQuery("raw date format contains disallowed character %q", c)
		}
		lit.WriteByte(c)
	}
	flush()
	return tokens, nil
}

// rawFormatter translates parsed tokens into a dialect's native format call.
type rawFormatter struct {
	prefix  string // text before the quoted pattern, e.g. "to_char({col}, '"
	suffix  string // text after the quoted pattern
	specs   map[byte]string
	literal func(string) string
	dialect string
}

func (r rawFormatter) render(column string, tokens []formatToken) (string, error) {
	var pattern strings.Builder
	for _, tok := range tokens {
		if tok.spec == 0 {
			pattern.WriteString(r.literal(tok.literal))
			continue
		}
		native, ok := r.specs[tok.spec]
		if !ok {
			return "", apperrors.InvalidQuery("%s cannot render date format specifier %%%c", r.dialect, tok.spec)
		}
		pattern.WriteString(native)
	}
	return strings.ReplaceAll(r.prefix, "{col}", column) + pattern.String() + strings.ReplaceAll(r.suffix, "{col}", column), nil
}

// strftimeSpecs maps the accepted subset onto engines that speak strftime.
var strftimeSpecs = map[byte]string{
	'Y': "%Y", 'm': "%m", 'd': "%d", 'H': "%H", 'M': "%M", 'S': "%S", 'j': "%j",
}

func percentEscapedLiteral(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}
