// Package tokenize splits source text into code-aware search tokens.
//
// Identifiers are broken at camelCase humps, digits and underscores and
// lowercased, so "parseHTTPRequest" yields "parse", "http", "request" plus the
// whole identifier "parsehttprequest". Punctuation never produces a token.
package tokenize

import (
	"strings"
	"unicode"
)

// MinTokenLen is the shortest sub-token kept
const MinTokenLen = 2

// Words returns the identifier-like words of text in order, without splitting
// them further.
func Words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokens returns the code-aware tokens of text in order. A compound
// identifier contributes its lowercased whole form followed by its parts.
func Tokens(text string) []string {
	var out []string
	for _, word := range Words(text) {
		parts := Split(word)
		whole := strings.ToLower(strings.Trim(word, "_"))
		if len(parts) != 1 && len([]rune(whole)) >= MinTokenLen {
			out = append(out, strings.ReplaceAll(whole, "_", ""))
		}
		out = append(out, parts...)
	}
	return out
}

// Unique returns the tokens of text with duplicates removed, first occurrence
// order preserved.
func Unique(text string) []string {
	tokens := Tokens(text)
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Join renders text as a space separated token stream, the form stored in
// the lexical index column.
func Join(text string) string {
	return strings.Join(Tokens(text), " ")
}

// Split breaks one identifier into lowercased parts:
// "HTTPServer_v2" -> "http", "server", "v2".
func Split(word string) []string {
	runes := []rune(word)
	var parts []string
	start := -1

	flush := func(end int) {
		if start >= 0 && end-start >= MinTokenLen {
			parts = append(parts, strings.ToLower(string(runes[start:end])))
		}
		start = -1
	}

	for i, r := range runes {
		switch {
		case r == '_':
			flush(i)
			continue
		case start < 0:
			start = i
			continue
		}

		prev := runes[i-1]
		switch {
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			// fooBar
			flush(i)
			start = i
		case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			// HTTPServer: the S starts a new part
			flush(i)
			start = i
		case unicode.IsLetter(r) && unicode.IsDigit(prev) && unicode.IsUpper(r):
			flush(i)
			start = i
		}
	}
	flush(len(runes))
	return parts
}
