package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/dshills/codeintel/internal/logging"
	"github.com/dshills/codeintel/pkg/types"
)

// Parser extracts concepts and entity references from source text
type Parser struct {
	logger *slog.Logger
}

// Option configures a Parser
type Option func(*Parser)

// WithLogger sets the logger used for parse diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = l
	}
}

// New creates a new Parser instance
func New(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDiscard(p.logger).With("component", "parser")
	return p
}

// Supported reports whether a grammar is registered for lang
func (p *Parser) Supported(lang types.Language) bool {
	return supported(lang)
}

// ParseFile extracts the ordered top-level concepts of a file.
// It never fails: unsupported languages and unparseable input fall back to a
// single file-level concept, and syntax errors are recorded on the result.
func (p *Parser) ParseFile(ctx context.Context, filePath string, src []byte) *types.ParseResult {
	lang := types.DetectLanguage(filePath)
	result := &types.ParseResult{Language: lang}

	if len(bytes.TrimSpace(src)) == 0 {
		return result
	}

	concepts, partial, err := extractConcepts(ctx, lang, src)
	switch {
	case errors.Is(err, types.ErrUnsupportedLanguage):
		// Expected for plain text, markdown and unregistered languages
	case err != nil:
		result.AddError(filePath, 0, 0, fmt.Sprintf("parse failed: %v", err))
		p.logger.Debug("parse failed, using whole-file concept", "file", filePath, "error", err)
	case partial:
		result.AddError(filePath, 0, 0, "syntax errors, using partial concepts")
	}

	if err != nil || len(concepts) == 0 {
		result.Concepts = []types.Concept{FileConcept(src)}
		result.Fallback = true
		return result
	}

	result.Concepts = concepts
	return result
}

// ExtractEntities returns the symbols referenced by a chunk: call targets,
// type references and imports. Unparseable input yields an empty list.
func (p *Parser) ExtractEntities(ctx context.Context, chunkID string, src []byte, lang types.Language) []types.Entity {
	if len(bytes.TrimSpace(src)) == 0 || !supported(lang) {
		return nil
	}

	refs := extractEntityRefs(ctx, lang, src)

	type key struct {
		name string
		kind types.EntityKind
	}
	seen := make(map[key]bool, len(refs))
	entities := make([]types.Entity, 0, len(refs))
	for _, ref := range refs {
		name := normalizeName(ref.name, ref.kind)
		if name == "" || isBuiltin(lang, name) {
			continue
		}
		k := key{name, ref.kind}
		if seen[k] {
			continue
		}
		seen[k] = true
		entities = append(entities, types.Entity{
			Name:          name,
			Kind:          ref.kind,
			SourceChunkID: chunkID,
		})
	}
	return entities
}

// FileConcept returns a single file-level concept covering all of src
func FileConcept(src []byte) types.Concept {
	lines := types.SplitLines(string(src))
	end := len(lines)
	if end == 0 {
		end = 1
	}
	return types.Concept{
		Kind:      types.ConceptFile,
		StartLine: 1,
		EndLine:   end,
	}
}

// entityRef is a raw reference before normalization
type entityRef struct {
	name string
	kind types.EntityKind
}

// normalizeName reduces a callee, type or import expression to a bare
// identifier: "pkg.Func" -> "Func", "\"net/http\"" -> "http", "Vec<T>" -> "Vec".
func normalizeName(raw string, kind types.EntityKind) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"'`")
	if kind != types.EntityImport {
		if i := strings.IndexAny(s, "[<(!{ \n"); i > 0 {
			s = s[:i]
		}
	}
	s = strings.TrimRight(s, "/.;:")

	if i := strings.LastIndexAny(s, "./:>"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimLeft(s, "*&@$")

	if len(s) < 2 || !isIdentifier(s) {
		return ""
	}
	return s
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '-'):
		default:
			return false
		}
	}
	return true
}

var builtins = map[types.Language]map[string]bool{
	types.LangGo: setOf("append", "cap", "clear", "close", "complex", "copy", "delete", "imag", "len",
		"make", "max", "min", "new", "panic", "print", "println", "real", "recover",
		"bool", "byte", "error", "float32", "float64", "int", "int8", "int16", "int32", "int64",
		"rune", "string", "uint", "uint8", "uint16", "uint32", "uint64", "uintptr", "any"),
	types.LangPython: setOf("print", "len", "range", "str", "int", "float", "list", "dict", "set",
		"tuple", "bool", "isinstance", "super", "type", "enumerate", "zip", "open", "sorted",
		"getattr", "setattr", "hasattr", "self", "cls"),
	types.LangJavaScript: jsBuiltins,
	types.LangTypeScript: jsBuiltins,
	types.LangTSX:        jsBuiltins,
	types.LangRust: setOf("println", "print", "format", "vec", "panic", "assert", "assert_eq",
		"Some", "None", "Ok", "Err", "Self", "unwrap", "clone", "into"),
	types.LangJava: setOf("String", "Object", "Integer", "Long", "Boolean", "System", "println",
		"toString", "equals", "hashCode", "Override"),
}

var jsBuiltins = setOf("require", "console", "log", "parseInt", "parseFloat", "String", "Number",
	"Boolean", "Object", "Array", "Promise", "JSON", "Error", "Math", "Date", "Map", "Set",
	"string", "number", "boolean", "any", "void", "unknown", "never", "this")

func isBuiltin(lang types.Language, name string) bool {
	return builtins[lang][name]
}

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
