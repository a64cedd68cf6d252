package types

import (
	"path/filepath"
	"strings"
)

// Language is a source language tag
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangMarkdown   Language = "markdown"
	LangText       Language = "text"
)

var extensionLanguages = map[string]Language{
	".go":   LangGo,
	".py":   LangPython,
	".js":   LangJavaScript,
	".jsx":  LangJavaScript,
	".mjs":  LangJavaScript,
	".cjs":  LangJavaScript,
	".ts":   LangTypeScript,
	".tsx":  LangTSX,
	".rs":   LangRust,
	".java": LangJava,
	".md":   LangMarkdown,
	".txt":  LangText,
}

// DetectLanguage returns the language tag for a file path.
// Unknown extensions map to LangText.
func DetectLanguage(path string) Language {
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return LangText
}

// KnownExtension reports whether the extension has a language mapping
func KnownExtension(path string) bool {
	_, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ConceptKind is the structural kind of a concept
type ConceptKind string

const (
	ConceptFunction  ConceptKind = "function"
	ConceptClass     ConceptKind = "class"
	ConceptMethod    ConceptKind = "method"
	ConceptImport    ConceptKind = "import"
	ConceptStatement ConceptKind = "statement"
	ConceptFile      ConceptKind = "file"
)

// ChunkKind maps a concept kind to the chunk kind it produces
func (k ConceptKind) ChunkKind() ChunkKind {
	switch k {
	case ConceptFunction:
		return ChunkFunction
	case ConceptClass:
		return ChunkClass
	case ConceptMethod:
		return ChunkMethod
	case ConceptImport:
		return ChunkImport
	default:
		return ChunkFile
	}
}

// Concept is a structural unit identified before chunking.
// Children hold nested functions, classes and methods.
type Concept struct {
	Kind      ConceptKind
	Name      string
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive
	Children  []Concept
}

// ParseResult represents the output of extracting concepts from a file
type ParseResult struct {
	Language Language
	Concepts []Concept
	Fallback bool // Whole-file fallback was used

	// Errors encountered during parsing
	Errors []ParseError
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Column:  col,
		Message: msg,
	})
}

// SplitLines splits text into lines. A trailing newline does not start an
// extra empty line, so "a\nb\n" has two lines.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
