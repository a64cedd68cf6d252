//go:build cgo

package parser

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/codeintel/pkg/types"
)

// languageSpec is the small, explicit set of node kinds the extractors
// consume for one grammar.
type languageSpec struct {
	grammar *sitter.Language

	functions map[string]bool // function-like nodes; become methods inside a class
	classes   map[string]bool // containers: classes, structs, traits, impls
	methods   map[string]bool // always methods
	imports   map[string]bool
	wrappers  map[string]string // node kind -> field holding the wrapped declaration
	variables map[string]bool   // declarations that may bind a function value
	comments  map[string]bool

	calls       map[string]string // call node kind -> field holding the callee
	typeRefs    map[string]bool
	importNames map[string]bool // nodes inside an import that name the target
}

func (s *languageSpec) isDefinition(kind string) bool {
	return s.functions[kind] || s.classes[kind] || s.methods[kind]
}

var registry = map[types.Language]*languageSpec{
	types.LangGo: {
		grammar:     golang.GetLanguage(),
		functions:   setOf("function_declaration", "func_literal"),
		classes:     setOf("type_declaration"),
		methods:     setOf("method_declaration"),
		imports:     setOf("import_declaration"),
		comments:    setOf("comment"),
		calls:       map[string]string{"call_expression": "function"},
		typeRefs:    setOf("type_identifier", "qualified_type"),
		importNames: setOf("interpreted_string_literal", "raw_string_literal"),
	},
	types.LangPython: {
		grammar:     python.GetLanguage(),
		functions:   setOf("function_definition"),
		classes:     setOf("class_definition"),
		imports:     setOf("import_statement", "import_from_statement", "future_import_statement"),
		wrappers:    map[string]string{"decorated_definition": "definition"},
		comments:    setOf("comment"),
		calls:       map[string]string{"call": "function"},
		typeRefs:    setOf("type"),
		importNames: setOf("dotted_name"),
	},
	types.LangJavaScript: jsSpec(javascript.GetLanguage(), false),
	types.LangTypeScript: jsSpec(typescript.GetLanguage(), true),
	types.LangTSX:        jsSpec(tsx.GetLanguage(), true),
	types.LangRust: {
		grammar:     rust.GetLanguage(),
		functions:   setOf("function_item"),
		classes:     setOf("struct_item", "enum_item", "trait_item", "impl_item", "mod_item", "union_item"),
		imports:     setOf("use_declaration", "extern_crate_declaration"),
		comments:    setOf("line_comment", "block_comment"),
		calls:       map[string]string{"call_expression": "function", "macro_invocation": "macro"},
		typeRefs:    setOf("type_identifier"),
		importNames: setOf("scoped_identifier", "identifier", "crate"),
	},
	types.LangJava: {
		grammar:     java.GetLanguage(),
		classes:     setOf("class_declaration", "interface_declaration", "enum_declaration", "record_declaration"),
		methods:     setOf("method_declaration", "constructor_declaration"),
		imports:     setOf("import_declaration"),
		comments:    setOf("line_comment", "block_comment"),
		calls:       map[string]string{"method_invocation": "name", "object_creation_expression": "type"},
		typeRefs:    setOf("type_identifier"),
		importNames: setOf("scoped_identifier", "identifier"),
	},
}

func jsSpec(grammar *sitter.Language, typed bool) *languageSpec {
	spec := &languageSpec{
		grammar:     grammar,
		functions:   setOf("function_declaration", "generator_function_declaration", "function_expression", "function", "arrow_function"),
		classes:     setOf("class_declaration", "class"),
		methods:     setOf("method_definition"),
		imports:     setOf("import_statement"),
		wrappers:    map[string]string{"export_statement": "declaration"},
		variables:   setOf("lexical_declaration", "variable_declaration"),
		comments:    setOf("comment"),
		calls:       map[string]string{"call_expression": "function", "new_expression": "constructor"},
		typeRefs:    map[string]bool{},
		importNames: setOf("string"),
	}
	if typed {
		for _, k := range []string{"interface_declaration", "abstract_class_declaration", "enum_declaration", "type_alias_declaration"} {
			spec.classes[k] = true
		}
		spec.typeRefs["type_identifier"] = true
	}
	return spec
}

func supported(lang types.Language) bool {
	_, ok := registry[lang]
	return ok
}
