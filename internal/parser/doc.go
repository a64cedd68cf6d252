// Package parser turns source text into concepts and entity references.
//
// Concepts are the structural units the chunker works from: the named
// top-level nodes of a file in order (functions, classes, methods, imports and
// plain statements), each carrying its nested definitions as children.
//
//	p := parser.New(parser.WithLogger(logger))
//	result := p.ParseFile(ctx, "/repo/server.go", src)
//	for _, c := range result.Concepts {
//	    fmt.Printf("%s %s %d-%d\n", c.Kind, c.Name, c.StartLine, c.EndLine)
//	}
//
// # Grammars
//
// With cgo, tree-sitter grammars are registered for Go, Python, JavaScript,
// TypeScript, TSX, Rust and Java. Each grammar is described by a small set of
// node kinds (definitions, imports, calls, type references) rather than by
// generic traversal. Without cgo only Go is supported, through go/ast.
//
// # Failure behaviour
//
// ParseFile never returns an error. Unregistered languages produce a single
// file-level concept. Syntax errors are recorded in ParseResult.Errors and the
// concepts that did parse are returned; if none did, the file-level concept is
// used.
//
// ExtractEntities returns the call targets, type references and imports of a
// chunk, normalized to bare identifiers and deduplicated in source order.
// Builtins are dropped. Unparseable input yields an empty list.
package parser
