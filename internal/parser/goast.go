//go:build !cgo

package parser

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/dshills/codeintel/pkg/types"
)

// Without cgo there is no tree-sitter; Go files are handled by go/ast and every
// other language falls back to whole-file concepts.

func supported(lang types.Language) bool {
	return lang == types.LangGo
}

func extractConcepts(_ context.Context, lang types.Language, src []byte) ([]types.Concept, bool, error) {
	if lang != types.LangGo {
		return nil, false, types.ErrUnsupportedLanguage
	}

	fset := token.NewFileSet()
	// Syntax errors are non-fatal: parser.ParseFile returns a partial AST
	file, err := parser.ParseFile(fset, "", src, parser.ParseComments|parser.SkipObjectResolution)
	if file == nil {
		return nil, true, err
	}

	e := &astExtractor{fset: fset}
	var concepts []types.Concept

	if file.Name != nil && file.Name.Name != "" {
		line := fset.Position(file.Package).Line
		concepts = append(concepts, types.Concept{
			Kind:      types.ConceptStatement,
			Name:      "package " + file.Name.Name,
			StartLine: line,
			EndLine:   fset.Position(file.Name.End()).Line,
		})
	}

	for _, decl := range file.Decls {
		if c, ok := e.declConcept(decl); ok {
			concepts = append(concepts, c)
		}
	}
	return concepts, err != nil, nil
}

type astExtractor struct {
	fset *token.FileSet
}

func (e *astExtractor) lines(n ast.Node) (int, int) {
	return e.fset.Position(n.Pos()).Line, e.fset.Position(n.End()).Line
}

func (e *astExtractor) declConcept(decl ast.Decl) (types.Concept, bool) {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		if d.Name == nil {
			return types.Concept{}, false
		}
		start, end := e.lines(d)
		c := types.Concept{
			Kind:      types.ConceptFunction,
			Name:      d.Name.Name,
			StartLine: start,
			EndLine:   end,
			Children:  e.funcLits(d.Body),
		}
		if d.Recv != nil && len(d.Recv.List) > 0 {
			c.Kind = types.ConceptMethod
		}
		return c, true

	case *ast.GenDecl:
		start, end := e.lines(d)
		c := types.Concept{StartLine: start, EndLine: end}
		switch d.Tok {
		case token.IMPORT:
			c.Kind = types.ConceptImport
			c.Name = "imports"
		case token.TYPE:
			c.Kind = types.ConceptClass
			if len(d.Specs) > 0 {
				if ts, ok := d.Specs[0].(*ast.TypeSpec); ok {
					c.Name = ts.Name.Name
				}
			}
		default:
			c.Kind = types.ConceptStatement
			c.Name = d.Tok.String()
			if len(d.Specs) > 0 {
				if vs, ok := d.Specs[0].(*ast.ValueSpec); ok && len(vs.Names) > 0 {
					c.Name += " " + vs.Names[0].Name
				}
			}
			c.Children = e.funcLits(d)
		}
		return c, true

	case *ast.BadDecl:
		return types.Concept{}, false
	}
	return types.Concept{}, false
}

// funcLits returns the outermost function literals below n
func (e *astExtractor) funcLits(n ast.Node) []types.Concept {
	if n == nil {
		return nil
	}
	var out []types.Concept
	ast.Inspect(n, func(node ast.Node) bool {
		lit, ok := node.(*ast.FuncLit)
		if !ok {
			return true
		}
		start, end := e.lines(lit)
		out = append(out, types.Concept{
			Kind:      types.ConceptFunction,
			StartLine: start,
			EndLine:   end,
			Children:  e.funcLits(lit.Body),
		})
		return false
	})
	return out
}

func extractEntityRefs(_ context.Context, lang types.Language, src []byte) []entityRef {
	if lang != types.LangGo {
		return nil
	}

	fset := token.NewFileSet()
	file, _ := parser.ParseFile(fset, "", src, parser.SkipObjectResolution)
	if file == nil || file.Name == nil || file.Name.Name == "" {
		// Chunks without a package clause still parse as a function body
		wrapped := append([]byte("package p\n"), src...)
		file, _ = parser.ParseFile(fset, "", wrapped, parser.SkipObjectResolution)
		if file == nil {
			return nil
		}
	}

	var refs []entityRef
	for _, imp := range file.Imports {
		refs = append(refs, entityRef{name: strings.Trim(imp.Path.Value, "\"`"), kind: types.EntityImport})
	}

	ast.Inspect(file, func(node ast.Node) bool {
		switch n := node.(type) {
		case *ast.CallExpr:
			refs = append(refs, entityRef{name: exprName(n.Fun), kind: types.EntityCall})
		case *ast.Field:
			refs = append(refs, entityRef{name: exprName(n.Type), kind: types.EntityTypeRef})
		case *ast.CompositeLit:
			refs = append(refs, entityRef{name: exprName(n.Type), kind: types.EntityTypeRef})
		case *ast.ValueSpec:
			refs = append(refs, entityRef{name: exprName(n.Type), kind: types.EntityTypeRef})
		}
		return true
	})
	return refs
}

func exprName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return exprName(t.X)
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.ArrayType:
		return exprName(t.Elt)
	case *ast.MapType:
		return exprName(t.Value)
	case *ast.IndexExpr:
		return exprName(t.X)
	case *ast.IndexListExpr:
		return exprName(t.X)
	}
	return ""
}
