//go:build cgo

package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/codeintel/pkg/types"
)

const maxStatementName = 60

func parseTree(ctx context.Context, spec *languageSpec, src []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(spec.grammar)

	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter: %w", err)
	}
	return tree, nil
}

// extractConcepts walks the top level of the tree. ERROR nodes are not
// concepts themselves; definitions found inside them are kept.
func extractConcepts(ctx context.Context, lang types.Language, src []byte) ([]types.Concept, bool, error) {
	spec, ok := registry[lang]
	if !ok {
		return nil, false, types.ErrUnsupportedLanguage
	}

	tree, err := parseTree(ctx, spec, src)
	if err != nil {
		return nil, false, err
	}
	defer tree.Close()

	root := tree.RootNode()
	w := &conceptWalker{spec: spec, src: src}

	var concepts []types.Concept
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		kind := child.Type()
		switch {
		case spec.comments[kind]:
			continue
		case kind == "ERROR":
			concepts = append(concepts, w.children(child, false)...)
		default:
			concepts = append(concepts, w.concept(child, false))
		}
	}
	return concepts, root.HasError(), nil
}

type conceptWalker struct {
	spec *languageSpec
	src  []byte
}

// concept builds a concept for a top-level or nested node
func (w *conceptWalker) concept(n *sitter.Node, inClass bool) types.Concept {
	kind, name := w.classify(n, inClass)
	start, end := lineRange(n)

	// Children come from the wrapped declaration so they never repeat it
	body := n
	if field, ok := w.spec.wrappers[n.Type()]; ok {
		if inner := n.ChildByFieldName(field); inner != nil {
			body = inner
		}
	}
	return types.Concept{
		Kind:      kind,
		Name:      name,
		StartLine: start,
		EndLine:   end,
		Children:  w.children(body, kind == types.ConceptClass),
	}
}

// children collects the outermost definitions below n
func (w *conceptWalker) children(n *sitter.Node, inClass bool) []types.Concept {
	var out []types.Concept
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if w.spec.isDefinition(child.Type()) || w.wrapsDefinition(child) {
			out = append(out, w.concept(child, inClass))
			continue
		}
		out = append(out, w.children(child, inClass)...)
	}
	return out
}

func (w *conceptWalker) wrapsDefinition(n *sitter.Node) bool {
	field, ok := w.spec.wrappers[n.Type()]
	if !ok {
		return false
	}
	inner := n.ChildByFieldName(field)
	return inner != nil && w.spec.isDefinition(inner.Type())
}

func (w *conceptWalker) classify(n *sitter.Node, inClass bool) (types.ConceptKind, string) {
	kind := n.Type()
	spec := w.spec

	if field, ok := spec.wrappers[kind]; ok {
		if inner := n.ChildByFieldName(field); inner != nil {
			if spec.isDefinition(inner.Type()) || spec.variables[inner.Type()] {
				k, name := w.classify(inner, inClass)
				return k, name
			}
		}
	}

	switch {
	case spec.methods[kind]:
		return types.ConceptMethod, w.name(n)
	case spec.functions[kind]:
		if inClass {
			return types.ConceptMethod, w.name(n)
		}
		return types.ConceptFunction, w.name(n)
	case spec.classes[kind]:
		return types.ConceptClass, w.name(n)
	case spec.imports[kind]:
		return types.ConceptImport, "imports"
	case spec.variables[kind]:
		if decl := firstNamedOfType(n, "variable_declarator"); decl != nil {
			if value := decl.ChildByFieldName("value"); value != nil && spec.functions[value.Type()] {
				return types.ConceptFunction, w.content(decl.ChildByFieldName("name"))
			}
		}
	}
	return types.ConceptStatement, w.statementName(n)
}

func (w *conceptWalker) name(n *sitter.Node) string {
	if id := n.ChildByFieldName("name"); id != nil {
		return w.content(id)
	}
	switch n.Type() {
	case "type_declaration":
		if ts := firstNamedOfType(n, "type_spec", "type_alias"); ts != nil {
			return w.content(ts.ChildByFieldName("name"))
		}
	case "impl_item":
		return w.content(n.ChildByFieldName("type"))
	}
	return ""
}

func (w *conceptWalker) statementName(n *sitter.Node) string {
	text := n.Content(w.src)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if len(text) > maxStatementName {
		text = text[:maxStatementName]
	}
	return text
}

func (w *conceptWalker) content(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.src)
}

func firstNamedOfType(n *sitter.Node, kinds ...string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		for _, k := range kinds {
			if child.Type() == k {
				return child
			}
		}
	}
	return nil
}

// lineRange converts node points to 1-based inclusive lines. A node ending at
// column 0 ends on the previous line.
func lineRange(n *sitter.Node) (int, int) {
	start := int(n.StartPoint().Row) + 1
	endPoint := n.EndPoint()
	end := int(endPoint.Row) + 1
	if endPoint.Column == 0 && end > start {
		end--
	}
	return start, end
}

// extractEntityRefs walks the whole tree collecting calls, type references
// and imports in source order.
func extractEntityRefs(ctx context.Context, lang types.Language, src []byte) []entityRef {
	spec, ok := registry[lang]
	if !ok {
		return nil
	}

	tree, err := parseTree(ctx, spec, src)
	if err != nil {
		return nil
	}
	defer tree.Close()

	var refs []entityRef
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		kind := n.Type()

		if spec.imports[kind] {
			collectImportNames(spec, n, src, &refs)
			return
		}
		if field, ok := spec.calls[kind]; ok {
			if callee := n.ChildByFieldName(field); callee != nil {
				refs = append(refs, entityRef{name: callee.Content(src), kind: types.EntityCall})
			}
		}
		if spec.typeRefs[kind] {
			refs = append(refs, entityRef{name: n.Content(src), kind: types.EntityTypeRef})
		}

		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(tree.RootNode())
	return refs
}

func collectImportNames(spec *languageSpec, n *sitter.Node, src []byte, refs *[]entityRef) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if spec.importNames[child.Type()] {
			*refs = append(*refs, entityRef{name: child.Content(src), kind: types.EntityImport})
			continue
		}
		collectImportNames(spec, child, src, refs)
	}
}
