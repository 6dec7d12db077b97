package builder

import (
	"fmt"
	"go/ast"
	"go/token"
	"sort"
	"strings"
	"unicode"

	"github.com/chad-deng/openapi-testgen/internal/analyzer"
	"github.com/chad-deng/openapi-testgen/internal/spec"
)

// typeSet tracks the named schemas a file's scenarios decode into, so each
// generated file declares exactly the types it references.
type typeSet struct {
	idx   *analyzer.Index
	named map[string]*spec.SchemaNode
}

func newTypeSet(idx *analyzer.Index) *typeSet {
	return &typeSet{idx: idx, named: make(map[string]*spec.SchemaNode)}
}

// add records a named object schema and everything reachable from it. Cyclic
// edges re-enter already-recorded names, so the walk terminates.
func (ts *typeSet) add(n *spec.SchemaNode) {
	if n == nil {
		return
	}
	if n.Kind == spec.KindCyclic {
		ts.add(n.Target)
		return
	}
	if n.Name != "" {
		if _, seen := ts.named[n.Name]; seen {
			return
		}
		eff := ts.effective(n)
		if eff.Kind == spec.KindObject || isOneOf(eff) {
			ts.named[n.Name] = n
		}
	}
	eff := ts.effective(n)
	for _, p := range eff.Properties {
		ts.add(p.Schema)
	}
	ts.add(eff.Items)
	for _, m := range eff.Members {
		ts.add(m)
	}
}

// effective resolves allOf compositions to their merged form where the
// analyzer produced one; everything else passes through unchanged.
func (ts *typeSet) effective(n *spec.SchemaNode) *spec.SchemaNode {
	if merged := ts.idx.Effective(n); merged != nil {
		return merged
	}
	return n
}

// decls emits one struct declaration per recorded schema, in name order.
func (ts *typeSet) decls() []ast.Decl {
	names := make([]string, 0, len(ts.named))
	for name := range ts.named {
		names = append(names, name)
	}
	sort.Strings(names)

	decls := make([]ast.Decl, 0, len(names))
	for _, name := range names {
		n := ts.named[name]
		if isOneOf(ts.effective(n)) {
			decls = append(decls, ts.unionDecl(name, n))
			continue
		}
		decls = append(decls, ts.structDecl(name, n))
	}
	return decls
}

func isOneOf(n *spec.SchemaNode) bool {
	return n != nil && n.Kind == spec.KindComposition && n.Compose == spec.ComposeOneOf
}

func (ts *typeSet) structDecl(name string, n *spec.SchemaNode) ast.Decl {
	eff := ts.effective(n)
	fields := &ast.FieldList{}
	for _, p := range eff.Properties {
		tag := p.Name
		if !p.Required {
			tag += ",omitempty"
		}
		fields.List = append(fields.List, &ast.Field{
			Names: []*ast.Ident{ident(exported(p.Name))},
			Type:  ts.goType(p.Schema),
			Tag: &ast.BasicLit{
				Kind:  token.STRING,
				Value: fmt.Sprintf("`json:%q`", tag),
			},
		})
	}
	return &ast.GenDecl{
		Tok: token.TYPE,
		Specs: []ast.Spec{&ast.TypeSpec{
			Name: ident(exported(name)),
			Type: &ast.StructType{Fields: fields},
		}},
	}
}

// unionDecl emits a oneOf composition as a struct with one optional pointer
// field per alternative; at most one field is expected to be set.
func (ts *typeSet) unionDecl(name string, n *spec.SchemaNode) ast.Decl {
	eff := ts.effective(n)
	fields := &ast.FieldList{}
	for i, m := range eff.Members {
		if m == nil {
			continue
		}
		fieldName := fmt.Sprintf("Alt%d", i+1)
		if alt := ts.effective(m); alt.Name != "" {
			fieldName = exported(alt.Name)
		} else if m.Name != "" {
			fieldName = exported(m.Name)
		}
		fields.List = append(fields.List, &ast.Field{
			Names: []*ast.Ident{ident(fieldName)},
			Type:  &ast.StarExpr{X: ts.goType(m)},
		})
	}
	return &ast.GenDecl{
		Doc: &ast.CommentGroup{List: []*ast.Comment{{
			// go/printer only places a doc comment before the decl when both
			// have resolvable positions; printers must register a file at
			// base 1 in their FileSet.
			Slash: 1,
			Text:  fmt.Sprintf("// %s holds exactly one of its alternatives.", exported(name)),
		}}},
		TokPos: 2,
		Tok:    token.TYPE,
		Specs: []ast.Spec{&ast.TypeSpec{
			Name: ident(exported(name)),
			Type: &ast.StructType{Fields: fields},
		}},
	}
}

// goType maps a schema to the Go type used in generated struct fields.
func (ts *typeSet) goType(n *spec.SchemaNode) ast.Expr {
	if n == nil {
		return ident("any")
	}
	if n.Kind == spec.KindCyclic {
		if n.Target != nil && n.Target.Name != "" {
			return &ast.StarExpr{X: ident(exported(n.Target.Name))}
		}
		return ident("any")
	}
	eff := ts.effective(n)
	switch eff.Kind {
	case spec.KindPrimitive:
		switch eff.Type {
		case "integer":
			return ident("int64")
		case "number":
			return ident("float64")
		case "boolean":
			return ident("bool")
		default:
			return ident("string")
		}
	case spec.KindArray:
		return &ast.ArrayType{Elt: ts.goType(eff.Items)}
	case spec.KindObject:
		if n.Name != "" {
			return ident(exported(n.Name))
		}
		return &ast.MapType{Key: ident("string"), Value: ident("any")}
	default:
		if isOneOf(eff) && n.Name != "" {
			return ident(exported(n.Name))
		}
		// anyOf and anonymous unions decode loosely.
		return ident("any")
	}
}

// exported turns a schema or property name into an exported Go identifier.
func exported(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.' || r == ' ':
			upper = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			upper = true
		case upper:
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return "Value"
	}
	if unicode.IsDigit(rune(s[0])) {
		s = "N" + s
	}
	return s
}
