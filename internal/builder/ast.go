package builder

import (
	"fmt"
	"go/ast"
	"go/token"
	"sort"
	"strconv"
)

// Expression constructors for the AST tier. Every data-dependent value in the
// generated source goes through these, never through string interpolation:
// strLit quotes via strconv, so quoting/escaping defects cannot reach the
// output.

func ident(name string) *ast.Ident { return ast.NewIdent(name) }

func strLit(s string) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(s)}
}

func intLit(v int64) ast.Expr {
	if v < 0 {
		return &ast.UnaryExpr{Op: token.SUB, X: &ast.BasicLit{Kind: token.INT, Value: strconv.FormatInt(-v, 10)}}
	}
	return &ast.BasicLit{Kind: token.INT, Value: strconv.FormatInt(v, 10)}
}

func floatLit(v float64) ast.Expr {
	if v < 0 {
		return &ast.UnaryExpr{Op: token.SUB, X: &ast.BasicLit{Kind: token.FLOAT, Value: formatFloat(-v)}}
	}
	return &ast.BasicLit{Kind: token.FLOAT, Value: formatFloat(v)}
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	// Keep the literal unambiguously a float.
	if !containsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func containsAny(s, chars string) bool {
	for _, c := range s {
		for _, w := range chars {
			if c == w {
				return true
			}
		}
	}
	return false
}

func boolLit(v bool) ast.Expr {
	if v {
		return ident("true")
	}
	return ident("false")
}

// valueLit renders any synthesized value as a typed literal expression.
// Objects become map[string]any composites with sorted keys; the result is
// deterministic for equal inputs.
func valueLit(v any) ast.Expr {
	switch x := v.(type) {
	case nil:
		return ident("nil")
	case string:
		return strLit(x)
	case bool:
		return boolLit(x)
	case int:
		return intLit(int64(x))
	case int64:
		return intLit(x)
	case float64:
		if x == float64(int64(x)) {
			return intLit(int64(x))
		}
		return floatLit(x)
	case []any:
		elts := make([]ast.Expr, 0, len(x))
		for _, e := range x {
			elts = append(elts, valueLit(e))
		}
		return &ast.CompositeLit{
			Type: &ast.ArrayType{Elt: ident("any")},
			Elts: elts,
		}
	case map[string]any:
		keys := sortedKeys(x)
		elts := make([]ast.Expr, 0, len(keys))
		for _, k := range keys {
			elts = append(elts, &ast.KeyValueExpr{Key: strLit(k), Value: valueLit(x[k])})
		}
		return &ast.CompositeLit{
			Type: &ast.MapType{Key: ident("string"), Value: ident("any")},
			Elts: elts,
		}
	default:
		return strLit(fmt.Sprintf("%v", x))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func call(fun ast.Expr, args ...ast.Expr) *ast.CallExpr {
	return &ast.CallExpr{Fun: fun, Args: args}
}

func sel(x ast.Expr, name string) *ast.SelectorExpr {
	return &ast.SelectorExpr{X: x, Sel: ident(name)}
}

func exprStmt(x ast.Expr) ast.Stmt { return &ast.ExprStmt{X: x} }

func define(lhs []ast.Expr, rhs ...ast.Expr) *ast.AssignStmt {
	return &ast.AssignStmt{Lhs: lhs, Tok: token.DEFINE, Rhs: rhs}
}

func binary(x ast.Expr, op token.Token, y ast.Expr) *ast.BinaryExpr {
	return &ast.BinaryExpr{X: x, Op: op, Y: y}
}

// fatalIfErr builds `if err != nil { t.Fatal(err) }`.
func fatalIfErr() ast.Stmt {
	return &ast.IfStmt{
		Cond: binary(ident("err"), token.NEQ, ident("nil")),
		Body: &ast.BlockStmt{List: []ast.Stmt{
			exprStmt(call(sel(ident("t"), "Fatal"), ident("err"))),
		}},
	}
}
