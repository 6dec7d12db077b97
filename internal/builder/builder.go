// Package builder turns planned scenarios into Go source units. Each unit is
// a hybrid of two tiers: a templated scaffold (package clause, imports,
// shared helpers) rendered as text, and per-scenario test functions built as
// go/ast declarations so every data-dependent literal goes through proper
// quoting.
package builder

import (
	"encoding/json"
	"fmt"
	"go/ast"
	"go/token"
	"net/url"
	"strconv"
	"strings"

	"github.com/chad-deng/openapi-testgen/internal/analyzer"
	"github.com/chad-deng/openapi-testgen/internal/planner"
	"github.com/chad-deng/openapi-testgen/internal/spec"
)

// SourceUnit is one generated file before serialization: the scaffold text
// followed by the printed declarations.
type SourceUnit struct {
	FileName string
	Package  string
	Scaffold string
	Decls    []ast.Decl
}

// Builder constructs source units for one document.
type Builder struct {
	idx   *analyzer.Index
	title string
	seed  int64
}

func New(idx *analyzer.Index, title string, seed int64) *Builder {
	return &Builder{idx: idx, title: title, seed: seed}
}

// Build produces the source unit for one file group. The result is
// deterministic: scenario order follows the plan, type declarations and map
// keys are sorted.
func (b *Builder) Build(group planner.FileGroup) (*SourceUnit, error) {
	pkg := packageName(group.Name)
	scaffold, err := renderScaffold(scaffoldData{
		Package:  pkg,
		Resource: group.Name,
		Title:    b.title,
		Seed:     b.seed,
	})
	if err != nil {
		return nil, fmt.Errorf("render scaffold for %s: %w", group.Name, err)
	}

	ts := newTypeSet(b.idx)
	for _, plan := range group.Plans {
		if resp := plan.Op.SuccessResponse(); resp != nil {
			ts.add(resp.Schema)
		}
	}

	decls := ts.decls()
	used := make(map[string]int)
	for _, plan := range group.Plans {
		for i := range plan.Scenarios {
			fn, err := b.testFunc(plan.Op, &plan.Scenarios[i], ts, used)
			if err != nil {
				return nil, fmt.Errorf("build %s %s: %w", plan.Op.ID, plan.Scenarios[i].Name, err)
			}
			decls = append(decls, fn)
		}
	}

	return &SourceUnit{
		FileName: pkg + "_test.go",
		Package:  pkg,
		Scaffold: scaffold,
		Decls:    decls,
	}, nil
}

// testFunc builds one test function declaration for a scenario.
func (b *Builder) testFunc(op *spec.Operation, sc *planner.Scenario, ts *typeSet, used map[string]int) (*ast.FuncDecl, error) {
	var stmts []ast.Stmt

	// Request construction. The URL is fully resolved at generation time so
	// the emitted test has no string assembly of its own to get wrong.
	target, err := requestTarget(op.Path, sc)
	if err != nil {
		return nil, err
	}
	bodyJSON, hasBody, err := requestBody(sc)
	if err != nil {
		return nil, err
	}
	bodyArg := ast.Expr(ident("nil"))
	if hasBody {
		bodyArg = call(ident("jsonBody"), strLit(bodyJSON))
	}
	stmts = append(stmts,
		define(
			[]ast.Expr{ident("req"), ident("err")},
			call(sel(ident("http"), "NewRequest"),
				strLit(strings.ToUpper(string(op.Method))),
				binary(call(ident("baseURL")), token.ADD, strLit(target)),
				bodyArg,
			),
		),
		fatalIfErr(),
	)

	if hasBody {
		media := sc.BodyMedia
		if media == "" {
			media = "application/json"
		}
		stmts = append(stmts, headerSet("Content-Type", strLit(media)))
	}
	for _, k := range sortedKeys(sc.Headers) {
		stmts = append(stmts, headerSet(k, strLit(scalarString(sc.Headers[k]))))
	}
	for _, k := range sortedKeys(sc.Cookies) {
		stmts = append(stmts, addCookie(k, scalarString(sc.Cookies[k])))
	}
	if op.Secured && !sc.OmitAuth {
		stmts = append(stmts, headerSet("Authorization",
			binary(strLit("Bearer "), token.ADD, call(ident("authToken")))))
	}

	decode := b.typedDecode(op, sc, ts)
	needRaw := decode != nil || len(sc.Assertions) > 0
	rawName := "_"
	if needRaw {
		rawName = "raw"
	}
	stmts = append(stmts, define(
		[]ast.Expr{ident("resp"), ident(rawName)},
		call(ident("do"), ident("t"), ident("req")),
	))

	stmts = append(stmts, &ast.IfStmt{
		Cond: binary(sel(ident("resp"), "StatusCode"), token.NEQ, intLit(int64(sc.ExpectStatus))),
		Body: &ast.BlockStmt{List: []ast.Stmt{
			exprStmt(call(sel(ident("t"), "Fatalf"),
				strLit(fmt.Sprintf("expected status %d, got %%d", sc.ExpectStatus)),
				sel(ident("resp"), "StatusCode"),
			)),
		}},
	})

	stmts = append(stmts, assertionStmts(sc.Assertions)...)
	if decode != nil {
		stmts = append(stmts, decode...)
	}

	return &ast.FuncDecl{
		Name: ident(testName(sc, used)),
		Type: &ast.FuncType{
			Params: &ast.FieldList{List: []*ast.Field{{
				Names: []*ast.Ident{ident("t")},
				Type:  &ast.StarExpr{X: sel(ident("testing"), "T")},
			}}},
		},
		Body: &ast.BlockStmt{List: stmts},
	}, nil
}

// assertionStmts lowers planned response checks onto the scaffold helpers.
// Field checks share one decoded map; root checks work on the raw bytes.
func assertionStmts(as []planner.Assertion) []ast.Stmt {
	var stmts []ast.Stmt
	hasField := false
	for _, a := range as {
		if a.FieldPath != "" {
			hasField = true
			break
		}
	}
	if hasField {
		stmts = append(stmts, define(
			[]ast.Expr{ident("body")},
			call(ident("decodeMap"), ident("t"), ident("raw")),
		))
	}
	for _, a := range as {
		if a.FieldPath == "" {
			switch a.Check {
			case "type":
				stmts = append(stmts, exprStmt(call(ident("assertRootType"),
					ident("t"), ident("raw"), strLit(jsonTypeName(a.Value)))))
			case "enum":
				stmts = append(stmts, exprStmt(call(ident("assertRootEnum"),
					ident("t"), ident("raw"), valueLit(enumValues(a.Value)))))
			}
			continue
		}
		switch a.Check {
		case "present":
			stmts = append(stmts, exprStmt(call(ident("assertPresent"),
				ident("t"), ident("body"), strLit(a.FieldPath))))
		case "type":
			stmts = append(stmts, exprStmt(call(ident("assertType"),
				ident("t"), ident("body"), strLit(a.FieldPath), strLit(jsonTypeName(a.Value)))))
		case "enum":
			stmts = append(stmts, exprStmt(call(ident("assertEnum"),
				ident("t"), ident("body"), strLit(a.FieldPath), valueLit(enumValues(a.Value)))))
		case "equals":
			stmts = append(stmts, exprStmt(call(ident("assertEquals"),
				ident("t"), ident("body"), strLit(a.FieldPath), valueLit(a.Value))))
		}
	}
	return stmts
}

// typedDecode adds a strict decode of the success payload into the generated
// struct type, catching shape drift that loose map checks would miss. Only
// happy-path scenarios with a named object (or array of named objects)
// response get one.
func (b *Builder) typedDecode(op *spec.Operation, sc *planner.Scenario, ts *typeSet) []ast.Stmt {
	if sc.Kind != planner.KindHappy {
		return nil
	}
	resp := op.SuccessResponse()
	if resp == nil || resp.Schema == nil {
		return nil
	}
	node := b.idx.Effective(resp.Schema)
	var target ast.Expr
	switch {
	case node.Kind == spec.KindObject && node.Name != "":
		if _, ok := ts.named[node.Name]; !ok {
			return nil
		}
		target = ident(exported(node.Name))
	case node.Kind == spec.KindArray && node.Items != nil:
		item := b.idx.Effective(node.Items)
		if item.Kind != spec.KindObject || item.Name == "" {
			return nil
		}
		if _, ok := ts.named[item.Name]; !ok {
			return nil
		}
		target = &ast.ArrayType{Elt: ident(exported(item.Name))}
	default:
		return nil
	}
	return []ast.Stmt{&ast.IfStmt{
		Init: define(
			[]ast.Expr{ident("err")},
			call(sel(ident("json"), "Unmarshal"), ident("raw"), call(ident("new"), target)),
		),
		Cond: binary(ident("err"), token.NEQ, ident("nil")),
		Body: &ast.BlockStmt{List: []ast.Stmt{
			exprStmt(call(sel(ident("t"), "Fatalf"), strLit("decode typed response: %v"), ident("err"))),
		}},
	}}
}

func headerSet(name string, value ast.Expr) ast.Stmt {
	return exprStmt(call(sel(sel(ident("req"), "Header"), "Set"), strLit(name), value))
}

func addCookie(name, value string) ast.Stmt {
	lit := &ast.CompositeLit{
		Type: sel(ident("http"), "Cookie"),
		Elts: []ast.Expr{
			&ast.KeyValueExpr{Key: ident("Name"), Value: strLit(name)},
			&ast.KeyValueExpr{Key: ident("Value"), Value: strLit(value)},
		},
	}
	return exprStmt(call(sel(ident("req"), "AddCookie"),
		&ast.UnaryExpr{Op: token.AND, X: lit}))
}

// requestTarget resolves the path template and query string at generation
// time. Path values are path-escaped; an intentionally empty value yields an
// empty segment.
func requestTarget(path string, sc *planner.Scenario) (string, error) {
	resolved := path
	for name, v := range sc.PathParams {
		placeholder := "{" + name + "}"
		if !strings.Contains(resolved, placeholder) {
			return "", fmt.Errorf("path %s has no parameter %q", path, name)
		}
		resolved = strings.ReplaceAll(resolved, placeholder, url.PathEscape(scalarString(v)))
	}
	if i := strings.IndexByte(resolved, '{'); i >= 0 {
		return "", fmt.Errorf("path %s has unresolved parameters", resolved)
	}
	if len(sc.QueryParams) == 0 {
		return resolved, nil
	}
	q := url.Values{}
	for k, v := range sc.QueryParams {
		q.Set(k, scalarString(v))
	}
	return resolved + "?" + q.Encode(), nil
}

// requestBody marshals the scenario body once, at generation time, so the
// emitted file carries a stable JSON literal.
func requestBody(sc *planner.Scenario) (string, bool, error) {
	if sc.Body == nil {
		return "", false, nil
	}
	raw, err := json.Marshal(sc.Body)
	if err != nil {
		return "", false, fmt.Errorf("marshal request body: %w", err)
	}
	return string(raw), true, nil
}

// testName yields a unique exported Test identifier for the scenario.
// Collisions (two operations sanitizing to the same name) get a numeric
// suffix in encounter order.
func testName(sc *planner.Scenario, used map[string]int) string {
	base := "Test" + exported(sc.OperationID) + "_" + exported(sc.Name)
	used[base]++
	if n := used[base]; n > 1 {
		return base + strconv.Itoa(n)
	}
	return base
}

// packageName sanitizes a group name into a legal Go package identifier.
func packageName(group string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(group) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "api" + s
	}
	return s
}

// scalarString renders a synthesized parameter value for URL or header use.
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// jsonTypeName maps a schema type to the JSON type vocabulary the scaffold
// helpers check against.
func jsonTypeName(v any) string {
	s, _ := v.(string)
	switch s {
	case "integer", "number":
		return "number"
	case "":
		return "unknown"
	default:
		return s
	}
}

// enumValues normalizes an assertion enum payload to []any for the literal
// printer.
func enumValues(v any) []any {
	if vs, ok := v.([]any); ok {
		return vs
	}
	return []any{v}
}
