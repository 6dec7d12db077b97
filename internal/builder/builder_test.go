package builder

import (
	"bytes"
	"context"
	"go/printer"
	"go/token"
	"strings"
	"testing"

	"github.com/chad-deng/openapi-testgen/internal/analyzer"
	"github.com/chad-deng/openapi-testgen/internal/planner"
	"github.com/chad-deng/openapi-testgen/internal/spec"
	"github.com/chad-deng/openapi-testgen/internal/synth"
)

const petsYAML = `openapi: 3.0.3
info: { title: Petstore, version: "1.0.0" }
paths:
  /pets/{id}:
    get:
      operationId: getPet
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
            minimum: 1
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Pet'
        "404":
          description: not found
  /pets:
    post:
      operationId: createPet
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/Pet'
      responses:
        "201":
          description: created
        "400":
          description: bad request
components:
  schemas:
    Pet:
      type: object
      required: [id, name]
      properties:
        id: { type: integer }
        name: { type: string }
        status:
          type: string
          enum: [available, sold]
`

const unionYAML = `openapi: 3.0.3
info: { title: Search, version: "1.0.0" }
paths:
  /search:
    get:
      operationId: search
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/SearchResult'
components:
  schemas:
    SearchResult:
      oneOf:
        - $ref: '#/components/schemas/Pet'
        - $ref: '#/components/schemas/Problem'
    Pet:
      type: object
      required: [id]
      properties:
        id: { type: integer }
    Problem:
      type: object
      required: [code]
      properties:
        code: { type: string }
`

func buildUnit(t *testing.T) *SourceUnit {
	t.Helper()
	return buildUnitFrom(t, petsYAML)
}

func buildUnitFrom(t *testing.T, document string) *SourceUnit {
	t.Helper()
	raw, err := spec.LoadBytes(context.Background(), []byte(document))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	doc, err := spec.BuildDocument(context.Background(), raw)
	if err != nil {
		t.Fatalf("build document: %v", err)
	}
	idx := analyzer.Analyze(doc)
	syn := synth.New(idx, synth.Options{Seed: 1})
	pln := planner.New(doc, idx, syn, planner.Options{})
	groups := pln.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	for i := range groups[0].Plans {
		groups[0].Plans[i] = pln.PlanOperation(groups[0].Plans[i].Op)
	}

	unit, err := New(idx, doc.Title, 1).Build(groups[0])
	if err != nil {
		t.Fatalf("build unit: %v", err)
	}
	return unit
}

func printDecls(t *testing.T, unit *SourceUnit) string {
	t.Helper()
	var buf bytes.Buffer
	fset := token.NewFileSet()
	fset.AddFile("generated.go", 1, 16)
	for _, d := range unit.Decls {
		if err := printer.Fprint(&buf, fset, d); err != nil {
			t.Fatalf("print: %v", err)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

func TestBuild_Unit(t *testing.T) {
	t.Parallel()
	unit := buildUnit(t)

	if unit.Package != "pets" || unit.FileName != "pets_test.go" {
		t.Fatalf("unexpected unit identity: %s / %s", unit.Package, unit.FileName)
	}
	if !strings.Contains(unit.Scaffold, "package pets") {
		t.Fatalf("scaffold missing package clause:\n%s", unit.Scaffold)
	}
	if !strings.Contains(unit.Scaffold, "DO NOT EDIT") {
		t.Fatalf("scaffold missing generated marker")
	}
	if len(unit.Decls) == 0 {
		t.Fatalf("expected declarations")
	}
}

func TestBuild_TypedStruct(t *testing.T) {
	t.Parallel()
	src := printDecls(t, buildUnit(t))

	if !strings.Contains(src, "type Pet struct") {
		t.Fatalf("expected a Pet struct declaration:\n%s", src)
	}
	if !strings.Contains(src, "`json:\"id\"`") {
		t.Fatalf("required field must not be omitempty:\n%s", src)
	}
	if !strings.Contains(src, "`json:\"status,omitempty\"`") {
		t.Fatalf("optional field should be omitempty:\n%s", src)
	}
}

func TestBuild_OneOfUnion(t *testing.T) {
	t.Parallel()
	src := printDecls(t, buildUnitFrom(t, unionYAML))

	if !strings.Contains(src, "type SearchResult struct") {
		t.Fatalf("expected a SearchResult union declaration:\n%s", src)
	}
	if !strings.Contains(src, "*Pet") || !strings.Contains(src, "*Problem") {
		t.Fatalf("union alternatives should be optional pointers:\n%s", src)
	}
	if !strings.Contains(src, "exactly one of its alternatives") {
		t.Fatalf("union declaration should carry its comment:\n%s", src)
	}
	if !strings.Contains(src, "type Pet struct") || !strings.Contains(src, "type Problem struct") {
		t.Fatalf("alternative shapes should be declared:\n%s", src)
	}
}

func TestBuild_TestFuncsUniqueAndExported(t *testing.T) {
	t.Parallel()
	unit := buildUnit(t)
	src := printDecls(t, unit)

	names := map[string]int{}
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(line, "func Test") {
			name := strings.TrimPrefix(line, "func ")
			name = name[:strings.Index(name, "(")]
			names[name]++
		}
	}
	if len(names) == 0 {
		t.Fatalf("no test functions emitted:\n%s", src)
	}
	for name, count := range names {
		if count > 1 {
			t.Fatalf("duplicate test name %s", name)
		}
	}
	if _, ok := names["TestGetPet_HappyPath"]; !ok {
		t.Fatalf("expected TestGetPet_HappyPath among %v", names)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()
	a := printDecls(t, buildUnit(t))
	b := printDecls(t, buildUnit(t))
	if a != b {
		t.Fatalf("identical inputs produced different output")
	}
}

func TestRequestTarget(t *testing.T) {
	t.Parallel()
	sc := &planner.Scenario{
		PathParams:  map[string]any{"id": int64(42)},
		QueryParams: map[string]any{"limit": int64(5), "after": "a b"},
	}
	got, err := requestTarget("/pets/{id}", sc)
	if err != nil {
		t.Fatalf("requestTarget: %v", err)
	}
	if got != "/pets/42?after=a+b&limit=5" {
		t.Fatalf("unexpected target %q", got)
	}

	empty := &planner.Scenario{PathParams: map[string]any{"id": ""}}
	got, err = requestTarget("/pets/{id}", empty)
	if err != nil {
		t.Fatalf("requestTarget: %v", err)
	}
	if got != "/pets/" {
		t.Fatalf("empty segment expected, got %q", got)
	}

	if _, err := requestTarget("/pets/{id}", &planner.Scenario{}); err == nil {
		t.Fatalf("unresolved path parameter must error")
	}
}

func TestValueLit_Escaping(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	fset := token.NewFileSet()
	if err := printer.Fprint(&buf, fset, valueLit(`he said "hi" \ bye`)); err != nil {
		t.Fatalf("print: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, `\"hi\"`) || !strings.Contains(got, `\\`) {
		t.Fatalf("string literal not escaped: %s", got)
	}
}

func TestValueLit_MapDeterminism(t *testing.T) {
	t.Parallel()
	m := map[string]any{"b": int64(2), "a": int64(1), "c": "x"}
	render := func() string {
		var buf bytes.Buffer
		if err := printer.Fprint(&buf, token.NewFileSet(), valueLit(m)); err != nil {
			t.Fatalf("print: %v", err)
		}
		return buf.String()
	}
	first := render()
	for i := 0; i < 5; i++ {
		if render() != first {
			t.Fatalf("map literal ordering unstable")
		}
	}
	if !(strings.Index(first, `"a"`) < strings.Index(first, `"b"`) && strings.Index(first, `"b"`) < strings.Index(first, `"c"`)) {
		t.Fatalf("map keys not sorted: %s", first)
	}
}

func TestExported(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"pet":         "Pet",
		"pet_id":      "PetId",
		"user-name":   "UserName",
		"2fa":         "N2fa",
		"":            "Value",
		"with space":  "WithSpace",
		"dotted.name": "DottedName",
	}
	for in, want := range cases {
		if got := exported(in); got != want {
			t.Errorf("exported(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPackageName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"pets":    "pets",
		"Pets":    "pets",
		"2pets":   "api2pets",
		"":        "api",
		"pet-api": "petapi",
	}
	for in, want := range cases {
		if got := packageName(in); got != want {
			t.Errorf("packageName(%q) = %q, want %q", in, got, want)
		}
	}
}
