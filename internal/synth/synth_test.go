package synth

import (
	"reflect"
	"strings"
	"testing"

	"github.com/chad-deng/openapi-testgen/internal/analyzer"
	"github.com/chad-deng/openapi-testgen/internal/spec"
)

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

// newArena wires hand-built nodes into a document and returns its analysis.
func newArena(t *testing.T, nodes ...*spec.SchemaNode) *analyzer.Index {
	t.Helper()
	for i, n := range nodes {
		n.ID = i
	}
	return analyzer.Analyze(&spec.Document{Nodes: nodes})
}

func petNode() (*spec.SchemaNode, []*spec.SchemaNode) {
	id := &spec.SchemaNode{Kind: spec.KindPrimitive, Type: "integer", Constraints: spec.Constraints{Minimum: f64(1)}}
	name := &spec.SchemaNode{Kind: spec.KindPrimitive, Type: "string", Constraints: spec.Constraints{MinLength: i64(3), MaxLength: i64(5)}}
	status := &spec.SchemaNode{Kind: spec.KindPrimitive, Type: "string", Enum: []any{"available", "sold"}}
	pet := &spec.SchemaNode{
		Name: "Pet",
		Kind: spec.KindObject,
		Type: "object",
		Properties: []spec.Property{
			{Name: "id", Schema: id, Required: true},
			{Name: "name", Schema: name, Required: true},
			{Name: "status", Schema: status},
		},
	}
	return pet, []*spec.SchemaNode{pet, id, name, status}
}

func TestValue_Deterministic(t *testing.T) {
	t.Parallel()
	pet, nodes := petNode()
	idx := newArena(t, nodes...)

	a := New(idx, Options{Seed: 42})
	b := New(idx, Options{Seed: 42})

	rec := &Recorder{OperationID: "createPet"}
	v1 := a.Value(pet, "body", rec)
	v2 := b.Value(pet, "body", &Recorder{OperationID: "createPet"})
	if !reflect.DeepEqual(v1, v2) {
		t.Fatalf("same seed must produce identical values:\n%v\n%v", v1, v2)
	}

	other := New(idx, Options{Seed: 43})
	v3 := other.Value(pet, "body", &Recorder{OperationID: "createPet"})
	_ = v3 // different seeds may or may not collide; only sameness is contractual
}

func TestValue_SatisfiesConstraints(t *testing.T) {
	t.Parallel()
	pet, nodes := petNode()
	idx := newArena(t, nodes...)
	s := New(idx, Options{Seed: 7})

	rec := &Recorder{OperationID: "createPet"}
	v := s.Value(pet, "body", rec)
	if err := s.Validate(pet, v); err != nil {
		t.Fatalf("synthesized value violates its own schema: %v (value %v)", err, v)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", v)
	}
	if _, ok := obj["id"]; !ok {
		t.Fatalf("required property id missing: %v", obj)
	}
	name, _ := obj["name"].(string)
	if len(name) < 3 || len(name) > 5 {
		t.Fatalf("name length out of bounds: %q", name)
	}
	if len(rec.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", rec.Warnings)
	}
}

func TestValue_EnumMembership(t *testing.T) {
	t.Parallel()
	status := &spec.SchemaNode{Kind: spec.KindPrimitive, Type: "string", Enum: []any{"available", "sold"}}
	idx := newArena(t, status)
	s := New(idx, Options{Seed: 3})

	v := s.Value(status, "status", &Recorder{OperationID: "op"})
	if v != "available" && v != "sold" {
		t.Fatalf("enum value %v not in declared set", v)
	}
}

func TestValue_Formats(t *testing.T) {
	t.Parallel()
	cases := []struct {
		format string
		check  func(string) bool
	}{
		{"email", func(s string) bool { return strings.Contains(s, "@") }},
		{"date-time", func(s string) bool { return strings.Contains(s, "T") && strings.HasSuffix(s, "Z") }},
		{"uuid", func(s string) bool { return strings.Count(s, "-") == 4 }},
		{"ipv4", func(s string) bool { return strings.Count(s, ".") == 3 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.format, func(t *testing.T) {
			t.Parallel()
			n := &spec.SchemaNode{Kind: spec.KindPrimitive, Type: "string", Format: tc.format}
			idx := newArena(t, n)
			s := New(idx, Options{Seed: 11})
			v, ok := s.Value(n, "field", &Recorder{OperationID: "op"}).(string)
			if !ok || !tc.check(v) {
				t.Fatalf("format %s produced %v", tc.format, v)
			}
		})
	}
}

func TestValue_CycleTerminates(t *testing.T) {
	t.Parallel()
	label := &spec.SchemaNode{Kind: spec.KindPrimitive, Type: "string"}
	node := &spec.SchemaNode{
		Name: "Node",
		Kind: spec.KindObject,
		Type: "object",
	}
	cyc := &spec.SchemaNode{Kind: spec.KindCyclic, Target: node}
	node.Properties = []spec.Property{
		{Name: "label", Schema: label, Required: true},
		{Name: "next", Schema: cyc, Required: true},
	}
	idx := newArena(t, node, label, cyc)
	s := New(idx, Options{Seed: 1, MaxDepth: 4})

	v := s.Value(node, "body", &Recorder{OperationID: "op"})
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", v)
	}
	// The cyclic edge must bottom out in a finite structure.
	depth := 0
	for obj != nil && depth < 100 {
		next, _ := obj["next"].(map[string]any)
		obj = next
		depth++
	}
	if depth >= 100 {
		t.Fatalf("cycle did not terminate")
	}
}

func TestValue_InvalidSchemaPlaceholder(t *testing.T) {
	t.Parallel()
	bad := &spec.SchemaNode{
		Name:        "Bad",
		Kind:        spec.KindPrimitive,
		Type:        "integer",
		Constraints: spec.Constraints{Minimum: f64(10), Maximum: f64(2)},
	}
	idx := newArena(t, bad)
	s := New(idx, Options{Seed: 1})

	rec := &Recorder{OperationID: "op"}
	v := s.Value(bad, "field", rec)
	if v == nil {
		t.Fatalf("expected a placeholder, got nil")
	}
	if len(rec.Warnings) == 0 {
		t.Fatalf("invalid schema must be surfaced as a warning")
	}
}

func TestValue_EmptyEnumWarns(t *testing.T) {
	t.Parallel()
	n := &spec.SchemaNode{
		Kind: spec.KindPrimitive,
		Type: "string",
		Enum: []any{},
	}
	idx := newArena(t, n)
	s := New(idx, Options{Seed: 1})

	rec := &Recorder{OperationID: "op"}
	v := s.Value(n, "state", rec)
	if v != "PLACEHOLDER" {
		t.Fatalf("expected the documented placeholder, got %v", v)
	}
	if len(rec.Warnings) == 0 {
		t.Fatalf("empty enum must record a warning")
	}
	if rec.Warnings[0].FieldPath != "state" {
		t.Fatalf("warning should carry the field path, got %+v", rec.Warnings[0])
	}
}

func TestValue_UnsatisfiablePatternWarns(t *testing.T) {
	t.Parallel()
	n := &spec.SchemaNode{
		Kind:        spec.KindPrimitive,
		Type:        "string",
		Constraints: spec.Constraints{Pattern: "^impossible-[0-9]{50}-end$"},
	}
	idx := newArena(t, n)
	s := New(idx, Options{Seed: 5})

	rec := &Recorder{OperationID: "op"}
	v := s.Value(n, "code", rec)
	if _, ok := v.(string); !ok {
		t.Fatalf("expected a string fallback, got %T", v)
	}
	if len(rec.Warnings) == 0 {
		t.Fatalf("unsatisfiable pattern must record a warning")
	}
	if rec.Warnings[0].FieldPath != "code" {
		t.Fatalf("warning should carry the field path, got %+v", rec.Warnings[0])
	}
}

func TestValidate_RejectsViolations(t *testing.T) {
	t.Parallel()
	pet, nodes := petNode()
	idx := newArena(t, nodes...)
	s := New(idx, Options{Seed: 1})

	cases := []struct {
		name  string
		value any
	}{
		{"missing required", map[string]any{"name": "abc"}},
		{"name too short", map[string]any{"id": int64(1), "name": "ab"}},
		{"name too long", map[string]any{"id": int64(1), "name": "abcdef"}},
		{"bad enum", map[string]any{"id": int64(1), "name": "abc", "status": "lost"}},
		{"below minimum", map[string]any{"id": int64(0), "name": "abc"}},
	}
	for _, tc := range cases {
		if err := s.Validate(pet, tc.value); err == nil {
			t.Errorf("%s: expected a validation error for %v", tc.name, tc.value)
		}
	}

	good := map[string]any{"id": int64(2), "name": "abcd", "status": "sold"}
	if err := s.Validate(pet, good); err != nil {
		t.Fatalf("valid value rejected: %v", err)
	}
}
