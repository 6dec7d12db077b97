// Package analyzer walks the dereferenced schema graph and produces the
// AnnotatedIndex consumed by the planner and synthesizer: per-identity depth
// and cycle classification, merged allOf shapes, and per-schema validity
// errors. The index is built once per run and is read-only afterwards, so it
// can be shared across worker goroutines without locking.
package analyzer

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/chad-deng/openapi-testgen/internal/spec"
)

// Annotation is the complexity class recorded for one schema identity.
type Annotation struct {
	Depth       int
	HasCycle    bool
	Composition spec.CompositionKind
}

// SchemaError marks a schema as invalid. It is fatal for the affected schema
// only: synthesis substitutes placeholders for it and records a warning, while
// the rest of the run proceeds.
type SchemaError struct {
	NodeID int
	Name   string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("schema %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("schema #%d: %s", e.NodeID, e.Reason)
}

// Index is the annotated schema index.
type Index struct {
	ann     map[int]Annotation
	merged  map[int]*spec.SchemaNode
	invalid map[int]*SchemaError
}

// Analyze classifies every distinct schema node of the document. Traversal
// follows arena identity order, which mirrors document declaration order, so
// the result is deterministic for an unchanged input.
func Analyze(doc *spec.Document) *Index {
	ix := &Index{
		ann:     make(map[int]Annotation, len(doc.Nodes)),
		merged:  make(map[int]*spec.SchemaNode),
		invalid: make(map[int]*SchemaError),
	}
	for _, n := range doc.Nodes {
		ix.annotate(n, make(map[int]bool))
	}
	for _, n := range doc.Nodes {
		ix.checkConstraints(n)
		if n.Kind == spec.KindComposition && n.Compose == spec.ComposeAllOf {
			ix.mergeAllOf(n)
		}
	}
	return ix
}

// Annotation returns the complexity class for a node.
func (ix *Index) Annotation(n *spec.SchemaNode) Annotation {
	return ix.ann[n.ID]
}

// Invalid returns the recorded error for a node, or nil when the schema is
// well formed.
func (ix *Index) Invalid(n *spec.SchemaNode) *SchemaError {
	return ix.invalid[n.ID]
}

// Effective returns the shape synthesis should use for a node: the merged
// object for a valid allOf composition, the node itself otherwise.
func (ix *Index) Effective(n *spec.SchemaNode) *spec.SchemaNode {
	if m, ok := ix.merged[n.ID]; ok {
		return m
	}
	return n
}

// Errors lists all per-schema errors in identity order.
func (ix *Index) Errors() []*SchemaError {
	ids := make([]int, 0, len(ix.invalid))
	for id := range ix.invalid {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*SchemaError, 0, len(ids))
	for _, id := range ids {
		out = append(out, ix.invalid[id])
	}
	return out
}

func (ix *Index) annotate(n *spec.SchemaNode, visiting map[int]bool) Annotation {
	if n == nil {
		return Annotation{}
	}
	if a, ok := ix.ann[n.ID]; ok {
		return a
	}
	if visiting[n.ID] {
		// Reached through a cycle that normalization did not already cut
		// (shared identities). Treat like a cyclic edge.
		return Annotation{HasCycle: true}
	}
	visiting[n.ID] = true
	defer delete(visiting, n.ID)

	a := Annotation{Composition: n.Compose}
	switch n.Kind {
	case spec.KindCyclic:
		a.HasCycle = true
	case spec.KindObject:
		for _, p := range n.Properties {
			child := ix.annotate(p.Schema, visiting)
			a.Depth = maxInt(a.Depth, child.Depth+1)
			a.HasCycle = a.HasCycle || child.HasCycle
		}
	case spec.KindArray:
		if n.Items != nil {
			child := ix.annotate(n.Items, visiting)
			a.Depth = child.Depth + 1
			a.HasCycle = child.HasCycle
		}
	case spec.KindComposition:
		for _, m := range n.Members {
			child := ix.annotate(m, visiting)
			a.Depth = maxInt(a.Depth, child.Depth+1)
			a.HasCycle = a.HasCycle || child.HasCycle
		}
	}
	ix.ann[n.ID] = a
	return a
}

// checkConstraints records impossible constraint sets (min > max) as
// per-schema errors.
func (ix *Index) checkConstraints(n *spec.SchemaNode) {
	if n.Kind != spec.KindPrimitive {
		if n.Kind == spec.KindArray && n.MinItems != nil && n.MaxItems != nil && *n.MinItems > *n.MaxItems {
			ix.record(n, fmt.Sprintf("minItems %d exceeds maxItems %d", *n.MinItems, *n.MaxItems))
		}
		return
	}
	c := n.Constraints
	if c.Minimum != nil && c.Maximum != nil && *c.Minimum > *c.Maximum {
		ix.record(n, fmt.Sprintf("minimum %v exceeds maximum %v", *c.Minimum, *c.Maximum))
	}
	if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
		ix.record(n, fmt.Sprintf("minLength %d exceeds maxLength %d", *c.MinLength, *c.MaxLength))
	}
}

// mergeAllOf computes the effective shape of an allOf composition. Object
// members merge by property union and required union; same-type primitive
// members merge by intersecting their constraint sets. Only members that
// genuinely disagree on type make the composition invalid.
func (ix *Index) mergeAllOf(n *spec.SchemaNode) {
	var objects, primitives []*spec.SchemaNode
	for _, m := range n.Members {
		eff := m
		if m.Kind == spec.KindComposition && m.Compose == spec.ComposeAllOf {
			ix.mergeAllOf(m)
			eff = ix.Effective(m)
		}
		switch eff.Kind {
		case spec.KindObject:
			objects = append(objects, eff)
		case spec.KindPrimitive:
			primitives = append(primitives, eff)
		case spec.KindCyclic:
			// A cyclic member contributes nothing mergeable; synthesis
			// terminates it separately.
		default:
			ix.record(n, fmt.Sprintf("allOf member is %s, cannot merge", describeType(eff)))
			return
		}
	}
	if len(objects) > 0 && len(primitives) > 0 {
		ix.record(n, fmt.Sprintf("allOf merge conflict: %s vs object", primitives[0].Type))
		return
	}
	if len(primitives) > 0 {
		ix.mergePrimitives(n, primitives)
		return
	}

	merged := &spec.SchemaNode{
		ID:   n.ID,
		Name: n.Name,
		Kind: spec.KindObject,
		Type: "object",
	}
	byName := make(map[string]int)
	for _, eff := range objects {
		for _, p := range eff.Properties {
			if i, ok := byName[p.Name]; ok {
				prev := merged.Properties[i]
				if conflicting(prev.Schema, p.Schema) {
					ix.record(n, fmt.Sprintf("allOf merge conflict on property %q: %s vs %s",
						p.Name, describeType(prev.Schema), describeType(p.Schema)))
					return
				}
				prev.Required = prev.Required || p.Required
				merged.Properties[i] = prev
				continue
			}
			byName[p.Name] = len(merged.Properties)
			merged.Properties = append(merged.Properties, p)
		}
	}
	sort.SliceStable(merged.Properties, func(i, j int) bool {
		return merged.Properties[i].Name < merged.Properties[j].Name
	})
	ix.merged[n.ID] = merged
}

// mergePrimitives folds same-type primitive members into one node carrying
// the tightest declared bound on each side; enums intersect. The intersection
// can be contradictory (min above max), which checkConstraints records.
func (ix *Index) mergePrimitives(n *spec.SchemaNode, members []*spec.SchemaNode) {
	merged := &spec.SchemaNode{
		ID:   n.ID,
		Name: n.Name,
		Kind: spec.KindPrimitive,
		Type: members[0].Type,
	}
	for _, m := range members {
		if m.Type != merged.Type {
			ix.record(n, fmt.Sprintf("allOf merge conflict: %s vs %s", merged.Type, m.Type))
			return
		}
		if merged.Format == "" {
			merged.Format = m.Format
		}
		c := &merged.Constraints
		if mc := m.Constraints; mc.Minimum != nil && (c.Minimum == nil || *mc.Minimum > *c.Minimum) {
			c.Minimum = mc.Minimum
			c.ExclusiveMin = mc.ExclusiveMin
		}
		if mc := m.Constraints; mc.Maximum != nil && (c.Maximum == nil || *mc.Maximum < *c.Maximum) {
			c.Maximum = mc.Maximum
			c.ExclusiveMax = mc.ExclusiveMax
		}
		if mc := m.Constraints; mc.MinLength != nil && (c.MinLength == nil || *mc.MinLength > *c.MinLength) {
			c.MinLength = mc.MinLength
		}
		if mc := m.Constraints; mc.MaxLength != nil && (c.MaxLength == nil || *mc.MaxLength < *c.MaxLength) {
			c.MaxLength = mc.MaxLength
		}
		if c.MultipleOf == nil {
			c.MultipleOf = m.Constraints.MultipleOf
		}
		if c.Pattern == "" {
			c.Pattern = m.Constraints.Pattern
		}
		if m.Enum != nil {
			if merged.Enum == nil {
				merged.Enum = append([]any(nil), m.Enum...)
			} else {
				merged.Enum = intersectEnum(merged.Enum, m.Enum)
			}
		}
	}
	ix.checkConstraints(merged)
	ix.merged[n.ID] = merged
}

func intersectEnum(a, b []any) []any {
	out := make([]any, 0, len(a))
	for _, v := range a {
		for _, w := range b {
			if reflect.DeepEqual(v, w) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func (ix *Index) record(n *spec.SchemaNode, reason string) {
	if _, ok := ix.invalid[n.ID]; ok {
		return
	}
	ix.invalid[n.ID] = &SchemaError{NodeID: n.ID, Name: n.Name, Reason: reason}
}

func conflicting(a, b *spec.SchemaNode) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Kind != b.Kind {
		return a.Kind != spec.KindCyclic && b.Kind != spec.KindCyclic
	}
	if a.Kind == spec.KindPrimitive && a.Type != b.Type {
		return true
	}
	return false
}

func describeType(n *spec.SchemaNode) string {
	if n == nil {
		return "unknown"
	}
	if n.Kind == spec.KindPrimitive {
		return n.Type
	}
	return n.Kind.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
