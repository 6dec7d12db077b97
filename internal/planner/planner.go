// Package planner enumerates the test scenarios to synthesize for each
// operation. Scenario kinds are independent rules registered with the
// planner; adding a kind means adding a rule, not touching the planner loop.
// Scenario order is a pure function of operation declaration order and a
// fixed kind priority, so repeated runs plan identically.
package planner

import (
	"sort"
	"strconv"
	"strings"

	"github.com/chad-deng/openapi-testgen/internal/analyzer"
	"github.com/chad-deng/openapi-testgen/internal/spec"
	"github.com/chad-deng/openapi-testgen/internal/synth"
)

// ScenarioKind names one category of generated test.
type ScenarioKind string

const (
	KindHappy      ScenarioKind = "happy"
	KindValidation ScenarioKind = "validation"
	KindError      ScenarioKind = "error"
	KindBoundary   ScenarioKind = "boundary"
	KindAuth       ScenarioKind = "auth"
)

// kindPriority fixes the order scenarios appear within an operation.
var kindPriority = map[ScenarioKind]int{
	KindHappy:      0,
	KindValidation: 1,
	KindError:      2,
	KindBoundary:   3,
	KindAuth:       4,
}

// AllKinds lists every registered scenario kind in priority order.
func AllKinds() []ScenarioKind {
	return []ScenarioKind{KindHappy, KindValidation, KindError, KindBoundary, KindAuth}
}

// Assertion is one expected-response check attached to a scenario.
type Assertion struct {
	FieldPath string // e.g. "status"
	Check     string // present|type|equals|enum
	Value     any    // expected value, type name, or []any enum set
}

// Scenario is one concrete test case: inputs plus expectations.
type Scenario struct {
	Name         string
	Kind         ScenarioKind
	OperationID  string
	PathParams   map[string]any
	QueryParams  map[string]any
	Headers      map[string]any
	Cookies      map[string]any
	Body         any
	BodyMedia    string
	OmitAuth     bool
	ExpectStatus int
	Assertions   []Assertion
}

// OperationPlan pairs an operation with its planned scenarios and any
// synthesis warnings raised while producing them.
type OperationPlan struct {
	Op        *spec.Operation
	Scenarios []Scenario
	Warnings  []synth.Warning
}

// FileGroup gathers the operations that share a resource path prefix; each
// group becomes one output file.
type FileGroup struct {
	Name  string
	Plans []OperationPlan
}

// Options selects which scenario kinds to plan. Empty means all kinds.
type Options struct {
	Kinds []ScenarioKind
}

// Rule generates the scenarios of one kind for an operation.
type Rule interface {
	Kind() ScenarioKind
	Applies(op *spec.Operation) bool
	Generate(op *spec.Operation, idx *analyzer.Index, syn *synth.Synthesizer, rec *synth.Recorder) []Scenario
}

// Planner drives the rule registry over a document.
type Planner struct {
	doc   *spec.Document
	idx   *analyzer.Index
	syn   *synth.Synthesizer
	rules []Rule
}

// New builds a planner with the default rule registry filtered by opts.
func New(doc *spec.Document, idx *analyzer.Index, syn *synth.Synthesizer, opts Options) *Planner {
	enabled := make(map[ScenarioKind]bool)
	if len(opts.Kinds) == 0 {
		for _, k := range AllKinds() {
			enabled[k] = true
		}
	} else {
		for _, k := range opts.Kinds {
			enabled[k] = true
		}
	}
	var rules []Rule
	for _, r := range defaultRules() {
		if enabled[r.Kind()] {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return kindPriority[rules[i].Kind()] < kindPriority[rules[j].Kind()]
	})
	return &Planner{doc: doc, idx: idx, syn: syn, rules: rules}
}

// Groups partitions the document's operations by resource prefix. Group order
// is sorted by name; operations within a group keep declaration order. The
// scenarios themselves are filled in by PlanOperation (typically from a
// worker pool, one group per worker).
func (p *Planner) Groups() []FileGroup {
	byName := make(map[string]*FileGroup)
	var names []string
	for i := range p.doc.Operations {
		op := &p.doc.Operations[i]
		name := GroupName(op.Path)
		g, ok := byName[name]
		if !ok {
			g = &FileGroup{Name: name}
			byName[name] = g
			names = append(names, name)
		}
		g.Plans = append(g.Plans, OperationPlan{Op: op})
	}
	sort.Strings(names)
	out := make([]FileGroup, 0, len(names))
	for _, n := range names {
		out = append(out, *byName[n])
	}
	return out
}

// PlanOperation runs every applicable rule against one operation. The
// returned plan is self-contained; planning two operations never shares
// mutable state, so calls may run concurrently.
func (p *Planner) PlanOperation(op *spec.Operation) OperationPlan {
	rec := &synth.Recorder{OperationID: op.ID}
	plan := OperationPlan{Op: op}
	for _, r := range p.rules {
		if !r.Applies(op) {
			continue
		}
		plan.Scenarios = append(plan.Scenarios, r.Generate(op, p.idx, p.syn, rec)...)
	}
	plan.Warnings = rec.Warnings
	return plan
}

// GroupName derives the resource group of a path: its first non-parameter
// segment, or "root" for "/".
func GroupName(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || strings.HasPrefix(seg, "{") {
			continue
		}
		return sanitizeIdent(seg)
	}
	return "root"
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out[0] >= '0' && out[0] <= '9' {
		out = "r" + out
	}
	return out
}

// statusCode parses a declared response status, returning 0 for "default"
// and wildcard entries.
func statusCode(s string) int {
	if len(s) != 3 {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
