// Package synth generates concrete values for schema nodes. Generation is
// deterministic for a fixed run-level seed: every value is drawn from a PRNG
// keyed by (seed, operation id, field path), so output does not depend on the
// order in which parallel workers reach a node.
package synth

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/chad-deng/openapi-testgen/internal/analyzer"
	"github.com/chad-deng/openapi-testgen/internal/spec"
)

// Warning records a constraint that could not be perfectly honored. The run
// continues with a substituted value; the warning surfaces in the report.
type Warning struct {
	OperationID string `json:"operationId"`
	FieldPath   string `json:"fieldPath"`
	Reason      string `json:"reason"`
}

// Recorder collects warnings for one operation. Each worker owns its own
// recorder, so no synchronization is needed.
type Recorder struct {
	OperationID string
	Warnings    []Warning
}

func (r *Recorder) warnf(path, format string, args ...any) {
	if r == nil {
		return
	}
	r.Warnings = append(r.Warnings, Warning{
		OperationID: r.OperationID,
		FieldPath:   path,
		Reason:      fmt.Sprintf(format, args...),
	})
}

// Options configures a Synthesizer.
type Options struct {
	// Seed is the run-level seed. The same seed and input yield identical
	// values.
	Seed int64
	// OptionalFraction is the probability an optional object property is
	// included. Defaults to 0.5.
	OptionalFraction float64
	// MaxDepth bounds recursion into nested shapes. Defaults to 8.
	MaxDepth int
}

// Synthesizer produces schema-conforming values. It is stateless apart from
// its immutable configuration and may be shared across goroutines.
type Synthesizer struct {
	seed             int64
	idx              *analyzer.Index
	optionalFraction float64
	maxDepth         int
}

// New builds a Synthesizer over an annotated index.
func New(idx *analyzer.Index, opts Options) *Synthesizer {
	s := &Synthesizer{
		seed:             opts.Seed,
		idx:              idx,
		optionalFraction: opts.OptionalFraction,
		maxDepth:         opts.MaxDepth,
	}
	if s.optionalFraction <= 0 || s.optionalFraction > 1 {
		s.optionalFraction = 0.5
	}
	if s.maxDepth <= 0 {
		s.maxDepth = 8
	}
	return s
}

// Seed returns the run-level seed the synthesizer was built with.
func (s *Synthesizer) Seed() int64 { return s.seed }

// Value synthesizes a value for the node. path identifies the field for
// warnings and for deterministic keying (e.g. "body.items[0].name").
func (s *Synthesizer) Value(n *spec.SchemaNode, path string, rec *Recorder) any {
	return s.value(n, path, rec, 0)
}

func (s *Synthesizer) value(n *spec.SchemaNode, path string, rec *Recorder, depth int) any {
	if n == nil {
		return nil
	}
	if err := s.idx.Invalid(n); err != nil {
		rec.warnf(path, "invalid schema, placeholder substituted: %s", err.Reason)
		return s.placeholder(n)
	}
	if depth > s.maxDepth {
		return s.minimal(n, path, rec)
	}

	switch n.Kind {
	case spec.KindCyclic:
		// Terminate the branch with a minimal instance of the target shape.
		return s.minimal(n.Target, path, rec)
	case spec.KindPrimitive:
		return s.primitive(n, path, rec)
	case spec.KindObject:
		return s.object(n, path, rec, depth)
	case spec.KindArray:
		return s.array(n, path, rec, depth)
	case spec.KindComposition:
		return s.composition(n, path, rec, depth)
	default:
		return nil
	}
}

func (s *Synthesizer) object(n *spec.SchemaNode, path string, rec *Recorder, depth int) map[string]any {
	out := make(map[string]any, len(n.Properties))
	// Required properties first, then a configurable fraction of optionals.
	for _, p := range n.Properties {
		if !p.Required {
			continue
		}
		out[p.Name] = s.value(p.Schema, joinPath(path, p.Name), rec, depth+1)
	}
	for _, p := range n.Properties {
		if p.Required {
			continue
		}
		if s.rng(rec, path, p.Name, "opt").Float64() < s.optionalFraction {
			out[p.Name] = s.value(p.Schema, joinPath(path, p.Name), rec, depth+1)
		}
	}
	return out
}

func (s *Synthesizer) array(n *spec.SchemaNode, path string, rec *Recorder, depth int) []any {
	// Default to the minimum non-zero bound when unspecified.
	count := int64(1)
	if n.MinItems != nil && *n.MinItems > 0 {
		count = *n.MinItems
	}
	if n.MaxItems != nil && count > *n.MaxItems {
		rec.warnf(path, "minItems %d exceeds maxItems %d, clamping", count, *n.MaxItems)
		count = *n.MaxItems
	}
	out := make([]any, 0, count)
	for i := int64(0); i < count; i++ {
		out = append(out, s.value(n.Items, fmt.Sprintf("%s[%d]", path, i), rec, depth+1))
	}
	return out
}

func (s *Synthesizer) composition(n *spec.SchemaNode, path string, rec *Recorder, depth int) any {
	switch n.Compose {
	case spec.ComposeAllOf:
		eff := s.idx.Effective(n)
		if eff == n {
			// No merged shape recorded: the composition was invalid.
			rec.warnf(path, "unmergeable allOf, placeholder substituted")
			return map[string]any{}
		}
		return s.value(eff, path, rec, depth)
	case spec.ComposeOneOf, spec.ComposeAnyOf:
		if len(n.Members) == 0 {
			rec.warnf(path, "%s with no members, placeholder substituted", n.Compose)
			return nil
		}
		pick := s.rng(rec, path, string(n.Compose)).Intn(len(n.Members))
		return s.value(n.Members[pick], path, rec, depth+1)
	default:
		return nil
	}
}

func (s *Synthesizer) primitive(n *spec.SchemaNode, path string, rec *Recorder) any {
	if n.Enum != nil {
		if len(n.Enum) == 0 {
			rec.warnf(path, "empty enum, placeholder substituted")
			return s.placeholder(n)
		}
		return n.Enum[s.rng(rec, path, "enum").Intn(len(n.Enum))]
	}
	switch n.Type {
	case "integer":
		return s.integer(n, path, rec)
	case "number":
		return s.number(n, path, rec)
	case "boolean":
		return s.rng(rec, path).Intn(2) == 1
	default:
		return s.str(n, path, rec)
	}
}

func (s *Synthesizer) integer(n *spec.SchemaNode, path string, rec *Recorder) int64 {
	lo, hi := int64(1), int64(100)
	c := n.Constraints
	if c.Minimum != nil {
		lo = int64(math.Ceil(*c.Minimum))
		if c.ExclusiveMin {
			lo++
		}
	}
	if c.Maximum != nil {
		hi = int64(math.Floor(*c.Maximum))
		if c.ExclusiveMax {
			hi--
		}
	}
	if hi < lo {
		rec.warnf(path, "empty integer range [%d,%d], using minimum", lo, hi)
		hi = lo
	}
	v := lo
	if hi > lo {
		v = lo + s.rng(rec, path).Int63n(hi-lo+1)
	}
	if c.MultipleOf != nil && *c.MultipleOf > 0 {
		step := int64(*c.MultipleOf)
		if step > 0 {
			v = (v / step) * step
			if v < lo {
				v += step
			}
			if v > hi {
				rec.warnf(path, "no multiple of %v within [%d,%d]", *c.MultipleOf, lo, hi)
				v = lo
			}
		}
	}
	return v
}

func (s *Synthesizer) number(n *spec.SchemaNode, path string, rec *Recorder) float64 {
	lo, hi := 0.5, 100.5
	c := n.Constraints
	if c.Minimum != nil {
		lo = *c.Minimum
		if c.ExclusiveMin {
			lo += 0.001
		}
	}
	if c.Maximum != nil {
		hi = *c.Maximum
		if c.ExclusiveMax {
			hi -= 0.001
		}
	}
	if hi < lo {
		rec.warnf(path, "empty number range [%v,%v], using minimum", lo, hi)
		hi = lo
	}
	v := lo + s.rng(rec, path).Float64()*(hi-lo)
	if c.MultipleOf != nil && *c.MultipleOf > 0 {
		v = math.Round(v / *c.MultipleOf) * *c.MultipleOf
		if v < lo || v > hi {
			v = lo
		}
	}
	// Round to two decimals so JSON round-trips cleanly.
	return math.Round(v*100) / 100
}

var wordlist = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf",
	"hotel", "india", "juliet", "kilo", "lima", "mike", "november",
}

func (s *Synthesizer) str(n *spec.SchemaNode, path string, rec *Recorder) string {
	rng := s.rng(rec, path)
	switch n.Format {
	case "email":
		return fmt.Sprintf("%s%d@example.com", wordlist[rng.Intn(len(wordlist))], rng.Intn(1000))
	case "date-time":
		return fmt.Sprintf("2024-06-%02dT%02d:%02d:%02dZ", 1+rng.Intn(28), rng.Intn(24), rng.Intn(60), rng.Intn(60))
	case "date":
		return fmt.Sprintf("2024-%02d-%02d", 1+rng.Intn(12), 1+rng.Intn(28))
	case "uuid":
		return uuid.Must(uuid.NewRandomFromReader(rng)).String()
	case "uri", "url":
		return fmt.Sprintf("https://example.com/%s/%d", wordlist[rng.Intn(len(wordlist))], rng.Intn(1000))
	case "hostname":
		return fmt.Sprintf("%s%d.example.com", wordlist[rng.Intn(len(wordlist))], rng.Intn(100))
	case "ipv4":
		return fmt.Sprintf("10.%d.%d.%d", rng.Intn(256), rng.Intn(256), 1+rng.Intn(254))
	case "byte":
		return "dGVzdGdlbg=="
	}

	c := n.Constraints
	v := wordlist[rng.Intn(len(wordlist))]
	if c.MinLength != nil || c.MaxLength != nil {
		v = fitLength(v, c.MinLength, c.MaxLength)
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			rec.warnf(path, "unparseable pattern %q, value unverified", c.Pattern)
			return v
		}
		if !re.MatchString(v) {
			// Best effort: a few deterministic candidates, then give up with
			// a recorded warning.
			for _, candidate := range []string{"a", "A", "0", "abc", "ABC", "123", "abc123", "a-b", "a_b"} {
				cand := candidate
				if c.MinLength != nil || c.MaxLength != nil {
					cand = fitLength(cand, c.MinLength, c.MaxLength)
				}
				if re.MatchString(cand) {
					return cand
				}
			}
			rec.warnf(path, "could not satisfy pattern %q, placeholder substituted", c.Pattern)
		}
	}
	return v
}

// fitLength pads or trims v to satisfy length bounds, clipping at zero.
func fitLength(v string, minLen, maxLen *int64) string {
	if minLen != nil {
		for int64(len(v)) < *minLen {
			v += "x"
		}
	}
	if maxLen != nil && *maxLen >= 0 && int64(len(v)) > *maxLen {
		v = v[:*maxLen]
	}
	return v
}

// minimal produces the smallest valid instance of a shape: required
// non-cyclic fields only, minimum-length arrays, zero-ish primitives. It never
// recurses into cyclic edges, which guarantees termination on arbitrarily
// deep or circular schemas.
func (s *Synthesizer) minimal(n *spec.SchemaNode, path string, rec *Recorder) any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case spec.KindCyclic:
		return nil
	case spec.KindPrimitive:
		if len(n.Enum) > 0 {
			return n.Enum[0]
		}
		switch n.Type {
		case "integer":
			if n.Constraints.Minimum != nil {
				return int64(math.Ceil(*n.Constraints.Minimum))
			}
			return int64(0)
		case "number":
			if n.Constraints.Minimum != nil {
				return *n.Constraints.Minimum
			}
			return float64(0)
		case "boolean":
			return false
		default:
			return fitLength("", n.Constraints.MinLength, n.Constraints.MaxLength)
		}
	case spec.KindObject:
		out := make(map[string]any)
		for _, p := range n.Properties {
			if !p.Required || p.Schema == nil || p.Schema.Kind == spec.KindCyclic {
				continue
			}
			out[p.Name] = s.minimal(p.Schema, joinPath(path, p.Name), rec)
		}
		return out
	case spec.KindArray:
		count := int64(0)
		if n.MinItems != nil && *n.MinItems > 0 {
			count = *n.MinItems
		}
		out := make([]any, 0, count)
		for i := int64(0); i < count; i++ {
			if n.Items == nil || n.Items.Kind == spec.KindCyclic {
				break
			}
			out = append(out, s.minimal(n.Items, fmt.Sprintf("%s[%d]", path, i), rec))
		}
		return out
	case spec.KindComposition:
		if n.Compose == spec.ComposeAllOf {
			if eff := s.idx.Effective(n); eff != n {
				return s.minimal(eff, path, rec)
			}
			return map[string]any{}
		}
		for _, m := range n.Members {
			if m.Kind != spec.KindCyclic {
				return s.minimal(m, path, rec)
			}
		}
		return nil
	default:
		return nil
	}
}

func (s *Synthesizer) placeholder(n *spec.SchemaNode) any {
	switch n.Type {
	case "integer":
		return int64(0)
	case "number":
		return float64(0)
	case "boolean":
		return false
	default:
		return "PLACEHOLDER"
	}
}

// rng derives a PRNG from the run seed, the recorder's operation id, and the
// key parts. Equal keys always yield equal streams.
func (s *Synthesizer) rng(rec *Recorder, parts ...string) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d", s.seed)
	if rec != nil {
		h.Write([]byte(rec.OperationID))
	}
	h.Write([]byte(strings.Join(parts, "\x00")))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}
