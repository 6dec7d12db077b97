package synth

import (
	"fmt"
	"math"

	"github.com/chad-deng/openapi-testgen/internal/spec"
)

// BoundaryCase is one value at or just outside a declared constraint limit.
// Valid reports whether the value satisfies the constraint (and therefore
// whether the scenario should expect acceptance or rejection).
type BoundaryCase struct {
	Label string
	Value any
	Valid bool
}

// Boundary produces the boundary value set for a node: {min-1, min, min+1,
// max-1, max, max+1} for numerics, the equivalent length extremes for
// strings, deduplicated and clipped to the representable range (string
// lengths clip at zero). It returns nil when the node declares no bounds, so
// unconstrained fields get no boundary scenarios.
func (s *Synthesizer) Boundary(n *spec.SchemaNode) []BoundaryCase {
	if n == nil || n.Kind != spec.KindPrimitive || !n.Constraints.HasBounds() {
		return nil
	}
	switch n.Type {
	case "integer":
		return integerBoundaries(n.Constraints)
	case "number":
		return numberBoundaries(n.Constraints)
	case "string":
		return lengthBoundaries(n.Constraints)
	default:
		return nil
	}
}

func integerBoundaries(c spec.Constraints) []BoundaryCase {
	type cand struct {
		label string
		v     int64
		valid bool
	}
	var cands []cand
	inRange := func(v int64) bool {
		if c.Minimum != nil {
			m := int64(math.Ceil(*c.Minimum))
			if c.ExclusiveMin && v <= m {
				return false
			}
			if v < m {
				return false
			}
		}
		if c.Maximum != nil {
			m := int64(math.Floor(*c.Maximum))
			if c.ExclusiveMax && v >= m {
				return false
			}
			if v > m {
				return false
			}
		}
		return true
	}
	if c.Minimum != nil {
		m := int64(*c.Minimum)
		for _, d := range []int64{-1, 0, 1} {
			if m < math.MinInt64+1 && d < 0 {
				continue
			}
			v := m + d
			cands = append(cands, cand{label: minLabel(d), v: v, valid: inRange(v)})
		}
	}
	if c.Maximum != nil {
		m := int64(*c.Maximum)
		for _, d := range []int64{-1, 0, 1} {
			v := m + d
			cands = append(cands, cand{label: maxLabel(d), v: v, valid: inRange(v)})
		}
	}
	seen := make(map[int64]bool)
	out := make([]BoundaryCase, 0, len(cands))
	for _, cd := range cands {
		if seen[cd.v] {
			continue
		}
		seen[cd.v] = true
		out = append(out, BoundaryCase{Label: cd.label, Value: cd.v, Valid: cd.valid})
	}
	return out
}

func numberBoundaries(c spec.Constraints) []BoundaryCase {
	var out []BoundaryCase
	seen := make(map[float64]bool)
	add := func(label string, v float64, valid bool) {
		if seen[v] {
			return
		}
		seen[v] = true
		out = append(out, BoundaryCase{Label: label, Value: v, Valid: valid})
	}
	inRange := func(v float64) bool {
		if c.Minimum != nil {
			if c.ExclusiveMin && v <= *c.Minimum {
				return false
			}
			if v < *c.Minimum {
				return false
			}
		}
		if c.Maximum != nil {
			if c.ExclusiveMax && v >= *c.Maximum {
				return false
			}
			if v > *c.Maximum {
				return false
			}
		}
		return true
	}
	if c.Minimum != nil {
		for _, d := range []float64{-1, 0, 1} {
			v := *c.Minimum + d
			add(minLabel(int64(d)), v, inRange(v))
		}
	}
	if c.Maximum != nil {
		for _, d := range []float64{-1, 0, 1} {
			v := *c.Maximum + d
			add(maxLabel(int64(d)), v, inRange(v))
		}
	}
	return out
}

func lengthBoundaries(c spec.Constraints) []BoundaryCase {
	if c.MinLength == nil && c.MaxLength == nil {
		return nil
	}
	type cand struct {
		label string
		n     int64
	}
	var cands []cand
	if c.MinLength != nil {
		for _, d := range []int64{-1, 0, 1} {
			cands = append(cands, cand{label: "len(min" + suffix(d) + ")", n: *c.MinLength + d})
		}
	}
	if c.MaxLength != nil {
		for _, d := range []int64{-1, 0, 1} {
			cands = append(cands, cand{label: "len(max" + suffix(d) + ")", n: *c.MaxLength + d})
		}
	}
	valid := func(n int64) bool {
		if c.MinLength != nil && n < *c.MinLength {
			return false
		}
		if c.MaxLength != nil && n > *c.MaxLength {
			return false
		}
		return true
	}
	seen := make(map[int64]bool)
	out := make([]BoundaryCase, 0, len(cands))
	for _, cd := range cands {
		if cd.n < 0 {
			// Clip at zero: negative lengths are not representable.
			continue
		}
		if seen[cd.n] {
			continue
		}
		seen[cd.n] = true
		out = append(out, BoundaryCase{Label: cd.label, Value: stringOfLength(cd.n), Valid: valid(cd.n)})
	}
	return out
}

func stringOfLength(n int64) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[i%len(alphabet)]
	}
	return string(b)
}

func minLabel(d int64) string { return "min" + suffix(d) }
func maxLabel(d int64) string { return "max" + suffix(d) }

func suffix(d int64) string {
	switch {
	case d < 0:
		return fmt.Sprintf("%d", d)
	case d > 0:
		return fmt.Sprintf("+%d", d)
	default:
		return ""
	}
}
