package synth

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/chad-deng/openapi-testgen/internal/spec"
)

// Validate re-checks a synthesized value against its originating node's
// constraints. It is used by the test suite to assert constraint fidelity and
// by callers that want to audit generated fixtures.
func (s *Synthesizer) Validate(n *spec.SchemaNode, v any) error {
	return s.validate(n, v, 0)
}

func (s *Synthesizer) validate(n *spec.SchemaNode, v any, depth int) error {
	if n == nil || depth > s.maxDepth*2 {
		return nil
	}
	switch n.Kind {
	case spec.KindCyclic:
		// Truncated branches carry a minimal instance of the target; only
		// shape-level checks apply and the target was validated at its own
		// site.
		return nil
	case spec.KindPrimitive:
		return validatePrimitive(n, v)
	case spec.KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
		for _, p := range n.Properties {
			pv, present := m[p.Name]
			if !present {
				if p.Required && p.Schema != nil && p.Schema.Kind != spec.KindCyclic {
					return fmt.Errorf("missing required property %q", p.Name)
				}
				continue
			}
			if err := s.validate(p.Schema, pv, depth+1); err != nil {
				return fmt.Errorf("property %q: %w", p.Name, err)
			}
		}
		return nil
	case spec.KindArray:
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", v)
		}
		if n.MaxItems != nil && int64(len(arr)) > *n.MaxItems {
			return fmt.Errorf("array length %d exceeds maxItems %d", len(arr), *n.MaxItems)
		}
		for i, item := range arr {
			if err := s.validate(n.Items, item, depth+1); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	case spec.KindComposition:
		switch n.Compose {
		case spec.ComposeAllOf:
			if eff := s.idx.Effective(n); eff != n {
				return s.validate(eff, v, depth)
			}
			return nil
		default:
			// oneOf/anyOf: accept when any member validates.
			var last error
			for _, m := range n.Members {
				if err := s.validate(m, v, depth+1); err == nil {
					return nil
				} else {
					last = err
				}
			}
			if last != nil {
				return fmt.Errorf("no %s member matched: %w", n.Compose, last)
			}
			return nil
		}
	default:
		return nil
	}
}

func validatePrimitive(n *spec.SchemaNode, v any) error {
	if len(n.Enum) > 0 {
		for _, e := range n.Enum {
			if looselyEqual(e, v) {
				return nil
			}
		}
		return fmt.Errorf("value %v not in enum", v)
	}
	c := n.Constraints
	switch n.Type {
	case "integer", "number":
		f, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("expected %s, got %T", n.Type, v)
		}
		if c.Minimum != nil {
			if c.ExclusiveMin && f <= *c.Minimum {
				return fmt.Errorf("value %v not above exclusive minimum %v", f, *c.Minimum)
			}
			if f < *c.Minimum {
				return fmt.Errorf("value %v below minimum %v", f, *c.Minimum)
			}
		}
		if c.Maximum != nil {
			if c.ExclusiveMax && f >= *c.Maximum {
				return fmt.Errorf("value %v not below exclusive maximum %v", f, *c.Maximum)
			}
			if f > *c.Maximum {
				return fmt.Errorf("value %v above maximum %v", f, *c.Maximum)
			}
		}
		return nil
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
		return nil
	default:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		if c.MinLength != nil && int64(len(str)) < *c.MinLength {
			return fmt.Errorf("length %d below minLength %d", len(str), *c.MinLength)
		}
		if c.MaxLength != nil && int64(len(str)) > *c.MaxLength {
			return fmt.Errorf("length %d above maxLength %d", len(str), *c.MaxLength)
		}
		if c.Pattern != "" {
			if re, err := regexp.Compile(c.Pattern); err == nil && !re.MatchString(str) {
				return fmt.Errorf("value %q does not match pattern %q", str, c.Pattern)
			}
		}
		return nil
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	default:
		return 0, false
	}
}

func looselyEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}
