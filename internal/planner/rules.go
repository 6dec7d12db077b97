package planner

import (
	"fmt"

	"github.com/chad-deng/openapi-testgen/internal/analyzer"
	"github.com/chad-deng/openapi-testgen/internal/spec"
	"github.com/chad-deng/openapi-testgen/internal/synth"
)

func defaultRules() []Rule {
	return []Rule{
		happyRule{},
		validationRule{},
		errorRule{},
		boundaryRule{},
		authRule{},
	}
}

// inputs synthesizes the baseline request inputs for an operation: every
// required parameter plus the request body when declared.
func inputs(op *spec.Operation, syn *synth.Synthesizer, rec *synth.Recorder) (pathP, queryP, headers, cookies map[string]any, body any) {
	pathP = map[string]any{}
	queryP = map[string]any{}
	headers = map[string]any{}
	cookies = map[string]any{}
	for _, p := range op.Parameters {
		if !p.Required && p.In != "path" {
			continue
		}
		v := syn.Value(p.Schema, p.In+"."+p.Name, rec)
		switch p.In {
		case "path":
			pathP[p.Name] = v
		case "query":
			queryP[p.Name] = v
		case "header":
			headers[p.Name] = v
		case "cookie":
			cookies[p.Name] = v
		}
	}
	if op.RequestBody != nil && op.RequestBody.Schema != nil {
		body = syn.Value(op.RequestBody.Schema, "body", rec)
	}
	return pathP, queryP, headers, cookies, body
}

func happyStatus(op *spec.Operation) int {
	if r := op.SuccessResponse(); r != nil {
		if code := statusCode(r.Status); code != 0 {
			return code
		}
	}
	return 200
}

// responseAssertions derives field checks from the expected response shape.
// Required properties assert presence; every primitive property asserts its
// type, or enum membership where the schema declares one. Type and enum
// checks tolerate an absent field, so optional properties are safe to check.
func responseAssertions(idx *analyzer.Index, resp *spec.Response) []Assertion {
	if resp == nil || resp.Schema == nil {
		return nil
	}
	node := idx.Effective(resp.Schema)
	switch node.Kind {
	case spec.KindObject:
		var out []Assertion
		for _, p := range node.Properties {
			if p.Schema == nil {
				continue
			}
			if p.Required {
				out = append(out, Assertion{FieldPath: p.Name, Check: "present"})
			}
			prop := idx.Effective(p.Schema)
			if prop.Kind != spec.KindPrimitive {
				continue
			}
			if len(prop.Enum) > 0 {
				out = append(out, Assertion{FieldPath: p.Name, Check: "enum", Value: prop.Enum})
			} else if prop.Type != "" {
				out = append(out, Assertion{FieldPath: p.Name, Check: "type", Value: prop.Type})
			}
		}
		return out
	case spec.KindArray:
		return []Assertion{{FieldPath: "", Check: "type", Value: "array"}}
	case spec.KindPrimitive:
		if len(node.Enum) > 0 {
			return []Assertion{{FieldPath: "", Check: "enum", Value: node.Enum}}
		}
	}
	return nil
}

// happyRule emits the valid-input scenario expecting the declared 2xx.
type happyRule struct{}

func (happyRule) Kind() ScenarioKind           { return KindHappy }
func (happyRule) Applies(*spec.Operation) bool { return true }

func (happyRule) Generate(op *spec.Operation, idx *analyzer.Index, syn *synth.Synthesizer, rec *synth.Recorder) []Scenario {
	pathP, queryP, headers, cookies, body := inputs(op, syn, rec)
	sc := Scenario{
		Name:         "happy path",
		Kind:         KindHappy,
		OperationID:  op.ID,
		PathParams:   pathP,
		QueryParams:  queryP,
		Headers:      headers,
		Cookies:      cookies,
		Body:         body,
		ExpectStatus: happyStatus(op),
		Assertions:   responseAssertions(idx, op.SuccessResponse()),
	}
	if op.RequestBody != nil {
		sc.BodyMedia = op.RequestBody.MediaType
	}
	return []Scenario{sc}
}

// validationRule emits one scenario per required-input omission.
type validationRule struct{}

func (validationRule) Kind() ScenarioKind { return KindValidation }

func (validationRule) Applies(op *spec.Operation) bool {
	for _, p := range op.Parameters {
		if p.Required {
			return true
		}
	}
	return op.RequestBody != nil && op.RequestBody.Required
}

func (validationRule) Generate(op *spec.Operation, idx *analyzer.Index, syn *synth.Synthesizer, rec *synth.Recorder) []Scenario {
	var out []Scenario
	for _, omit := range op.Parameters {
		if !omit.Required {
			continue
		}
		pathP, queryP, headers, cookies, body := inputs(op, syn, rec)
		switch omit.In {
		case "path":
			// A path parameter cannot be left out of the URL; an empty
			// segment stands in for the omission.
			pathP[omit.Name] = ""
		case "query":
			delete(queryP, omit.Name)
		case "header":
			delete(headers, omit.Name)
		case "cookie":
			delete(cookies, omit.Name)
		default:
			continue
		}
		sc := Scenario{
			Name:         fmt.Sprintf("missing %s param %s", omit.In, omit.Name),
			Kind:         KindValidation,
			OperationID:  op.ID,
			PathParams:   pathP,
			QueryParams:  queryP,
			Headers:      headers,
			Cookies:      cookies,
			Body:         body,
			ExpectStatus: 400,
		}
		if op.RequestBody != nil {
			sc.BodyMedia = op.RequestBody.MediaType
		}
		out = append(out, sc)
	}
	if op.RequestBody != nil && op.RequestBody.Required {
		pathP, queryP, headers, cookies, _ := inputs(op, syn, rec)
		out = append(out, Scenario{
			Name:         "missing request body",
			Kind:         KindValidation,
			OperationID:  op.ID,
			PathParams:   pathP,
			QueryParams:  queryP,
			Headers:      headers,
			Cookies:      cookies,
			ExpectStatus: 400,
		})
	}
	return out
}

// errorRule emits one scenario per declared non-2xx response code.
type errorRule struct{}

func (errorRule) Kind() ScenarioKind { return KindError }

func (errorRule) Applies(op *spec.Operation) bool {
	for _, r := range op.Responses {
		if code := statusCode(r.Status); code >= 400 {
			return true
		}
	}
	return false
}

func (errorRule) Generate(op *spec.Operation, idx *analyzer.Index, syn *synth.Synthesizer, rec *synth.Recorder) []Scenario {
	var out []Scenario
	for _, r := range op.Responses {
		code := statusCode(r.Status)
		if code < 400 {
			continue
		}
		if (code == 401 || code == 403) && op.Secured {
			// The auth rule owns unauthenticated-access scenarios.
			continue
		}
		pathP, queryP, headers, cookies, body := inputs(op, syn, rec)
		name := fmt.Sprintf("declared %d", code)
		switch code {
		case 404:
			name = "not found"
			for _, p := range op.Parameters {
				if p.In != "path" {
					continue
				}
				pathP[p.Name] = outOfDomain(p.Schema)
			}
		case 400, 422:
			if p := firstNumericParam(op); p != nil {
				name = fmt.Sprintf("declared %d: malformed %s param %s", code, p.In, p.Name)
				switch p.In {
				case "path":
					pathP[p.Name] = "not-a-number"
				case "query":
					queryP[p.Name] = "not-a-number"
				case "header":
					headers[p.Name] = "not-a-number"
				}
			} else if op.RequestBody != nil {
				name = fmt.Sprintf("declared %d: empty body", code)
				body = map[string]any{}
			}
		}
		sc := Scenario{
			Name:         name,
			Kind:         KindError,
			OperationID:  op.ID,
			PathParams:   pathP,
			QueryParams:  queryP,
			Headers:      headers,
			Cookies:      cookies,
			Body:         body,
			ExpectStatus: code,
			Assertions:   responseAssertions(idx, &r),
		}
		if op.RequestBody != nil {
			sc.BodyMedia = op.RequestBody.MediaType
		}
		out = append(out, sc)
	}
	return out
}

// outOfDomain produces an identifier guaranteed to miss: far outside the
// synthesized range for integers, an unlikely literal for strings.
func outOfDomain(n *spec.SchemaNode) any {
	if n != nil && n.Kind == spec.KindPrimitive {
		switch n.Type {
		case "integer":
			return int64(999999999)
		case "number":
			return float64(999999999)
		}
	}
	return "does-not-exist"
}

func firstNumericParam(op *spec.Operation) *spec.Parameter {
	for i := range op.Parameters {
		p := &op.Parameters[i]
		if p.Schema != nil && p.Schema.Kind == spec.KindPrimitive &&
			(p.Schema.Type == "integer" || p.Schema.Type == "number") {
			return p
		}
	}
	return nil
}

// boundaryRule emits scenarios exercising each constrained request parameter
// at and just outside its declared limits. Parameters without declared
// constraints produce no boundary scenarios.
type boundaryRule struct{}

func (boundaryRule) Kind() ScenarioKind { return KindBoundary }

func (boundaryRule) Applies(op *spec.Operation) bool {
	for _, p := range op.Parameters {
		if p.Schema != nil && p.Schema.Kind == spec.KindPrimitive && p.Schema.Constraints.HasBounds() {
			return true
		}
	}
	return false
}

func (boundaryRule) Generate(op *spec.Operation, idx *analyzer.Index, syn *synth.Synthesizer, rec *synth.Recorder) []Scenario {
	var out []Scenario
	for _, target := range op.Parameters {
		cases := syn.Boundary(target.Schema)
		if len(cases) == 0 {
			continue
		}
		for _, bc := range cases {
			pathP, queryP, headers, cookies, body := inputs(op, syn, rec)
			switch target.In {
			case "path":
				pathP[target.Name] = bc.Value
			case "query":
				queryP[target.Name] = bc.Value
			case "header":
				headers[target.Name] = bc.Value
			case "cookie":
				cookies[target.Name] = bc.Value
			default:
				continue
			}
			expect := 400
			if bc.Valid {
				expect = happyStatus(op)
			}
			sc := Scenario{
				Name:         fmt.Sprintf("boundary %s=%s", target.Name, bc.Label),
				Kind:         KindBoundary,
				OperationID:  op.ID,
				PathParams:   pathP,
				QueryParams:  queryP,
				Headers:      headers,
				Cookies:      cookies,
				Body:         body,
				ExpectStatus: expect,
			}
			if op.RequestBody != nil {
				sc.BodyMedia = op.RequestBody.MediaType
			}
			out = append(out, sc)
		}
	}
	return out
}

// authRule emits the unauthenticated-access scenario for secured operations.
type authRule struct{}

func (authRule) Kind() ScenarioKind              { return KindAuth }
func (authRule) Applies(op *spec.Operation) bool { return op.Secured }

func (authRule) Generate(op *spec.Operation, idx *analyzer.Index, syn *synth.Synthesizer, rec *synth.Recorder) []Scenario {
	pathP, queryP, headers, cookies, body := inputs(op, syn, rec)
	expect := 401
	for _, r := range op.Responses {
		if code := statusCode(r.Status); code == 401 {
			expect = 401
			break
		} else if code == 403 {
			expect = 403
		}
	}
	sc := Scenario{
		Name:         "unauthenticated",
		Kind:         KindAuth,
		OperationID:  op.ID,
		PathParams:   pathP,
		QueryParams:  queryP,
		Headers:      headers,
		Cookies:      cookies,
		Body:         body,
		OmitAuth:     true,
		ExpectStatus: expect,
	}
	if op.RequestBody != nil {
		sc.BodyMedia = op.RequestBody.MediaType
	}
	return []Scenario{sc}
}
