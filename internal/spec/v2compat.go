package spec

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Swagger 2 documents in the wild sometimes carry parameter layouts the v3
// converter rejects: several in:body parameters on one operation, or a body
// parameter next to formData. repairSwagger2 rewrites both shapes before
// conversion. The original bytes come back untouched when nothing needed
// fixing or the document does not parse.
func repairSwagger2(data []byte) ([]byte, bool, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return data, false, err
	}
	changed := false
	for _, op := range v2Operations(doc) {
		params, _ := op["parameters"].([]any)
		if len(params) == 0 {
			continue
		}
		bodies, hasForm := countBodies(params)
		switch {
		case bodies == 0:
		case hasForm:
			op["parameters"] = demoteBodies(params)
			op["consumes"] = ensureMultipart(op["consumes"])
			changed = true
		case bodies > 1:
			op["parameters"] = collapseBodies(params)
			changed = true
		}
	}
	if !changed {
		return data, false, nil
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return data, false, err
	}
	return out, true, nil
}

// v2Operations yields every operation map under paths.
func v2Operations(doc map[string]any) []map[string]any {
	paths, _ := doc["paths"].(map[string]any)
	var ops []map[string]any
	for _, v := range paths {
		item, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for method, raw := range item {
			switch strings.ToLower(method) {
			case "get", "post", "put", "delete", "patch", "options", "head":
			default:
				continue
			}
			if op, ok := raw.(map[string]any); ok {
				ops = append(ops, op)
			}
		}
	}
	return ops
}

func countBodies(params []any) (bodies int, hasForm bool) {
	for _, p := range params {
		switch paramIn(p) {
		case "body":
			bodies++
		case "formdata":
			hasForm = true
		}
	}
	return bodies, hasForm
}

func paramIn(p any) string {
	pm, _ := p.(map[string]any)
	if pm == nil {
		return ""
	}
	s, _ := pm["in"].(string)
	return strings.ToLower(s)
}

// demoteBodies turns body parameters into formData equivalents so the
// operation carries a single parameter style.
func demoteBodies(params []any) []any {
	out := make([]any, 0, len(params))
	for _, p := range params {
		pm, _ := p.(map[string]any)
		if pm == nil {
			continue
		}
		if paramIn(pm) == "body" {
			out = append(out, formParam(pm))
			continue
		}
		out = append(out, pm)
	}
	return out
}

func formParam(body map[string]any) map[string]any {
	name, _ := body["name"].(string)
	if name == "" {
		name = "field"
	}
	p := map[string]any{"in": "formData", "name": name}
	if d, ok := body["description"].(string); ok && d != "" {
		p["description"] = d
	}
	if r, ok := body["required"].(bool); ok {
		p["required"] = r
	}
	typ, format, items := flatType(body)
	p["type"] = typ
	if format != "" {
		p["format"] = format
	}
	if items != nil {
		p["items"] = items
	}
	return p
}

// flatType derives the formData type of a body parameter from its schema, or
// from its inline type fields when no schema is declared. Referenced objects
// cannot be expressed in formData and fall back to string.
func flatType(pm map[string]any) (typ, format string, items any) {
	if sch, ok := pm["schema"].(map[string]any); ok {
		typ, _ = sch["type"].(string)
		format, _ = sch["format"].(string)
		if it, ok := sch["items"].(map[string]any); ok {
			items = it
		}
		if typ == "" && sch["$ref"] != nil {
			return "string", "", nil
		}
	}
	if typ == "" {
		typ, _ = pm["type"].(string)
		format, _ = pm["format"].(string)
		if it, ok := pm["items"].(map[string]any); ok {
			items = it
		}
	}
	if typ == "" {
		typ = "string"
	}
	return typ, format, items
}

func ensureMultipart(v any) []any {
	consumes, _ := v.([]any)
	for _, c := range consumes {
		if s, ok := c.(string); ok && s == "multipart/form-data" {
			return consumes
		}
	}
	return append(consumes, "multipart/form-data")
}

// collapseBodies folds every body parameter into one object-typed body whose
// properties are the original parameters.
func collapseBodies(params []any) []any {
	props := map[string]any{}
	var required []any
	rest := make([]any, 0, len(params))
	for _, p := range params {
		pm, _ := p.(map[string]any)
		if pm == nil {
			continue
		}
		if paramIn(pm) != "body" {
			rest = append(rest, p)
			continue
		}
		name, _ := pm["name"].(string)
		if name == "" {
			name = "field"
		}
		props[name] = bodyFieldSchema(pm)
		if r, _ := pm["required"].(bool); r {
			required = append(required, name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	merged := map[string]any{"in": "body", "name": "body", "schema": schema}
	return append([]any{merged}, rest...)
}

func bodyFieldSchema(pm map[string]any) any {
	if sch, ok := pm["schema"].(map[string]any); ok {
		return sch
	}
	t, _ := pm["type"].(string)
	if t == "" {
		return map[string]any{"type": "string"}
	}
	m := map[string]any{"type": t}
	if it, ok := pm["items"].(map[string]any); ok {
		m["items"] = it
	}
	if f, ok := pm["format"].(string); ok && f != "" {
		m["format"] = f
	}
	return m
}
