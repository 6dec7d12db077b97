package spec

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// builder tracks normalization state while converting the kin-openapi pointer
// graph into the arena-backed Document. The resolution "stack" is the building
// map: a schema present there is currently being expanded, so hitting it again
// means the reference closed a cycle.
type builder struct {
	doc      *Document
	building map[*openapi3.Schema]*SchemaNode
	done     map[*openapi3.Schema]*SchemaNode
}

// BuildDocument converts a validated OpenAPI v3 document into the immutable
// internal graph. Traversal order is deterministic: sorted component names,
// then sorted paths with a fixed method order, so arena identities and the
// resulting generation output are reproducible across runs.
func BuildDocument(ctx context.Context, doc *openapi3.T) (*Document, error) {
	_ = ctx
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}

	b := &builder{
		doc:      &Document{},
		building: make(map[*openapi3.Schema]*SchemaNode),
		done:     make(map[*openapi3.Schema]*SchemaNode),
	}
	if doc.Info != nil {
		b.doc.Title = strings.TrimSpace(doc.Info.Title)
		b.doc.Version = strings.TrimSpace(doc.Info.Version)
	}

	// Named component schemas first so they claim the low arena identities.
	if doc.Components != nil && len(doc.Components.Schemas) > 0 {
		names := make([]string, 0, len(doc.Components.Schemas))
		for name := range doc.Components.Schemas {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			node := b.schema(doc.Components.Schemas[name])
			if node == nil {
				continue
			}
			if node.Name == "" {
				node.Name = name
			}
			b.doc.Schemas = append(b.doc.Schemas, node)
		}
	}

	docSecured := len(doc.Security) > 0

	pathKeys := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)

	for _, p := range pathKeys {
		item := doc.Paths[p]
		if item == nil {
			continue
		}
		ops := []struct {
			m HttpMethod
			o *openapi3.Operation
		}{
			{GET, item.Get},
			{POST, item.Post},
			{PUT, item.Put},
			{DELETE, item.Delete},
			{PATCH, item.Patch},
			{HEAD, item.Head},
			{OPTIONS, item.Options},
			{TRACE, item.Trace},
		}
		for _, pair := range ops {
			if pair.o == nil {
				continue
			}
			op := b.operation(p, pair.m, item, pair.o, docSecured)
			b.doc.Operations = append(b.doc.Operations, op)
		}
	}

	return b.doc, nil
}

func (b *builder) operation(path string, method HttpMethod, item *openapi3.PathItem, o *openapi3.Operation, docSecured bool) Operation {
	op := Operation{
		ID:      strings.TrimSpace(o.OperationID),
		Method:  method,
		Path:    path,
		Summary: strings.TrimSpace(o.Summary),
	}
	if op.ID == "" {
		op.ID = string(method) + " " + path
	}
	for _, t := range o.Tags {
		if t = strings.TrimSpace(t); t != "" {
			op.Tags = append(op.Tags, t)
		}
	}

	// Path-level parameters first, overridden by operation-level ones.
	merged := make(map[string]Parameter)
	var order []string
	addParam := func(pref *openapi3.ParameterRef) {
		if pref == nil || pref.Value == nil {
			return
		}
		p := pref.Value
		key := p.In + ":" + p.Name
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = Parameter{
			Name:     strings.TrimSpace(p.Name),
			In:       strings.TrimSpace(p.In),
			Required: p.Required || strings.EqualFold(p.In, "path"),
			Schema:   b.schema(p.Schema),
		}
	}
	for _, pref := range item.Parameters {
		addParam(pref)
	}
	for _, pref := range o.Parameters {
		addParam(pref)
	}
	sort.Strings(order)
	for _, key := range order {
		op.Parameters = append(op.Parameters, merged[key])
	}

	if o.RequestBody != nil && o.RequestBody.Value != nil {
		if mime, mt := pickMedia(o.RequestBody.Value.Content); mt != nil {
			op.RequestBody = &RequestBody{
				MediaType: mime,
				Required:  o.RequestBody.Value.Required,
				Schema:    b.schema(mt.Schema),
			}
		}
	}

	if o.Responses != nil {
		codes := make([]string, 0, len(o.Responses))
		for code := range o.Responses {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			rref := o.Responses[code]
			if rref == nil || rref.Value == nil {
				continue
			}
			resp := Response{Status: code}
			if mime, mt := pickMedia(rref.Value.Content); mt != nil {
				resp.MediaType = mime
				resp.Schema = b.schema(mt.Schema)
			}
			if len(rref.Value.Headers) > 0 {
				hdrs := make([]string, 0, len(rref.Value.Headers))
				for h := range rref.Value.Headers {
					hdrs = append(hdrs, h)
				}
				sort.Strings(hdrs)
				resp.Headers = hdrs
			}
			op.Responses = append(op.Responses, resp)
		}
	}

	if o.Security != nil {
		op.Secured = len(*o.Security) > 0
	} else {
		op.Secured = docSecured
	}
	return op
}

// pickMedia selects one media type deterministically, preferring JSON.
func pickMedia(content openapi3.Content) (string, *openapi3.MediaType) {
	if len(content) == 0 {
		return "", nil
	}
	if mt, ok := content["application/json"]; ok && mt != nil {
		return "application/json", mt
	}
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(k, "json") && content[k] != nil {
			return k, content[k]
		}
	}
	return keys[0], content[keys[0]]
}

// schema converts one kin-openapi schema (already dereferenced into a pointer
// graph) into an arena node. Shared references resolve to the same node; a
// reference back into the in-progress stack produces a KindCyclic node.
func (b *builder) schema(ref *openapi3.SchemaRef) *SchemaNode {
	if ref == nil || ref.Value == nil {
		return nil
	}
	s := ref.Value

	if node, ok := b.done[s]; ok {
		return node
	}
	if target, ok := b.building[s]; ok {
		cyc := b.alloc()
		cyc.Kind = KindCyclic
		cyc.Target = target
		return cyc
	}

	node := b.alloc()
	node.Name = refName(ref.Ref)
	b.building[s] = node
	defer func() {
		delete(b.building, s)
		b.done[s] = node
	}()

	node.Nullable = s.Nullable
	node.Format = strings.TrimSpace(s.Format)
	// A declared-but-empty enum stays non-nil: it is an unsatisfiable
	// constraint the synthesizer reports, not an absent one.
	if s.Enum != nil {
		node.Enum = append(make([]any, 0, len(s.Enum)), s.Enum...)
	}

	switch {
	case len(s.AllOf) > 0:
		node.Kind = KindComposition
		node.Compose = ComposeAllOf
		node.Members = b.members(s.AllOf)
	case len(s.OneOf) > 0:
		node.Kind = KindComposition
		node.Compose = ComposeOneOf
		node.Members = b.members(s.OneOf)
	case len(s.AnyOf) > 0:
		node.Kind = KindComposition
		node.Compose = ComposeAnyOf
		node.Members = b.members(s.AnyOf)
	case s.Type == "array" || s.Items != nil:
		node.Kind = KindArray
		node.Items = b.schema(s.Items)
		if s.MinItems > 0 {
			v := int64(s.MinItems)
			node.MinItems = &v
		}
		if s.MaxItems != nil {
			v := int64(*s.MaxItems)
			node.MaxItems = &v
		}
	case s.Type == "object" || len(s.Properties) > 0:
		node.Kind = KindObject
		node.Type = "object"
		required := make(map[string]bool, len(s.Required))
		for _, r := range s.Required {
			required[r] = true
		}
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			node.Properties = append(node.Properties, Property{
				Name:     name,
				Schema:   b.schema(s.Properties[name]),
				Required: required[name],
			})
		}
	default:
		node.Kind = KindPrimitive
		node.Type = s.Type
		if node.Type == "" {
			node.Type = "string"
		}
		node.Constraints = Constraints{
			Minimum:      s.Min,
			Maximum:      s.Max,
			ExclusiveMin: s.ExclusiveMin,
			ExclusiveMax: s.ExclusiveMax,
			MultipleOf:   s.MultipleOf,
			Pattern:      s.Pattern,
		}
		if s.MinLength > 0 {
			v := int64(s.MinLength)
			node.Constraints.MinLength = &v
		}
		if s.MaxLength != nil {
			v := int64(*s.MaxLength)
			node.Constraints.MaxLength = &v
		}
	}
	return node
}

func (b *builder) members(refs openapi3.SchemaRefs) []*SchemaNode {
	out := make([]*SchemaNode, 0, len(refs))
	for _, r := range refs {
		if n := b.schema(r); n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (b *builder) alloc() *SchemaNode {
	node := &SchemaNode{ID: len(b.doc.Nodes)}
	b.doc.Nodes = append(b.doc.Nodes, node)
	return node
}

func refName(ref string) string {
	const prefix = "#/components/schemas/"
	if strings.HasPrefix(ref, prefix) {
		return strings.TrimPrefix(ref, prefix)
	}
	return ""
}
