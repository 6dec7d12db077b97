package spec

// Internal graph consumed by the analyzer, planner, and synthesizer. All
// instances are built once per run by BuildDocument and are immutable
// afterwards; downstream stages share them without locking.

type HttpMethod string

const (
	GET     HttpMethod = "get"
	POST    HttpMethod = "post"
	PUT     HttpMethod = "put"
	DELETE  HttpMethod = "delete"
	PATCH   HttpMethod = "patch"
	HEAD    HttpMethod = "head"
	OPTIONS HttpMethod = "options"
	TRACE   HttpMethod = "trace"
)

// NodeKind discriminates the SchemaNode tagged union.
type NodeKind int

const (
	KindPrimitive NodeKind = iota
	KindObject
	KindArray
	KindComposition
	// KindCyclic marks an edge that closed a reference cycle during
	// normalization. Target points at the node that was on the resolution
	// stack; the synthesizer terminates such branches with a minimal
	// instance of the target shape.
	KindCyclic
)

func (k NodeKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindComposition:
		return "composition"
	case KindCyclic:
		return "cyclic"
	default:
		return "unknown"
	}
}

// CompositionKind identifies oneOf/anyOf/allOf composition semantics.
type CompositionKind string

const (
	ComposeNone  CompositionKind = ""
	ComposeOneOf CompositionKind = "oneOf"
	ComposeAnyOf CompositionKind = "anyOf"
	ComposeAllOf CompositionKind = "allOf"
)

// Constraints carries the value restrictions attached to a primitive node.
// Pointer fields are nil when the spec declares no bound.
type Constraints struct {
	Minimum      *float64
	Maximum      *float64
	ExclusiveMin bool
	ExclusiveMax bool
	MultipleOf   *float64
	MinLength    *int64
	MaxLength    *int64
	Pattern      string
}

// HasBounds reports whether any numeric or length bound is declared.
func (c Constraints) HasBounds() bool {
	return c.Minimum != nil || c.Maximum != nil || c.MinLength != nil || c.MaxLength != nil
}

// Property is a named object member. Properties keep a deterministic order
// (sorted by name, matching how the rest of the pipeline iterates maps).
type Property struct {
	Name     string
	Schema   *SchemaNode
	Required bool
}

// SchemaNode is one node of the dereferenced schema graph. ID is a stable
// identity assigned by the arena (the index of the node within Document.Nodes)
// and is independent of where the node is referenced from.
type SchemaNode struct {
	ID   int
	Name string // component name when declared under components/schemas
	Kind NodeKind

	// Primitive
	Type        string // string|integer|number|boolean
	Format      string
	Constraints Constraints
	Enum        []any
	Nullable    bool

	// Object
	Properties []Property

	// Array
	Items    *SchemaNode
	MinItems *int64
	MaxItems *int64

	// Composition
	Compose CompositionKind
	Members []*SchemaNode

	// Cyclic
	Target *SchemaNode
}

// RequiredSet returns the required property names of an object node.
func (n *SchemaNode) RequiredSet() map[string]bool {
	out := make(map[string]bool, len(n.Properties))
	for _, p := range n.Properties {
		if p.Required {
			out[p.Name] = true
		}
	}
	return out
}

// Parameter describes one operation parameter.
type Parameter struct {
	Name     string
	In       string // path|query|header|cookie
	Required bool
	Schema   *SchemaNode
}

// RequestBody describes the single media type chosen for request synthesis.
// When an operation declares several content types, the JSON one wins.
type RequestBody struct {
	MediaType string
	Required  bool
	Schema    *SchemaNode
}

// Response describes one declared status code of an operation.
type Response struct {
	Status    string // "200", "404", "default"
	MediaType string
	Schema    *SchemaNode
	Headers   []string
}

// Operation is one path×method entry with its attached metadata.
type Operation struct {
	ID          string // operationId, or "method path" when absent
	Method      HttpMethod
	Path        string
	Summary     string
	Tags        []string
	Parameters  []Parameter
	RequestBody *RequestBody
	Responses   []Response
	// Secured is true when the operation (or the document default) declares
	// a non-empty security requirement.
	Secured bool
}

// SuccessResponse returns the first declared 2xx response, if any.
func (op *Operation) SuccessResponse() *Response {
	for i := range op.Responses {
		s := op.Responses[i].Status
		if len(s) == 3 && s[0] == '2' {
			return &op.Responses[i]
		}
	}
	return nil
}

// Document is the fully-dereferenced specification graph.
type Document struct {
	Title   string
	Version string

	// Operations in deterministic order: path (sorted), then a fixed method
	// order within each path.
	Operations []Operation

	// Schemas holds the named component schemas in sorted-name order.
	Schemas []*SchemaNode

	// Nodes is the identity arena: every distinct SchemaNode constructed
	// during normalization, indexed by SchemaNode.ID.
	Nodes []*SchemaNode
}

// SchemaByName looks up a named component schema.
func (d *Document) SchemaByName(name string) *SchemaNode {
	for _, s := range d.Schemas {
		if s.Name == name {
			return s
		}
	}
	return nil
}
