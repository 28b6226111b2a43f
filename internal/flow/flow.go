// Package flow defines the document model shared by every flowtree
// component: an ordered list of JSON node objects, container predicates,
// and the canonical fingerprint used to decide semantic equality.
package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Structural field names. These are owned by the skeleton, never by a
// plugin or the residual file.
const (
	FieldID    = "id"
	FieldType  = "type"
	FieldZ     = "z"
	FieldX     = "x"
	FieldY     = "y"
	FieldWires = "wires"
	FieldLinks = "links"
	FieldScope = "scope"
)

// StructuralFields lists every field the skeleton claims for itself.
// id, type and z are stored explicitly on the skeleton entry; the rest
// go into its structural map.
var StructuralFields = map[string]bool{
	FieldID:    true,
	FieldType:  true,
	FieldZ:     true,
	FieldX:     true,
	FieldY:     true,
	FieldWires: true,
	FieldLinks: true,
	FieldScope: true,
}

// Node is a single flow node: a JSON object keyed by field name.
// Numbers are json.Number so round-tripping never rewrites a literal.
type Node map[string]any

// Document is the authoritative artifact: an ordered list of nodes.
// Sibling order is semantically significant.
type Document []Node

// ID returns the node id, or "" when absent or not a string.
func (n Node) ID() string {
	id, _ := n[FieldID].(string)
	return id
}

// Type returns the node type, or "" when absent.
func (n Node) Type() string {
	t, _ := n[FieldType].(string)
	return t
}

// Container returns the owning container id (the z field), or "".
func (n Node) Container() string {
	z, _ := n[FieldZ].(string)
	return z
}

// Name returns the display name, or "" when absent.
func (n Node) Name() string {
	name, _ := n["name"].(string)
	return name
}

// IsContainer reports whether the node partitions the document:
// tabs, subflow definitions, and groups.
func (n Node) IsContainer() bool {
	switch n.Type() {
	case "tab", "subflow", "group":
		return true
	}
	return false
}

// OwnsDirectory reports whether the container gets its own directory in
// the exploded tree. Groups live inside their tab's directory, so only
// tabs and subflows qualify.
func (n Node) OwnsDirectory() bool {
	t := n.Type()
	return t == "tab" || t == "subflow"
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := make(Node, len(n))
	for k, v := range n {
		out[k] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for i, n := range d {
		out[i] = n.Clone()
	}
	return out
}

// ContainerIDs returns the set of directory-owning container ids.
func (d Document) ContainerIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, n := range d {
		if n.OwnsDirectory() {
			ids[n.ID()] = true
		}
	}
	return ids
}

// ByID returns the first node with the given id, or nil.
func (d Document) ByID(id string) Node {
	for _, n := range d {
		if n.ID() == id {
			return n
		}
	}
	return nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Parse decodes a document from its wire form. The top level must be a
// JSON array; numbers are kept as json.Number.
func Parse(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("document is not a JSON array of nodes: %w", err)
	}

	doc := make(Document, len(raw))
	for i, m := range raw {
		doc[i] = Node(m)
	}
	return doc, nil
}

// ParseNode decodes a single node object.
func ParseNode(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("node is not a JSON object: %w", err)
	}
	return Node(m), nil
}

// Encode writes the document in compact wire form with a trailing
// newline. Keys inside each node are sorted; the fingerprint ignores key
// order so sorting is safe and keeps diffs stable.
func Encode(d Document) []byte {
	var buf bytes.Buffer
	writeCanonical(&buf, documentValue(d))
	buf.WriteByte('\n')
	return buf.Bytes()
}

// EncodeNode writes a single node in compact canonical form with a
// trailing newline.
func EncodeNode(n Node) []byte {
	var buf bytes.Buffer
	writeCanonical(&buf, map[string]any(n))
	buf.WriteByte('\n')
	return buf.Bytes()
}

func documentValue(d Document) []any {
	arr := make([]any, len(d))
	for i, n := range d {
		arr[i] = map[string]any(n)
	}
	return arr
}
