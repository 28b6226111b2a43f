// Package skeleton owns the hidden structural file written at explode
// time and read back at rebuild time. The skeleton records, for every
// node, its type, container, original document position, and structural
// fields (layout and wiring); content never lives here.
package skeleton

import (
	"sort"

	"github.com/conneroisu/flowtree/internal/flow"
)

// FileName is the hidden skeleton file at the tree root.
const FileName = ".flow-skeleton.json"

// Entry is the structural record for a single node.
type Entry struct {
	Type string `json:"type"`
	Z    string `json:"z,omitempty"`
	// Order is the node's index in the original document. Rebuild sorts
	// by it, which preserves global order and therefore per-container
	// sibling order.
	Order int `json:"order"`
	// Structural holds layout and wiring fields: x, y, wires, links,
	// scope, whichever the node carries.
	Structural map[string]any `json:"structural,omitempty"`
	// Claimed maps each plugin-claimed field to a type-appropriate empty
	// placeholder, so an emptied field survives a rebuild even when its
	// content file is gone.
	Claimed map[string]any `json:"claimed,omitempty"`
	// Files maps plugin name to the files it created for this node.
	// The reserved name "residual" covers the <id>.json file.
	Files map[string][]string `json:"files,omitempty"`
	// Stable records whether the node round-tripped during explode.
	Stable bool `json:"stable"`
}

// Skeleton is the persisted structural summary of a document.
type Skeleton struct {
	Nodes          map[string]*Entry `json:"nodes"`
	ContainerOrder []string          `json:"containerOrder"`
	ConfigOrder    []string          `json:"configOrder"`
}

// New returns an empty skeleton.
func New() *Skeleton {
	return &Skeleton{Nodes: make(map[string]*Entry)}
}

// EntryFor builds the skeleton entry for a node at the given document
// position, splitting off structural fields and recording placeholders
// for the claimed set.
func EntryFor(n flow.Node, order int, claimed map[string]bool) *Entry {
	e := &Entry{
		Type:       n.Type(),
		Z:          n.Container(),
		Order:      order,
		Structural: make(map[string]any),
	}
	for field, value := range n {
		switch {
		case field == flow.FieldID || field == flow.FieldType || field == flow.FieldZ:
			// Stored explicitly on the entry.
		case flow.StructuralFields[field]:
			e.Structural[field] = value
		case claimed[field]:
			if e.Claimed == nil {
				e.Claimed = make(map[string]any)
			}
			e.Claimed[field] = Placeholder(value)
		}
	}
	if len(e.Structural) == 0 {
		e.Structural = nil
	}
	return e
}

// Placeholder returns the type-appropriate empty value for a claimed
// field, preserving the field's JSON type across a round trip.
func Placeholder(v any) any {
	switch v.(type) {
	case string:
		return ""
	case bool:
		return false
	case []any:
		return []any{}
	case map[string]any:
		return map[string]any{}
	case nil:
		return nil
	default:
		// Numbers of any spelling.
		return 0
	}
}

// Append inserts or replaces the entry for id.
func (s *Skeleton) Append(id string, e *Entry) {
	if s.Nodes == nil {
		s.Nodes = make(map[string]*Entry)
	}
	s.Nodes[id] = e
}

// Remove drops the entry for id along with its order bookkeeping.
func (s *Skeleton) Remove(id string) {
	delete(s.Nodes, id)
	s.ContainerOrder = removeString(s.ContainerOrder, id)
	s.ConfigOrder = removeString(s.ConfigOrder, id)
}

// Replace swaps the entry for id, preserving its original order slot.
func (s *Skeleton) Replace(id string, e *Entry) {
	if old, ok := s.Nodes[id]; ok {
		e.Order = old.Order
	}
	s.Append(id, e)
}

// Entry returns the record for id, or nil.
func (s *Skeleton) Entry(id string) *Entry {
	return s.Nodes[id]
}

// ListContainers returns directory-owning container ids in document
// order.
func (s *Skeleton) ListContainers() []string {
	out := make([]string, len(s.ContainerOrder))
	copy(out, s.ContainerOrder)
	return out
}

// NodesIn returns the ids owned by a container, in sibling order.
func (s *Skeleton) NodesIn(containerID string) []string {
	var ids []string
	for id, e := range s.Nodes {
		if e.Z == containerID && id != containerID {
			ids = append(ids, id)
		}
	}
	s.sortByOrder(ids)
	return ids
}

// StructuralFieldsFor returns the structural map for id, or nil.
func (s *Skeleton) StructuralFieldsFor(id string) map[string]any {
	if e := s.Nodes[id]; e != nil {
		return e.Structural
	}
	return nil
}

// IDs returns every recorded node id, sorted by document order.
func (s *Skeleton) IDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	s.sortByOrder(ids)
	return ids
}

// MaxOrder returns the highest recorded document position, or -1 when
// the skeleton is empty.
func (s *Skeleton) MaxOrder() int {
	max := -1
	for _, e := range s.Nodes {
		if e.Order > max {
			max = e.Order
		}
	}
	return max
}

func (s *Skeleton) sortByOrder(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.Nodes[ids[i]], s.Nodes[ids[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return ids[i] < ids[j]
	})
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
