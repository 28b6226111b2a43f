package plugins

import (
	"sort"

	flowerrors "github.com/conneroisu/flowtree/internal/errors"
)

// ClaimSet tracks field ownership during a single node's explode or
// rebuild. It is created per node and owned by the node's worker, so no
// locking is needed; the accumulator is threaded through the plugin
// fold.
type ClaimSet struct {
	owner map[string]string // field -> plugin name
}

// NewClaimSet returns an empty claim set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{owner: make(map[string]string)}
}

// Claim attempts to take the given fields for a plugin. When any field
// is already owned, nothing is claimed and the conflicts are returned,
// each naming both plugins; the first claimant keeps the field.
func (c *ClaimSet) Claim(plugin string, fields []string) (bool, []*flowerrors.FlowError) {
	var conflicts []*flowerrors.FlowError
	for _, f := range fields {
		if first, taken := c.owner[f]; taken {
			conflicts = append(conflicts, flowerrors.NewClaimConflict(f, first, plugin))
		}
	}
	if len(conflicts) > 0 {
		return false, conflicts
	}
	for _, f := range fields {
		c.owner[f] = plugin
	}
	return true, nil
}

// Claimed reports whether a field is owned.
func (c *ClaimSet) Claimed(field string) bool {
	_, ok := c.owner[field]
	return ok
}

// Owner returns the plugin owning a field, or "".
func (c *ClaimSet) Owner(field string) string {
	return c.owner[field]
}

// Fields returns the claimed field names, sorted.
func (c *ClaimSet) Fields() []string {
	out := make([]string, 0, len(c.owner))
	for f := range c.owner {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of claimed fields.
func (c *ClaimSet) Len() int { return len(c.owner) }
