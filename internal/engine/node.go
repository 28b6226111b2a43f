package engine

import (
	"context"
	"os"
	"path/filepath"

	flowerrors "github.com/conneroisu/flowtree/internal/errors"
	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/plugins"
	"github.com/conneroisu/flowtree/internal/skeleton"
)

// residualKey is the reserved entry under which the skeleton records
// the <id>.json residual file.
const residualKey = "residual"

// nodeResult carries one node's explode outcome back to the collector.
type nodeResult struct {
	idx      int
	id       string
	entry    *skeleton.Entry
	unstable bool
	bag      errorBag
}

// explodeNode writes one node's files: plugin-claimed content files
// plus the residual JSON, then immediately rebuilds the node from disk
// and fingerprint-compares it against the original to decide stability.
func (e *Engine) explodeNode(ctx context.Context, idx int, n flow.Node, nodeDir string) nodeResult {
	res := nodeResult{idx: idx, id: n.ID()}
	if res.id == "" {
		return res
	}

	claims := plugins.NewClaimSet()
	files := make(map[string][]string)

	for _, p := range e.host.Explode() {
		if !p.CanHandle(n) {
			continue
		}
		fields := p.ClaimedFields(n)
		granted, conflicts := claims.Claim(p.Name(), fields)
		if !granted {
			// Expected for fallback chains (wrap-func shadowing func);
			// recorded so the host can surface both names.
			res.bag.addConflicts(conflicts)
			continue
		}
		created, err := p.ExplodeNode(ctx, n, nodeDir)
		if err != nil {
			res.bag.addPlugin(flowerrors.NewPlugin(p.Name(), "explode hook failed", err).WithNode(res.id))
			// The claim stands: the failed plugin owns the fields, the
			// stability check below will flag the node.
		}
		if len(created) > 0 {
			files[p.Name()] = created
		}
	}

	claimed := make(map[string]bool, claims.Len())
	for _, f := range claims.Fields() {
		claimed[f] = true
	}

	// Residual: everything neither structural nor claimed.
	residual := make(flow.Node)
	for field, value := range n {
		if flow.StructuralFields[field] || claimed[field] {
			continue
		}
		residual[field] = value
	}
	if len(residual) > 0 {
		name := res.id + ".json"
		if err := os.WriteFile(filepath.Join(nodeDir, name), flow.EncodeNode(residual), 0o644); err != nil {
			res.bag.addPlugin(flowerrors.NewPlugin(residualKey, "writing residual", err).WithNode(res.id))
		} else {
			files[residualKey] = []string{name}
		}
	}

	entry := skeleton.EntryFor(n, idx, claimed)
	entry.Files = files
	res.entry = entry

	// Immediate round-trip check. Unstable is not an error: the
	// pipeline is deterministic but the content does not round-trip
	// yet, and watch mode uploads the converged form.
	rebuilt, rbErrs := e.rebuildNode(ctx, res.id, nodeDir, entry)
	for _, re := range rbErrs {
		res.bag.addPlugin(re)
	}
	entry.Stable = flow.EqualNode(n, rebuilt)
	res.unstable = !entry.Stable
	return res
}

// rebuildNode reconstructs one node from its skeleton entry and on-disk
// files: placeholders, then the residual, then plugin-restored fields,
// with structural fields merged from the skeleton throughout.
func (e *Engine) rebuildNode(ctx context.Context, id, nodeDir string, entry *skeleton.Entry) (flow.Node, []*flowerrors.FlowError) {
	var errs []*flowerrors.FlowError

	n := flow.Node{
		flow.FieldID:   id,
		flow.FieldType: entry.Type,
	}
	if entry.Z != "" {
		n[flow.FieldZ] = entry.Z
	}
	for field, value := range entry.Structural {
		n[field] = value
	}
	for field, placeholder := range entry.Claimed {
		n[field] = placeholder
	}

	if data, err := os.ReadFile(filepath.Join(nodeDir, id+".json")); err == nil {
		residual, perr := flow.ParseNode(data)
		if perr != nil {
			errs = append(errs, flowerrors.NewIO("parsing residual", perr).WithNode(id).WithPath(filepath.Join(nodeDir, id+".json")))
		} else {
			for field, value := range residual {
				if field == flow.FieldID {
					// Identity comes from the filename stem.
					continue
				}
				n[field] = value
			}
		}
	}

	claims := plugins.NewClaimSet()
	for _, p := range e.host.Explode() {
		data, err := p.RebuildNode(ctx, id, nodeDir, n)
		if err != nil {
			errs = append(errs, flowerrors.NewPlugin(p.Name(), "rebuild hook failed", err).WithNode(id))
			continue
		}
		if len(data) == 0 {
			continue
		}
		fields := p.ClaimedFields(n)
		granted, _ := claims.Claim(p.Name(), fields)
		if !granted {
			continue
		}
		// Only claimed fields may be injected.
		allowed := make(map[string]bool, len(fields))
		for _, f := range fields {
			allowed[f] = true
		}
		for field, value := range data {
			if allowed[field] {
				n[field] = value
			}
		}
	}

	return n, errs
}
