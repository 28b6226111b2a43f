package engine

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/conneroisu/flowtree/internal/flow"
)

// DiffPath locates the first divergence between two documents: the
// container, node id, and field where they disagree.
type DiffPath struct {
	Container string
	NodeID    string
	Field     string
	Detail    string
}

// String renders the path for operators.
func (d DiffPath) String() string {
	if d.NodeID == "" {
		return d.Detail
	}
	return fmt.Sprintf("container=%q node=%q field=%q: %s", d.Container, d.NodeID, d.Field, d.Detail)
}

// VerifyResult reports a round-trip check.
type VerifyResult struct {
	Equal bool
	Diff  *DiffPath

	Explode *ExplodeResult
	Rebuild *RebuildResult
}

// Verify runs document → explode → rebuild → document in a temporary
// tree and compares the result against the exploded document under the
// fingerprint. Formatting differences never show up here: the
// comparison is content-level, not byte-level.
func (e *Engine) Verify(ctx context.Context, doc flow.Document, opts Options) (*VerifyResult, error) {
	tmp, err := os.MkdirTemp("", "flowtree-verify-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	exploded, err := e.Explode(ctx, doc, tmp, "", opts)
	if err != nil {
		return nil, err
	}

	rebuilt, err := e.Rebuild(ctx, tmp, "", opts)
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Explode: exploded, Rebuild: rebuilt}
	// Pre-explode plugins may rewrite the document (id normalisation);
	// the round-trip invariant is against what was actually exploded.
	want := exploded.Document
	got := rebuilt.Document

	if flow.Equal(want, got) {
		res.Equal = true
		return res, nil
	}
	res.Diff = diffDocuments(want, got)
	return res, nil
}

// diffDocuments finds the minimal divergence path between documents.
func diffDocuments(want, got flow.Document) *DiffPath {
	if len(want) != len(got) {
		return &DiffPath{Detail: fmt.Sprintf("node count differs: %d vs %d", len(want), len(got))}
	}
	for i := range want {
		w, g := want[i], got[i]
		if flow.EqualNode(w, g) {
			continue
		}
		if w.ID() != g.ID() {
			return &DiffPath{
				Container: w.Container(),
				NodeID:    w.ID(),
				Detail:    fmt.Sprintf("sibling order differs at position %d: %q vs %q", i, w.ID(), g.ID()),
			}
		}
		return &DiffPath{
			Container: w.Container(),
			NodeID:    w.ID(),
			Field:     firstDifferingField(w, g),
			Detail:    "field value differs",
		}
	}
	return &DiffPath{Detail: "documents differ but every node matches positionally"}
}

func firstDifferingField(w, g flow.Node) string {
	fields := make(map[string]bool, len(w)+len(g))
	for f := range w {
		fields[f] = true
	}
	for f := range g {
		fields[f] = true
	}
	sorted := make([]string, 0, len(fields))
	for f := range fields {
		sorted = append(sorted, f)
	}
	sort.Strings(sorted)

	for _, f := range sorted {
		wv, wok := w[f]
		gv, gok := g[f]
		if wok != gok {
			return f
		}
		if flow.FingerprintNode(flow.Node{f: wv}) != flow.FingerprintNode(flow.Node{f: gv}) {
			return f
		}
	}
	return ""
}
