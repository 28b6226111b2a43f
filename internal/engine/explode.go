package engine

import (
	"context"
	"os"
	"path/filepath"

	flowerrors "github.com/conneroisu/flowtree/internal/errors"
	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/skeleton"
	"golang.org/x/sync/errgroup"
)

// ExplodeResult reports a completed explode run.
type ExplodeResult struct {
	// Document is the exploded document after pre-explode plugins ran.
	Document flow.Document

	Nodes int

	// PreExplodeModified and PostExplodeModified report whether any
	// plugin of those stages changed the document or the tree.
	PreExplodeModified  bool
	PostExplodeModified bool

	// ModifiedBy names the plugins that reported modifications; watch
	// mode surfaces them when oscillation is detected.
	ModifiedBy []string

	// UnstableNodes lists ids whose on-disk form does not round-trip to
	// the original node. Not errors; watch mode uploads the converged
	// form.
	UnstableNodes []string

	// Conflicts records field-claim collisions (first claimant kept).
	Conflicts []*flowerrors.FlowError

	// PluginErrors records isolated plugin failures.
	PluginErrors []*flowerrors.FlowError

	// Orphaned lists files moved to quarantine or deleted.
	Orphaned []string
}

// NeedsPush reports whether watch mode must upload after this explode:
// the stored document differs from what the tree will rebuild to.
func (r *ExplodeResult) NeedsPush() bool {
	return r.PreExplodeModified || r.PostExplodeModified || len(r.UnstableNodes) > 0
}

// Explode decomposes a document into the tree rooted at treeRoot.
// docPath, when non-empty, names the on-disk document file handed to
// post-explode plugins.
func (e *Engine) Explode(ctx context.Context, doc flow.Document, treeRoot, docPath string, opts Options) (*ExplodeResult, error) {
	res := &ExplodeResult{}

	// Pre-explode plugins transform a private copy of the document.
	doc = doc.Clone()
	for _, p := range e.host.PreExplode() {
		transformed, modified, err := p.TransformDocument(ctx, doc)
		if err != nil {
			res.PluginErrors = append(res.PluginErrors, flowerrors.NewPlugin(p.Name(), "pre-explode hook failed", err))
			continue
		}
		doc = transformed
		if modified {
			res.PreExplodeModified = true
			res.ModifiedBy = append(res.ModifiedBy, p.Name())
		}
	}
	res.Document = doc
	res.Nodes = len(doc)

	seen := make(map[string]bool, len(doc))
	for _, n := range doc {
		id := n.ID()
		if id == "" {
			continue
		}
		if seen[id] {
			return nil, flowerrors.NewConfig("duplicate node id " + id)
		}
		seen[id] = true
	}

	if err := os.MkdirAll(treeRoot, 0o755); err != nil {
		return nil, flowerrors.NewIO("creating tree root", err).WithPath(treeRoot)
	}

	containerIDs := doc.ContainerIDs()
	skel := skeleton.New()
	for _, n := range doc {
		switch {
		case n.OwnsDirectory():
			skel.ContainerOrder = append(skel.ContainerOrder, n.ID())
		case n.Container() == "":
			skel.ConfigOrder = append(skel.ConfigOrder, n.ID())
		}
	}
	for id := range containerIDs {
		if err := os.MkdirAll(filepath.Join(treeRoot, id), 0o755); err != nil {
			return nil, flowerrors.NewIO("creating container directory", err).WithPath(id)
		}
	}

	results := make([]nodeResult, len(doc))
	work := func(idx int) func() error {
		return func() error {
			n := doc[idx]
			dir := skeleton.NodeDir(treeRoot, n.Container(), containerIDs)
			results[idx] = e.explodeNode(ctx, idx, n, dir)
			return nil
		}
	}

	if len(doc) >= parallelThreshold && opts.workers() > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.workers())
		for idx := range doc {
			if gctx.Err() != nil {
				break
			}
			g.Go(work(idx))
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for idx := range doc {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			_ = work(idx)()
		}
	}

	for _, r := range results {
		if r.entry == nil {
			continue
		}
		skel.Append(r.id, r.entry)
		if r.unstable {
			res.UnstableNodes = append(res.UnstableNodes, r.id)
		}
		res.Conflicts = append(res.Conflicts, r.bag.conflicts...)
		res.PluginErrors = append(res.PluginErrors, r.bag.pluginErrors...)
	}

	if err := skeleton.Save(treeRoot, skel); err != nil {
		return nil, err
	}

	for _, p := range e.host.PostExplode() {
		modified, err := p.ProcessTree(ctx, treeRoot, docPath)
		if err != nil {
			res.PluginErrors = append(res.PluginErrors, flowerrors.NewPlugin(p.Name(), "post-explode hook failed", err))
			continue
		}
		if modified {
			res.PostExplodeModified = true
			res.ModifiedBy = append(res.ModifiedBy, p.Name())
		}
	}

	orphaned, err := e.handleOrphans(treeRoot, skel, containerIDs, opts.DeleteOrphaned)
	if err != nil {
		return nil, err
	}
	res.Orphaned = orphaned

	for _, c := range res.Conflicts {
		e.log.Debug(ctx, "field claim conflict", "detail", c.Error())
	}
	for _, pe := range res.PluginErrors {
		e.log.Warn(ctx, pe, "plugin failure isolated")
	}
	if len(res.UnstableNodes) > 0 {
		e.log.Warn(ctx, nil, "nodes changed during round-trip",
			"count", len(res.UnstableNodes))
	}

	return res, nil
}
