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

// RebuildResult reports a completed rebuild run.
type RebuildResult struct {
	Document flow.Document
	Nodes    int

	// Dropped lists skeleton ids whose files were gone and were dropped
	// under the tolerant flag.
	Dropped []string

	// NewNodes lists ids incorporated from editor-added files.
	NewNodes []string

	// Quarantined lists files moved aside: new files under the
	// orphan-new policy, or files whose node type no plugin could infer.
	Quarantined []string

	PluginErrors []*flowerrors.FlowError
}

// Rebuild reconstructs the document from the tree rooted at treeRoot.
// When docPath is non-empty, the document is written there and
// post-rebuild plugins run over it.
func (e *Engine) Rebuild(ctx context.Context, treeRoot, docPath string, opts Options) (*RebuildResult, error) {
	res := &RebuildResult{}

	skel, err := skeleton.Load(treeRoot)
	if err != nil {
		return nil, err
	}

	// Editor-added files first, so their nodes take part in the build.
	if err := e.incorporateNewFiles(ctx, treeRoot, skel, opts, res); err != nil {
		return nil, err
	}

	for _, p := range e.host.PreRebuild() {
		if err := p.PrepareTree(ctx, treeRoot, opts.ContinuedFromExplode); err != nil {
			res.PluginErrors = append(res.PluginErrors, flowerrors.NewPlugin(p.Name(), "pre-rebuild hook failed", err))
		}
	}

	containerIDs := make(map[string]bool)
	for id, entry := range skel.Nodes {
		if entry.Type == "tab" || entry.Type == "subflow" {
			containerIDs[id] = true
		}
	}

	ids := skel.IDs()

	type rebuilt struct {
		node    flow.Node
		dropped bool
		errs    []*flowerrors.FlowError
		fatal   error
	}
	results := make([]rebuilt, len(ids))

	work := func(idx int) func() error {
		return func() error {
			id := ids[idx]
			entry := skel.Entry(id)
			dir := skeleton.NodeDir(treeRoot, entry.Z, containerIDs)

			if missing := nodeFilesMissing(dir, entry); missing {
				if !opts.Tolerant {
					results[idx].fatal = flowerrors.NewIO("node files missing from tree", nil).WithNode(id).WithPath(dir)
					return nil
				}
				results[idx].dropped = true
				return nil
			}

			n, errs := e.rebuildNode(ctx, id, dir, entry)
			results[idx] = rebuilt{node: n, errs: errs}
			return nil
		}
	}

	if len(ids) >= parallelThreshold && opts.workers() > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.workers())
		for idx := range ids {
			if gctx.Err() != nil {
				break
			}
			g.Go(work(idx))
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for idx := range ids {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			_ = work(idx)()
		}
	}

	doc := make(flow.Document, 0, len(ids))
	for idx, r := range results {
		if r.fatal != nil {
			return nil, r.fatal
		}
		if r.dropped {
			res.Dropped = append(res.Dropped, ids[idx])
			continue
		}
		res.PluginErrors = append(res.PluginErrors, r.errs...)
		doc = append(doc, r.node)
	}
	res.Document = doc
	res.Nodes = len(doc)

	if docPath != "" {
		if err := os.MkdirAll(filepath.Dir(docPath), 0o755); err != nil {
			return nil, flowerrors.NewIO("creating document directory", err).WithPath(docPath)
		}
		if err := os.WriteFile(docPath, flow.Encode(doc), 0o644); err != nil {
			return nil, flowerrors.NewIO("writing document", err).WithPath(docPath)
		}
		for _, p := range e.host.PostRebuild() {
			if _, err := p.ProcessDocument(ctx, docPath); err != nil {
				res.PluginErrors = append(res.PluginErrors, flowerrors.NewPlugin(p.Name(), "post-rebuild hook failed", err))
			}
		}
	}

	for _, pe := range res.PluginErrors {
		e.log.Warn(ctx, pe, "plugin failure isolated")
	}
	if len(res.Dropped) > 0 {
		e.log.Warn(ctx, nil, "skeleton entries dropped (files missing, tolerant mode)",
			"ids", res.Dropped)
	}

	return res, nil
}

// nodeFilesMissing reports whether every file the skeleton recorded for
// the node is gone. Nodes that never produced files rebuild from the
// skeleton alone and are never missing.
func nodeFilesMissing(dir string, entry *skeleton.Entry) bool {
	total := 0
	for _, files := range entry.Files {
		for _, name := range files {
			total++
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return false
			}
		}
	}
	return total > 0
}
