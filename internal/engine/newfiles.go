package engine

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	flowerrors "github.com/conneroisu/flowtree/internal/errors"
	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/skeleton"
)

// newNodeStartX and newNodeStartY place incorporated nodes; successive
// nodes stack vertically.
const (
	newNodeStartX = 100
	newNodeStartY = 100
	newNodeStepY  = 50
)

// incorporateNewFiles scans for residual files with no skeleton entry:
// nodes the operator created directly on disk. Depending on options
// they are deleted, quarantined, or incorporated into the skeleton so
// the rebuild picks them up.
func (e *Engine) incorporateNewFiles(ctx context.Context, treeRoot string, skel *skeleton.Skeleton, opts Options, res *RebuildResult) error {
	var newFiles []string
	err := filepath.WalkDir(treeRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == orphanDir {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if name == skeleton.FileName || !strings.HasSuffix(name, ".json") {
			return nil
		}
		if e.host.IsMetadataFile(name) {
			return nil
		}
		stem := strings.TrimSuffix(name, ".json")
		if skel.Entry(stem) == nil {
			newFiles = append(newFiles, path)
		}
		return nil
	})
	if err != nil {
		return flowerrors.NewIO("scanning for new files", err).WithPath(treeRoot)
	}
	if len(newFiles) == 0 {
		return nil
	}

	e.log.Warn(ctx, nil, "files present without skeleton entries", "count", len(newFiles))

	switch {
	case opts.DeleteNew:
		for _, path := range newFiles {
			stem := strings.TrimSuffix(filepath.Base(path), ".json")
			siblings, _ := filepath.Glob(filepath.Join(filepath.Dir(path), stem+".*"))
			for _, s := range siblings {
				if err := os.Remove(s); err != nil {
					return flowerrors.NewIO("deleting new file", err).WithPath(s)
				}
			}
		}
		return nil

	case opts.OrphanNew:
		for _, path := range newFiles {
			rel, rerr := filepath.Rel(treeRoot, path)
			if rerr != nil {
				rel = filepath.Base(path)
			}
			if err := quarantine(treeRoot, path, rel); err != nil {
				return err
			}
			res.Quarantined = append(res.Quarantined, rel)
		}
		return nil
	}

	nextOrder := skel.MaxOrder() + 1
	nextY := newNodeStartY

	for _, path := range newFiles {
		dir := filepath.Dir(path)
		stem := strings.TrimSuffix(filepath.Base(path), ".json")

		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return flowerrors.NewIO("reading new file", rerr).WithPath(path)
		}
		node, perr := flow.ParseNode(data)
		if perr != nil {
			// Not a node definition; leave it for the orphan pass.
			e.log.Warn(ctx, perr, "new file is not a node object", "path", path)
			continue
		}

		nodeType := node.Type()
		if nodeType == "" {
			// First answer in plugin priority order wins.
			nodeType = e.host.InferType(dir, stem)
		}
		if nodeType == "" {
			rel, rerr := filepath.Rel(treeRoot, path)
			if rerr != nil {
				rel = filepath.Base(path)
			}
			e.log.Warn(ctx, nil, "cannot infer node type, quarantining", "path", rel)
			if err := quarantine(treeRoot, path, rel); err != nil {
				return err
			}
			res.Quarantined = append(res.Quarantined, rel)
			continue
		}

		entry := &skeleton.Entry{
			Type:       nodeType,
			Order:      nextOrder,
			Structural: make(map[string]any),
			Files:      map[string][]string{residualKey: {stem + ".json"}},
			Stable:     true,
		}
		nextOrder++

		if z := node.Container(); z != "" {
			entry.Z = z
		} else if dir != treeRoot {
			entry.Z = filepath.Base(dir)
		}

		if _, ok := node[flow.FieldX]; !ok {
			entry.Structural[flow.FieldX] = newNodeStartX
			entry.Structural[flow.FieldY] = nextY
			nextY += newNodeStepY
		}
		if _, ok := node[flow.FieldWires]; !ok {
			outputs := 1
			if o, ok := node["outputs"].(json.Number); ok {
				if v, err := o.Int64(); err == nil && v > 0 {
					outputs = int(v)
				}
			}
			wires := make([]any, outputs)
			for i := range wires {
				wires[i] = []any{}
			}
			entry.Structural[flow.FieldWires] = wires
		}

		skel.Append(stem, entry)
		res.NewNodes = append(res.NewNodes, stem)
		e.log.Info(ctx, "incorporated new node", "id", stem, "type", nodeType)
	}
	return nil
}
