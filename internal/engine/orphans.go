package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	flowerrors "github.com/conneroisu/flowtree/internal/errors"
	"github.com/conneroisu/flowtree/internal/skeleton"
)

// orphanDir is the quarantine subtree for files no longer accounted for
// by the skeleton.
const orphanDir = ".orphaned"

// handleOrphans finds files in the tree that no skeleton entry accounts
// for and either quarantines or deletes them. Detection uses the
// skeleton's recorded file lists, so plugin-created files with any
// naming scheme are covered.
func (e *Engine) handleOrphans(treeRoot string, skel *skeleton.Skeleton, containerIDs map[string]bool, deleteOrphaned bool) ([]string, error) {
	expected := make(map[string]bool)
	for _, entry := range skel.Nodes {
		dir := skeleton.NodeDir(treeRoot, entry.Z, containerIDs)
		for _, files := range entry.Files {
			for _, name := range files {
				expected[filepath.Join(dir, name)] = true
			}
		}
	}

	var orphaned []string
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
		if d.Name() == skeleton.FileName {
			return nil
		}
		if !expected[path] {
			orphaned = append(orphaned, path)
		}
		return nil
	})
	if err != nil {
		return nil, flowerrors.NewIO("scanning for orphans", err).WithPath(treeRoot)
	}
	if len(orphaned) == 0 {
		return nil, nil
	}

	var handled []string
	for _, path := range orphaned {
		rel, rerr := filepath.Rel(treeRoot, path)
		if rerr != nil {
			rel = filepath.Base(path)
		}
		if deleteOrphaned {
			if err := os.Remove(path); err != nil {
				return handled, flowerrors.NewIO("deleting orphaned file", err).WithPath(path)
			}
		} else {
			if err := quarantine(treeRoot, path, rel); err != nil {
				return handled, err
			}
		}
		handled = append(handled, rel)
	}
	return handled, nil
}

// quarantine moves a file under .orphaned/, preserving its relative
// path and timestamp-suffixing on collision.
func quarantine(treeRoot, path, rel string) error {
	dest := filepath.Join(treeRoot, orphanDir, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return flowerrors.NewIO("creating quarantine directory", err).WithPath(dest)
	}
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		stem := strings.TrimSuffix(dest, ext)
		dest = fmt.Sprintf("%s.%s%s", stem, time.Now().Format("20060102_150405"), ext)
	}
	if err := os.Rename(path, dest); err != nil {
		return flowerrors.NewIO("quarantining file", err).WithPath(path)
	}
	return nil
}
