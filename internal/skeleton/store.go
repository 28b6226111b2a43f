package skeleton

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	flowerrors "github.com/conneroisu/flowtree/internal/errors"
)

// Load reads the skeleton from the tree root. A missing file is the
// fatal skeleton-missing error; rebuild cannot proceed without it.
func Load(treeRoot string) (*Skeleton, error) {
	path := filepath.Join(treeRoot, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, flowerrors.NewSkeletonMissing(path)
		}
		return nil, flowerrors.NewIO("reading skeleton", err).WithPath(path)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var s Skeleton
	if err := dec.Decode(&s); err != nil {
		return nil, flowerrors.NewIO("parsing skeleton", err).WithPath(path)
	}
	if s.Nodes == nil {
		s.Nodes = make(map[string]*Entry)
	}
	return &s, nil
}

// Save writes the skeleton atomically: write to a temp file in the same
// directory, then rename over the target.
func Save(treeRoot string, s *Skeleton) error {
	path := filepath.Join(treeRoot, FileName)

	data, err := json.Marshal(s)
	if err != nil {
		return flowerrors.NewInternal("encoding skeleton", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(treeRoot, ".flow-skeleton-*")
	if err != nil {
		return flowerrors.NewIO("creating skeleton temp file", err).WithPath(treeRoot)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return flowerrors.NewIO("writing skeleton", err).WithPath(tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return flowerrors.NewIO("closing skeleton temp file", err).WithPath(tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return flowerrors.NewIO("renaming skeleton into place", err).WithPath(path)
	}
	return nil
}

// NodeDir returns the directory holding a node's files. Nodes without a
// container, or whose container owns no directory, live at the root.
func NodeDir(treeRoot, z string, containerIDs map[string]bool) string {
	if z == "" || !containerIDs[z] {
		return treeRoot
	}
	return filepath.Join(treeRoot, z)
}
