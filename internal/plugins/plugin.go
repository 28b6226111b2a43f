// Package plugins defines the flowtree plugin contract and the host
// that orders, selects, and invokes plugins per pipeline stage.
//
// A plugin is a value with a name, a stage, and an integer priority
// (lower runs first; ties break on name). By convention priorities sit
// in 100-blocks per stage: 100 pre-explode, 200 explode, 300
// post-explode, 400 pre-rebuild, 500 post-rebuild. The convention is a
// mental model for humans, not enforced.
package plugins

import (
	"context"

	"github.com/conneroisu/flowtree/internal/flow"
)

// Stage selects which hook of a plugin the host invokes.
type Stage string

const (
	StagePreExplode  Stage = "pre-explode"
	StageExplode     Stage = "explode"
	StagePostExplode Stage = "post-explode"
	StagePreRebuild  Stage = "pre-rebuild"
	StagePostRebuild Stage = "post-rebuild"
)

// Plugin is the base descriptor every plugin implements.
type Plugin interface {
	// Name returns the unique name of the plugin.
	Name() string

	// Stage returns which pipeline stage the plugin participates in.
	Stage() Stage

	// Priority orders plugins within a stage; lower runs first.
	Priority() int
}

// PreExplodePlugin transforms the whole document before any node file
// is written. The bool result reports whether the document was
// modified.
type PreExplodePlugin interface {
	Plugin

	TransformDocument(ctx context.Context, doc flow.Document) (flow.Document, bool, error)
}

// ExplodePlugin extracts fields from individual nodes into sibling
// files, and restores them during rebuild.
type ExplodePlugin interface {
	Plugin

	// CanHandle reports whether the plugin will process this node.
	CanHandle(n flow.Node) bool

	// ClaimedFields returns the node fields the plugin takes ownership
	// of. Consulted at explode when CanHandle is true, and at rebuild
	// for every plugin whose RebuildNode returns data.
	ClaimedFields(n flow.Node) []string

	// ExplodeNode writes the plugin's files for the node and returns
	// their names, relative to nodeDir.
	ExplodeNode(ctx context.Context, n flow.Node, nodeDir string) ([]string, error)

	// RebuildNode reads the plugin's files back and returns the fields
	// to merge into the node. base is the skeleton-plus-residual merge,
	// for plugins that need surrounding context (names, formats).
	RebuildNode(ctx context.Context, nodeID, nodeDir string, base flow.Node) (map[string]any, error)
}

// PostExplodePlugin runs over the whole tree after all nodes are
// exploded. The bool result reports whether any file was modified.
type PostExplodePlugin interface {
	Plugin

	ProcessTree(ctx context.Context, treeRoot, docPath string) (bool, error)
}

// PreRebuildPlugin prepares the tree before node files are read.
type PreRebuildPlugin interface {
	Plugin

	// PrepareTree may opt out of redundant work when the rebuild
	// immediately follows an explode.
	PrepareTree(ctx context.Context, treeRoot string, continuedFromExplode bool) error
}

// PostRebuildPlugin runs over the reconstructed document file.
type PostRebuildPlugin interface {
	Plugin

	ProcessDocument(ctx context.Context, docPath string) (bool, error)
}

// TypeInferrer is an optional capability of explode plugins: given the
// files present for an unknown node, name its type. Empty string means
// no answer.
type TypeInferrer interface {
	InferType(nodeDir, nodeID string) string
}

// MetadataMatcher is an optional capability of explode plugins: report
// whether a filename is plugin-generated content rather than a primary
// node definition.
type MetadataMatcher interface {
	IsMetadataFile(name string) bool
}

// Base carries the descriptor fields; concrete plugins embed it.
type Base struct {
	PluginName     string
	PluginStage    Stage
	PluginPriority int
}

// Name implements Plugin.
func (b Base) Name() string { return b.PluginName }

// Stage implements Plugin.
func (b Base) Stage() Stage { return b.PluginStage }

// Priority implements Plugin.
func (b Base) Priority() int { return b.PluginPriority }
