package builtin

import (
	"context"
	"os"
	"path/filepath"

	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/plugins"
)

// Info extracts the documentation field of any node to a Markdown
// sibling file.
type Info struct {
	plugins.Base
}

// NewInfo returns the info explode plugin.
func NewInfo() *Info {
	return &Info{Base: plugins.Base{
		PluginName:     "info",
		PluginStage:    plugins.StageExplode,
		PluginPriority: 250,
	}}
}

// CanHandle implements plugins.ExplodePlugin.
func (p *Info) CanHandle(n flow.Node) bool {
	_, present := n["info"]
	return present
}

// ClaimedFields implements plugins.ExplodePlugin.
func (p *Info) ClaimedFields(flow.Node) []string {
	return []string{"info"}
}

// ExplodeNode implements plugins.ExplodePlugin.
func (p *Info) ExplodeNode(_ context.Context, n flow.Node, nodeDir string) ([]string, error) {
	content, _ := n["info"].(string)
	if content == "" {
		return nil, nil
	}
	name := n.ID() + ".md"
	if err := os.WriteFile(filepath.Join(nodeDir, name), []byte(content), 0o644); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// RebuildNode implements plugins.ExplodePlugin.
func (p *Info) RebuildNode(_ context.Context, nodeID, nodeDir string, base flow.Node) (map[string]any, error) {
	if content, ok := readIfExists(filepath.Join(nodeDir, nodeID+".md")); ok {
		return map[string]any{"info": content}, nil
	}
	if _, present := base["info"]; present {
		return map[string]any{"info": ""}, nil
	}
	return nil, nil
}
