package builtin

import (
	"context"
	"os"
	"path/filepath"

	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/plugins"
)

// FuncField is the plain extraction fallback for function nodes: the
// raw field contents go to .js files without wrapping. It claims the
// same fields as wrap-func and therefore only acts when wrap-func is
// disabled.
type FuncField struct {
	plugins.Base
}

// NewFuncField returns the func explode plugin.
func NewFuncField() *FuncField {
	return &FuncField{Base: plugins.Base{
		PluginName:     "func",
		PluginStage:    plugins.StageExplode,
		PluginPriority: 230,
	}}
}

// CanHandle implements plugins.ExplodePlugin.
func (p *FuncField) CanHandle(n flow.Node) bool {
	if n.Type() != "function" {
		return false
	}
	code, _ := n["func"].(string)
	return code != ""
}

// ClaimedFields implements plugins.ExplodePlugin.
func (p *FuncField) ClaimedFields(flow.Node) []string {
	return []string{"func", "initialize", "finalize"}
}

// InferType implements plugins.TypeInferrer.
func (p *FuncField) InferType(nodeDir, nodeID string) string {
	if fileExists(filepath.Join(nodeDir, nodeID+".js")) {
		return "function"
	}
	return ""
}

// ExplodeNode implements plugins.ExplodePlugin.
func (p *FuncField) ExplodeNode(_ context.Context, n flow.Node, nodeDir string) ([]string, error) {
	nodeID := n.ID()
	var created []string

	if code, _ := n["func"].(string); code != "" {
		name := nodeID + ".js"
		if err := os.WriteFile(filepath.Join(nodeDir, name), []byte(code), 0o644); err != nil {
			return created, err
		}
		created = append(created, name)
	}
	for _, lc := range lifecycleFields {
		code, _ := n[lc.field].(string)
		if code == "" {
			continue
		}
		name := nodeID + lc.suffix
		if err := os.WriteFile(filepath.Join(nodeDir, name), []byte(code), 0o644); err != nil {
			return created, err
		}
		created = append(created, name)
	}
	return created, nil
}

// RebuildNode implements plugins.ExplodePlugin.
func (p *FuncField) RebuildNode(_ context.Context, nodeID, nodeDir string, base flow.Node) (map[string]any, error) {
	data := make(map[string]any)

	code, handled := readIfExists(filepath.Join(nodeDir, nodeID+".js"))
	if handled {
		data["func"] = code
	}
	for _, lc := range lifecycleFields {
		if code, ok := readIfExists(filepath.Join(nodeDir, nodeID+lc.suffix)); ok {
			data[lc.field] = code
		} else if _, present := base[lc.field]; present && handled {
			data[lc.field] = ""
		}
	}

	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
