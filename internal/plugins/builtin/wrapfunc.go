package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/plugins"
)

var wrappedBodyRe = regexp.MustCompile(`(?s)export\s+default\s+function\s+\w+\s*\([^)]*\)\s*\{(.*)\}`)

// WrapFunc handles regular function nodes by wrapping their bodies in
// exported function declarations, which makes them loadable in editors
// and test runners outside the flow runtime.
type WrapFunc struct {
	plugins.Base
}

// NewWrapFunc returns the wrap-func explode plugin.
func NewWrapFunc() *WrapFunc {
	return &WrapFunc{Base: plugins.Base{
		PluginName:     "wrap-func",
		PluginStage:    plugins.StageExplode,
		PluginPriority: 220,
	}}
}

// CanHandle implements plugins.ExplodePlugin.
func (p *WrapFunc) CanHandle(n flow.Node) bool {
	if n.Type() != "function" {
		return false
	}
	code, _ := n["func"].(string)
	return code != ""
}

// ClaimedFields implements plugins.ExplodePlugin.
func (p *WrapFunc) ClaimedFields(flow.Node) []string {
	return []string{"func", "initialize", "finalize"}
}

// InferType implements plugins.TypeInferrer.
func (p *WrapFunc) InferType(nodeDir, nodeID string) string {
	if fileExists(filepath.Join(nodeDir, nodeID+".wrapped.js")) {
		return "function"
	}
	return ""
}

// ExplodeNode implements plugins.ExplodePlugin.
func (p *WrapFunc) ExplodeNode(_ context.Context, n flow.Node, nodeDir string) ([]string, error) {
	nodeID := n.ID()
	funcName := toCamelCase(displayName(n))
	var created []string

	if code, _ := n["func"].(string); code != "" {
		wrapped := fmt.Sprintf(
			"export default function %s(msg, node, context, flow, global, env, RED) {\n%s\n}\n",
			funcName, code)
		name := nodeID + ".wrapped.js"
		if err := os.WriteFile(filepath.Join(nodeDir, name), []byte(wrapped), 0o644); err != nil {
			return created, err
		}
		created = append(created, name)
	}

	// initialize and finalize run without a message.
	for _, lc := range lifecycleFields {
		field, suffix := lc.field, lc.suffix
		code, _ := n[field].(string)
		if code == "" {
			continue
		}
		wrapped := fmt.Sprintf(
			"export default function %s_%s(node, context, flow, global, env, RED) {\n%s\n}\n",
			funcName, field, code)
		name := nodeID + suffix
		if err := os.WriteFile(filepath.Join(nodeDir, name), []byte(wrapped), 0o644); err != nil {
			return created, err
		}
		created = append(created, name)
	}
	return created, nil
}

// RebuildNode implements plugins.ExplodePlugin.
func (p *WrapFunc) RebuildNode(_ context.Context, nodeID, nodeDir string, base flow.Node) (map[string]any, error) {
	data := make(map[string]any)

	code, handled := readIfExists(filepath.Join(nodeDir, nodeID+".wrapped.js"))
	if handled {
		if body, found := unwrapBody(code); found {
			data["func"] = body
		}
	}

	for _, lc := range lifecycleFields {
		field, suffix := lc.field, lc.suffix
		if code, ok := readIfExists(filepath.Join(nodeDir, nodeID+suffix)); ok {
			if body, found := unwrapBody(code); found {
				data[field] = body
			}
		} else if _, present := base[field]; present && handled {
			// Field existed but was empty at explode; restore the empty
			// string at its original position. Only for nodes this
			// plugin wrapped, so residual values are left alone.
			data[field] = ""
		}
	}

	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// unwrapBody extracts the body from an exported wrapper, dropping the
// one newline added on each side at wrap time and any indentation the
// formatter introduced.
func unwrapBody(code string) (string, bool) {
	m := wrappedBodyRe.FindStringSubmatch(code)
	if m == nil {
		return "", false
	}
	return dedent(trimWrapNewlines(m[1])), true
}

func displayName(n flow.Node) string {
	if name := n.Name(); name != "" {
		return name
	}
	return "Unnamed"
}
