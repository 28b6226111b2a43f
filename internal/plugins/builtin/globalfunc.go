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

var (
	globalDefRe    = regexp.MustCompile(`const\s+globalDef\s*=\s*\(`)
	gfuncAssignRe  = regexp.MustCompile(`gfunc\.(\w+)\s*=\s*globalDef;`)
	globalOpenerRe = regexp.MustCompile(`(?s)const\s+globalDef\s*=\s*\((.*?)\)\s*=>\s*\{`)
)

// GlobalFunc handles function nodes that register a shared function
// (gfunc.<name> = globalDef). The function is written out as a plain
// exported declaration; rebuild regenerates the registration and
// cleanup boilerplate.
type GlobalFunc struct {
	plugins.Base
}

// NewGlobalFunc returns the global-function explode plugin.
func NewGlobalFunc() *GlobalFunc {
	return &GlobalFunc{Base: plugins.Base{
		PluginName:     "global-function",
		PluginStage:    plugins.StageExplode,
		PluginPriority: 210,
	}}
}

// CanHandle implements plugins.ExplodePlugin.
func (p *GlobalFunc) CanHandle(n flow.Node) bool {
	if n.Type() != "function" {
		return false
	}
	code, _ := n["func"].(string)
	return isGlobalFunction(code)
}

// ClaimedFields implements plugins.ExplodePlugin.
func (p *GlobalFunc) ClaimedFields(flow.Node) []string {
	return []string{"func", "initialize", "finalize"}
}

// InferType implements plugins.TypeInferrer.
func (p *GlobalFunc) InferType(nodeDir, nodeID string) string {
	if fileExists(filepath.Join(nodeDir, nodeID+".function.js")) {
		return "function"
	}
	return ""
}

// ExplodeNode implements plugins.ExplodePlugin.
func (p *GlobalFunc) ExplodeNode(_ context.Context, n flow.Node, nodeDir string) ([]string, error) {
	code, _ := n["func"].(string)
	params, body, ok := extractFunctionBody(code, globalOpenerRe)
	if !ok {
		return nil, nil
	}

	funcName := toCamelCase(displayName(n))
	content := fmt.Sprintf("export default function %s(%s) {%s}\n", funcName, params, body)
	name := n.ID() + ".function.js"
	if err := os.WriteFile(filepath.Join(nodeDir, name), []byte(content), 0o644); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// RebuildNode implements plugins.ExplodePlugin.
func (p *GlobalFunc) RebuildNode(_ context.Context, nodeID, nodeDir string, base flow.Node) (map[string]any, error) {
	code, ok := readIfExists(filepath.Join(nodeDir, nodeID+".function.js"))
	if !ok {
		return nil, nil
	}
	code = exportPrefixRe.ReplaceAllString(code, "")

	params, body, found := extractFunctionBody(code, funcOpenerRe)
	if !found {
		return nil, nil
	}

	funcName := toCamelCase(baseName(base))

	funcTemplate := fmt.Sprintf(`// Define global function
const globalDef = (%s) => {%s};

// Store in global context
const gfunc = global.get("gfunc") || {};
gfunc.%s = globalDef;
global.set("gfunc", gfunc);

node.status({ fill: "blue", shape: "dot", text: "%s loaded" });
return msg;`, params, body, funcName, funcName)

	finalizeTemplate := fmt.Sprintf(`// Cleanup: Remove function from global context
const gfunc = global.get("gfunc") || {};
delete gfunc.%s;
global.set("gfunc", gfunc);`, funcName)

	return map[string]any{
		"initialize": "",
		"func":       funcTemplate,
		"finalize":   finalizeTemplate,
	}, nil
}

func isGlobalFunction(code string) bool {
	if code == "" {
		return false
	}
	return globalDefRe.MatchString(code) && gfuncAssignRe.MatchString(code)
}
