package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/plugins"
)

var (
	actionOpenRe   = regexp.MustCompile(`const\s+actionDef\s*=\s*\{`)
	actionAssignRe = regexp.MustCompile(`qcmd\.\w+\s*=\s*actionDef`)
	executeKeyRe   = regexp.MustCompile(`execute:\s*\(`)
	executeArrowRe = regexp.MustCompile(`(?s)execute:\s*\(.*?\)\s*=>\s*\{`)
	arrowOpenerRe  = regexp.MustCompile(`(?s)\((.*?)\)\s*=>\s*\{`)
	funcOpenerRe   = regexp.MustCompile(`(?s)function\s+\w+\s*\((.*?)\)\s*\{`)
	exportDefRe    = regexp.MustCompile(`(?m)^\s*export\s+default\s+actionDef;\s*$`)
	exportPrefixRe = regexp.MustCompile(`(?m)^export\s+default\s+`)
	actionObjRe    = regexp.MustCompile(`(?s)const\s+actionDef\s*=\s*(\{.*\});`)
)

// actionParts is the parsed form of an action-definition function body.
type actionParts struct {
	defCode string // const actionDef = {...}; with execute removed
	execute string // the execute arrow function, or ""
}

// Action handles function nodes that register an action definition
// (qcmd.<name> = actionDef). The definition and its execute function
// are split into separate files; rebuild regenerates the surrounding
// registration boilerplate.
type Action struct {
	plugins.Base
}

// NewAction returns the action explode plugin.
func NewAction() *Action {
	return &Action{Base: plugins.Base{
		PluginName:     "action",
		PluginStage:    plugins.StageExplode,
		PluginPriority: 200,
	}}
}

// CanHandle implements plugins.ExplodePlugin.
func (p *Action) CanHandle(n flow.Node) bool {
	if n.Type() != "function" {
		return false
	}
	code, _ := n["func"].(string)
	return parseActionDefinition(code) != nil
}

// ClaimedFields implements plugins.ExplodePlugin.
func (p *Action) ClaimedFields(flow.Node) []string {
	return []string{"func", "initialize", "finalize"}
}

// IsMetadataFile implements plugins.MetadataMatcher.
func (p *Action) IsMetadataFile(name string) bool {
	return strings.HasSuffix(name, ".action.json") ||
		strings.HasSuffix(name, ".def.js") ||
		strings.HasSuffix(name, ".execute.js")
}

// InferType implements plugins.TypeInferrer. Actions are always
// function nodes.
func (p *Action) InferType(nodeDir, nodeID string) string {
	if fileExists(filepath.Join(nodeDir, nodeID+".def.js")) {
		return "function"
	}
	return ""
}

// ExplodeNode implements plugins.ExplodePlugin.
func (p *Action) ExplodeNode(_ context.Context, n flow.Node, nodeDir string) ([]string, error) {
	code, _ := n["func"].(string)
	parts := parseActionDefinition(code)
	if parts == nil {
		return nil, nil
	}

	nodeID := n.ID()
	actionName := toSnakeCase(displayName(n))
	var created []string

	// export default cannot share a line with a const declaration.
	defName := nodeID + ".def.js"
	defContent := parts.defCode + "\nexport default actionDef;\n"
	if err := os.WriteFile(filepath.Join(nodeDir, defName), []byte(defContent), 0o644); err != nil {
		return created, err
	}
	created = append(created, defName)

	if parts.execute != "" {
		params, body, ok := extractFunctionBody(parts.execute, arrowOpenerRe)
		if ok {
			executeName := nodeID + ".execute.js"
			content := fmt.Sprintf("export default function %s(%s) {%s}\n", actionName, params, body)
			if err := os.WriteFile(filepath.Join(nodeDir, executeName), []byte(content), 0o644); err != nil {
				return created, err
			}
			created = append(created, executeName)
		}
	}
	return created, nil
}

// RebuildNode implements plugins.ExplodePlugin.
func (p *Action) RebuildNode(_ context.Context, nodeID, nodeDir string, base flow.Node) (map[string]any, error) {
	defCode, ok := readIfExists(filepath.Join(nodeDir, nodeID+".def.js"))
	if !ok {
		return nil, nil
	}
	defCode = exportDefRe.ReplaceAllString(defCode, "")

	m := actionObjRe.FindStringSubmatch(defCode)
	if m == nil {
		return nil, nil
	}
	defObj := m[1]

	actionName := toSnakeCase(baseName(base))

	if executeCode, ok := readIfExists(filepath.Join(nodeDir, nodeID+".execute.js")); ok {
		executeCode = exportPrefixRe.ReplaceAllString(executeCode, "")
		if params, body, found := extractFunctionBody(executeCode, funcOpenerRe); found {
			arrow := fmt.Sprintf("(%s) => {%s}", params, body)
			if close := strings.LastIndex(defObj, "}"); close != -1 {
				before := defObj[:close]
				if !strings.HasSuffix(strings.TrimRight(before, " \t\n"), ",") {
					before += ","
				}
				defObj = fmt.Sprintf("%s\n  execute: %s\n}", before, arrow)
			}
		}
	}

	funcTemplate := fmt.Sprintf(`// Define action
const actionDef = %s;

// Store in global context
const qcmd = global.get("qcmd") || {};
qcmd.%s = actionDef;
global.set("qcmd", qcmd);

node.status({ fill: "blue", shape: "dot", text: "%s loaded" });
return msg;`, defObj, actionName, actionName)

	finalizeTemplate := fmt.Sprintf(`// Cleanup: Remove action from global context
const qcmd = global.get("qcmd") || {};
delete qcmd.%s;
global.set("qcmd", qcmd);`, actionName)

	return map[string]any{
		"initialize": "",
		"func":       funcTemplate,
		"finalize":   finalizeTemplate,
	}, nil
}

// parseActionDefinition splits an action-registration function body
// into its definition object and execute function. Returns nil when the
// code is not an action registration.
func parseActionDefinition(code string) *actionParts {
	if code == "" {
		return nil
	}
	openLoc := actionOpenRe.FindStringIndex(code)
	if openLoc == nil || !actionAssignRe.MatchString(code) {
		return nil
	}

	// Balance braces from the definition's opening brace.
	start := openLoc[1] - 1
	objEnd := matchBrace(code, start)
	if objEnd == -1 {
		return nil
	}
	objCode := code[start : objEnd+1]

	keyLoc := executeKeyRe.FindStringIndex(objCode)
	if keyLoc == nil {
		return &actionParts{defCode: "const actionDef = " + objCode + ";"}
	}

	arrowLoc := executeArrowRe.FindStringIndex(objCode[keyLoc[0]:])
	if arrowLoc == nil {
		return nil
	}
	bodyOpen := keyLoc[0] + arrowLoc[1] - 1
	bodyEnd := matchBrace(objCode, bodyOpen)
	if bodyEnd == -1 {
		return nil
	}

	execute := objCode[keyLoc[0]+len("execute:") : bodyEnd+1]

	before := objCode[:keyLoc[0]]
	after := objCode[bodyEnd+1:]
	// Avoid doubling commas at the join; trailing commas are fine.
	if strings.HasPrefix(strings.TrimLeft(after, " \t\n"), ",") &&
		strings.HasSuffix(strings.TrimRight(before, " \t\n"), ",") {
		after = strings.TrimLeft(after, " \t\n")[1:]
	}
	defCode := strings.TrimRight(before, " \t\n") + "\n" + strings.TrimLeft(after, " \t\n")

	return &actionParts{
		defCode: "const actionDef = " + defCode + ";",
		execute: execute,
	}
}

// matchBrace returns the index of the brace closing the one at open, or
// -1 when unbalanced.
func matchBrace(s string, open int) int {
	if open < 0 || open >= len(s) || s[open] != '{' {
		return -1
	}
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func baseName(base flow.Node) string {
	if base == nil {
		return "Unnamed"
	}
	if name := base.Name(); name != "" {
		return name
	}
	return "Unnamed"
}
