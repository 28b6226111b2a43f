package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/flowtree/internal/flow"
)

const actionFunc = `// Define action
const actionDef = {
  name: "restart_pump",
  description: "Restarts the pump",
  execute: (params, msg) => { msg.payload = "restarted"; return msg; },
};

// Store in global context
const qcmd = global.get("qcmd") || {};
qcmd.restart_pump = actionDef;
global.set("qcmd", qcmd);
return msg;`

func actionNode(t *testing.T) flow.Node {
	t.Helper()
	n, err := flow.ParseNode([]byte(`{"id":"a1","type":"function","z":"t1","name":"Restart Pump","x":1,"y":2,"wires":[[]]}`))
	require.NoError(t, err)
	n["func"] = actionFunc
	return n
}

func TestParseActionDefinition(t *testing.T) {
	parts := parseActionDefinition(actionFunc)
	require.NotNil(t, parts)
	assert.Contains(t, parts.defCode, `name: "restart_pump"`)
	assert.NotContains(t, parts.defCode, "execute:")
	assert.Contains(t, parts.execute, "=>")

	assert.Nil(t, parseActionDefinition("return msg;"))
	assert.Nil(t, parseActionDefinition(""))
	// The registration assignment is required too.
	assert.Nil(t, parseActionDefinition("const actionDef = { name: \"x\" };"))
}

func TestActionExplodeCreatesDefAndExecute(t *testing.T) {
	dir := t.TempDir()
	p := NewAction()
	n := actionNode(t)

	require.True(t, p.CanHandle(n))

	created, err := p.ExplodeNode(context.Background(), n, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1.def.js", "a1.execute.js"}, created)

	defContent, err := os.ReadFile(filepath.Join(dir, "a1.def.js"))
	require.NoError(t, err)
	assert.Contains(t, string(defContent), "export default actionDef;")
	assert.NotContains(t, string(defContent), "execute:")

	execContent, err := os.ReadFile(filepath.Join(dir, "a1.execute.js"))
	require.NoError(t, err)
	assert.Contains(t, string(execContent), "export default function restart_pump(params, msg)")
}

func TestActionRebuildRegeneratesTemplates(t *testing.T) {
	dir := t.TempDir()
	p := NewAction()
	n := actionNode(t)

	_, err := p.ExplodeNode(context.Background(), n, dir)
	require.NoError(t, err)

	data, err := p.RebuildNode(context.Background(), "a1", dir, n)
	require.NoError(t, err)

	funcCode, _ := data["func"].(string)
	assert.Contains(t, funcCode, "const actionDef =")
	assert.Contains(t, funcCode, `qcmd.restart_pump = actionDef;`)
	assert.Contains(t, funcCode, "execute: (params, msg) =>")
	assert.Equal(t, "", data["initialize"])
	assert.Contains(t, data["finalize"].(string), "delete qcmd.restart_pump;")
}

func TestActionRebuildWithoutFilesReturnsNothing(t *testing.T) {
	p := NewAction()
	data, err := p.RebuildNode(context.Background(), "a1", t.TempDir(), actionNode(t))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestActionMetadataAndInference(t *testing.T) {
	p := NewAction()
	assert.True(t, p.IsMetadataFile("a1.def.js"))
	assert.True(t, p.IsMetadataFile("a1.execute.js"))
	assert.True(t, p.IsMetadataFile("a1.action.json"))
	assert.False(t, p.IsMetadataFile("a1.json"))

	dir := t.TempDir()
	assert.Equal(t, "", p.InferType(dir, "a1"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a1.def.js"), []byte("const actionDef = {};\n"), 0o644))
	assert.Equal(t, "function", p.InferType(dir, "a1"))
}

const globalFuncCode = `// Define global function
const globalDef = (value, factor) => { return value * factor; };

// Store in global context
const gfunc = global.get("gfunc") || {};
gfunc.scaleValue = globalDef;
global.set("gfunc", gfunc);
return msg;`

func TestGlobalFuncExplodeAndRebuild(t *testing.T) {
	dir := t.TempDir()
	p := NewGlobalFunc()

	n, err := flow.ParseNode([]byte(`{"id":"g1","type":"function","name":"Scale Value","wires":[[]]}`))
	require.NoError(t, err)
	n["func"] = globalFuncCode

	require.True(t, p.CanHandle(n))

	created, err := p.ExplodeNode(context.Background(), n, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1.function.js"}, created)

	content, err := os.ReadFile(filepath.Join(dir, "g1.function.js"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "export default function scaleValue(value, factor)")

	data, err := p.RebuildNode(context.Background(), "g1", dir, n)
	require.NoError(t, err)
	funcCode := data["func"].(string)
	assert.Contains(t, funcCode, "const globalDef = (value, factor) =>")
	assert.Contains(t, funcCode, "gfunc.scaleValue = globalDef;")
	assert.Contains(t, data["finalize"].(string), "delete gfunc.scaleValue;")
}

func TestGlobalFuncRejectsPlainFunctions(t *testing.T) {
	p := NewGlobalFunc()
	n, err := flow.ParseNode([]byte(`{"id":"g1","type":"function"}`))
	require.NoError(t, err)
	n["func"] = "return msg;"
	assert.False(t, p.CanHandle(n))
}
