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

func funcNode(t *testing.T, body string) flow.Node {
	t.Helper()
	n, err := flow.ParseNode([]byte(`{"id":"n1","type":"function","z":"t1","name":"double","x":10,"y":20,"wires":[[]]}`))
	require.NoError(t, err)
	n["func"] = body
	return n
}

func TestWrapFuncExplodeAndRebuild(t *testing.T) {
	dir := t.TempDir()
	p := NewWrapFunc()
	n := funcNode(t, "msg.payload *= 2;\nreturn msg;")

	require.True(t, p.CanHandle(n))
	assert.Equal(t, []string{"func", "initialize", "finalize"}, p.ClaimedFields(n))

	created, err := p.ExplodeNode(context.Background(), n, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1.wrapped.js"}, created)

	content, err := os.ReadFile(filepath.Join(dir, "n1.wrapped.js"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "export default function double(msg, node, context, flow, global, env, RED) {")
	assert.Contains(t, string(content), "msg.payload *= 2;")

	data, err := p.RebuildNode(context.Background(), "n1", dir, n)
	require.NoError(t, err)
	assert.Equal(t, "msg.payload *= 2;\nreturn msg;", data["func"])
}

func TestWrapFuncSurvivesFormatterIndentation(t *testing.T) {
	dir := t.TempDir()
	p := NewWrapFunc()

	// What a formatter typically leaves behind: indented body.
	wrapped := "export default function double(msg, node, context, flow, global, env, RED) {\n  msg.payload *= 2;\n  return msg;\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "n1.wrapped.js"), []byte(wrapped), 0o644))

	data, err := p.RebuildNode(context.Background(), "n1", dir, funcNode(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "msg.payload *= 2;\nreturn msg;", data["func"])
}

func TestWrapFuncInitializeFinalize(t *testing.T) {
	dir := t.TempDir()
	p := NewWrapFunc()
	n := funcNode(t, "return msg;")
	n["initialize"] = "node.warn('up');"
	n["finalize"] = ""

	created, err := p.ExplodeNode(context.Background(), n, dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1.wrapped.js", "n1.initialize.js"}, created)

	data, err := p.RebuildNode(context.Background(), "n1", dir, n)
	require.NoError(t, err)
	assert.Equal(t, "return msg;", data["func"])
	assert.Equal(t, "node.warn('up');", data["initialize"])
	// The empty finalize existed on the node; its position is restored
	// with an empty string.
	assert.Equal(t, "", data["finalize"])
}

func TestWrapFuncInferType(t *testing.T) {
	dir := t.TempDir()
	p := NewWrapFunc()
	assert.Equal(t, "", p.InferType(dir, "n1"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "n1.wrapped.js"), []byte("export default function f() {}\n"), 0o644))
	assert.Equal(t, "function", p.InferType(dir, "n1"))
}

func TestWrapFuncBodyWithBraces(t *testing.T) {
	dir := t.TempDir()
	p := NewWrapFunc()
	body := "if (msg.topic === \"a\") {\n    msg.payload = { nested: { deep: true } };\n}\nreturn msg;"
	n := funcNode(t, body)

	_, err := p.ExplodeNode(context.Background(), n, dir)
	require.NoError(t, err)

	data, err := p.RebuildNode(context.Background(), "n1", dir, n)
	require.NoError(t, err)
	assert.Equal(t, body, data["func"])
}
