package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/flowtree/internal/engine"
	"github.com/conneroisu/flowtree/internal/logging"
	"github.com/conneroisu/flowtree/internal/plugins"
	"github.com/conneroisu/flowtree/internal/plugins/builtin"
)

const testFlows = `[{"id":"t1","type":"tab","label":"Flow 1"},` +
	`{"id":"n1","type":"function","z":"t1","name":"double","func":"return msg;","x":1,"y":2,"wires":[[]]}]`

func testServer(t *testing.T) (*Server, string, string) {
	t.Helper()

	host, err := plugins.NewHost([]plugins.Plugin{
		builtin.NewWrapFunc(),
		builtin.NewInfo(),
	})
	require.NoError(t, err)

	dir := t.TempDir()
	flowsFile := filepath.Join(dir, "flows.json")
	treeRoot := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(flowsFile, []byte(testFlows), 0o644))

	srv := New(engine.New(host, logging.NewNop()), flowsFile, treeRoot, engine.Options{})
	return srv, flowsFile, treeRoot
}

func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, r.Content)
	tc, ok := r.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestExplodeRebuildTools(t *testing.T) {
	srv, _, treeRoot := testServer(t)
	ctx := context.Background()

	res, err := srv.explodeFlows(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"nodes": 2`)

	_, err = os.Stat(filepath.Join(treeRoot, "t1", "n1.wrapped.js"))
	assert.NoError(t, err)

	res, err = srv.rebuildFlows(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"nodes": 2`)
}

func TestVerifyTool(t *testing.T) {
	srv, _, _ := testServer(t)

	res, err := srv.verifyRoundtrip(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "round-trip equal", resultText(t, res))
}

func TestFlowStatusTool(t *testing.T) {
	srv, _, _ := testServer(t)
	ctx := context.Background()

	// Before any explode the skeleton is missing.
	res, err := srv.flowStatus(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, err = srv.explodeFlows(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)

	res, err = srv.flowStatus(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, `"nodes": 2`)
	assert.Contains(t, text, "t1")
}
