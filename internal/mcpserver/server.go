// Package mcpserver exposes flowtree operations as MCP (Model Context
// Protocol) tools over stdio, so editor-embedded assistants can explode,
// rebuild, and verify flows without shelling out.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/conneroisu/flowtree/internal/engine"
	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/skeleton"
)

// Server wraps the MCP server with flowtree tools.
type Server struct {
	mcp       *server.MCPServer
	eng       *engine.Engine
	flowsFile string
	treeRoot  string
	opts      engine.Options
}

// New creates an MCP server with all flowtree tools registered.
func New(eng *engine.Engine, flowsFile, treeRoot string, opts engine.Options) *Server {
	s := &Server{
		eng:       eng,
		flowsFile: flowsFile,
		treeRoot:  treeRoot,
		opts:      opts,
	}

	s.mcp = server.NewMCPServer(
		"flowtree",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("explode_flows",
		mcp.WithDescription("Decompose the flows document into the per-node source tree. "+
			"Overwrites the tree and the skeleton."),
	), s.explodeFlows)

	s.mcp.AddTool(mcp.NewTool("rebuild_flows",
		mcp.WithDescription("Reconstruct the flows document from the source tree and write it "+
			"to the flows file."),
	), s.rebuildFlows)

	s.mcp.AddTool(mcp.NewTool("verify_roundtrip",
		mcp.WithDescription("Check that explode followed by rebuild reproduces the flows "+
			"document exactly; reports the first divergence otherwise."),
	), s.verifyRoundtrip)

	s.mcp.AddTool(mcp.NewTool("flow_status",
		mcp.WithDescription("Summarise the source tree: containers, node counts, and unstable nodes."),
	), s.flowStatus)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) loadDocument() (flow.Document, error) {
	data, err := os.ReadFile(s.flowsFile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.flowsFile, err)
	}
	return flow.Parse(data)
}

func (s *Server) explodeFlows(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.loadDocument()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.eng.Explode(ctx, doc, s.treeRoot, s.flowsFile, s.opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{
		"nodes":          res.Nodes,
		"unstable_nodes": res.UnstableNodes,
		"orphaned":       res.Orphaned,
		"needs_push":     res.NeedsPush(),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) rebuildFlows(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.eng.Rebuild(ctx, s.treeRoot, s.flowsFile, s.opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{
		"nodes":       res.Nodes,
		"new_nodes":   res.NewNodes,
		"dropped":     res.Dropped,
		"quarantined": res.Quarantined,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) verifyRoundtrip(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.loadDocument()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.eng.Verify(ctx, doc, s.opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Equal {
		return mcp.NewToolResultText("round-trip equal"), nil
	}
	return mcp.NewToolResultText("round-trip differs: " + res.Diff.String()), nil
}

func (s *Server) flowStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	skel, err := skeleton.Load(s.treeRoot)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	unstable := 0
	for _, e := range skel.Nodes {
		if !e.Stable {
			unstable++
		}
	}
	out, _ := json.MarshalIndent(map[string]any{
		"nodes":      len(skel.Nodes),
		"containers": skel.ListContainers(),
		"unstable":   unstable,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
