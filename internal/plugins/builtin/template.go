package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/plugins"
)

// formatExtensions maps the core template node's format field to a file
// extension that editors will highlight correctly.
var formatExtensions = map[string]string{
	"handlebars": ".mustache",
	"html":       ".html",
	"json":       ".json",
	"yaml":       ".yaml",
	"javascript": ".js",
	"css":        ".css",
	"markdown":   ".md",
	"python":     ".py",
	"sql":        ".sql",
	"c_cpp":      ".cpp",
	"java":       ".java",
	"text":       ".txt",
}

// Template extracts template content from the three template node
// flavours: dashboard Vue components, legacy dashboard templates, and
// the core template node.
type Template struct {
	plugins.Base
}

// NewTemplate returns the template explode plugin.
func NewTemplate() *Template {
	return &Template{Base: plugins.Base{
		PluginName:     "template",
		PluginStage:    plugins.StageExplode,
		PluginPriority: 240,
	}}
}

// CanHandle implements plugins.ExplodePlugin.
func (p *Template) CanHandle(n flow.Node) bool {
	switch n.Type() {
	case "ui_template", "ui-template", "template":
	default:
		return false
	}
	_, present := n["template"]
	return present
}

// ClaimedFields implements plugins.ExplodePlugin.
func (p *Template) ClaimedFields(flow.Node) []string {
	return []string{"template"}
}

// IsMetadataFile implements plugins.MetadataMatcher. Matters for
// .template.json, which would otherwise read as a node residual.
func (p *Template) IsMetadataFile(name string) bool {
	return strings.HasSuffix(name, ".vue") ||
		strings.HasSuffix(name, ".ui-template.html") ||
		strings.Contains(name, ".template.")
}

// InferType implements plugins.TypeInferrer.
func (p *Template) InferType(nodeDir, nodeID string) string {
	if fileExists(filepath.Join(nodeDir, nodeID+".vue")) {
		return "ui_template"
	}
	if fileExists(filepath.Join(nodeDir, nodeID+".ui-template.html")) {
		return "ui-template"
	}
	matches, _ := filepath.Glob(filepath.Join(nodeDir, nodeID+".template.*"))
	if len(matches) > 0 {
		return "template"
	}
	return ""
}

// ExplodeNode implements plugins.ExplodePlugin.
func (p *Template) ExplodeNode(_ context.Context, n flow.Node, nodeDir string) ([]string, error) {
	content, _ := n["template"].(string)
	if content == "" {
		return nil, nil
	}
	name := n.ID() + extensionFor(n)
	if err := os.WriteFile(filepath.Join(nodeDir, name), []byte(content), 0o644); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// RebuildNode implements plugins.ExplodePlugin.
func (p *Template) RebuildNode(_ context.Context, nodeID, nodeDir string, base flow.Node) (map[string]any, error) {
	candidates := []string{
		filepath.Join(nodeDir, nodeID+".vue"),
		filepath.Join(nodeDir, nodeID+".ui-template.html"),
	}
	for _, path := range candidates {
		if content, ok := readIfExists(path); ok {
			return map[string]any{"template": content}, nil
		}
	}
	matches, _ := filepath.Glob(filepath.Join(nodeDir, nodeID+".template.*"))
	if len(matches) > 0 {
		if content, ok := readIfExists(matches[0]); ok {
			return map[string]any{"template": content}, nil
		}
	}
	if _, present := base["template"]; present {
		return map[string]any{"template": ""}, nil
	}
	return nil, nil
}

func extensionFor(n flow.Node) string {
	switch n.Type() {
	case "ui_template":
		return ".vue"
	case "ui-template":
		return ".ui-template.html"
	case "template":
		format, _ := n["format"].(string)
		if format == "" {
			format = "handlebars"
		}
		ext, ok := formatExtensions[format]
		if !ok {
			ext = ".txt"
		}
		return ".template" + ext
	}
	return ".template.txt"
}
