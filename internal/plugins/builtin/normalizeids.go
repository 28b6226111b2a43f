package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/plugins"
)

var typeAbbreviations = map[string]string{
	"function":      "func",
	"inject":        "inject",
	"debug":         "debug",
	"switch":        "switch",
	"change":        "change",
	"template":      "tmpl",
	"http request":  "http",
	"http in":       "http_in",
	"http response": "http_out",
	"mqtt in":       "mqtt_in",
	"mqtt out":      "mqtt_out",
	"delay":         "delay",
	"trigger":       "trigger",
	"exec":          "exec",
	"file":          "file",
	"file in":       "file_in",
	"tcp":           "tcp",
	"udp":           "udp",
	"websocket":     "ws",
	"link in":       "link_in",
	"link out":      "link_out",
	"link call":     "link_call",
	"comment":       "comment",
	"subflow":       "subflow",
	"tab":           "tab",
	"group":         "group",
}

var (
	actionNameRe = regexp.MustCompile(`const\s+(actionDef|cmdDef)\s*=\s*\{[\s\S]*?name:\s*["']([^"']+)["']`)
	varDeclRe    = regexp.MustCompile(`(?:var|let|const)\s+(\w+)`)
	callRe       = regexp.MustCompile(`(\w+)\s*\(`)
	msgAssignRe  = regexp.MustCompile(`msg\.(\w+)\s*=`)
)

// NormalizeIDs rewrites opaque generated node ids into readable
// functional names derived from the node's name, label, or code, then
// applies the rewrite table to every id-bearing field in one pass.
type NormalizeIDs struct {
	plugins.Base
}

// NewNormalizeIDs returns the normalize-ids pre-explode plugin.
func NewNormalizeIDs() *NormalizeIDs {
	return &NormalizeIDs{Base: plugins.Base{
		PluginName:     "normalize-ids",
		PluginStage:    plugins.StagePreExplode,
		PluginPriority: 100,
	}}
}

// TransformDocument implements plugins.PreExplodePlugin.
func (p *NormalizeIDs) TransformDocument(_ context.Context, doc flow.Document) (flow.Document, bool, error) {
	idMap := make(map[string]string)
	used := make(map[string]bool)

	for _, n := range doc {
		old := n.ID()
		if old == "" {
			continue
		}
		next := newID(n, used)
		idMap[old] = next
		n[flow.FieldID] = next
	}
	if len(idMap) == 0 {
		return doc, false, nil
	}

	modified := false
	for old, next := range idMap {
		if old != next {
			modified = true
			break
		}
	}

	rewriteReferences(doc, idMap)
	return doc, modified, nil
}

func newID(n flow.Node, used map[string]bool) string {
	var prefix, base string
	switch {
	case n.Type() == "tab":
		prefix = "tab"
		label, _ := n["label"].(string)
		base = slugify(label)
		if base == "" {
			base = "flow"
		}
	case strings.HasPrefix(n.Type(), "subflow"):
		prefix = "subflow"
		base = slugify(n.Name())
		if base == "" {
			label, _ := n["label"].(string)
			base = slugify(label)
		}
	default:
		prefix = abbreviateType(n.Type())
		base = deriveNodeName(n)
	}

	id := prefix
	if base != "" && base != "unnamed" {
		id = prefix + "_" + base
	}
	if used[id] {
		for counter := 2; ; counter++ {
			candidate := fmt.Sprintf("%s_%d", id, counter)
			if !used[candidate] {
				id = candidate
				break
			}
		}
	}
	used[id] = true
	return id
}

func abbreviateType(nodeType string) string {
	if abbr, ok := typeAbbreviations[nodeType]; ok {
		return abbr
	}
	for full, abbr := range typeAbbreviations {
		if strings.HasPrefix(nodeType, full) {
			return abbr
		}
	}
	if s := slugify(nodeType); s != "" {
		return s
	}
	return "node"
}

func deriveNodeName(n flow.Node) string {
	if name := n.Name(); name != "" {
		return slugify(name)
	}

	if n.Type() == "function" {
		if code, _ := n["func"].(string); code != "" {
			if derived := deriveNameFromFunction(code); derived != "unnamed" {
				return derived
			}
		}
	}

	if n.Type() == "inject" {
		if topic, _ := n["topic"].(string); topic != "" {
			return slugify(topic)
		}
		if payload, ok := n["payload"].(string); ok && payload != "" && len(payload) < 20 {
			return slugify(payload)
		}
	}

	if n.Type() == "switch" {
		if prop, _ := n["property"].(string); prop != "" {
			return "check_" + slugify(strings.TrimPrefix(prop, "msg."))
		}
	}

	if n.Type() == "change" {
		if rules, _ := n["rules"].([]any); len(rules) > 0 {
			if rule, _ := rules[0].(map[string]any); rule != nil {
				if to, ok := rule["to"].(string); ok {
					s := slugify(to)
					if len(s) > 20 {
						s = s[:20]
					}
					return "set_" + s
				}
			}
		}
	}

	return "unnamed"
}

func deriveNameFromFunction(code string) string {
	if m := actionNameRe.FindStringSubmatch(code); m != nil {
		return slugify(m[2])
	}

	var firstLine string
	for _, line := range strings.Split(strings.TrimSpace(code), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		firstLine = trimmed
		break
	}
	if firstLine == "" {
		return "unnamed"
	}

	if m := varDeclRe.FindStringSubmatch(firstLine); m != nil {
		return m[1]
	}
	if m := callRe.FindStringSubmatch(firstLine); m != nil {
		switch m[1] {
		case "if", "for", "while", "switch", "return":
		default:
			return m[1]
		}
	}
	if m := msgAssignRe.FindStringSubmatch(firstLine); m != nil {
		return "set_" + m[1]
	}
	return "unnamed"
}

// rewriteReferences applies the id rewrite table to every id-bearing
// field: wires, z, links, scope, subflow port wires, and subflow env
// values.
func rewriteReferences(doc flow.Document, idMap map[string]string) {
	for _, n := range doc {
		if wires, ok := n[flow.FieldWires].([]any); ok {
			for _, port := range wires {
				rewriteIDList(port, idMap)
			}
		}
		if z, ok := n[flow.FieldZ].(string); ok {
			if next, hit := idMap[z]; hit {
				n[flow.FieldZ] = next
			}
		}
		rewriteIDList(n[flow.FieldLinks], idMap)
		rewriteIDList(n[flow.FieldScope], idMap)

		if n.Type() == "subflow" || strings.HasPrefix(n.Type(), "subflow:") {
			rewritePortWires(n["in"], idMap)
			rewritePortWires(n["out"], idMap)
			if env, ok := n["env"].([]any); ok {
				for _, e := range env {
					entry, _ := e.(map[string]any)
					if entry == nil {
						continue
					}
					if v, ok := entry["value"].(string); ok {
						if next, hit := idMap[v]; hit {
							entry["value"] = next
						}
					}
				}
			}
		}
	}
}

func rewriteIDList(v any, idMap map[string]string) {
	list, ok := v.([]any)
	if !ok {
		return
	}
	for i, e := range list {
		if id, ok := e.(string); ok {
			if next, hit := idMap[id]; hit {
				list[i] = next
			}
		}
	}
}

func rewritePortWires(v any, idMap map[string]string) {
	ports, ok := v.([]any)
	if !ok {
		return
	}
	for _, p := range ports {
		port, _ := p.(map[string]any)
		if port == nil {
			continue
		}
		wires, _ := port["wires"].([]any)
		for _, w := range wires {
			wire, _ := w.(map[string]any)
			if wire == nil {
				continue
			}
			if id, ok := wire["id"].(string); ok {
				if next, hit := idMap[id]; hit {
					wire["id"] = next
				}
			}
		}
	}
}
