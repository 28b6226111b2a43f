package plugins

import (
	"fmt"
	"sort"
)

// Host owns a collection of plugins, keeps each stage's plugins in
// priority order, and routes stage invocations. A Host is immutable
// once built; plugin reload builds a new Host and swaps it between
// reactions.
type Host struct {
	byName      map[string]Plugin
	preExplode  []PreExplodePlugin
	explode     []ExplodePlugin
	postExplode []PostExplodePlugin
	preRebuild  []PreRebuildPlugin
	postRebuild []PostRebuildPlugin
}

// Selection filters the registered plugin set by name. Processing
// order: clear-all, add-all, per-name disable, per-name enable.
type Selection struct {
	DisableAll bool
	EnableAll  bool
	Disable    []string
	Enable     []string
}

// NewHost builds a host from the given plugins. Duplicate names and
// stage/hook mismatches are rejected.
func NewHost(all []Plugin) (*Host, error) {
	h := &Host{byName: make(map[string]Plugin, len(all))}

	for _, p := range all {
		name := p.Name()
		if _, exists := h.byName[name]; exists {
			return nil, fmt.Errorf("plugin %q registered twice", name)
		}
		h.byName[name] = p

		switch p.Stage() {
		case StagePreExplode:
			pp, ok := p.(PreExplodePlugin)
			if !ok {
				return nil, fmt.Errorf("plugin %q declares stage %s but lacks its hook", name, p.Stage())
			}
			h.preExplode = append(h.preExplode, pp)
		case StageExplode:
			ep, ok := p.(ExplodePlugin)
			if !ok {
				return nil, fmt.Errorf("plugin %q declares stage %s but lacks its hook", name, p.Stage())
			}
			h.explode = append(h.explode, ep)
		case StagePostExplode:
			pp, ok := p.(PostExplodePlugin)
			if !ok {
				return nil, fmt.Errorf("plugin %q declares stage %s but lacks its hook", name, p.Stage())
			}
			h.postExplode = append(h.postExplode, pp)
		case StagePreRebuild:
			pp, ok := p.(PreRebuildPlugin)
			if !ok {
				return nil, fmt.Errorf("plugin %q declares stage %s but lacks its hook", name, p.Stage())
			}
			h.preRebuild = append(h.preRebuild, pp)
		case StagePostRebuild:
			pp, ok := p.(PostRebuildPlugin)
			if !ok {
				return nil, fmt.Errorf("plugin %q declares stage %s but lacks its hook", name, p.Stage())
			}
			h.postRebuild = append(h.postRebuild, pp)
		default:
			return nil, fmt.Errorf("plugin %q has unknown stage %q", name, p.Stage())
		}
	}

	sortPlugins(h.preExplode)
	sortPlugins(h.explode)
	sortPlugins(h.postExplode)
	sortPlugins(h.preRebuild)
	sortPlugins(h.postRebuild)

	return h, nil
}

// Select returns a new host restricted to the active set:
// (all \ disable) ∪ enable, with clear-all and add-all applied first.
func (h *Host) Select(sel Selection) (*Host, error) {
	active := make(map[string]bool, len(h.byName))
	for name := range h.byName {
		active[name] = true
	}
	if sel.DisableAll {
		for name := range active {
			active[name] = false
		}
	}
	if sel.EnableAll {
		for name := range active {
			active[name] = true
		}
	}
	for _, name := range sel.Disable {
		active[name] = false
	}
	for _, name := range sel.Enable {
		if _, known := active[name]; !known {
			return nil, fmt.Errorf("unknown plugin %q in enable set", name)
		}
		active[name] = true
	}

	var kept []Plugin
	for name, on := range active {
		if on {
			kept = append(kept, h.byName[name])
		}
	}
	return NewHost(kept)
}

// Names returns the registered plugin names, sorted.
func (h *Host) Names() []string {
	names := make([]string, 0, len(h.byName))
	for name := range h.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a plugin by name, or nil.
func (h *Host) Get(name string) Plugin {
	return h.byName[name]
}

// PreExplode returns the pre-explode plugins in execution order.
func (h *Host) PreExplode() []PreExplodePlugin { return h.preExplode }

// Explode returns the explode-stage plugins in execution order. The
// same plugins serve the per-node rebuild hook.
func (h *Host) Explode() []ExplodePlugin { return h.explode }

// PostExplode returns the post-explode plugins in execution order.
func (h *Host) PostExplode() []PostExplodePlugin { return h.postExplode }

// PreRebuild returns the pre-rebuild plugins in execution order.
func (h *Host) PreRebuild() []PreRebuildPlugin { return h.preRebuild }

// PostRebuild returns the post-rebuild plugins in execution order.
func (h *Host) PostRebuild() []PostRebuildPlugin { return h.postRebuild }

// InferType asks explode plugins, in priority order, to name the type
// of an unknown node from its files. First non-empty answer wins.
func (h *Host) InferType(nodeDir, nodeID string) string {
	for _, p := range h.explode {
		inf, ok := p.(TypeInferrer)
		if !ok {
			continue
		}
		if t := inf.InferType(nodeDir, nodeID); t != "" {
			return t
		}
	}
	return ""
}

// IsMetadataFile reports whether any explode plugin recognises the
// filename as plugin-generated content.
func (h *Host) IsMetadataFile(name string) bool {
	for _, p := range h.explode {
		m, ok := p.(MetadataMatcher)
		if !ok {
			continue
		}
		if m.IsMetadataFile(name) {
			return true
		}
	}
	return false
}

func sortPlugins[P Plugin](list []P) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority() != list[j].Priority() {
			return list[i].Priority() < list[j].Priority()
		}
		return list[i].Name() < list[j].Name()
	})
}
