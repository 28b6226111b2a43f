package builtin

import (
	"github.com/conneroisu/flowtree/internal/plugins"
)

// All returns the standard plugin set. formatterCommand overrides the
// external formatter argv; empty means the prettier default. An empty
// single-element command turns the formatter plugins into no-ops.
func All(formatterCommand []string) []plugins.Plugin {
	f := DefaultFormatter()
	if len(formatterCommand) == 1 && formatterCommand[0] == "" {
		f = &Formatter{}
	} else if len(formatterCommand) > 0 {
		f = &Formatter{Command: formatterCommand}
	}

	return []plugins.Plugin{
		NewNormalizeIDs(),
		NewAction(),
		NewGlobalFunc(),
		NewWrapFunc(),
		NewFuncField(),
		NewTemplate(),
		NewInfo(),
		NewPrettierExplode(f),
		NewPrettierPreRebuild(f),
		NewPrettierPostRebuild(f),
	}
}

// DefaultHost builds a host with the standard plugin set filtered by
// the given selection.
func DefaultHost(formatterCommand []string, sel plugins.Selection) (*plugins.Host, error) {
	h, err := plugins.NewHost(All(formatterCommand))
	if err != nil {
		return nil, err
	}
	return h.Select(sel)
}
