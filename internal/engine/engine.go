// Package engine implements the explode and rebuild pipelines: turning
// a flow document into a tree of per-node source files plus a skeleton,
// and reconstructing the document losslessly from that tree. A verifier
// composes the two into a round-trip check.
package engine

import (
	"runtime"

	flowerrors "github.com/conneroisu/flowtree/internal/errors"
	"github.com/conneroisu/flowtree/internal/logging"
	"github.com/conneroisu/flowtree/internal/plugins"
)

const (
	// parallelThreshold is the minimum node count before per-node work
	// fans out to the worker pool.
	parallelThreshold = 20

	// maxWorkers caps the pool regardless of core count.
	maxWorkers = 8
)

// Options tunes a single explode or rebuild run.
type Options struct {
	// Workers sets the pool size; 0 means min(NumCPU, 8). 1 forces
	// sequential processing.
	Workers int

	// DeleteOrphaned removes orphaned files instead of quarantining
	// them under .orphaned/.
	DeleteOrphaned bool

	// Tolerant lets rebuild drop skeleton entries whose files are gone
	// instead of failing; dropped ids are recorded.
	Tolerant bool

	// OrphanNew quarantines node files that have no skeleton entry
	// instead of incorporating them as new nodes.
	OrphanNew bool

	// DeleteNew removes such files instead.
	DeleteNew bool

	// ContinuedFromExplode tells pre-rebuild plugins the tree was just
	// written by an explode, so redundant work can be skipped.
	ContinuedFromExplode bool
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	n := runtime.NumCPU()
	if n > maxWorkers {
		n = maxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Engine runs the staged pipelines against a plugin host. The host is
// immutable for the engine's lifetime; swapping plugins means building
// a new engine.
type Engine struct {
	host *plugins.Host
	log  logging.Logger
}

// New creates an engine.
func New(host *plugins.Host, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNop()
	}
	return &Engine{host: host, log: log.WithComponent("engine")}
}

// Host returns the engine's plugin host.
func (e *Engine) Host() *plugins.Host { return e.host }

// errorBag collects recoverable per-plugin and per-node errors without
// aborting the pipeline. Guarded by the caller when workers share it.
type errorBag struct {
	pluginErrors []*flowerrors.FlowError
	conflicts    []*flowerrors.FlowError
}

func (b *errorBag) addPlugin(err *flowerrors.FlowError) {
	b.pluginErrors = append(b.pluginErrors, err)
}

func (b *errorBag) addConflicts(errs []*flowerrors.FlowError) {
	b.conflicts = append(b.conflicts, errs...)
}
