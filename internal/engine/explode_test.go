package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/conneroisu/flowtree/internal/errors"
	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/logging"
	"github.com/conneroisu/flowtree/internal/plugins"
	"github.com/conneroisu/flowtree/internal/plugins/builtin"
	"github.com/conneroisu/flowtree/internal/skeleton"
)

// testEngine builds an engine with the content plugins but without the
// id normaliser and the external formatter, so round trips are exact
// and no subprocess is needed.
func testEngine(t *testing.T) *Engine {
	t.Helper()
	host, err := plugins.NewHost([]plugins.Plugin{
		builtin.NewAction(),
		builtin.NewGlobalFunc(),
		builtin.NewWrapFunc(),
		builtin.NewFuncField(),
		builtin.NewTemplate(),
		builtin.NewInfo(),
	})
	require.NoError(t, err)
	return New(host, logging.NewNop())
}

func parseDoc(t *testing.T, data string) flow.Document {
	t.Helper()
	doc, err := flow.Parse([]byte(data))
	require.NoError(t, err)
	return doc
}

const functionDoc = `[
	{"id":"t1","type":"tab","label":"Flow 1"},
	{"id":"n1","type":"function","z":"t1","name":"double","func":"msg.payload*=2;return msg;","x":10,"y":20,"wires":[[]]}
]`

func TestExplodeFunctionNode(t *testing.T) {
	tree := t.TempDir()
	eng := testEngine(t)
	doc := parseDoc(t, functionDoc)

	res, err := eng.Explode(context.Background(), doc, tree, "", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Nodes)
	assert.Empty(t, res.UnstableNodes)
	assert.False(t, res.NeedsPush())

	// The residual holds content fields that nothing claimed, and
	// never the claimed or structural ones.
	residual, err := os.ReadFile(filepath.Join(tree, "t1", "n1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(residual), `"name":"double"`)
	assert.NotContains(t, string(residual), "func")
	assert.NotContains(t, string(residual), "wires")

	wrapped, err := os.ReadFile(filepath.Join(tree, "t1", "n1.wrapped.js"))
	require.NoError(t, err)
	assert.Contains(t, string(wrapped), "msg.payload*=2;return msg;")

	skel, err := skeleton.Load(tree)
	require.NoError(t, err)
	entry := skel.Entry("n1")
	require.NotNil(t, entry)
	assert.Equal(t, "t1", entry.Z)
	assert.Equal(t, 1, entry.Order)
	assert.Contains(t, entry.Structural, "x")
	assert.Contains(t, entry.Structural, "wires")
	assert.True(t, entry.Stable)

	// Rebuild reproduces the document under the fingerprint.
	rb, err := eng.Rebuild(context.Background(), tree, "", Options{})
	require.NoError(t, err)
	assert.True(t, flow.Equal(doc, rb.Document))
}

func TestFieldClaimDisjointnessAndConflictReport(t *testing.T) {
	tree := t.TempDir()
	eng := testEngine(t)
	doc := parseDoc(t, functionDoc)

	res, err := eng.Explode(context.Background(), doc, tree, "", Options{})
	require.NoError(t, err)

	// wrap-func (220) claims func; the func fallback (230) collides and
	// is skipped, with both names reported.
	require.NotEmpty(t, res.Conflicts)
	found := false
	for _, c := range res.Conflicts {
		if c.Plugin == "func" {
			assert.Contains(t, c.Error(), "wrap-func")
			found = true
		}
	}
	assert.True(t, found, "conflict names both plugins")

	// The plain .js file of the losing plugin must not exist.
	_, err = os.Stat(filepath.Join(tree, "t1", "n1.js"))
	assert.True(t, os.IsNotExist(err))
}

func TestSkeletonSufficiency(t *testing.T) {
	tree := t.TempDir()
	eng := testEngine(t)
	doc := parseDoc(t, `[
		{"id":"t1","type":"tab","label":"Flow 1"},
		{"id":"n1","type":"function","z":"t1","name":"a","func":"return msg;","x":1,"y":2,"wires":[["n2"]]},
		{"id":"n2","type":"debug","z":"t1","x":3,"y":4,"wires":[]}
	]`)

	_, err := eng.Explode(context.Background(), doc, tree, "", Options{})
	require.NoError(t, err)

	// Remove claimed-content files; keep residuals and skeleton.
	require.NoError(t, os.Remove(filepath.Join(tree, "t1", "n1.wrapped.js")))

	rb, err := eng.Rebuild(context.Background(), tree, "", Options{})
	require.NoError(t, err)
	require.Len(t, rb.Document, 3)

	// Structure survives: ids, types, parents, order, wires.
	for i := range doc {
		assert.Equal(t, doc[i].ID(), rb.Document[i].ID())
		assert.Equal(t, doc[i].Type(), rb.Document[i].Type())
		assert.Equal(t, doc[i].Container(), rb.Document[i].Container())
	}
	n1 := rb.Document.ByID("n1")
	assert.Equal(t, doc[1]["wires"], n1["wires"])
	// Content fell back to the claimed-field placeholder.
	assert.Equal(t, "", n1["func"])
}

func TestOrderPreservationInterleaved(t *testing.T) {
	tree := t.TempDir()
	eng := testEngine(t)
	// Config node between containers, container nodes interleaved.
	doc := parseDoc(t, `[
		{"id":"c1","type":"mqtt-broker","broker":"localhost"},
		{"id":"t1","type":"tab","label":"One"},
		{"id":"n1","type":"inject","z":"t1","x":1,"y":1,"wires":[[]]},
		{"id":"t2","type":"tab","label":"Two"},
		{"id":"n3","type":"debug","z":"t2","x":1,"y":1,"wires":[]},
		{"id":"n2","type":"debug","z":"t1","x":2,"y":2,"wires":[]}
	]`)

	_, err := eng.Explode(context.Background(), doc, tree, "", Options{})
	require.NoError(t, err)

	rb, err := eng.Rebuild(context.Background(), tree, "", Options{})
	require.NoError(t, err)

	var ids []string
	for _, n := range rb.Document {
		ids = append(ids, n.ID())
	}
	assert.Equal(t, []string{"c1", "t1", "n1", "t2", "n3", "n2"}, ids)
	assert.True(t, flow.Equal(doc, rb.Document))
}

func TestEmptyAndConfigOnlyDocuments(t *testing.T) {
	eng := testEngine(t)

	for name, data := range map[string]string{
		"empty":       `[]`,
		"single":      `[{"id":"n1","type":"comment","name":"hi"}]`,
		"config-only": `[{"id":"c1","type":"mqtt-broker"},{"id":"c2","type":"http proxy"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			tree := t.TempDir()
			doc := parseDoc(t, data)

			_, err := eng.Explode(context.Background(), doc, tree, "", Options{})
			require.NoError(t, err)
			rb, err := eng.Rebuild(context.Background(), tree, "", Options{})
			require.NoError(t, err)
			assert.True(t, flow.Equal(doc, rb.Document))
		})
	}
}

func TestWireCyclesRoundTrip(t *testing.T) {
	tree := t.TempDir()
	eng := testEngine(t)
	doc := parseDoc(t, `[
		{"id":"t1","type":"tab"},
		{"id":"a","type":"function","z":"t1","func":"return msg;","wires":[["b"]]},
		{"id":"b","type":"function","z":"t1","func":"return msg;","wires":[["a"]]}
	]`)

	_, err := eng.Explode(context.Background(), doc, tree, "", Options{})
	require.NoError(t, err)
	rb, err := eng.Rebuild(context.Background(), tree, "", Options{})
	require.NoError(t, err)
	assert.True(t, flow.Equal(doc, rb.Document))
}

func TestExplodeRejectsDuplicateIDs(t *testing.T) {
	eng := testEngine(t)
	doc := parseDoc(t, `[{"id":"n1","type":"comment"},{"id":"n1","type":"comment"}]`)

	_, err := eng.Explode(context.Background(), doc, t.TempDir(), "", Options{})
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindConfig, flowerrors.KindOf(err))
}

func TestRebuildWithoutSkeletonIsFatal(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Rebuild(context.Background(), t.TempDir(), "", Options{})
	require.Error(t, err)
	assert.True(t, flowerrors.IsSkeletonMissing(err))
}

func TestOrphanQuarantineAndDelete(t *testing.T) {
	eng := testEngine(t)
	doc := parseDoc(t, functionDoc)

	t.Run("quarantine", func(t *testing.T) {
		tree := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(tree, "t1"), 0o755))
		stray := filepath.Join(tree, "t1", "gone.json")
		require.NoError(t, os.WriteFile(stray, []byte(`{"old":true}`), 0o644))

		res, err := eng.Explode(context.Background(), doc, tree, "", Options{})
		require.NoError(t, err)
		assert.Len(t, res.Orphaned, 1)

		_, err = os.Stat(stray)
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(tree, ".orphaned", "t1", "gone.json"))
		assert.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		tree := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(tree, "t1"), 0o755))
		stray := filepath.Join(tree, "t1", "gone.json")
		require.NoError(t, os.WriteFile(stray, []byte(`{"old":true}`), 0o644))

		_, err := eng.Explode(context.Background(), doc, tree, "", Options{DeleteOrphaned: true})
		require.NoError(t, err)

		_, err = os.Stat(stray)
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(tree, ".orphaned"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestRebuildMissingNodeFiles(t *testing.T) {
	eng := testEngine(t)
	doc := parseDoc(t, functionDoc)

	setup := func(t *testing.T) string {
		tree := t.TempDir()
		_, err := eng.Explode(context.Background(), doc, tree, "", Options{})
		require.NoError(t, err)
		// Remove every recorded file for n1.
		matches, _ := filepath.Glob(filepath.Join(tree, "t1", "n1.*"))
		for _, m := range matches {
			require.NoError(t, os.Remove(m))
		}
		return tree
	}

	t.Run("fatal by default", func(t *testing.T) {
		tree := setup(t)
		_, err := eng.Rebuild(context.Background(), tree, "", Options{})
		require.Error(t, err)
		assert.Equal(t, flowerrors.KindIO, flowerrors.KindOf(err))
	})

	t.Run("tolerant drops and records", func(t *testing.T) {
		tree := setup(t)
		rb, err := eng.Rebuild(context.Background(), tree, "", Options{Tolerant: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"n1"}, rb.Dropped)
		require.Len(t, rb.Document, 1)
		assert.Equal(t, "t1", rb.Document[0].ID())
	})
}

func TestNewNodeIncorporation(t *testing.T) {
	eng := testEngine(t)
	doc := parseDoc(t, functionDoc)

	t.Run("inferred type from sibling files", func(t *testing.T) {
		tree := t.TempDir()
		_, err := eng.Explode(context.Background(), doc, tree, "", Options{})
		require.NoError(t, err)

		dir := filepath.Join(tree, "t1")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "x9.json"), []byte(`{"name":"added"}`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "x9.wrapped.js"),
			[]byte("export default function added(msg, node, context, flow, global, env, RED) {\nreturn msg;\n}\n"), 0o644))

		rb, err := eng.Rebuild(context.Background(), tree, "", Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"x9"}, rb.NewNodes)

		added := rb.Document.ByID("x9")
		require.NotNil(t, added)
		assert.Equal(t, "function", added.Type())
		assert.Equal(t, "t1", added.Container())
		assert.Equal(t, "return msg;", added["func"])
		assert.Equal(t, "added", added["name"])
		// New nodes go to the end.
		assert.Equal(t, "x9", rb.Document[len(rb.Document)-1].ID())
	})

	t.Run("uninferable type is quarantined", func(t *testing.T) {
		tree := t.TempDir()
		_, err := eng.Explode(context.Background(), doc, tree, "", Options{})
		require.NoError(t, err)

		path := filepath.Join(tree, "t1", "mystery.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"name":"what"}`), 0o644))

		rb, err := eng.Rebuild(context.Background(), tree, "", Options{})
		require.NoError(t, err)
		assert.Empty(t, rb.NewNodes)
		assert.Len(t, rb.Quarantined, 1)
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("orphan-new policy", func(t *testing.T) {
		tree := t.TempDir()
		_, err := eng.Explode(context.Background(), doc, tree, "", Options{})
		require.NoError(t, err)

		path := filepath.Join(tree, "t1", "x9.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"type":"comment"}`), 0o644))

		rb, err := eng.Rebuild(context.Background(), tree, "", Options{OrphanNew: true})
		require.NoError(t, err)
		assert.Empty(t, rb.NewNodes)
		assert.Len(t, rb.Quarantined, 1)
	})

	t.Run("delete-new policy", func(t *testing.T) {
		tree := t.TempDir()
		_, err := eng.Explode(context.Background(), doc, tree, "", Options{})
		require.NoError(t, err)

		path := filepath.Join(tree, "t1", "x9.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"type":"comment"}`), 0o644))

		rb, err := eng.Rebuild(context.Background(), tree, "", Options{DeleteNew: true})
		require.NoError(t, err)
		assert.Empty(t, rb.NewNodes)
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}

// modifyingPlugin rewrites a field on every explode; used to exercise
// instability reporting.
type modifyingPlugin struct {
	plugins.Base
}

func (m *modifyingPlugin) CanHandle(n flow.Node) bool { return n.Type() == "comment" }

func (m *modifyingPlugin) ClaimedFields(flow.Node) []string { return []string{"name"} }

func (m *modifyingPlugin) ExplodeNode(_ context.Context, n flow.Node, dir string) ([]string, error) {
	name := n.ID() + ".name.txt"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("normalised"), 0o644); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

func (m *modifyingPlugin) RebuildNode(_ context.Context, id, dir string, _ flow.Node) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(dir, id+".name.txt"))
	if err != nil {
		return nil, nil
	}
	return map[string]any{"name": string(data)}, nil
}

func TestUnstableNodeDetected(t *testing.T) {
	host, err := plugins.NewHost([]plugins.Plugin{
		&modifyingPlugin{Base: plugins.Base{PluginName: "normalise-name", PluginStage: plugins.StageExplode, PluginPriority: 200}},
	})
	require.NoError(t, err)
	eng := New(host, logging.NewNop())

	doc := parseDoc(t, `[{"id":"n1","type":"comment","name":"original"}]`)
	res, err := eng.Explode(context.Background(), doc, t.TempDir(), "", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"n1"}, res.UnstableNodes)
	assert.True(t, res.NeedsPush())
}

func TestVerifyReportsDiffPath(t *testing.T) {
	eng := testEngine(t)
	doc := parseDoc(t, functionDoc)

	res, err := eng.Verify(context.Background(), doc, Options{})
	require.NoError(t, err)
	assert.True(t, res.Equal)

	host, err := plugins.NewHost([]plugins.Plugin{
		&modifyingPlugin{Base: plugins.Base{PluginName: "normalise-name", PluginStage: plugins.StageExplode, PluginPriority: 200}},
	})
	require.NoError(t, err)
	bad := New(host, logging.NewNop())

	res, err = bad.Verify(context.Background(), parseDoc(t, `[{"id":"n1","type":"comment","name":"original"}]`), Options{})
	require.NoError(t, err)
	require.False(t, res.Equal)
	assert.Equal(t, "n1", res.Diff.NodeID)
	assert.Equal(t, "name", res.Diff.Field)
}
