package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsNonArray(t *testing.T) {
	_, err := Parse([]byte(`{"id":"n1"}`))
	assert.Error(t, err)
}

func TestParsePreservesNumbers(t *testing.T) {
	doc, err := Parse([]byte(`[{"id":"n1","type":"inject","x":10.5,"big":9007199254740993}]`))
	require.NoError(t, err)
	require.Len(t, doc, 1)

	out := string(EncodeNode(doc[0]))
	assert.Contains(t, out, "10.5")
	assert.Contains(t, out, "9007199254740993")
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a, err := Parse([]byte(`[{"id":"n1","type":"inject","x":10,"y":20}]`))
	require.NoError(t, err)
	b, err := Parse([]byte(`[{"y":20,"x":10,"type":"inject","id":"n1"}]`))
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintNormalisesNumbers(t *testing.T) {
	a, err := Parse([]byte(`[{"id":"n1","x":1.0}]`))
	require.NoError(t, err)
	b, err := Parse([]byte(`[{"id":"n1","x":1}]`))
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintPreservesSiblingOrder(t *testing.T) {
	a, err := Parse([]byte(`[{"id":"n1","type":"a"},{"id":"n2","type":"a"}]`))
	require.NoError(t, err)
	b, err := Parse([]byte(`[{"id":"n2","type":"a"},{"id":"n1","type":"a"}]`))
	require.NoError(t, err)

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintArraysKeepOrder(t *testing.T) {
	a, err := Parse([]byte(`[{"id":"n1","wires":[["a","b"]]}]`))
	require.NoError(t, err)
	b, err := Parse([]byte(`[{"id":"n1","wires":[["b","a"]]}]`))
	require.NoError(t, err)

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestEncodeRoundTrip(t *testing.T) {
	in := []byte(`[{"id":"t1","type":"tab","label":"Flow 1"},{"id":"n1","type":"function","z":"t1","func":"return msg;","wires":[[]]}]`)
	doc, err := Parse(in)
	require.NoError(t, err)

	again, err := Parse(Encode(doc))
	require.NoError(t, err)
	assert.True(t, Equal(doc, again))
}

func TestNodePredicates(t *testing.T) {
	doc, err := Parse([]byte(`[
		{"id":"t1","type":"tab"},
		{"id":"s1","type":"subflow"},
		{"id":"g1","type":"group","z":"t1"},
		{"id":"n1","type":"function","z":"t1"},
		{"id":"c1","type":"mqtt-broker"}
	]`))
	require.NoError(t, err)

	assert.True(t, doc[0].IsContainer())
	assert.True(t, doc[1].IsContainer())
	assert.True(t, doc[2].IsContainer())
	assert.False(t, doc[3].IsContainer())

	assert.True(t, doc[0].OwnsDirectory())
	assert.False(t, doc[2].OwnsDirectory(), "groups live inside their tab's directory")

	ids := doc.ContainerIDs()
	assert.Equal(t, map[string]bool{"t1": true, "s1": true}, ids)

	assert.Equal(t, "t1", doc[3].Container())
	assert.Equal(t, "", doc[4].Container())
}

func TestCloneIsDeep(t *testing.T) {
	doc, err := Parse([]byte(`[{"id":"n1","wires":[["a"]],"meta":{"k":"v"}}]`))
	require.NoError(t, err)

	dup := doc.Clone()
	wires := dup[0]["wires"].([]any)
	wires[0].([]any)[0] = "changed"
	dup[0]["meta"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "a", doc[0]["wires"].([]any)[0].([]any)[0])
	assert.Equal(t, "v", doc[0]["meta"].(map[string]any)["k"])
}
