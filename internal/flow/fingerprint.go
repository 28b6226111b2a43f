package flow

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

// Fingerprint returns the canonical digest of a document. Two documents
// are semantically equal exactly when their fingerprints match: object
// keys are sorted, number representations are normalised, and sibling
// order is preserved.
func Fingerprint(d Document) string {
	var buf bytes.Buffer
	writeCanonical(&buf, documentValue(d))
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// FingerprintNode returns the canonical digest of a single node.
func FingerprintNode(n Node) string {
	var buf bytes.Buffer
	writeCanonical(&buf, map[string]any(n))
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// Equal reports fingerprint equality of two documents.
func Equal(a, b Document) bool {
	return Fingerprint(a) == Fingerprint(b)
}

// EqualNode reports fingerprint equality of two nodes.
func EqualNode(a, b Node) bool {
	return FingerprintNode(a) == FingerprintNode(b)
}

// writeCanonical renders a decoded JSON value in canonical form:
// compact, keys sorted, numbers normalised. Arrays keep their order.
func writeCanonical(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeJSONString(buf, t)
	case json.Number:
		buf.WriteString(canonicalNumber(t))
	case float64:
		// Values built in code rather than parsed from the wire.
		buf.WriteString(canonicalNumber(json.Number(strconv.FormatFloat(t, 'g', -1, 64))))
	case int:
		buf.WriteString(strconv.Itoa(t))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, e)
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, k)
			buf.WriteByte(':')
			writeCanonical(buf, t[k])
		}
		buf.WriteByte('}')
	case Node:
		writeCanonical(buf, map[string]any(t))
	default:
		// Last resort for exotic values; Marshal never fails on them
		// in practice since everything originates from decoded JSON.
		raw, err := json.Marshal(t)
		if err != nil {
			buf.WriteString("null")
			return
		}
		buf.Write(raw)
	}
}

// canonicalNumber collapses equivalent number spellings: integral values
// print without exponent or fraction, everything else prints in Go's
// shortest float form.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return n.String()
}

func writeJSONString(buf *bytes.Buffer, s string) {
	raw, _ := json.Marshal(s)
	buf.Write(raw)
}
