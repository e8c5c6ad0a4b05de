// Package wire holds the canonical encoding and JSON wire shapes for the
// clip-trust protocol, the clip messenger, and the rendezvous protocol
// (spec.md §4.4, §6).
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalEncode serializes v by the deterministic rule spec.md §4.4
// requires: objects emit keys in lexicographic order, arrays preserve
// order, nil-valued optional fields are omitted, and primitives use their
// JSON literal form. Encoding the same value twice yields byte-identical
// output, and encoding is stable under key reordering of input — the two
// properties spec.md §8's "Canonical-encoding property" names.
//
// v must already be JSON-marshalable (struct, map, slice, or primitive);
// CanonicalEncode round-trips it through encoding/json to a generic
// interface{} tree and re-emits that tree with sorted object keys. Go's own
// json.Marshal preserves array order, omits empty fields tagged omitempty
// (other nil fields encode as null) and sorts map keys, but emits struct
// fields in declaration order rather than alphabetically.
func CanonicalEncode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: marshal: %w", err)
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical encode: decode: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
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
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
