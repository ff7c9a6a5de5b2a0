// Package sigutil implements the canonical request-body serialization and
// the ed25519 signature oracle every service's mutating endpoints rely on.
package sigutil

import (
	"encoding/json"
	"sort"
)

// CanonicalBody renders the fields of a request body, excluding the
// signature field itself, as a deterministic byte sequence suitable for
// signing and verification. Keys are sorted lexicographically; each line is
// "key=<json-encoded value>\n". json.Marshal already emits map keys in
// sorted order, so nested objects canonicalize the same way recursively.
func CanonicalBody(fields map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		encoded, err := json.Marshal(fields[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, encoded...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// CanonicalFromStruct marshals v to JSON, decodes it into a generic map, and
// canonicalizes the result. v's signature field must be tagged `json:"signature"`.
func CanonicalFromStruct(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return CanonicalBody(fields)
}
