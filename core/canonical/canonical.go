// Package canonical produces the RFC 8785 (JCS) canonical form of JSON
// content so that structurally equal payloads hash identically regardless
// of key order or incidental whitespace.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the RFC 8785 canonical form of raw JSON: object keys
// sorted lexicographically at every nesting depth, array order preserved,
// primitives and nulls unchanged.
func Canonicalize(raw []byte) ([]byte, error) {
	return jcs.Transform(raw)
}

// CanonicalizeValue marshals a Go value and canonicalizes the result.
// Cyclic values are rejected by encoding/json before canonicalization runs.
func CanonicalizeValue(value any) ([]byte, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return Canonicalize(encoded)
}
