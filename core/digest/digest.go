// Package digest computes and verifies content digests over canonical JSON.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/davidahmann/callproof/core/canonical"
)

// AlgorithmSHA256 is the only supported digest algorithm.
const AlgorithmSHA256 = "sha256"

// ErrUnsupportedAlgorithm is returned when a digest names an algorithm this
// engine does not implement. It is never silently substituted.
type ErrUnsupportedAlgorithm struct {
	Algorithm string
}

func (e *ErrUnsupportedAlgorithm) Error() string {
	return fmt.Sprintf("unsupported digest algorithm: %s", e.Algorithm)
}

// Digest canonicalizes a value and returns the lowercase hex sha256 of the
// canonical bytes.
func Digest(value any) (string, error) {
	return DigestWithAlgorithm(value, AlgorithmSHA256)
}

// DigestWithAlgorithm computes a digest with an explicit algorithm name.
func DigestWithAlgorithm(value any, algorithm string) (string, error) {
	if algorithm != AlgorithmSHA256 {
		return "", &ErrUnsupportedAlgorithm{Algorithm: algorithm}
	}
	canonicalBytes, err := canonical.CanonicalizeValue(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(sum[:]), nil
}

// DigestPrefixed returns "<algorithm>:<hex>" for a value.
func DigestPrefixed(value any) (string, error) {
	hexDigest, err := Digest(value)
	if err != nil {
		return "", err
	}
	return AlgorithmSHA256 + ":" + hexDigest, nil
}

// DigestRaw returns the lowercase hex sha256 of already-canonical bytes.
func DigestRaw(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(sum[:])
}

// SplitPrefixed parses an optional "<algorithm>:" prefix from a stored
// digest. A digest without a prefix defaults to sha256.
func SplitPrefixed(stored string) (algorithm, hexDigest string) {
	if idx := strings.IndexByte(stored, ':'); idx >= 0 {
		return stored[:idx], stored[idx+1:]
	}
	return AlgorithmSHA256, stored
}

// Verify recomputes the digest of a value and compares it against a stored
// digest with an optional algorithm prefix. The comparison is constant-time;
// when lengths differ (which constant-time comparison cannot handle) it
// falls back to direct inequality rather than erroring.
func Verify(value any, expected string) (bool, error) {
	algorithm, expectedHex := SplitPrefixed(expected)
	actualHex, err := DigestWithAlgorithm(value, algorithm)
	if err != nil {
		return false, err
	}
	return Equal(actualHex, expectedHex), nil
}

// Equal compares two hex digests in constant time. Case differences in hex
// encoding are not treated as mismatches.
func Equal(first, second string) bool {
	a := strings.ToLower(first)
	b := strings.ToLower(second)
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
