// Package fingerprint derives the cache key digest for a prompt.
package fingerprint

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Sum returns the base64-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(h[:])
}

// Hash serializes v to JSON and digests it. Struct fields marshal in
// declaration order and map keys are sorted, so structurally equal
// values hash identically across processes and store backends. Callers
// passing raw JSON must keep its field order stable themselves.
func Hash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return Sum(data), nil
}
