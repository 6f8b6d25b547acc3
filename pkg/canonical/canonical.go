// Package canonical produces a key-order-independent serialization of
// semi-structured documents and a content hash over it. Two documents that
// differ only in key ordering, at any nesting depth, always serialize and
// hash identically.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal returns the canonical JSON form of v. Object keys are sorted at
// every level; the value is round-tripped through generic JSON types so the
// result does not depend on Go struct field order either.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	// encoding/json sorts map keys, so a decode into generic types followed
	// by a re-encode yields the canonical form.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical round-trip: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 digest of the canonical form of v.
func Hash(v any) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// HashHex returns the hex-encoded Hash of v.
func HashHex(v any) (string, error) {
	sum, err := Hash(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}
