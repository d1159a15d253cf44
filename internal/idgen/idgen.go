// Package idgen generates short opaque identifiers for runs and calls.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Length is the number of hex characters in a generated id (spec.md §6:
// "8 hex chars is conventional").
const Length = 8

// Exists reports whether id is already present in whatever store the
// caller is generating ids for. Generate calls this to retry on
// collision.
type Exists func(id string) (bool, error)

// Generate returns a fresh Length-character lowercase hex id, retrying
// against exists until it finds one that isn't taken. Mirrors relia's
// newApprovalID: random bytes, hex-encode, check, retry.
func Generate(exists Exists) (string, error) {
	const maxAttempts = 16

	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := newID()
		if err != nil {
			return "", err
		}

		if exists == nil {
			return id, nil
		}

		taken, err := exists(id)
		if err != nil {
			return "", fmt.Errorf("idgen: checking collision: %w", err)
		}
		if !taken {
			return id, nil
		}
	}

	return "", fmt.Errorf("idgen: exhausted %d attempts without a free id", maxAttempts)
}

func newID() (string, error) {
	buf := make([]byte, Length/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
