package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// suffixByteLength sizes the random swap suffix: 4 bytes render as 8 hex
// characters, enough that two swaps of the same view cannot collide in
// practice.
const suffixByteLength = 4

// randomSuffix returns the hex token appended to the shadow and retired
// view names during a swap refresh.
func randomSuffix() (string, error) {
	buf := make([]byte, suffixByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenGeneration, err)
	}

	return hex.EncodeToString(buf), nil
}
