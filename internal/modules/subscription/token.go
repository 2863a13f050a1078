package subscription

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 16 // 128 bits of entropy

// NewToken returns a fresh action token: 16 random bytes, hex encoded. The
// token is pure randomness; the intent it authorizes lives next to it in the
// subscription record, never inside the token itself.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
