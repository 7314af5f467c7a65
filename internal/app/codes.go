package app

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet omits easily-confused characters (0/O, 1/I/L) so codes stay
// typeable from a projected screen.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

// newSessionCode returns a short human-typeable join code. Collisions are
// handled by the caller's reserve-and-retry loop against the registry.
func newSessionCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
