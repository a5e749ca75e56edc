// Package token generates opaque session tokens.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/target/streamauth/internal/ports"
)

// Size is the number of random bytes per token (256 bits).
const Size = 32

// RandomSource reads tokens from a cryptographic random source.
type RandomSource struct {
	reader io.Reader
}

var _ ports.TokenSource = (*RandomSource)(nil)

// NewRandomSource returns a source backed by crypto/rand.
func NewRandomSource() *RandomSource {
	return &RandomSource{reader: rand.Reader}
}

// NewToken returns Size random bytes, base64url encoded without padding.
func (s *RandomSource) NewToken() (string, error) {
	b := make([]byte, Size)
	if _, err := io.ReadFull(s.reader, b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
