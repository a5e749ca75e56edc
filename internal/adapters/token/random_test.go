package token

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSource_NewToken(t *testing.T) {
	src := NewRandomSource()
	seen := make(map[string]struct{})

	for i := 0; i < 100; i++ {
		tok, err := src.NewToken()
		require.NoError(t, err)
		assert.Len(t, tok, 43)

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		assert.Len(t, raw, Size)

		_, dup := seen[tok]
		require.False(t, dup, "duplicate token")
		seen[tok] = struct{}{}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestRandomSource_ReaderFailure(t *testing.T) {
	src := &RandomSource{reader: failingReader{}}
	_, err := src.NewToken()
	require.Error(t, err)
}
