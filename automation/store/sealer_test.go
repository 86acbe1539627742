package store

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := ParseKey(key)
	require.NoError(t, err)
	return s
}

func TestSealOpen(t *testing.T) {
	s := newSealer(t)

	sealed, err := s.Seal("1BVtsOK8Bu0session")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "session")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "1BVtsOK8Bu0session", plain)

	again, err := s.Seal("1BVtsOK8Bu0session")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")
}

func TestOpenWithWrongKey(t *testing.T) {
	sealed, err := newSealer(t).Seal("secret")
	require.NoError(t, err)

	_, err = newSealer(t).Open(sealed)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestOpenShortInput(t *testing.T) {
	s := newSealer(t)
	_, err := s.Open(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrSealedTooShort)

	_, err = s.Open("%%%")
	assert.Error(t, err)
}

func TestParseKeyLength(t *testing.T) {
	_, err := ParseKey(base64.StdEncoding.EncodeToString(make([]byte, 16)))
	assert.ErrorContains(t, err, "want 32 bytes")

	_, err = ParseKey("not base64!")
	assert.Error(t, err)
}
