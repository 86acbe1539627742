package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrSealedTooShort is returned when sealed input cannot hold a nonce and a box.
var ErrSealedTooShort = errors.New("store: sealed session too short")

// ErrOpenFailed is returned when a sealed session does not authenticate with the key.
var ErrOpenFailed = errors.New("store: sealed session does not match key")

// Sealer encrypts chat sessions at rest with NaCl secretbox.
type Sealer struct {
	key [keySize]byte
}

// ParseKey decodes a base64 key of exactly 32 bytes.
func ParseKey(encoded string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("session key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("session key: want %d bytes, got %d", keySize, len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// GenerateKey returns a fresh base64 key suitable for ParseKey.
func GenerateKey() (string, error) {
	var key [keySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// Seal encrypts plain and returns base64(nonce || box).
func (s *Sealer) Seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("seal nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrSealedTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}
