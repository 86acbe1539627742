package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/m3rciful/dialogbot/automation/store"
)

// ErrNoSessionKey is returned when neither the config nor the keyring holds a key.
var ErrNoSessionKey = errors.New("session key not configured: set SESSION_KEY or run `dialogbot keygen --keyring`")

// SessionKey resolves the base64 session key from config or the OS keyring.
func SessionKey(cfg SecretsConfig) (string, error) {
	if key := strings.TrimSpace(cfg.SessionKey); key != "" {
		return key, nil
	}
	key, err := keyring.Get(cfg.KeyringService, cfg.KeyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoSessionKey
	}
	if err != nil {
		return "", fmt.Errorf("keyring %s/%s: %w", cfg.KeyringService, cfg.KeyringUser, err)
	}
	return key, nil
}

// StoreSessionKey saves key into the OS keyring entry named by cfg.
func StoreSessionKey(cfg SecretsConfig, key string) error {
	return keyring.Set(cfg.KeyringService, cfg.KeyringUser, key)
}

// NewSealer builds the session sealer from the resolved key.
func NewSealer(cfg SecretsConfig) (*store.Sealer, error) {
	key, err := SessionKey(cfg)
	if err != nil {
		return nil, err
	}
	return store.ParseKey(key)
}
