package encryption

import (
	"errors"
	"fmt"

	"geosync/internal/config"
	"geosync/internal/server"
)

// ErrNoPassphrase is returned when encryption is enabled without a passphrase.
var ErrNoPassphrase = errors.New("encryption passphrase is required")

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// It returns nil when encryption at rest is disabled.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (server.Encryptor, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// Unlock readies enc for a server process. Keys are generated with the
// passphrase on first use; the private key is then unlocked with it.
func Unlock(enc server.Encryptor, passphrase string) (server.DecryptionContext, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	if !enc.IsConfigured() {
		if err := enc.Setup(passphrase); err != nil {
			return nil, fmt.Errorf("setting up encryption keys: %w", err)
		}
	}
	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking encryption keys: %w", err)
	}
	return dec, nil
}
