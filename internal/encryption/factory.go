package encryption

import (
	"fmt"

	"tripsync/internal/config"
	"tripsync/internal/tripsync"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// Type "none" returns nil: payloads are stored in the clear.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (tripsync.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewMarkerEncryptor(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// OpenCipher unlocks enc with passphrase and returns the payload cipher for
// a session. A nil enc yields nil.
func OpenCipher(enc tripsync.Encryptor, passphrase string) (tripsync.PayloadCipher, error) {
	if enc == nil {
		return nil, nil
	}
	if !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys are not set up; run 'tripsync config init'")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("a passphrase is required to unlock the encryption keys")
	}
	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return nil, err
	}
	return tripsync.NewPayloadCipher(enc, dec), nil
}
