package tripsync

import (
	"bytes"
	"fmt"
	"io"
)

// Encryptor handles encryption of record payloads and unlocking for decryption.
// Encryption needs only the public key, so it never prompts.
// Decryption requires a passphrase to unlock the private key, producing a
// DecryptionContext for the session.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `tripsync config init`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase and returns a
	// DecryptionContext. Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the session.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}

// PayloadCipher seals account payloads before they leave the device and
// opens them after a pull. A nil PayloadCipher passes payloads through.
type PayloadCipher interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

type streamCipher struct {
	enc Encryptor
	dec DecryptionContext
}

// NewPayloadCipher adapts a stream Encryptor and an unlocked DecryptionContext.
func NewPayloadCipher(enc Encryptor, dec DecryptionContext) PayloadCipher {
	return &streamCipher{enc: enc, dec: dec}
}

func (c *streamCipher) Seal(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.enc.Encrypt(bytes.NewReader(plain), &buf); err != nil {
		return nil, fmt.Errorf("sealing payload: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *streamCipher) Open(sealed []byte) ([]byte, error) {
	if c.dec == nil {
		return nil, fmt.Errorf("opening payload: encryption key is locked")
	}
	var buf bytes.Buffer
	if err := c.dec.Decrypt(bytes.NewReader(sealed), &buf); err != nil {
		return nil, fmt.Errorf("opening payload: %w", err)
	}
	return buf.Bytes(), nil
}
