package encryption

import (
	"bytes"
	"fmt"
	"io"

	"tripsync/internal/tripsync"
)

// sealMarker prefixes payloads sealed by MarkerEncryptor.
var sealMarker = []byte("TSSEAL1:")

// MarkerEncryptor is a reversible stand-in for AgeEncryptor used in tests
// and in the "test" encryption mode. Sealed payloads are the marker
// followed by the plaintext, so they differ from plaintext but need no keys.
type MarkerEncryptor struct {
	configured bool
}

var _ tripsync.Encryptor = (*MarkerEncryptor)(nil)

// NewMarkerEncryptor creates a MarkerEncryptor that reports itself configured.
func NewMarkerEncryptor() *MarkerEncryptor {
	return &MarkerEncryptor{configured: true}
}

func (e *MarkerEncryptor) Setup(passphrase string) error {
	e.configured = true
	return nil
}

func (e *MarkerEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(sealMarker); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	_, err := io.Copy(w, r)
	return err
}

func (e *MarkerEncryptor) Unlock(passphrase string) (tripsync.DecryptionContext, error) {
	return markerOpener{}, nil
}

func (e *MarkerEncryptor) IsConfigured() bool { return e.configured }

type markerOpener struct{}

func (markerOpener) Decrypt(r io.Reader, w io.Writer) error {
	head := make([]byte, len(sealMarker))
	if _, err := io.ReadFull(r, head); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(head, sealMarker) {
		return fmt.Errorf("payload was not sealed by the marker encryptor")
	}
	_, err := io.Copy(w, r)
	return err
}
