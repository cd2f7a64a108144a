package testutil

import (
	"testing"

	"tripsync/internal/encryption"
	"tripsync/internal/tripsync"
)

// NewTestCipher returns a reversible payload cipher that needs no keys.
func NewTestCipher(t *testing.T) tripsync.PayloadCipher {
	t.Helper()

	c, err := encryption.OpenCipher(encryption.NewMarkerEncryptor(), "test")
	if err != nil {
		t.Fatalf("failed to open test cipher: %v", err)
	}
	return c
}
