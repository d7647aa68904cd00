package testutil

import (
	"custdoc/internal/encryption"
)

// NewTestEncryptor creates a keyless, reversible encryptor for tests.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
