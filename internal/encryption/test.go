package encryption

import (
	"bytes"
	"fmt"
	"io"

	"custdoc/internal/docs"
)

// testMagic marks payloads written by TestEncryptor.
var testMagic = []byte("CDENC\x00\x00\x00")

// TestEncryptor is a deterministic stand-in for AgeEncryptor. It frames the
// plaintext with a fixed header so stored payloads differ from the input
// while staying reversible without keys. Unlock accepts only the passphrase
// given to Setup, or any passphrase if Setup was never called.
type TestEncryptor struct {
	passphrase string
}

var _ docs.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, io.MultiReader(bytes.NewReader(testMagic), r)); err != nil {
		return fmt.Errorf("framing data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (docs.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext removes the header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ docs.DecryptionContext = TestDecryptionContext{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testMagic) {
		return fmt.Errorf("payload was not written by TestEncryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
