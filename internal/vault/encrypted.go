package vault

import (
	"errors"
	"fmt"
	"io"
	"os"

	"geosync/internal/server"
)

// EncryptedVault wraps a Vault and encrypts every object at rest. Objects
// keep the keys of their plaintext; sizes passed to the inner vault are the
// ciphertext sizes.
type EncryptedVault struct {
	inner server.Vault
	enc   server.Encryptor
	dec   server.DecryptionContext
}

var _ server.Vault = (*EncryptedVault)(nil)

// NewEncryptedVault wraps inner. dec must come from enc.Unlock.
func NewEncryptedVault(inner server.Vault, enc server.Encryptor, dec server.DecryptionContext) *EncryptedVault {
	return &EncryptedVault{inner: inner, enc: enc, dec: dec}
}

func (v *EncryptedVault) PutContent(checksum string, r io.Reader, size int64) error {
	return v.sealed(r, size, func(c io.Reader, n int64) error {
		return v.inner.PutContent(checksum, c, n)
	})
}

func (v *EncryptedVault) GetContent(checksum string, w io.Writer) error {
	return v.opened(w, func(c io.Writer) error {
		return v.inner.GetContent(checksum, c)
	})
}

func (v *EncryptedVault) PutMetadata(scope string, name string, r io.Reader, size int64, version int64) error {
	return v.sealed(r, size, func(c io.Reader, n int64) error {
		return v.inner.PutMetadata(scope, name, c, n, version)
	})
}

func (v *EncryptedVault) GetMetadata(scope string, name string, w io.Writer) error {
	return v.opened(w, func(c io.Writer) error {
		return v.inner.GetMetadata(scope, name, c)
	})
}

func (v *EncryptedVault) GetMetadataVersion(scope string, name string) (int64, error) {
	return v.inner.GetMetadataVersion(scope, name)
}

func (v *EncryptedVault) ValidateSetup() error {
	if !v.enc.IsConfigured() {
		return fmt.Errorf("encryption keys are not configured")
	}
	return v.inner.ValidateSetup()
}

// sealed encrypts r into a temp file and hands the ciphertext to put.
func (v *EncryptedVault) sealed(r io.Reader, size int64, put func(io.Reader, int64) error) error {
	tmp, err := os.CreateTemp("", "geosync-seal-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	counter := &countingReader{r: r}
	if err := v.enc.Encrypt(counter, tmp); err != nil {
		return fmt.Errorf("encrypting: %w", err)
	}
	if counter.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	n, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return put(tmp, n)
}

var errDecryptStopped = errors.New("decryption stopped reading")

// opened streams ciphertext from get through the decryption context into w.
func (v *EncryptedVault) opened(w io.Writer, get func(io.Writer) error) error {
	pr, pw := io.Pipe()
	getErr := make(chan error, 1)
	go func() {
		err := get(pw)
		pw.CloseWithError(err)
		getErr <- err
	}()

	decErr := v.dec.Decrypt(pr, w)
	pr.CloseWithError(errDecryptStopped)
	if err := <-getErr; err != nil && !errors.Is(err, errDecryptStopped) {
		return err
	}
	if decErr != nil {
		return fmt.Errorf("decrypting: %w", decErr)
	}
	return nil
}
