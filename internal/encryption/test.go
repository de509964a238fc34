package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"geosync/internal/server"
)

// testMagic starts every object sealed by TestEncryptor.
var testMagic = []byte("GSTEST1\n")

const testMask = 0x5a

var errNotTestSealed = errors.New("object was not sealed by the test encryptor")

// TestEncryptor is a reversible stand-in for age in tests and in the "test"
// encryption type. It prefixes testMagic and masks every byte, so sealed
// objects have different checksums and never contain the plaintext.
type TestEncryptor struct{}

var _ server.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor { return &TestEncryptor{} }

func (*TestEncryptor) Setup(string) error { return nil }

func (*TestEncryptor) IsConfigured() bool { return true }

func (*TestEncryptor) Unlock(string) (server.DecryptionContext, error) {
	return testDecrypter{}, nil
}

func (*TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return mask(r, w)
}

type testDecrypter struct{}

func (testDecrypter) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(testMagic))
	if err != nil || !bytes.Equal(head, testMagic) {
		return errNotTestSealed
	}
	br.Discard(len(testMagic))
	return mask(br, w)
}

func mask(r io.Reader, w io.Writer) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for i := range buf[:n] {
				buf[i] ^= testMask
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing data: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading data: %w", err)
		}
	}
}
