package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/spf13/afero"

	"geosync/internal/config"
	"geosync/internal/server"
)

// ErrKeyMismatch is returned when the unlocked private key does not belong to
// the stored public key.
var ErrKeyMismatch = errors.New("private key does not match public key")

// AgeEncryptor encrypts vault objects to an X25519 recipient. The recipient
// is kept in plaintext next to an armored copy of the identity that is itself
// sealed with the server passphrase (age scrypt).
type AgeEncryptor struct {
	fsys    afero.Fs
	pubPath string
	keyPath string

	mu        sync.Mutex
	recipient age.Recipient
}

var _ server.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor keeps its keys on the local disk.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return NewAgeEncryptorFs(afero.NewOsFs(), cfg)
}

// NewAgeEncryptorFs keeps its keys on fsys.
func NewAgeEncryptorFs(fsys afero.Fs, cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		fsys:    fsys,
		pubPath: cfg.PublicKeyPath,
		keyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a fresh key pair and overwrites both key files.
func (e *AgeEncryptor) Setup(passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	sealed, err := sealIdentity(identity, passphrase)
	if err != nil {
		return err
	}
	pub := identity.Recipient().String() + "\n"

	for _, f := range []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{e.keyPath, sealed, 0600},
		{e.pubPath, []byte(pub), 0644},
	} {
		if err := e.fsys.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
		if err := afero.WriteFile(e.fsys, f.path, f.data, f.mode); err != nil {
			return fmt.Errorf("writing %s: %w", f.path, err)
		}
	}

	e.mu.Lock()
	e.recipient = identity.Recipient()
	e.mu.Unlock()
	return nil
}

// sealIdentity encrypts the identity to the passphrase and armors the result.
func sealIdentity(identity *age.X25519Identity, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("armoring private key: %w", err)
	}
	return buf.Bytes(), nil
}

// Encrypt streams r to w encrypted for the stored recipient.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.publicKey()
	if err != nil {
		return err
	}
	ew, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(ew, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	return ew.Close()
}

// Unlock opens the sealed identity with passphrase. A wrong passphrase and a
// key file that belongs to another public key are both errors.
func (e *AgeEncryptor) Unlock(passphrase string) (server.DecryptionContext, error) {
	sealed, err := afero.ReadFile(e.fsys, e.keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(sealed)), scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	recipient, err := e.publicKey()
	if err != nil {
		return nil, err
	}
	if pub, ok := recipient.(*age.X25519Recipient); ok && pub.String() != identity.Recipient().String() {
		return nil, ErrKeyMismatch
	}
	return &AgeDecryptionContext{identity: identity}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.pubPath, e.keyPath} {
		if ok, err := afero.Exists(e.fsys, p); err != nil || !ok {
			return false
		}
	}
	return true
}

// publicKey returns the recipient, reading the public key file on first use.
func (e *AgeEncryptor) publicKey() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}
	raw, err := afero.ReadFile(e.fsys, e.pubPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, errors.New("public key file is empty")
	}
	e.recipient = recipients[0]
	return e.recipient, nil
}

// AgeDecryptionContext holds an unlocked identity in memory only.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ server.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt streams the plaintext of an age object from r to w.
func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	dr, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, dr); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
