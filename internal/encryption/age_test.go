package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"github.com/spf13/afero"

	"geosync/internal/config"
)

var testKeyConfig = config.EncryptionConfig{
	Type:           "age",
	PublicKeyPath:  "/keys/geosync.pub",
	PrivateKeyPath: "/keys/geosync.key",
}

func TestAgeEncryptor_SetupWritesKeys(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	e := NewAgeEncryptorFs(fsys, testKeyConfig)

	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := e.Setup("field-crew"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup")
	}

	pub, err := afero.ReadFile(fsys, testKeyConfig.PublicKeyPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(pub), "age1") {
		t.Errorf("public key = %q, want age1 recipient", pub)
	}
	sealed, err := afero.ReadFile(fsys, testKeyConfig.PrivateKeyPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(sealed), "-----BEGIN AGE ENCRYPTED FILE-----") {
		t.Errorf("private key file is not armored")
	}
	if bytes.Contains(sealed, []byte("AGE-SECRET-KEY")) {
		t.Error("private key stored in plaintext")
	}
}

func TestAgeEncryptor_RoundTrip(t *testing.T) {
	t.Parallel()
	e := NewAgeEncryptorFs(afero.NewMemMapFs(), testKeyConfig)
	if err := e.Setup("field-crew"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	dec, err := e.Unlock("field-crew")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	inputs := map[string][]byte{
		"text":   []byte("parcel boundaries"),
		"empty":  {},
		"binary": {0x00, 0x47, 0x50, 0xff},
		"large":  bytes.Repeat([]byte("wkb"), 50000),
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			var sealed bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(input), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(input) > 0 && bytes.Contains(sealed.Bytes(), input) {
				t.Error("ciphertext contains plaintext")
			}
			var plain bytes.Buffer
			if err := dec.Decrypt(&sealed, &plain); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(plain.Bytes(), input) {
				t.Errorf("round trip returned %d bytes, want %d", plain.Len(), len(input))
			}
		})
	}
}

func TestAgeEncryptor_KeysOnDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "geosync.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "geosync.key"),
	}
	if err := NewAgeEncryptor(cfg).Setup("pass"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	// A second process reads the keys back.
	e := NewAgeEncryptor(cfg)
	if !e.IsConfigured() {
		t.Fatal("IsConfigured() = false for existing keys")
	}
	var sealed bytes.Buffer
	if err := e.Encrypt(strings.NewReader("x"), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := e.Unlock("pass"); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
}

func TestAgeEncryptor_UnlockErrors(t *testing.T) {
	t.Parallel()

	t.Run("before setup", func(t *testing.T) {
		e := NewAgeEncryptorFs(afero.NewMemMapFs(), testKeyConfig)
		if _, err := e.Unlock("pass"); err == nil {
			t.Error("Unlock() expected error without keys")
		}
		if err := e.Encrypt(strings.NewReader("x"), &bytes.Buffer{}); err == nil {
			t.Error("Encrypt() expected error without keys")
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		e := NewAgeEncryptorFs(afero.NewMemMapFs(), testKeyConfig)
		if err := e.Setup("right"); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Unlock("wrong"); err == nil {
			t.Error("Unlock() expected error for wrong passphrase")
		}
	})

	t.Run("public key replaced", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		if err := NewAgeEncryptorFs(fsys, testKeyConfig).Setup("pass"); err != nil {
			t.Fatal(err)
		}
		other, err := age.GenerateX25519Identity()
		if err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fsys, testKeyConfig.PublicKeyPath, []byte(other.Recipient().String()+"\n"), 0644); err != nil {
			t.Fatal(err)
		}

		_, err = NewAgeEncryptorFs(fsys, testKeyConfig).Unlock("pass")
		if !errors.Is(err, ErrKeyMismatch) {
			t.Errorf("Unlock() error = %v, want ErrKeyMismatch", err)
		}
	})
}
