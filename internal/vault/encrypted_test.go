package vault

import (
	"bytes"
	"strings"
	"testing"

	"geosync/internal/encryption"
)

func newTestEncryptedVault(t *testing.T) (*EncryptedVault, *FileSystemVault) {
	t.Helper()
	inner := NewMemoryVault("inner")
	enc := encryption.NewTestEncryptor()
	dec, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	return NewEncryptedVault(inner, enc, dec), inner
}

func TestEncryptedVault_RoundTrip(t *testing.T) {
	v, inner := newTestEncryptedVault(t)

	data := "plain text body"
	if err := v.PutContent("abc", strings.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}

	var raw bytes.Buffer
	if err := inner.GetContent("abc", &raw); err != nil {
		t.Fatalf("inner GetContent() error = %v", err)
	}
	if raw.String() == data {
		t.Error("content stored in plaintext")
	}

	var buf bytes.Buffer
	if err := v.GetContent("abc", &buf); err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if buf.String() != data {
		t.Errorf("content = %q, want %q", buf.String(), data)
	}
}

func TestEncryptedVault_Metadata(t *testing.T) {
	v, _ := newTestEncryptedVault(t)

	data := `{"id":"p"}`
	if err := v.PutMetadata("p", "project", strings.NewReader(data), int64(len(data)), 4); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}
	version, err := v.GetMetadataVersion("p", "project")
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	if version != 4 {
		t.Errorf("version = %d, want 4", version)
	}

	var buf bytes.Buffer
	if err := v.GetMetadata("p", "project", &buf); err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if buf.String() != data {
		t.Errorf("metadata = %q, want %q", buf.String(), data)
	}
}

func TestEncryptedVault_Errors(t *testing.T) {
	v, _ := newTestEncryptedVault(t)

	var buf bytes.Buffer
	err := v.GetContent("missing", &buf)
	if err == nil || !strings.Contains(err.Error(), "content not found") {
		t.Errorf("GetContent(missing) error = %v, want content not found", err)
	}

	if err := v.PutContent("abc", strings.NewReader("abc"), 5); err == nil {
		t.Error("PutContent() expected size mismatch error")
	}
}
