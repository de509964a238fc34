package fs

import (
	"bytes"
	"sort"
	"testing"

	"github.com/spf13/afero"
)

func TestBuildInventory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	files := map[string][]byte{
		"/proj/a.txt":                 []byte("hello"),
		"/proj/data/survey.gpkg":      bytes.Repeat([]byte{0x01}, 10000),
		"/proj/data/survey.gpkg-wal":  []byte("transient"),
		"/proj/.geosync/metadata.db":  []byte("meta"),
		"/proj/.geosync/base/x.gpkg":  []byte("base"),
		"/proj/photos/img.jpg":        []byte{0xff, 0xd8, 0xff},
		"/proj/photos/skip/notes.bak": []byte("bak"),
	}
	for p, data := range files {
		if err := afero.WriteFile(fsys, p, data, 0644); err != nil {
			t.Fatalf("writing %s: %v", p, err)
		}
	}

	entries, err := BuildInventory(fsys, "/proj", NewIgnoreMatcher([]string{"*.bak"}))
	if err != nil {
		t.Fatalf("BuildInventory() error = %v", err)
	}

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	want := []string{"a.txt", "data/survey.gpkg", "photos/img.jpg"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}

	for _, e := range entries {
		data := files["/proj/"+e.Path]
		if e.Size != int64(len(data)) {
			t.Errorf("%s size = %d, want %d", e.Path, e.Size, len(data))
		}
		if e.Checksum != ChecksumBytes(data) {
			t.Errorf("%s checksum = %s, want %s", e.Path, e.Checksum, ChecksumBytes(data))
		}
	}
}

func TestBuildInventory_MissingRootFails(t *testing.T) {
	t.Parallel()
	_, err := BuildInventory(afero.NewMemMapFs(), "/missing", nil)
	if err == nil {
		t.Fatal("BuildInventory() expected error for missing root")
	}
}

func TestChecksum_KnownValue(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/f", []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}

	sum, size, err := Checksum(fsys, "/f")
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if sum != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Errorf("Checksum() = %s, want SHA-1 of abc", sum)
	}
	if size != 3 {
		t.Errorf("size = %d, want 3", size)
	}
}

func TestHashingReader(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte("xyz"), 5000)
	hr := NewHashingReader(bytes.NewReader(data))

	var out bytes.Buffer
	if _, err := out.ReadFrom(hr); err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if hr.Sum() != ChecksumBytes(data) {
		t.Errorf("Sum() = %s, want %s", hr.Sum(), ChecksumBytes(data))
	}
	if hr.Size() != int64(len(data)) {
		t.Errorf("Size() = %d, want %d", hr.Size(), len(data))
	}
}
