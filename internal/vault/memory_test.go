package vault

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestMemoryVault_ConcurrentWriters(t *testing.T) {
	v := NewMemoryVault("shared")
	if err := v.ValidateSetup(); err != nil {
		t.Fatalf("ValidateSetup() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			body := fmt.Sprintf("feature-%02d", i)
			errs <- v.PutContent(fmt.Sprintf("c%02d", i), strings.NewReader(body), int64(len(body)))
		}()
		go func() {
			defer wg.Done()
			errs <- v.PutMetadata("survey", "project", strings.NewReader("{}"), 2, int64(i+1))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write error = %v", err)
		}
	}

	for i := 0; i < 20; i++ {
		var buf bytes.Buffer
		if err := v.GetContent(fmt.Sprintf("c%02d", i), &buf); err != nil {
			t.Fatalf("GetContent(c%02d) error = %v", i, err)
		}
		if want := fmt.Sprintf("feature-%02d", i); buf.String() != want {
			t.Errorf("content = %q, want %q", buf.String(), want)
		}
	}
	version, err := v.GetMetadataVersion("survey", "project")
	if err != nil || version < 1 || version > 20 {
		t.Errorf("GetMetadataVersion() = %d, %v", version, err)
	}
}

func TestMemoryVault_Isolated(t *testing.T) {
	a, b := NewMemoryVault("a"), NewMemoryVault("b")
	if err := a.PutContent("ab01", strings.NewReader("x"), 1); err != nil {
		t.Fatal(err)
	}
	if err := b.GetContent("ab01", &bytes.Buffer{}); err == nil {
		t.Error("content leaked between memory vaults")
	}
}
