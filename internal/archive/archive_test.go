package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"alexandria/internal/core"
)

func TestStoreAndRead(t *testing.T) {
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new archive failed: %v", err)
	}

	fp := "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"
	rel, err := a.Store(fp, "text/html", []byte("<html>hi</html>"))
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if filepath.Ext(rel) != ".html" {
		t.Errorf("expected .html extension, got %q", rel)
	}

	body, err := a.Read(rel)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(body) != "<html>hi</html>" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestStoreIsIdempotentPerFingerprint(t *testing.T) {
	root := t.TempDir()
	a, err := New(root)
	if err != nil {
		t.Fatalf("new archive failed: %v", err)
	}

	fp := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	rel1, err := a.Store(fp, "text/plain", []byte("first"))
	if err != nil {
		t.Fatalf("first store failed: %v", err)
	}
	rel2, err := a.Store(fp, "text/plain", []byte("second write ignored"))
	if err != nil {
		t.Fatalf("second store failed: %v", err)
	}
	if rel1 != rel2 {
		t.Errorf("expected same path for same fingerprint, got %q and %q", rel1, rel2)
	}

	body, err := a.Read(rel1)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(body) != "first" {
		t.Errorf("existing archive file was overwritten: %q", body)
	}

	entries, err := os.ReadDir(filepath.Join(root, fp[:2]))
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one archive file, got %d", len(entries))
	}
}

func TestReadMissing(t *testing.T) {
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new archive failed: %v", err)
	}
	if _, err := a.Read("no/such.html"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new archive failed: %v", err)
	}
	if err := a.Remove("no/such.html"); err != nil {
		t.Errorf("expected nil for missing file, got %v", err)
	}
}
