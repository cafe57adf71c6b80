package codecatalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAllowedReportsKnownCodes(t *testing.T) {
	c := New([]uint16{100, 200, 300})

	if !c.Allowed(200) {
		t.Fatal("expected 200 to be allowed")
	}
	if c.Allowed(999) {
		t.Fatal("expected 999 to be rejected")
	}
}

func TestReloadReplacesAllowList(t *testing.T) {
	c := New([]uint16{100})

	c.Reload([]uint16{200})

	if c.Allowed(100) {
		t.Fatal("expected 100 to no longer be allowed after Reload")
	}
	if !c.Allowed(200) {
		t.Fatal("expected 200 to be allowed after Reload")
	}
}

func TestLoadFileParsesFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codes.json")

	if err := os.WriteFile(path, []byte(`[100,200,300]`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if !c.Allowed(300) {
		t.Fatal("expected 300 to be allowed from loaded fixture")
	}
}

func TestLoadFileRejectsMissingFile(t *testing.T) {
	if _, err := LoadFile("/nonexistent/codes.json"); err == nil {
		t.Fatal("expected error for a missing fixture file")
	}
}
