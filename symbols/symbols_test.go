package symbols

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	entries, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %+v", entries)
	}
}

func TestLoadParsesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.yaml")
	content := "symbols:\n  - symbol: AAPL\n    asset_class: stocks\n  - symbol: EURUSD\n    asset_class: forex\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 2 || entries[0].Symbol != "AAPL" || entries[1].Symbol != "EURUSD" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLoadRejectsInvalidAssetClass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.yaml")
	content := "symbols:\n  - symbol: AAPL\n    asset_class: bogus\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid asset_class")
	}
}
