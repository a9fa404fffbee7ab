package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStaticProvider_Default(t *testing.T) {
	p := NewStaticProvider("")
	text, err := p.Context()
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if !strings.Contains(text, "MarketIndex") {
		t.Error("default description missing MarketIndex table")
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.txt")
	if err := os.WriteFile(path, []byte("CustomTable: a, b, c"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	text, _ := p.Context()
	if text != "CustomTable: a, b, c" {
		t.Errorf("Context = %q", text)
	}
}

func TestFromFile_Missing(t *testing.T) {
	if _, err := FromFile("/nonexistent/schema.txt"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
