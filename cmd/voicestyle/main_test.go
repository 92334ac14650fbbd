package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeStyle(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	body := `{"style_ttl":{"dims":[1,2,2],"data":[[[0.1,0.2],[0.3,0.4]]]},"style_dp":{"dims":[1,1,2],"data":[[[0.5,0.6]]]}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write style: %v", err)
	}
	return path
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	a := writeStyle(t, dir, "F1.json")
	b := writeStyle(t, dir, "M1.json")

	summary, err := runValidate([]string{a, b})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(summary, "batch=2") || !strings.Contains(summary, "ttl=[2 2 2]") {
		t.Fatalf("unexpected summary: %s", summary)
	}
}

func TestRunValidateMissingFile(t *testing.T) {
	if _, err := runValidate([]string{filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
