package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFingerprintableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8082\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := fingerprintableConfig(path); got != path {
		t.Errorf("readable config should be fingerprinted, got %q", got)
	}
	if got := fingerprintableConfig(filepath.Join(dir, "missing.yaml")); got != "" {
		t.Errorf("missing config must not be fingerprinted, got %q", got)
	}
	if got := fingerprintableConfig(""); got != "" {
		t.Errorf("empty path must stay empty, got %q", got)
	}
}
