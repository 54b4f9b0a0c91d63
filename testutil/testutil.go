// Package testutil provides shared test utilities for raid6 tests.
package testutil

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
)

// TempDir creates a temporary directory for testing and returns a cleanup function.
func TempDir(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "raid6-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	return dir, func() {
		_ = os.RemoveAll(dir)
	}
}

// TempFile creates a temporary file with the given content and returns its path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// RandomBytes returns n random bytes.
func RandomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("failed to read random bytes: %v", err)
	}
	return b
}

// NonZeroBytes returns n random bytes none of which is zero, for payloads
// whose trailing bytes must not look like padding.
func NonZeroBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := RandomBytes(t, n)
	for i := range b {
		if b[i] == 0 {
			b[i] = byte(i%255) + 1
		}
	}
	return b
}
