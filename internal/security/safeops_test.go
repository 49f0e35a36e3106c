package security

import (
	"os"
	"testing"
)

func TestSafeOperations(t *testing.T) {
	root := t.TempDir()

	t.Run("SafeCreate creates parents", func(t *testing.T) {
		sp, err := NewSecurePath(root, "images/sub/1.jpg")
		if err != nil {
			t.Fatalf("NewSecurePath: %v", err)
		}
		f, err := SafeCreate(sp)
		if err != nil {
			t.Fatalf("SafeCreate() error = %v", err)
		}
		f.Close()
		if !SafeStatExists(sp) {
			t.Error("file should exist after SafeCreate")
		}
	})

	t.Run("SafeMkdirAll", func(t *testing.T) {
		sp, err := NewSecurePath(root, "newdir/subdir")
		if err != nil {
			t.Fatalf("NewSecurePath: %v", err)
		}
		if err := SafeMkdirAll(sp, 0755); err != nil {
			t.Fatalf("SafeMkdirAll() error = %v", err)
		}
		info, err := os.Stat(sp.String())
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory at %s", sp)
		}
	})

	t.Run("nil paths", func(t *testing.T) {
		if _, err := SafeCreate(nil); err == nil {
			t.Error("SafeCreate(nil) should fail")
		}
		if err := SafeMkdirAll(nil, 0755); err == nil {
			t.Error("SafeMkdirAll(nil) should fail")
		}
		if SafeStatExists(nil) {
			t.Error("SafeStatExists(nil) should be false")
		}
	})
}
