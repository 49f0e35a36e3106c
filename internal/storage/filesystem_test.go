package storage

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
)

func TestFilesystemBackend(t *testing.T) {
	ctx := context.Background()
	fs := NewFilesystemBackend(t.TempDir())

	if err := fs.Put(ctx, "library/s/c/a.html", strings.NewReader("<html/>"), "text/html"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := fs.Put(ctx, "library/s/c/img/1.png", strings.NewReader("png"), ""); err != nil {
		t.Fatalf("Put nested: %v", err)
	}
	if err := fs.Put(ctx, "library/s/other/b.html", strings.NewReader("x"), ""); err != nil {
		t.Fatalf("Put other: %v", err)
	}

	rc, err := fs.Get(ctx, "library/s/c/a.html")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "<html/>" {
		t.Errorf("Get = %q", data)
	}

	keys, err := fs.List(ctx, "library/s/c/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(keys)
	if strings.Join(keys, ",") != "library/s/c/a.html,library/s/c/img/1.png" {
		t.Errorf("List = %v", keys)
	}

	ok, err := fs.Exists(ctx, "library/s/c/a.html")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	if err := fs.Delete(ctx, "library/s/c/a.html"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := fs.Exists(ctx, "library/s/c/a.html"); ok {
		t.Error("key still exists after Delete")
	}
	if err := fs.Delete(ctx, "library/s/c/a.html"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
	if _, err := fs.Get(ctx, "library/s/c/a.html"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestFilesystemBackendRejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	fs := NewFilesystemBackend(t.TempDir())
	for _, key := range []string{"../escape", "/abs", "a//b", "a/./b", ""} {
		if err := fs.Put(ctx, key, strings.NewReader("x"), ""); err == nil {
			t.Errorf("Put(%q) succeeded", key)
		}
	}
}

func TestFilesystemListMissingPrefix(t *testing.T) {
	keys, err := NewFilesystemBackend(t.TempDir()).List(context.Background(), "library/none/")
	if err != nil || len(keys) != 0 {
		t.Errorf("List = %v, %v", keys, err)
	}
}
