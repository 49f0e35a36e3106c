package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInstallFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "spool")
	if err := os.WriteFile(src, []byte("<html/>"), 0600); err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()

	name, err := InstallFile(src, dest, "chapter.html")
	if err != nil {
		t.Fatalf("InstallFile: %v", err)
	}
	if name != "chapter.html" {
		t.Errorf("name = %q", name)
	}
	data, err := os.ReadFile(filepath.Join(dest, "chapter.html"))
	if err != nil || string(data) != "<html/>" {
		t.Errorf("installed content = %q, %v", data, err)
	}
}

func TestInstallFileRejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"../evil.html", "a/b.html", `a\b.html`, "..", "", "/abs.html"} {
		t.Run(name, func(t *testing.T) {
			parent := t.TempDir()
			src := filepath.Join(parent, "spool")
			if err := os.WriteFile(src, []byte("x"), 0600); err != nil {
				t.Fatal(err)
			}
			dest := filepath.Join(parent, "dest")
			if err := os.Mkdir(dest, 0755); err != nil {
				t.Fatal(err)
			}
			_, err := InstallFile(src, dest, name)
			assertKind(t, err, KindUnsafeArchiveEntry)
			if got := listTree(t, parent); len(got) != 1 || got[0] != "spool" {
				t.Errorf("unexpected files: %v", got)
			}
		})
	}
}
