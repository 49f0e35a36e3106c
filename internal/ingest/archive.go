package ingest

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rmitchellscott/tankobon/internal/security"
)

// DefaultMaxExtractBytes bounds the total decompressed size of one upload.
const DefaultMaxExtractBytes int64 = 4 << 30

// Extractor materializes ZIP archives under a destination directory.
type Extractor struct {
	// MaxBytes is the decompressed-size budget shared by every archive
	// extracted through this Extractor.
	MaxBytes int64
	used     int64
}

func (x *Extractor) remaining() int64 {
	max := x.MaxBytes
	if max <= 0 {
		max = DefaultMaxExtractBytes
	}
	return max - x.used
}

// ExtractFile extracts the archive at archivePath into destDir.
func (x *Extractor) ExtractFile(archivePath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, openArchiveError(err)
	}
	defer zr.Close()
	return x.extract(&zr.Reader, destDir)
}

// Extract extracts an in-memory archive into destDir.
func (x *Extractor) Extract(data []byte, destDir string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, openArchiveError(err)
	}
	return x.extract(zr, destDir)
}

func openArchiveError(err error) error {
	if errors.Is(err, zip.ErrInsecurePath) {
		return newError(KindUnsafeArchiveEntry, "extract", "Archive contains unsafe entry names", err)
	}
	return newError(KindMalformedRequest, "extract", "Invalid ZIP archive", err)
}

type plannedEntry struct {
	file *zip.File
	dest *security.SecurePath
}

// extract checks every entry before writing any of them, so a hostile name
// anywhere in the archive leaves destDir untouched. Returns the slash
// separated relative paths written, in archive order.
func (x *Extractor) extract(zr *zip.Reader, destDir string) ([]string, error) {
	var (
		plan     []plannedEntry
		declared uint64
		layout   = newTreeLayout(destDir)
	)
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		if strings.HasSuffix(name, "/") || f.FileInfo().IsDir() {
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			return nil, newError(KindUnsafeArchiveEntry, "extract",
				fmt.Sprintf("Unsafe archive entry %q: symbolic links are not allowed", f.Name), nil)
		}
		dest, err := security.NewSecurePath(destDir, name)
		if err != nil {
			return nil, newError(KindUnsafeArchiveEntry, "extract",
				fmt.Sprintf("Unsafe archive entry %q", f.Name), err)
		}
		if err := layout.add(dest); err != nil {
			return nil, newError(KindUnsafeArchiveEntry, "extract",
				fmt.Sprintf("Archive entry %q clashes with another entry", f.Name), err)
		}
		declared += f.UncompressedSize64
		plan = append(plan, plannedEntry{file: f, dest: dest})
	}
	if declared > uint64(x.remaining()) {
		return nil, newError(KindSizeLimitExceeded, "extract", "Archive expands beyond the allowed size", nil)
	}

	written := make([]string, 0, len(plan))
	seen := make(map[string]bool, len(plan))
	for _, entry := range plan {
		if err := x.writeEntry(entry); err != nil {
			return nil, err
		}
		rel := entry.dest.Rel()
		if !seen[rel] {
			seen[rel] = true
			written = append(written, rel)
		}
	}
	return written, nil
}

// treeLayout tracks which relative paths an archive uses as files and which
// as directories, including what earlier parts already wrote under root.
type treeLayout struct {
	root  string
	files map[string]bool
	dirs  map[string]bool
}

var errLayoutClash = errors.New("path is used as both a file and a directory")

func newTreeLayout(root string) *treeLayout {
	return &treeLayout{root: root, files: make(map[string]bool), dirs: make(map[string]bool)}
}

func (l *treeLayout) add(dest *security.SecurePath) error {
	rel := dest.Rel()
	if l.dirs[rel] {
		return errLayoutClash
	}
	if info, err := os.Lstat(dest.String()); err == nil && info.IsDir() {
		return errLayoutClash
	}
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if l.files[dir] {
			return errLayoutClash
		}
		if !l.dirs[dir] {
			if info, err := os.Lstat(filepath.Join(l.root, filepath.FromSlash(dir))); err == nil && !info.IsDir() {
				return errLayoutClash
			}
		}
		l.dirs[dir] = true
	}
	l.files[rel] = true
	return nil
}

func (x *Extractor) writeEntry(entry plannedEntry) error {
	rc, err := entry.file.Open()
	if err != nil {
		return newError(KindMalformedRequest, "extract", fmt.Sprintf("Cannot read archive entry %q", entry.file.Name), err)
	}
	defer rc.Close()

	out, err := security.SafeCreate(entry.dest)
	if err != nil {
		return ioError("extract", err)
	}

	budget := x.remaining()
	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	x.used += n
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) {
			return newError(KindMalformedRequest, "extract", "Corrupt ZIP archive", err)
		}
		return ioError("extract", err)
	}
	if n > budget {
		return newError(KindSizeLimitExceeded, "extract", "Archive expands beyond the allowed size", nil)
	}
	return nil
}

// IsArchiveName reports whether filename names a ZIP archive.
func IsArchiveName(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".zip")
}
