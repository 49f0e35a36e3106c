package ingest

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rmitchellscott/tankobon/internal/security"
)

const ocrDirName = "_ocr"

// ImportRequest copies a chapter that already exists on the server's disk.
type ImportRequest struct {
	SourceHTMLPath string   `json:"sourceHtmlPath" binding:"required"`
	SeriesID       string   `json:"seriesId" binding:"required"`
	ChapterFolder  string   `json:"chapterFolder"`
	ChapterTitle   string   `json:"chapterTitle"`
	ChapterNumber  *float64 `json:"chapterNumber"`
}

// ImportResult is the response body of a successful import.
type ImportResult struct {
	WebPath   string           `json:"webPath"`
	ChapterID string           `json:"chapterId"`
	Metadata  *ChapterMetadata `json:"metadata"`
}

// Importer locates and copies a local chapter tree: the HTML viewer file, its
// same-stem .mokuro sidecar, the same-stem image directory and an _ocr
// directory if one sits beside the HTML file.
type Importer struct {
	// ImportRoot, when set, confines sources to this directory after symlink resolution.
	ImportRoot string
	workDir    func() (string, error)
}

// IsCanonicalUUID reports whether s is a UUID in the 8-4-4-4-12 hex form.
func IsCanonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ResolveSource turns the caller's path into an absolute path to an existing
// regular file. Relative paths resolve against the working directory.
func (im *Importer) ResolveSource(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", newError(KindMissingField, "import", "Missing sourceHtmlPath", nil)
	}
	if security.HasTraversalSegment(p) {
		return "", newError(KindPathTraversal, "import", "Path traversal is not allowed", nil)
	}
	if strings.ContainsRune(p, 0) {
		return "", newError(KindMalformedRequest, "import", "Invalid sourceHtmlPath", nil)
	}

	abs := filepath.Clean(p)
	if !filepath.IsAbs(abs) {
		getwd := os.Getwd
		if im != nil && im.workDir != nil {
			getwd = im.workDir
		}
		wd, err := getwd()
		if err != nil {
			return "", ioError("import", err)
		}
		abs = filepath.Join(wd, abs)
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return "", newError(KindNotFound, "import", "Source file not found", err)
	}
	if err != nil {
		return "", ioError("import", err)
	}
	if !info.Mode().IsRegular() {
		return "", newError(KindNotAFile, "import", "Source path is not a file", nil)
	}

	if im != nil && im.ImportRoot != "" {
		if _, err := security.EvalWithin(im.ImportRoot, abs); err != nil {
			if errors.Is(err, security.ErrOutsideBaseDir) {
				return "", newError(KindPathTraversal, "import", "Source path is outside the import root", err)
			}
			return "", ioError("import", err)
		}
	}
	return abs, nil
}

// DefaultFolder derives a chapter folder name from the HTML file name.
func DefaultFolder(htmlPath string) string {
	return Slugify(stem(filepath.Base(htmlPath))) + "_" + RandomToken(6)
}

// CopyTree copies the chapter rooted at htmlPath into st. Symlinks inside
// copied directories are skipped.
func (im *Importer) CopyTree(htmlPath string, st *Staging) error {
	srcDir := filepath.Dir(htmlPath)
	htmlName := filepath.Base(htmlPath)
	base := stem(htmlName)

	sidecar := filepath.Join(srcDir, base+MokuroExt)
	if info, err := os.Stat(sidecar); err == nil && info.Mode().IsRegular() {
		if err := copyInto(sidecar, st, base+MokuroExt); err != nil {
			return err
		}
	}

	for _, dir := range []string{ocrDirName, base} {
		src := filepath.Join(srcDir, dir)
		info, err := os.Stat(src)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := copyDir(src, st, dir); err != nil {
			return err
		}
	}

	return copyInto(htmlPath, st, htmlName)
}

func copyInto(src string, st *Staging, rel string) error {
	dest, err := security.NewSecurePath(st.Dir, rel)
	if err != nil {
		return newError(KindUnsafeArchiveEntry, "import", "Unsafe file name "+rel, err)
	}
	if err := copyFile(src, dest); err != nil {
		return ioError("import", err)
	}
	st.Record(dest.Rel())
	return nil
}

func copyDir(srcRoot string, st *Staging, prefix string) error {
	return filepath.WalkDir(srcRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return ioError("import", err)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(srcRoot, p)
		if err != nil {
			return ioError("import", err)
		}
		target := path.Join(prefix, filepath.ToSlash(rel))
		if d.IsDir() {
			dest, err := security.NewSecurePath(st.Dir, target)
			if err != nil {
				return newError(KindUnsafeArchiveEntry, "import", "Unsafe file name "+target, err)
			}
			if err := security.SafeMkdirAll(dest, 0755); err != nil {
				return ioError("import", err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyInto(p, st, target)
	})
}
