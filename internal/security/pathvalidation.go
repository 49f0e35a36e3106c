package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal  = errors.New("path contains directory traversal sequences")
	ErrAbsolutePath   = errors.New("absolute paths are not allowed")
	ErrEmptyPath      = errors.New("path cannot be empty")
	ErrInvalidPath    = errors.New("invalid path")
	ErrOutsideBaseDir = errors.New("path is outside allowed base directory")
	ErrHiddenName     = errors.New("name cannot start with a dot")
)

// HasTraversalSegment reports whether any element of path, split on either
// separator, is "..". Names such as "vol..2.html" are not traversal.
func HasTraversalSegment(path string) bool {
	for _, part := range strings.FieldsFunc(path, isSeparator) {
		if part == ".." {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

func isAbsolute(path string) bool {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") || filepath.IsAbs(path) {
		return true
	}
	// drive-letter paths are absolute regardless of the host OS
	return len(path) >= 2 && path[1] == ':'
}

// ResolveWithin canonicalizes rel against base and returns the absolute result.
// Backslashes are treated as separators. The result must be a strict
// descendant of base; rel may not be absolute or contain ".." segments.
func ResolveWithin(base, rel string) (string, error) {
	if rel == "" {
		return "", ErrEmptyPath
	}
	if strings.ContainsRune(rel, 0) {
		return "", ErrInvalidPath
	}
	if isAbsolute(rel) {
		return "", ErrAbsolutePath
	}
	if HasTraversalSegment(rel) {
		return "", ErrPathTraversal
	}
	if base == "" {
		return "", fmt.Errorf("base directory cannot be empty")
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	normalized := strings.ReplaceAll(rel, "\\", "/")
	full := filepath.Join(absBase, filepath.FromSlash(normalized))
	if full == absBase {
		return "", ErrInvalidPath
	}
	if !strings.HasPrefix(full, absBase+string(filepath.Separator)) {
		return "", ErrOutsideBaseDir
	}
	return full, nil
}

// EvalWithin resolves symlinks in both root and path and verifies that path
// still lies inside root. It returns the resolved path.
func EvalWithin(root, path string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	realRoot, _ = filepath.Abs(realRoot)
	realPath, _ = filepath.Abs(realPath)
	if realPath != realRoot && !strings.HasPrefix(realPath, realRoot+string(filepath.Separator)) {
		return "", ErrOutsideBaseDir
	}
	return realPath, nil
}

// ValidateStorageKey checks an object-storage key: relative, slash separated,
// no empty, "." or ".." components.
func ValidateStorageKey(key string) error {
	if key == "" {
		return ErrEmptyPath
	}
	if strings.Contains(key, "\x00") {
		return ErrInvalidPath
	}
	if isAbsolute(key) {
		return ErrAbsolutePath
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrPathTraversal
		}
	}
	return nil
}

// ValidatePathSegment trims name and checks that it can be used as a single
// directory entry name: no separators, not "." or "..", no NUL bytes.
func ValidatePathSegment(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyPath
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: name cannot contain path separators", ErrInvalidPath)
	}
	if name == "." || name == ".." {
		return "", ErrPathTraversal
	}
	if strings.Contains(name, "\x00") {
		return "", ErrInvalidPath
	}
	return name, nil
}

// ValidateLibraryName is ValidatePathSegment for series and chapter folders.
// Dot-leading names are reserved for staging and lock files, which the
// library never serves.
func ValidateLibraryName(name string) (string, error) {
	name, err := ValidatePathSegment(name)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(name, ".") {
		return "", ErrHiddenName
	}
	return name, nil
}
