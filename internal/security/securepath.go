package security

import (
	"fmt"
	"path/filepath"
)

// SecurePath is a filesystem path that has been verified to lie inside a root
// directory. Only ResolveWithin-checked paths can be wrapped.
type SecurePath struct {
	root string
	path string
}

// NewSecurePath resolves rel under root.
func NewSecurePath(root, rel string) (*SecurePath, error) {
	full, err := ResolveWithin(root, rel)
	if err != nil {
		return nil, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &SecurePath{root: absRoot, path: full}, nil
}

func (sp *SecurePath) String() string {
	if sp == nil {
		return ""
	}
	return sp.path
}

// Rel returns the slash separated path relative to the root.
func (sp *SecurePath) Rel() string {
	if sp == nil {
		return ""
	}
	rel, err := filepath.Rel(sp.root, sp.path)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Dir returns the parent directory, or nil when the parent is the root itself.
func (sp *SecurePath) Dir() *SecurePath {
	if sp == nil {
		return nil
	}
	parent := filepath.Dir(sp.path)
	if parent == sp.root {
		return nil
	}
	return &SecurePath{root: sp.root, path: parent}
}

// Join resolves rel below this path, keeping the original root as the bound.
func (sp *SecurePath) Join(rel string) (*SecurePath, error) {
	if sp == nil {
		return nil, fmt.Errorf("cannot join onto nil SecurePath")
	}
	full, err := ResolveWithin(sp.path, rel)
	if err != nil {
		return nil, err
	}
	return &SecurePath{root: sp.root, path: full}, nil
}
