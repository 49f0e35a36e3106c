package security

import (
	"fmt"
	"os"
)

// SafeCreate creates the file and any missing parent directories.
func SafeCreate(sp *SecurePath) (*os.File, error) {
	if sp == nil {
		return nil, fmt.Errorf("cannot create file with nil SecurePath")
	}
	if parent := sp.Dir(); parent != nil {
		if err := SafeMkdirAll(parent, 0755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(sp.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func SafeMkdirAll(sp *SecurePath, perm os.FileMode) error {
	if sp == nil {
		return fmt.Errorf("cannot create directory with nil SecurePath")
	}
	return os.MkdirAll(sp.path, perm)
}

func SafeStatExists(sp *SecurePath) bool {
	if sp == nil {
		return false
	}
	_, err := os.Lstat(sp.path)
	return err == nil
}
