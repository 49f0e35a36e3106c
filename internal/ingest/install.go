package ingest

import (
	"fmt"
	"io"
	"os"

	"github.com/rmitchellscott/tankobon/internal/security"
)

// InstallFile places a single non-archive upload into destDir under filename.
// The filename must be a plain entry name; anything that would resolve
// outside destDir is rejected. The source is moved when possible.
func InstallFile(srcPath, destDir, filename string) (string, error) {
	name, err := security.ValidatePathSegment(filename)
	if err != nil {
		return "", newError(KindUnsafeArchiveEntry, "install", fmt.Sprintf("Unsafe file name %q", filename), err)
	}
	dest, err := security.NewSecurePath(destDir, name)
	if err != nil {
		return "", newError(KindUnsafeArchiveEntry, "install", fmt.Sprintf("Unsafe file name %q", filename), err)
	}

	if err := os.Rename(srcPath, dest.String()); err == nil {
		return dest.Rel(), nil
	}

	if err := copyFile(srcPath, dest); err != nil {
		return "", ioError("install", err)
	}
	return dest.Rel(), nil
}

func copyFile(srcPath string, dest *security.SecurePath) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := security.SafeCreate(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
