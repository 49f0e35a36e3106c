package storage

import (
	"fmt"
	"path/filepath"

	"github.com/rmitchellscott/tankobon/internal/config"
)

// Config selects and configures the mirror backend.
type Config struct {
	Backend          string // "", "filesystem" or "s3"
	Dir              string
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3AccessKeyID    string
	S3SecretKey      string
	S3ForcePathStyle bool
}

// ConfigFromEnv reads MIRROR_BACKEND, MIRROR_DIR and the S3_* variables.
func ConfigFromEnv() Config {
	return Config{
		Backend:          config.Get("MIRROR_BACKEND", ""),
		Dir:              config.Get("MIRROR_DIR", filepath.Join(config.DataDir(), "mirror")),
		S3Bucket:         config.Get("S3_BUCKET", ""),
		S3Region:         config.Get("S3_REGION", "us-east-1"),
		S3Endpoint:       config.Get("S3_ENDPOINT", ""),
		S3AccessKeyID:    config.Get("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:      config.Get("S3_SECRET_ACCESS_KEY", ""),
		S3ForcePathStyle: config.GetBool("S3_FORCE_PATH_STYLE", false),
	}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case "":
		return nil
	case "filesystem":
		if c.Dir == "" {
			return fmt.Errorf("MIRROR_DIR is required for filesystem mirror")
		}
		return nil
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for S3 mirror")
		}
		if c.S3Region == "" {
			return fmt.Errorf("S3_REGION is required for S3 mirror")
		}
		return nil
	default:
		return fmt.Errorf("unknown mirror backend: %s (valid options: filesystem, s3)", c.Backend)
	}
}
