package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rmitchellscott/tankobon/internal/logging"
)

// Mirror copies published chapter directories into a Backend under
// library/{seriesId}/{chapterId}/.
type Mirror struct {
	backend Backend
}

func NewMirror(backend Backend) *Mirror {
	return &Mirror{backend: backend}
}

// NewMirrorFromEnv returns nil when MIRROR_BACKEND is unset.
func NewMirrorFromEnv(ctx context.Context) (*Mirror, error) {
	backend, err := NewBackend(ctx, ConfigFromEnv())
	if err != nil || backend == nil {
		return nil, err
	}
	return NewMirror(backend), nil
}

// MirrorChapter uploads every regular file below dir. On failure the keys
// already written are removed so the mirror never holds half a chapter.
func (m *Mirror) MirrorChapter(ctx context.Context, seriesID, chapterID, dir string) error {
	var written []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := ChapterKey(seriesID, chapterID, filepath.ToSlash(rel))
		if err := m.putFile(ctx, key, p); err != nil {
			return err
		}
		written = append(written, key)
		return nil
	})
	if err != nil {
		if derr := deleteKeys(context.WithoutCancel(ctx), m.backend, written); derr != nil {
			logging.Logf("[STORAGE] WARNING: failed to remove partial mirror of %s/%s: %v", seriesID, chapterID, derr)
		}
		return fmt.Errorf("failed to mirror chapter %s/%s: %w", seriesID, chapterID, err)
	}

	logging.Logf("[STORAGE] Mirrored chapter %s/%s (%d objects)", seriesID, chapterID, len(written))
	return nil
}

// RemoveChapter deletes every mirrored object of a chapter.
func (m *Mirror) RemoveChapter(ctx context.Context, seriesID, chapterID string) error {
	prefix := ChapterPrefix(seriesID, chapterID)
	keys, err := m.backend.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list files with prefix %s: %w", prefix, err)
	}
	if err := deleteKeys(ctx, m.backend, keys); err != nil {
		return fmt.Errorf("failed to remove chapter %s/%s: %w", seriesID, chapterID, err)
	}
	logging.Logf("[STORAGE] Removed chapter %s/%s from mirror (%d objects)", seriesID, chapterID, len(keys))
	return nil
}

// descriptorFile is the per-chapter metadata file every published chapter carries.
const descriptorFile = "chapter-metadata.json"

// VerifyChapter reads the mirrored descriptor of a chapter and reports the
// files it lists that are missing from the backend. A missing descriptor
// returns ErrNotFound.
func (m *Mirror) VerifyChapter(ctx context.Context, seriesID, chapterID string) ([]string, error) {
	rc, err := m.backend.Get(ctx, ChapterKey(seriesID, chapterID, descriptorFile))
	if err != nil {
		return nil, err
	}
	var desc struct {
		ID    string   `json:"id"`
		Files []string `json:"files"`
	}
	err = json.NewDecoder(rc).Decode(&desc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode mirrored descriptor of %s/%s: %w", seriesID, chapterID, err)
	}
	if desc.ID != chapterID {
		return nil, fmt.Errorf("mirrored descriptor of %s/%s names chapter %q", seriesID, chapterID, desc.ID)
	}

	var missing []string
	for _, rel := range desc.Files {
		ok, err := m.backend.Exists(ctx, ChapterKey(seriesID, chapterID, rel))
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, rel)
		}
	}
	logging.Debugf("[STORAGE] Verified chapter %s/%s: %d of %d files missing", seriesID, chapterID, len(missing), len(desc.Files))
	return missing, nil
}

func (m *Mirror) putFile(ctx context.Context, key, path string) error {
	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		contentType = mt.String()
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.backend.Put(ctx, key, f, contentType)
}
