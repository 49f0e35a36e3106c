package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rmitchellscott/tankobon/internal/logging"
	"github.com/rmitchellscott/tankobon/internal/security"
)

const (
	// MetadataFile is the descriptor written into every published chapter.
	MetadataFile = "chapter-metadata.json"

	stagingDirName  = ".staging"
	publishLockName = ".publish.lock"
	maxIDAttempts   = 5
	lockRetryDelay  = 50 * time.Millisecond
)

// ChapterMetadata is the authoritative descriptor of a published chapter.
type ChapterMetadata struct {
	ID            string    `json:"id"`
	SeriesID      string    `json:"seriesId"`
	Title         string    `json:"title"`
	ChapterNumber *float64  `json:"chapterNumber,omitempty"`
	HTMLFile      string    `json:"htmlFile"`
	MokuroFile    string    `json:"mokuroFile"`
	ImageDir      string    `json:"imageDir,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Files         []string  `json:"files"`
}

// PublishRequest carries the caller-supplied chapter attributes.
type PublishRequest struct {
	SeriesID      string
	Title         string
	ChapterNumber *float64
	// ChapterID pins the directory name; empty means generate one.
	ChapterID string
}

// PublishResult is returned once a chapter directory is in place.
type PublishResult struct {
	ChapterID string           `json:"chapterId"`
	Files     []string         `json:"files"`
	Metadata  *ChapterMetadata `json:"metadata"`
	Dir       string           `json:"-"`
	WebPath   string           `json:"-"`
}

// Publisher turns a populated staging directory into a published chapter
// under root/{seriesId}/{chapterId}.
type Publisher struct {
	root      string
	webPrefix string
	now       func() time.Time
}

func NewPublisher(root, webPrefix string) *Publisher {
	if webPrefix == "" {
		webPrefix = "/library"
	}
	return &Publisher{root: root, webPrefix: webPrefix, now: time.Now}
}

// Staging is a scratch directory on the same filesystem as the library root.
// Everything an ingestion writes goes here first.
type Staging struct {
	Dir       string
	files     []string
	seen      map[string]bool
	published bool
}

// NewStaging creates an empty staging directory.
func (p *Publisher) NewStaging() (*Staging, error) {
	base := filepath.Join(p.root, stagingDirName)
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, ioError("stage", err)
	}
	dir, err := os.MkdirTemp(base, "chapter-*")
	if err != nil {
		return nil, ioError("stage", err)
	}
	return &Staging{Dir: dir, seen: make(map[string]bool)}, nil
}

// Record appends relative paths to the chapter's file list, keeping first-seen order.
// A top-level descriptor is left out: Publish always replaces it.
func (s *Staging) Record(paths ...string) {
	for _, p := range paths {
		if s.seen[p] || p == MetadataFile {
			continue
		}
		s.seen[p] = true
		s.files = append(s.files, p)
	}
}

// Files returns the recorded relative paths.
func (s *Staging) Files() []string {
	return append([]string(nil), s.files...)
}

// Discard removes the staging directory unless it has been published.
func (s *Staging) Discard() {
	if s == nil || s.published {
		return
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		logging.Logf("[INGEST] WARNING: failed to remove staging dir %s: %v", s.Dir, err)
	}
}

// Publish validates the staged directory, writes the metadata descriptor and
// renames the directory into place. Nothing reaches the library tree unless
// validation succeeds.
func (p *Publisher) Publish(ctx context.Context, st *Staging, req PublishRequest) (*PublishResult, error) {
	seriesID, err := security.ValidateLibraryName(req.SeriesID)
	if err != nil {
		return nil, newError(KindInvalidIdentifier, "publish", "Invalid seriesId", err)
	}
	if req.ChapterID != "" {
		if _, err := security.ValidateLibraryName(req.ChapterID); err != nil {
			return nil, newError(KindInvalidIdentifier, "publish", "Invalid chapterFolder", err)
		}
	}

	result, err := ValidateChapterDir(st.Dir)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		return nil, newError(KindValidationFailed, "publish", validationMessage(result), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindIOFailure, "publish", "Upload cancelled", err)
	}

	// an empty title slugs to "chapter"
	title := strings.TrimSpace(req.Title)

	seriesDir := filepath.Join(p.root, seriesID)
	if err := os.MkdirAll(seriesDir, 0755); err != nil {
		return nil, ioError("publish", err)
	}

	lock := flock.New(filepath.Join(seriesDir, publishLockName))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, newError(KindIOFailure, "publish", "Could not lock series directory", err)
	}
	defer lock.Unlock()

	now := p.now()
	chapterID, finalDir, err := p.reserveID(seriesDir, req.ChapterID, title, now)
	if err != nil {
		return nil, err
	}

	meta := &ChapterMetadata{
		ID:            chapterID,
		SeriesID:      seriesID,
		Title:         title,
		ChapterNumber: req.ChapterNumber,
		HTMLFile:      result.HTMLFile,
		MokuroFile:    result.MokuroFile,
		ImageDir:      result.ImageDir,
		CreatedAt:     now.UTC(),
		Files:         st.Files(),
	}
	if err := writeMetadata(filepath.Join(st.Dir, MetadataFile), meta); err != nil {
		return nil, ioError("publish", err)
	}

	if err := os.Rename(st.Dir, finalDir); err != nil {
		return nil, ioError("publish", err)
	}
	st.published = true
	st.Dir = finalDir

	logging.Logf("[INGEST] Published chapter %s/%s (%d files)", seriesID, chapterID, len(meta.Files))
	return &PublishResult{
		ChapterID: chapterID,
		Files:     meta.Files,
		Metadata:  meta,
		Dir:       finalDir,
		WebPath:   path.Join(p.webPrefix, seriesID, chapterID, result.HTMLFile),
	}, nil
}

// reserveID picks a chapter id whose directory does not exist yet. A pinned
// id that is taken is a conflict; generated ids are re-rolled.
func (p *Publisher) reserveID(seriesDir, pinned, title string, now time.Time) (string, string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := pinned
		if id == "" {
			id = NewChapterID(title, now)
		}
		dir := filepath.Join(seriesDir, id)
		_, err := os.Lstat(dir)
		if os.IsNotExist(err) {
			return id, dir, nil
		}
		if err != nil {
			return "", "", ioError("publish", err)
		}
		if pinned != "" {
			return "", "", newError(KindConflict, "publish", fmt.Sprintf("Chapter folder %q already exists", pinned), nil)
		}
	}
	return "", "", newError(KindConflict, "publish", "Could not allocate a unique chapter id", nil)
}

func validationMessage(r ValidationResult) string {
	var missing []string
	if r.HTMLFile == "" {
		missing = append(missing, ".html viewer file")
	}
	if r.MokuroFile == "" {
		missing = append(missing, MokuroExt+" file")
	}
	return "Invalid chapter: missing " + strings.Join(missing, " and ")
}

func writeMetadata(dest string, meta *ChapterMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

// ReadMetadata loads the descriptor of a published chapter directory.
func ReadMetadata(chapterDir string) (*ChapterMetadata, error) {
	data, err := os.ReadFile(filepath.Join(chapterDir, MetadataFile))
	if err != nil {
		return nil, err
	}
	var meta ChapterMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
