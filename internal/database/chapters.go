package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rmitchellscott/tankobon/internal/ingest"
	"gorm.io/gorm"
)

// ErrChapterNotFound is returned by ChapterRepo.Get.
var ErrChapterNotFound = errors.New("chapter not found")

// ChapterRepo reads and writes the chapter registry.
type ChapterRepo struct {
	db *gorm.DB
}

func NewChapterRepo(db *gorm.DB) *ChapterRepo {
	return &ChapterRepo{db: db}
}

// RecordChapter inserts the registry row of a freshly published chapter.
func (r *ChapterRepo) RecordChapter(ctx context.Context, meta *ingest.ChapterMetadata, webPath string) error {
	row := Chapter{
		SeriesID:      meta.SeriesID,
		ChapterID:     meta.ID,
		ChapterNumber: meta.ChapterNumber,
		Title:         meta.Title,
		FilePath:      webPath,
		FileCount:     len(meta.Files),
		AddedDate:     meta.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record chapter %s/%s: %w", meta.SeriesID, meta.ID, err)
	}
	return nil
}

// List returns chapters of one series ordered by chapter number, or every
// chapter newest first when seriesID is empty.
func (r *ChapterRepo) List(ctx context.Context, seriesID string) ([]Chapter, error) {
	var chapters []Chapter
	q := r.db.WithContext(ctx)
	if seriesID != "" {
		// unnumbered chapters sort after numbered ones
		q = q.Where("series_id = ?", seriesID).
			Order("CASE WHEN chapter_number IS NULL THEN 1 ELSE 0 END").
			Order("chapter_number ASC").
			Order("added_date ASC")
	} else {
		q = q.Order("added_date DESC")
	}
	if err := q.Find(&chapters).Error; err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return chapters, nil
}

// Get looks a chapter up by registry id, falling back to the chapter
// directory name.
func (r *ChapterRepo) Get(ctx context.Context, id string) (*Chapter, error) {
	var chapter Chapter
	q := r.db.WithContext(ctx)
	if parsed, err := uuid.Parse(id); err == nil {
		q = q.Where("id = ?", parsed)
	} else {
		q = q.Where("chapter_id = ?", id)
	}
	if err := q.First(&chapter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChapterNotFound
		}
		return nil, fmt.Errorf("failed to get chapter %s: %w", id, err)
	}
	return &chapter, nil
}
