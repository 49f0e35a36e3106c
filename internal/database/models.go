package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chapter is the registry row of a published chapter. The on-disk
// chapter-metadata.json stays authoritative; this table backs listing.
type Chapter struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SeriesID      string    `gorm:"not null;uniqueIndex:idx_series_chapter" json:"seriesId"`
	ChapterID     string    `gorm:"column:chapter_id;not null;uniqueIndex:idx_series_chapter" json:"chapterId"`
	ChapterNumber *float64  `json:"chapterNumber,omitempty"`
	Title         string    `json:"title"`
	FilePath      string    `gorm:"not null" json:"filePath"` // web path of the viewer HTML
	FileCount     int       `json:"fileCount"`
	AddedDate     time.Time `gorm:"index" json:"addedDate"`
}

// BeforeCreate sets the UUID if not already set
func (c *Chapter) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// GetAllModels returns all models for auto-migration
func GetAllModels() []interface{} {
	return []interface{}{
		&Chapter{},
	}
}
