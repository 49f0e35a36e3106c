package storage

import (
	"fmt"
	"strings"
)

const libraryKeyPrefix = "library"

// ChapterPrefix is the key prefix under which a chapter's files are mirrored.
func ChapterPrefix(seriesID, chapterID string) string {
	return fmt.Sprintf("%s/%s/%s/", libraryKeyPrefix, seriesID, chapterID)
}

// ChapterKey returns the mirror key of one file of a chapter. rel is the
// slash separated path inside the chapter directory.
func ChapterKey(seriesID, chapterID, rel string) string {
	return ChapterPrefix(seriesID, chapterID) + SanitizeStorageKey(rel)
}

// SanitizeStorageKey strips leading slashes, converts backslashes and
// collapses repeated slashes. It does not remove ".." segments; callers
// still validate the key.
func SanitizeStorageKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	for strings.Contains(key, "//") {
		key = strings.ReplaceAll(key, "//", "/")
	}
	return strings.TrimPrefix(key, "/")
}
