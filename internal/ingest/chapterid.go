package ingest

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxSlugLen    = 48
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Slugify folds diacritics, lowercases and collapses everything outside
// [a-z0-9] into single dashes. Titles with no usable characters become "chapter".
func Slugify(title string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "chapter"
	}
	return slug
}

// NewChapterID builds "<slug>_<unix millis>_<6 random chars>". Uniqueness is
// probabilistic; the publisher re-rolls on collision.
func NewChapterID(title string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", Slugify(title), now.UnixMilli(), RandomToken(6))
}

// RandomToken returns n characters from [a-z0-9].
func RandomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
