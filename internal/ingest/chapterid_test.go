package ingest

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Chapter 1", "chapter-1"},
		{"  Héllo, Wörld!  ", "hello-world"},
		{"Ça va -- très bien", "ca-va-tres-bien"},
		{"第一話", "chapter"},
		{"", "chapter"},
		{"---", "chapter"},
		{"Vol.2 Ch.10.5", "vol-2-ch-10-5"},
		{strings.Repeat("ab ", 40), strings.TrimRight(strings.Repeat("ab-", 16), "-")},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewChapterID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewChapterID("My Chapter", now)
	re := regexp.MustCompile(`^my-chapter_1700000000123_[a-z0-9]{6}$`)
	if !re.MatchString(id) {
		t.Errorf("unexpected id %q", id)
	}
	if other := NewChapterID("My Chapter", now); other == id {
		t.Errorf("expected distinct ids, got %q twice", id)
	}
}

func TestRandomToken(t *testing.T) {
	tok := RandomToken(32)
	if len(tok) != 32 {
		t.Fatalf("len = %d", len(tok))
	}
	if strings.Trim(tok, tokenAlphabet) != "" {
		t.Errorf("token %q has characters outside the alphabet", tok)
	}
}
