package ingest

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func stageChapter(t *testing.T, p *Publisher, files map[string]string) *Staging {
	t.Helper()
	st, err := p.NewStaging()
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	writeFiles(t, st.Dir, files)
	for _, rel := range listTree(t, st.Dir) {
		st.Record(rel)
	}
	return st
}

func TestPublish(t *testing.T) {
	root := t.TempDir()
	p := NewPublisher(root, "/library")
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	st := stageChapter(t, p, map[string]string{
		"ch1.html":    "<html/>",
		"ch1.mokuro":  "{}",
		"ch1/001.jpg": "jpg",
	})
	stagingDir := st.Dir
	number := 3.5

	res, err := p.Publish(context.Background(), st, PublishRequest{SeriesID: "series-a", Title: "Chapter One", ChapterNumber: &number})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !strings.HasPrefix(res.ChapterID, "chapter-one_") {
		t.Errorf("chapter id = %q", res.ChapterID)
	}
	wantDir := filepath.Join(root, "series-a", res.ChapterID)
	if res.Dir != wantDir {
		t.Errorf("dir = %q, want %q", res.Dir, wantDir)
	}
	if res.WebPath != "/library/series-a/"+res.ChapterID+"/ch1.html" {
		t.Errorf("web path = %q", res.WebPath)
	}
	if _, err := os.Stat(stagingDir); !os.IsNotExist(err) {
		t.Errorf("staging dir still present: %v", err)
	}

	meta, err := ReadMetadata(wantDir)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.ID != res.ChapterID || meta.SeriesID != "series-a" || meta.Title != "Chapter One" {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.ChapterNumber == nil || *meta.ChapterNumber != 3.5 {
		t.Errorf("chapter number = %v", meta.ChapterNumber)
	}
	if meta.HTMLFile != "ch1.html" || meta.MokuroFile != "ch1.mokuro" || meta.ImageDir != "ch1" {
		t.Errorf("validation fields = %+v", meta)
	}
	if !meta.CreatedAt.Equal(fixed) {
		t.Errorf("createdAt = %v", meta.CreatedAt)
	}
	if !reflect.DeepEqual(meta.Files, []string{"ch1.html", "ch1.mokuro", "ch1/001.jpg"}) {
		t.Errorf("files = %v", meta.Files)
	}
}

func TestPublishRejectsInvalidChapter(t *testing.T) {
	root := t.TempDir()
	p := NewPublisher(root, "")
	st := stageChapter(t, p, map[string]string{"ch1.html": "<html/>"})
	defer st.Discard()

	_, err := p.Publish(context.Background(), st, PublishRequest{SeriesID: "s"})
	assertKind(t, err, KindValidationFailed)
	if _, err := os.Stat(filepath.Join(root, "s")); !os.IsNotExist(err) {
		t.Errorf("series directory created for an invalid chapter")
	}

	st.Discard()
	if _, err := os.Stat(st.Dir); !os.IsNotExist(err) {
		t.Errorf("staging not discarded")
	}
}

func TestPublishPinnedIDConflict(t *testing.T) {
	root := t.TempDir()
	p := NewPublisher(root, "")
	if err := os.MkdirAll(filepath.Join(root, "s", "taken"), 0755); err != nil {
		t.Fatal(err)
	}
	st := stageChapter(t, p, map[string]string{"a.html": "", "a.mokuro": ""})
	defer st.Discard()

	_, err := p.Publish(context.Background(), st, PublishRequest{SeriesID: "s", ChapterID: "taken"})
	assertKind(t, err, KindConflict)
	if got := listTree(t, filepath.Join(root, "s", "taken")); len(got) != 0 {
		t.Errorf("existing chapter modified: %v", got)
	}
}

func TestPublishInvalidSeries(t *testing.T) {
	p := NewPublisher(t.TempDir(), "")
	st := stageChapter(t, p, map[string]string{"a.html": "", "a.mokuro": ""})
	defer st.Discard()

	for _, series := range []string{"", "..", "a/b"} {
		_, err := p.Publish(context.Background(), st, PublishRequest{SeriesID: series})
		assertKind(t, err, KindInvalidIdentifier)
	}
}

func TestPublishUntitledChapter(t *testing.T) {
	p := NewPublisher(t.TempDir(), "")
	st := stageChapter(t, p, map[string]string{"Volume 2.html": "", "Volume 2.mokuro": ""})

	res, err := p.Publish(context.Background(), st, PublishRequest{SeriesID: "s", Title: "  "})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Metadata.Title != "" || !strings.HasPrefix(res.ChapterID, "chapter_") {
		t.Errorf("title = %q, id = %q", res.Metadata.Title, res.ChapterID)
	}
}

func TestPublishHiddenNames(t *testing.T) {
	root := t.TempDir()
	p := NewPublisher(root, "")
	st := stageChapter(t, p, map[string]string{"a.html": "", "a.mokuro": ""})
	defer st.Discard()

	for _, req := range []PublishRequest{
		{SeriesID: ".staging"},
		{SeriesID: "s", ChapterID: ".publish.lock"},
	} {
		_, err := p.Publish(context.Background(), st, req)
		assertKind(t, err, KindInvalidIdentifier)
	}
	if got := listTree(t, filepath.Join(root, "s")); len(got) != 0 {
		t.Errorf("library written: %v", got)
	}
}
