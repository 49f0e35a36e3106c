package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
)

type recordingRegistry struct {
	mu       sync.Mutex
	recorded []*ChapterMetadata
	webPaths []string
	err      error
}

func (r *recordingRegistry) RecordChapter(_ context.Context, meta *ChapterMetadata, webPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, meta)
	r.webPaths = append(r.webPaths, webPath)
	return r.err
}

type recordingMirror struct {
	dirs []string
	err  error
}

func (m *recordingMirror) MirrorChapter(_ context.Context, seriesID, chapterID, dir string) error {
	m.dirs = append(m.dirs, filepath.Join(seriesID, chapterID)+"="+dir)
	return m.err
}

func uploadBody(t *testing.T, fields map[string]string, files []testPart) (string, []byte) {
	t.Helper()
	var parts []testPart
	for k, v := range fields {
		parts = append(parts, testPart{field: k, content: v})
	}
	parts = append(parts, files...)
	return "multipart/form-data; boundary=" + testBoundary, buildMultipart(testBoundary, parts)
}

type spoolFunc func(*Service, context.Context, *bytes.Reader, string, int64) (*Upload, error)

var spoolModes = map[string]spoolFunc{
	"streaming": func(s *Service, ctx context.Context, r *bytes.Reader, ct string, n int64) (*Upload, error) {
		return s.SpoolStream(ctx, r, ct, n, nil)
	},
	"buffered": func(s *Service, ctx context.Context, r *bytes.Reader, ct string, n int64) (*Upload, error) {
		return s.SpoolBuffered(ctx, r, ct, n, nil)
	},
}

func TestUploadEndToEnd(t *testing.T) {
	for mode, spool := range spoolModes {
		t.Run(mode, func(t *testing.T) {
			reg := &recordingRegistry{}
			mirror := &recordingMirror{}
			svc := newTestService(t, Options{Registry: reg, Mirror: mirror})

			images := buildZip(t, []zipEntry{
				{name: "ch1/001.jpg", content: "jpg1"},
				{name: "ch1/002.jpg", content: "jpg2"},
			})
			ct, body := uploadBody(t, map[string]string{
				"seriesId":      "series-1",
				"chapterTitle":  "First Chapter",
				"chapterNumber": "1",
			}, []testPart{
				{field: "files", filename: "ch1.html", content: "<html/>"},
				{field: "files", filename: "ch1.mokuro", content: "{}"},
				{field: "archive", filename: "images.zip", content: string(images)},
			})

			u, err := spool(svc, context.Background(), bytes.NewReader(body), ct, int64(len(body)))
			if err != nil {
				t.Fatalf("spool: %v", err)
			}
			defer u.Close()
			if len(u.Parts) != 3 || u.Parts[2].Size != int64(len(images)) {
				t.Fatalf("parts = %+v", u.Parts)
			}

			res, err := svc.PublishUpload(context.Background(), u)
			if err != nil {
				t.Fatalf("PublishUpload: %v", err)
			}
			wantFiles := []string{"ch1.html", "ch1.mokuro", "ch1/001.jpg", "ch1/002.jpg"}
			if !reflect.DeepEqual(res.Files, wantFiles) {
				t.Errorf("files = %v, want %v", res.Files, wantFiles)
			}
			if res.Metadata.ChapterNumber == nil || *res.Metadata.ChapterNumber != 1 {
				t.Errorf("chapter number = %v", res.Metadata.ChapterNumber)
			}
			if !strings.HasPrefix(res.ChapterID, "first-chapter_") {
				t.Errorf("chapter id = %q", res.ChapterID)
			}
			data, err := os.ReadFile(filepath.Join(res.Dir, "ch1", "002.jpg"))
			if err != nil || string(data) != "jpg2" {
				t.Errorf("extracted content = %q, %v", data, err)
			}
			if len(reg.recorded) != 1 || reg.webPaths[0] != res.WebPath {
				t.Errorf("registry calls = %v", reg.webPaths)
			}
			if len(mirror.dirs) != 1 {
				t.Errorf("mirror calls = %v", mirror.dirs)
			}
		})
	}
}

func TestUploadSniffsArchiveWithoutExtension(t *testing.T) {
	svc := newTestService(t, Options{})
	archive := buildZip(t, []zipEntry{
		{name: "a.html", content: "<html/>"},
		{name: "a.mokuro", content: "{}"},
	})
	ct, body := uploadBody(t, map[string]string{"seriesId": "s"}, []testPart{
		{field: "files", filename: "blob", content: string(archive)},
	})
	u, err := svc.SpoolStream(context.Background(), bytes.NewReader(body), ct, -1, nil)
	if err != nil {
		t.Fatalf("SpoolStream: %v", err)
	}
	defer u.Close()

	res, err := svc.PublishUpload(context.Background(), u)
	if err != nil {
		t.Fatalf("PublishUpload: %v", err)
	}
	if !reflect.DeepEqual(res.Files, []string{"a.html", "a.mokuro"}) {
		t.Errorf("files = %v", res.Files)
	}
}

func TestUploadedDescriptorIsReplaced(t *testing.T) {
	svc := newTestService(t, Options{})
	archive := buildZip(t, []zipEntry{
		{name: "t.html", content: "<html/>"},
		{name: "t.mokuro", content: "{}"},
		{name: MetadataFile, content: `{"id":"forged"}`},
	})
	ct, body := uploadBody(t, map[string]string{"seriesId": "s"}, []testPart{
		{field: "files", filename: "t.zip", content: string(archive)},
	})
	u, err := svc.SpoolStream(context.Background(), bytes.NewReader(body), ct, int64(len(body)), nil)
	if err != nil {
		t.Fatalf("SpoolStream: %v", err)
	}
	defer u.Close()

	res, err := svc.PublishUpload(context.Background(), u)
	if err != nil {
		t.Fatalf("PublishUpload: %v", err)
	}
	if !reflect.DeepEqual(res.Files, []string{"t.html", "t.mokuro"}) {
		t.Errorf("files = %v", res.Files)
	}
	meta, err := ReadMetadata(res.Dir)
	if err != nil || meta.ID != res.ChapterID {
		t.Errorf("descriptor = %+v, %v", meta, err)
	}
}

func TestUploadFailuresLeaveLibraryUntouched(t *testing.T) {
	evil := buildZip(t, []zipEntry{{name: "ok.html", content: "x"}, {name: "../../escape.html", content: "x"}})
	clash := buildZip(t, []zipEntry{{name: "img", content: "x"}, {name: "img/1.jpg", content: "jpg"}})
	tests := []struct {
		name   string
		fields map[string]string
		files  []testPart
		want   Kind
	}{
		{
			name:  "missing series",
			files: []testPart{{field: "files", filename: "a.html", content: "x"}},
			want:  KindMissingField,
		},
		{
			name:   "no files",
			fields: map[string]string{"seriesId": "s"},
			want:   KindMissingField,
		},
		{
			name:   "traversal series",
			fields: map[string]string{"seriesId": ".."},
			files:  []testPart{{field: "files", filename: "a.html", content: "x"}},
			want:   KindInvalidIdentifier,
		},
		{
			name:   "staging series",
			fields: map[string]string{"seriesId": ".staging"},
			files: []testPart{
				{field: "files", filename: "a.html", content: "x"},
				{field: "files", filename: "a.mokuro", content: "{}"},
			},
			want: KindInvalidIdentifier,
		},
		{
			name:   "file and directory clash",
			fields: map[string]string{"seriesId": "s"},
			files: []testPart{
				{field: "files", filename: "a.html", content: "x"},
				{field: "files", filename: "a.mokuro", content: "{}"},
				{field: "files", filename: "img.zip", content: string(clash)},
			},
			want: KindUnsafeArchiveEntry,
		},
		{
			name:   "bad chapter number",
			fields: map[string]string{"seriesId": "s", "chapterNumber": "one"},
			files:  []testPart{{field: "files", filename: "a.html", content: "x"}},
			want:   KindMalformedRequest,
		},
		{
			name:   "missing sidecar",
			fields: map[string]string{"seriesId": "s"},
			files:  []testPart{{field: "files", filename: "a.html", content: "x"}},
			want:   KindValidationFailed,
		},
		{
			name:   "zip slip",
			fields: map[string]string{"seriesId": "s"},
			files: []testPart{
				{field: "files", filename: "a.mokuro", content: "{}"},
				{field: "files", filename: "evil.zip", content: string(evil)},
			},
			want: KindUnsafeArchiveEntry,
		},
		{
			name:   "unsafe file name",
			fields: map[string]string{"seriesId": "s"},
			files:  []testPart{{field: "files", filename: "../a.html", content: "x"}},
			want:   KindUnsafeArchiveEntry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			svc := newTestService(t, Options{LibraryRoot: filepath.Join(parent, "library")})
			ct, body := uploadBody(t, tt.fields, tt.files)

			u, err := svc.SpoolStream(context.Background(), bytes.NewReader(body), ct, int64(len(body)), nil)
			if err != nil {
				t.Fatalf("SpoolStream: %v", err)
			}
			_, err = svc.PublishUpload(context.Background(), u)
			assertKind(t, err, tt.want)
			u.Close()

			if got := listTree(t, parent); len(got) != 0 {
				t.Errorf("files left behind: %v", got)
			}
		})
	}
}

func TestSpoolRejectsOversizedBody(t *testing.T) {
	for mode, spool := range spoolModes {
		t.Run(mode, func(t *testing.T) {
			svc := newTestService(t, Options{MaxUploadBytes: 256})
			ct, body := uploadBody(t, map[string]string{"seriesId": "s"}, []testPart{
				{field: "files", filename: "a.html", content: strings.Repeat("x", 1024)},
			})
			_, err := spool(svc, context.Background(), bytes.NewReader(body), ct, -1)
			assertKind(t, err, KindSizeLimitExceeded)
			if got := listTree(t, svc.Options().LibraryRoot); len(got) != 0 {
				t.Errorf("spool files left behind: %v", got)
			}
		})
	}
}

func TestSpoolRejectsBadContentType(t *testing.T) {
	svc := newTestService(t, Options{})
	_, err := svc.SpoolStream(context.Background(), strings.NewReader("{}"), "application/json", 2, nil)
	assertKind(t, err, KindMalformedRequest)
}

func TestRegistryFailureDoesNotFailPublish(t *testing.T) {
	reg := &recordingRegistry{err: errors.New("db down")}
	mirror := &recordingMirror{err: errors.New("bucket gone")}
	svc := newTestService(t, Options{Registry: reg, Mirror: mirror})
	ct, body := uploadBody(t, map[string]string{"seriesId": "s"}, []testPart{
		{field: "files", filename: "a.html", content: "<html/>"},
		{field: "files", filename: "a.mokuro", content: "{}"},
	})
	u, err := svc.SpoolBuffered(context.Background(), bytes.NewReader(body), ct, int64(len(body)), nil)
	if err != nil {
		t.Fatalf("SpoolBuffered: %v", err)
	}
	defer u.Close()

	res, err := svc.PublishUpload(context.Background(), u)
	if err != nil {
		t.Fatalf("PublishUpload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(res.Dir, MetadataFile)); err != nil {
		t.Errorf("metadata missing: %v", err)
	}
}

func TestParseChapterNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    *float64
		wantErr bool
	}{
		{"", nil, false},
		{"  ", nil, false},
		{"12", ptr(12), false},
		{"10.5", ptr(10.5), false},
		{"abc", nil, true},
		{"NaN", nil, true},
		{"Inf", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseChapterNumber(tt.in)
		if tt.wantErr {
			assertKind(t, err, KindMalformedRequest)
			continue
		}
		if err != nil {
			t.Fatalf("ParseChapterNumber(%q): %v", tt.in, err)
		}
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("ParseChapterNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func ptr(f float64) *float64 { return &f }
