package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rmitchellscott/tankobon/internal/config"
	"github.com/rmitchellscott/tankobon/internal/logging"
	"github.com/rmitchellscott/tankobon/internal/security"
)

// Registry records published chapters outside the library tree.
type Registry interface {
	RecordChapter(ctx context.Context, meta *ChapterMetadata, webPath string) error
}

// Mirror copies a published chapter directory to secondary storage.
type Mirror interface {
	MirrorChapter(ctx context.Context, seriesID, chapterID, dir string) error
}

// Options configures a Service.
type Options struct {
	LibraryRoot     string
	WebPrefix       string
	MaxUploadBytes  int64
	MaxExtractBytes int64
	ImportRoot      string
	Registry        Registry
	Mirror          Mirror
}

// OptionsFromEnv reads LIBRARY_ROOT, LIBRARY_WEB_PREFIX, MAX_UPLOAD_MB,
// MAX_EXTRACT_MB and IMPORT_ROOT.
func OptionsFromEnv() Options {
	return Options{
		LibraryRoot:     config.LibraryRoot(),
		WebPrefix:       config.Get("LIBRARY_WEB_PREFIX", "/library"),
		MaxUploadBytes:  config.GetInt64("MAX_UPLOAD_MB", DefaultMaxUploadBytes>>20) << 20,
		MaxExtractBytes: config.GetInt64("MAX_EXTRACT_MB", DefaultMaxExtractBytes>>20) << 20,
		ImportRoot:      config.Get("IMPORT_ROOT", ""),
	}
}

// Service runs the upload and import pipelines against one library root.
type Service struct {
	opts      Options
	publisher *Publisher
	importer  *Importer
}

func NewService(opts Options) (*Service, error) {
	if opts.LibraryRoot == "" {
		return nil, fmt.Errorf("library root is required")
	}
	root, err := filepath.Abs(opts.LibraryRoot)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create library root: %w", err)
	}
	opts.LibraryRoot = root
	if opts.WebPrefix == "" {
		opts.WebPrefix = "/library"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.MaxExtractBytes <= 0 {
		opts.MaxExtractBytes = DefaultMaxExtractBytes
	}
	return &Service{
		opts:      opts,
		publisher: NewPublisher(root, opts.WebPrefix),
		importer:  &Importer{ImportRoot: opts.ImportRoot},
	}, nil
}

func (s *Service) Options() Options {
	return s.opts
}

// Receiver returns a body reader bound to the configured upload ceiling.
func (s *Service) Receiver(progress ProgressFunc) *Receiver {
	return &Receiver{MaxBytes: s.opts.MaxUploadBytes, OnProgress: progress}
}

// SpooledPart is an uploaded file written to the upload's spool directory.
type SpooledPart struct {
	FieldName string
	Filename  string
	Path      string
	Size      int64
}

// Upload holds the decoded form of one request. File contents live on disk
// until Close.
type Upload struct {
	Fields map[string]string
	Parts  []SpooledPart
	dir    string
}

// NewUpload creates an empty spool under the staging area.
func (s *Service) NewUpload() (*Upload, error) {
	base := filepath.Join(s.opts.LibraryRoot, stagingDirName)
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, ioError("receive", err)
	}
	dir, err := os.MkdirTemp(base, "upload-*")
	if err != nil {
		return nil, ioError("receive", err)
	}
	return &Upload{Fields: make(map[string]string), dir: dir}, nil
}

// Field records a text field. A repeated name keeps the last value.
func (u *Upload) Field(name, value string) error {
	u.Fields[name] = value
	return nil
}

// File opens a spool file for the next part.
func (u *Upload) File(fieldName, filename string) (io.WriteCloser, error) {
	p := filepath.Join(u.dir, fmt.Sprintf("part-%04d", len(u.Parts)))
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, ioError("receive", err)
	}
	u.Parts = append(u.Parts, SpooledPart{FieldName: fieldName, Filename: filename, Path: p})
	return &spoolFile{File: f, upload: u, idx: len(u.Parts) - 1}, nil
}

// AddFile spools r as a file part.
func (u *Upload) AddFile(fieldName, filename string, r io.Reader) error {
	w, err := u.File(fieldName, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return ioError("receive", err)
	}
	return w.Close()
}

// Close removes the spool directory.
func (u *Upload) Close() error {
	if u == nil || u.dir == "" {
		return nil
	}
	return os.RemoveAll(u.dir)
}

type spoolFile struct {
	*os.File
	upload *Upload
	idx    int
}

func (f *spoolFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	f.upload.Parts[f.idx].Size += int64(n)
	return n, err
}

// SpoolStream decodes body incrementally, writing file parts straight to disk.
func (s *Service) SpoolStream(ctx context.Context, body io.Reader, contentType string, contentLength int64, progress ProgressFunc) (*Upload, error) {
	boundary, err := ParseBoundary(contentType)
	if err != nil {
		return nil, err
	}
	rcv := s.Receiver(progress)
	if err := rcv.CheckDeclared(contentLength); err != nil {
		return nil, err
	}
	u, err := s.NewUpload()
	if err != nil {
		return nil, err
	}
	if err := NewStreamDecoder(rcv.Reader(ctx, body), boundary).Decode(ctx, u); err != nil {
		u.Close()
		return nil, err
	}
	return u, nil
}

// SpoolBuffered reads the whole body into memory, decodes it, then spools the
// file parts.
func (s *Service) SpoolBuffered(ctx context.Context, body io.Reader, contentType string, contentLength int64, progress ProgressFunc) (*Upload, error) {
	boundary, err := ParseBoundary(contentType)
	if err != nil {
		return nil, err
	}
	received, err := s.Receiver(progress).ReadAll(ctx, body, contentLength, contentType)
	if err != nil {
		return nil, err
	}
	form, err := DecodeMultipart(received.Data, boundary)
	if err != nil {
		return nil, err
	}
	u, err := s.NewUpload()
	if err != nil {
		return nil, err
	}
	for name, value := range form.Fields {
		u.Fields[name] = value
	}
	for _, f := range form.Files {
		if err := u.AddFile(f.FieldName, f.Filename, bytes.NewReader(f.Content)); err != nil {
			u.Close()
			return nil, err
		}
	}
	return u, nil
}

// PublishUpload installs every spooled part into a fresh staging directory,
// validates it and publishes the chapter.
func (s *Service) PublishUpload(ctx context.Context, u *Upload) (*PublishResult, error) {
	rawSeries := strings.TrimSpace(u.Fields["seriesId"])
	if rawSeries == "" {
		return nil, newError(KindMissingField, "upload", "Missing seriesId", nil)
	}
	seriesID, err := security.ValidateLibraryName(rawSeries)
	if err != nil {
		return nil, newError(KindInvalidIdentifier, "upload", "Invalid seriesId", err)
	}
	if len(u.Parts) == 0 {
		return nil, newError(KindMissingField, "upload", "No files uploaded", nil)
	}
	number, err := ParseChapterNumber(u.Fields["chapterNumber"])
	if err != nil {
		return nil, err
	}

	st, err := s.publisher.NewStaging()
	if err != nil {
		return nil, err
	}
	defer st.Discard()

	extractor := &Extractor{MaxBytes: s.opts.MaxExtractBytes}
	for _, part := range u.Parts {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindIOFailure, "upload", "Upload cancelled", err)
		}
		if isArchivePart(part) {
			names, err := extractor.ExtractFile(part.Path, st.Dir)
			if err != nil {
				return nil, err
			}
			st.Record(names...)
			continue
		}
		name, err := InstallFile(part.Path, st.Dir, part.Filename)
		if err != nil {
			return nil, err
		}
		st.Record(name)
	}

	res, err := s.publisher.Publish(ctx, st, PublishRequest{
		SeriesID:      seriesID,
		Title:         u.Fields["chapterTitle"],
		ChapterNumber: number,
	})
	if err != nil {
		return nil, err
	}
	s.afterPublish(ctx, res)
	return res, nil
}

// Import copies a chapter from the server's filesystem into the library.
// Identifier and path checks run before anything is written.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if !IsCanonicalUUID(req.SeriesID) {
		return nil, newError(KindInvalidIdentifier, "import", "Invalid seriesId: must be a UUID", nil)
	}
	src, err := s.importer.ResolveSource(req.SourceHTMLPath)
	if err != nil {
		return nil, err
	}

	folder := DefaultFolder(src)
	if strings.TrimSpace(req.ChapterFolder) != "" {
		folder, err = security.ValidateLibraryName(req.ChapterFolder)
		if err != nil {
			return nil, newError(KindInvalidIdentifier, "import", "Invalid chapterFolder", err)
		}
	}

	st, err := s.publisher.NewStaging()
	if err != nil {
		return nil, err
	}
	defer st.Discard()

	if err := s.importer.CopyTree(src, st); err != nil {
		return nil, err
	}

	res, err := s.publisher.Publish(ctx, st, PublishRequest{
		SeriesID:      req.SeriesID,
		Title:         req.ChapterTitle,
		ChapterNumber: req.ChapterNumber,
		ChapterID:     folder,
	})
	if err != nil {
		return nil, err
	}
	s.afterPublish(ctx, res)
	return &ImportResult{WebPath: res.WebPath, ChapterID: res.ChapterID, Metadata: res.Metadata}, nil
}

// afterPublish notifies the registry and mirror. Their failures never undo a
// published chapter.
func (s *Service) afterPublish(ctx context.Context, res *PublishResult) {
	if s.opts.Registry != nil {
		if err := s.opts.Registry.RecordChapter(ctx, res.Metadata, res.WebPath); err != nil {
			logging.Logf("[INGEST] WARNING: failed to record chapter %s: %v", res.ChapterID, err)
		}
	}
	if s.opts.Mirror != nil {
		if err := s.opts.Mirror.MirrorChapter(ctx, res.Metadata.SeriesID, res.ChapterID, res.Dir); err != nil {
			logging.Logf("[INGEST] WARNING: failed to mirror chapter %s: %v", res.ChapterID, err)
		}
	}
}

// ParseChapterNumber parses the optional chapterNumber field.
func ParseChapterNumber(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err == nil && (math.IsNaN(n) || math.IsInf(n, 0)) {
		err = fmt.Errorf("not a finite number")
	}
	if err != nil {
		return nil, newError(KindMalformedRequest, "upload", "Invalid chapterNumber", err)
	}
	return &n, nil
}

func isArchivePart(part SpooledPart) bool {
	if IsArchiveName(part.Filename) {
		return true
	}
	if strings.EqualFold(filepath.Ext(part.Filename), htmlExt) || strings.EqualFold(filepath.Ext(part.Filename), MokuroExt) {
		return false
	}
	mt, err := mimetype.DetectFile(part.Path)
	if err != nil {
		return false
	}
	return mt.Is("application/zip")
}
