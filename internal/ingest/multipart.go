package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
)

const (
	maxHeaderBytes = 16 << 10
	maxFieldBytes  = 1 << 20
)

var (
	crlf     = []byte("\r\n")
	crlfCRLF = []byte("\r\n\r\n")

	dispositionNameRe     = regexp.MustCompile(`(?i)(?:^|;)\s*name=(?:"([^"]*)"|([^;\s]+))`)
	dispositionFilenameRe = regexp.MustCompile(`(?i)(?:^|;)\s*filename=(?:"([^"]*)"|([^;\s]+))`)
)

// PartSink receives the parts of a multipart body as they are decoded.
type PartSink interface {
	// Field is called once a plain form field has been read completely.
	Field(name, value string) error
	// File opens a destination for a file part. Content is streamed into the
	// writer, which is closed when the part ends.
	File(fieldName, filename string) (io.WriteCloser, error)
}

type decodeState int

const (
	statePreamble decodeState = iota
	stateBoundary
	stateHeaders
	stateBody
	stateDone
)

type partKind int

const (
	partDiscard partKind = iota
	partField
	partFile
)

type openPart struct {
	kind  partKind
	name  string
	field bytes.Buffer
	file  io.WriteCloser
}

// StreamDecoder is a chunked multipart/form-data state machine. Between reads
// it only retains enough bytes to recognise a delimiter that straddles two
// chunks, so file content is never held in memory as a whole.
type StreamDecoder struct {
	r            io.Reader
	ChunkSize    int
	dashBoundary []byte
	delimiter    []byte

	buf   []byte
	state decodeState
	eof   bool
	cur   *openPart
}

func NewStreamDecoder(r io.Reader, boundary string) *StreamDecoder {
	return &StreamDecoder{
		r:            r,
		ChunkSize:    defaultChunkSize,
		dashBoundary: []byte("--" + boundary),
		delimiter:    []byte("\r\n--" + boundary),
	}
}

// Decode consumes the reader until the closing delimiter. A body with no
// boundary at all yields no parts and no error.
func (d *StreamDecoder) Decode(ctx context.Context, sink PartSink) error {
	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	chunk := make([]byte, chunkSize)

	for {
		progressed, err := d.step(sink)
		if err != nil {
			d.abort()
			return err
		}
		if d.state == stateDone {
			return nil
		}
		if progressed {
			continue
		}
		if d.eof {
			err := d.atEOF()
			d.abort()
			return err
		}
		if err := ctx.Err(); err != nil {
			d.abort()
			return newError(KindIOFailure, "decode", "Upload cancelled", err)
		}

		n, rerr := d.r.Read(chunk)
		d.buf = append(d.buf, chunk[:n]...)
		if errors.Is(rerr, io.EOF) {
			d.eof = true
		} else if rerr != nil {
			d.abort()
			var tagged *Error
			if errors.As(rerr, &tagged) {
				return rerr
			}
			return newError(KindIOFailure, "decode", "Failed to read request body", rerr)
		}
	}
}

// step advances the state machine over buffered bytes. It reports whether
// any progress was made; false means more input is required.
func (d *StreamDecoder) step(sink PartSink) (bool, error) {
	switch d.state {
	case statePreamble:
		if i := bytes.Index(d.buf, d.dashBoundary); i >= 0 {
			d.consume(i + len(d.dashBoundary))
			d.state = stateBoundary
			return true, nil
		}
		if keep := len(d.dashBoundary) - 1; len(d.buf) > keep {
			d.consume(len(d.buf) - keep)
		}
		return false, nil

	case stateBoundary:
		if len(d.buf) < 2 {
			return false, nil
		}
		if d.buf[0] == '-' && d.buf[1] == '-' {
			d.state = stateDone
			return true, nil
		}
		if bytes.HasPrefix(d.buf, crlf) {
			d.consume(len(crlf))
		}
		d.state = stateHeaders
		return true, nil

	case stateHeaders:
		if bytes.HasPrefix(d.buf, crlf) {
			d.consume(len(crlf))
			return true, d.beginPart(nil, sink)
		}
		if i := bytes.Index(d.buf, crlfCRLF); i >= 0 {
			headers := parsePartHeaders(d.buf[:i])
			d.consume(i + len(crlfCRLF))
			return true, d.beginPart(headers, sink)
		}
		if len(d.buf) > maxHeaderBytes {
			return false, newError(KindMalformedRequest, "decode", "Malformed multipart part headers", nil)
		}
		return false, nil

	case stateBody:
		if i := bytes.Index(d.buf, d.delimiter); i >= 0 {
			if err := d.write(d.buf[:i]); err != nil {
				return false, err
			}
			d.consume(i + len(d.delimiter))
			if err := d.endPart(sink); err != nil {
				return false, err
			}
			d.state = stateBoundary
			return true, nil
		}
		if safe := len(d.buf) - (len(d.delimiter) - 1); safe > 0 {
			if err := d.write(d.buf[:safe]); err != nil {
				return false, err
			}
			d.consume(safe)
		}
		return false, nil
	}
	return false, nil
}

func (d *StreamDecoder) atEOF() error {
	switch d.state {
	case statePreamble:
		return nil
	case stateBoundary, stateHeaders:
		// a final boundary missing its "--" suffix is tolerated
		if len(bytes.TrimSpace(d.buf)) == 0 {
			return nil
		}
		return newError(KindMalformedRequest, "decode", "Malformed multipart part headers", nil)
	default:
		return newError(KindMalformedRequest, "decode", "Multipart body ended before closing boundary", nil)
	}
}

func (d *StreamDecoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}

func (d *StreamDecoder) beginPart(headers map[string]string, sink PartSink) error {
	d.state = stateBody
	d.cur = &openPart{kind: partDiscard}

	disposition, ok := headers["content-disposition"]
	if !ok {
		return nil
	}
	name, hasName := dispositionParam(dispositionNameRe, disposition)
	if !hasName || name == "" {
		return nil
	}
	filename, hasFilename := dispositionParam(dispositionFilenameRe, disposition)
	if !hasFilename {
		d.cur = &openPart{kind: partField, name: name}
		return nil
	}
	if filename == "" {
		// browsers send an empty filename for an unused file input
		return nil
	}

	w, err := sink.File(name, filename)
	if err != nil {
		return err
	}
	d.cur = &openPart{kind: partFile, name: name, file: w}
	return nil
}

func (d *StreamDecoder) write(p []byte) error {
	if d.cur == nil || len(p) == 0 {
		return nil
	}
	switch d.cur.kind {
	case partField:
		if d.cur.field.Len()+len(p) > maxFieldBytes {
			return newError(KindMalformedRequest, "decode", "Form field too large", nil)
		}
		d.cur.field.Write(p)
	case partFile:
		if _, err := d.cur.file.Write(p); err != nil {
			var tagged *Error
			if errors.As(err, &tagged) {
				return err
			}
			return ioError("decode", err)
		}
	}
	return nil
}

func (d *StreamDecoder) endPart(sink PartSink) error {
	part := d.cur
	d.cur = nil
	if part == nil {
		return nil
	}
	switch part.kind {
	case partField:
		return sink.Field(part.name, strings.ToValidUTF8(part.field.String(), "\uFFFD"))
	case partFile:
		if err := part.file.Close(); err != nil {
			return ioError("decode", err)
		}
	}
	return nil
}

// abort closes a half-written file part after a failure.
func (d *StreamDecoder) abort() {
	if d.cur != nil && d.cur.kind == partFile {
		d.cur.file.Close()
	}
	d.cur = nil
}

// parsePartHeaders parses a part header block into a map keyed by the
// lower-cased header name. Folded continuation lines are joined.
func parsePartHeaders(block []byte) map[string]string {
	headers := make(map[string]string)
	var last string
	for _, line := range strings.Split(string(block), "\r\n") {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && last != "" {
			headers[last] += " " + strings.TrimSpace(line)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		last = strings.ToLower(strings.TrimSpace(key))
		headers[last] = strings.TrimSpace(value)
	}
	return headers
}

func dispositionParam(re *regexp.Regexp, disposition string) (string, bool) {
	m := re.FindStringSubmatch(disposition)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// UploadPart is a decoded file part held in memory.
type UploadPart struct {
	FieldName string
	Filename  string
	Content   []byte
	Size      int64
}

// Form is the result of decoding a buffered multipart body.
type Form struct {
	Fields map[string]string
	Files  []UploadPart
}

// DecodeMultipart splits a fully buffered multipart body into form fields and
// file parts. File parts keep their field name and are returned in body order.
func DecodeMultipart(buf []byte, boundary string) (*Form, error) {
	form := &Form{Fields: make(map[string]string)}
	dec := NewStreamDecoder(bytes.NewReader(buf), boundary)
	if err := dec.Decode(context.Background(), &memorySink{form: form}); err != nil {
		return nil, err
	}
	return form, nil
}

type memorySink struct {
	form *Form
}

func (m *memorySink) Field(name, value string) error {
	m.form.Fields[name] = value
	return nil
}

func (m *memorySink) File(fieldName, filename string) (io.WriteCloser, error) {
	return &memoryFile{form: m.form, fieldName: fieldName, filename: filename}, nil
}

type memoryFile struct {
	form      *Form
	fieldName string
	filename  string
	buf       bytes.Buffer
}

func (f *memoryFile) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *memoryFile) Close() error {
	f.form.Files = append(f.form.Files, UploadPart{
		FieldName: f.fieldName,
		Filename:  f.filename,
		Content:   f.buf.Bytes(),
		Size:      int64(f.buf.Len()),
	})
	return nil
}
