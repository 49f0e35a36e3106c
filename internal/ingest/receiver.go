package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultMaxUploadBytes is the request body ceiling (500 MiB).
	DefaultMaxUploadBytes int64 = 500 << 20

	defaultChunkSize = 64 << 10
)

// ProgressFunc is called with the running count of body bytes received.
type ProgressFunc func(received int64)

// Receiver reads a request body in chunks and enforces a hard size ceiling.
type Receiver struct {
	MaxBytes   int64
	ChunkSize  int
	OnProgress ProgressFunc
}

// ReceivedBody is a fully buffered request body plus the headers needed to decode it.
type ReceivedBody struct {
	Data          []byte
	ContentLength int64
	ContentType   string
}

func (r *Receiver) maxBytes() int64 {
	if r == nil || r.MaxBytes <= 0 {
		return DefaultMaxUploadBytes
	}
	return r.MaxBytes
}

func (r *Receiver) chunkSize() int {
	if r == nil || r.ChunkSize <= 0 {
		return defaultChunkSize
	}
	return r.ChunkSize
}

// maxPrealloc caps how much of a declared Content-Length is reserved before
// any byte arrives.
const maxPrealloc = 8 << 20

func preallocSize(contentLength int64) int {
	if contentLength <= 0 {
		return 0
	}
	return int(min(contentLength, maxPrealloc))
}

// SizeLimitError reports a request body larger than max bytes.
func SizeLimitError(max int64) *Error {
	return newError(KindSizeLimitExceeded, "receive",
		fmt.Sprintf("Upload exceeds the %d MB limit", max>>20), nil)
}

// CheckDeclared rejects a body whose declared Content-Length already exceeds
// the ceiling. Unknown lengths (negative) pass.
func (r *Receiver) CheckDeclared(contentLength int64) error {
	if contentLength > r.maxBytes() {
		return SizeLimitError(r.maxBytes())
	}
	return nil
}

// ReadAll buffers the whole body. It fails with SizeLimitExceeded as soon as
// the accumulated size passes the ceiling, without reading further.
func (r *Receiver) ReadAll(ctx context.Context, body io.Reader, contentLength int64, contentType string) (*ReceivedBody, error) {
	if err := r.CheckDeclared(contentLength); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(preallocSize(contentLength))

	src := r.Reader(ctx, body)
	chunk := make([]byte, r.chunkSize())
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return &ReceivedBody{
		Data:          buf.Bytes(),
		ContentLength: contentLength,
		ContentType:   contentType,
	}, nil
}

// Reader wraps body so that reads fail once more than MaxBytes have been
// consumed or ctx is done. Used by the streaming decoder.
func (r *Receiver) Reader(ctx context.Context, body io.Reader) io.Reader {
	var progress ProgressFunc
	if r != nil {
		progress = r.OnProgress
	}
	return &ceilingReader{ctx: ctx, r: body, max: r.maxBytes(), progress: progress}
}

type ceilingReader struct {
	ctx      context.Context
	r        io.Reader
	max      int64
	total    int64
	progress ProgressFunc
}

func (c *ceilingReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, newError(KindIOFailure, "receive", "Upload cancelled", err)
	}
	n, err := c.r.Read(p)
	c.total += int64(n)
	if c.total > c.max {
		return 0, SizeLimitError(c.max)
	}
	if n > 0 && c.progress != nil {
		c.progress(c.total)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, newError(KindIOFailure, "receive", "Failed to read request body", err)
	}
	return n, err
}
