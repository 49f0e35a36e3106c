package ingest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestReceiverReadAll(t *testing.T) {
	var progress []int64
	rcv := &Receiver{MaxBytes: 1024, ChunkSize: 10, OnProgress: func(n int64) { progress = append(progress, n) }}

	body := strings.Repeat("x", 95)
	got, err := rcv.ReadAll(context.Background(), strings.NewReader(body), int64(len(body)), "multipart/form-data; boundary=b")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got.Data) != body {
		t.Errorf("body mismatch")
	}
	if got.ContentType != "multipart/form-data; boundary=b" {
		t.Errorf("content type = %q", got.ContentType)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 95 {
		t.Errorf("progress = %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress not monotonic: %v", progress)
		}
	}
}

func TestReceiverCeiling(t *testing.T) {
	t.Run("declared length", func(t *testing.T) {
		rcv := &Receiver{MaxBytes: 10}
		src := &countingReader{r: strings.NewReader("small")}
		_, err := rcv.ReadAll(context.Background(), src, 11, "")
		assertKind(t, err, KindSizeLimitExceeded)
		if src.read != 0 {
			t.Errorf("read %d bytes before rejecting", src.read)
		}
	})

	t.Run("undeclared length stops early", func(t *testing.T) {
		rcv := &Receiver{MaxBytes: 10, ChunkSize: 4}
		src := &countingReader{r: bytes.NewReader(make([]byte, 1000))}
		_, err := rcv.ReadAll(context.Background(), src, -1, "")
		assertKind(t, err, KindSizeLimitExceeded)
		if src.read > 16 {
			t.Errorf("read %d bytes, expected to stop near the ceiling", src.read)
		}
	})

	t.Run("exactly at ceiling", func(t *testing.T) {
		rcv := &Receiver{MaxBytes: 10}
		got, err := rcv.ReadAll(context.Background(), strings.NewReader("0123456789"), 10, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got.Data) != 10 {
			t.Errorf("len = %d", len(got.Data))
		}
	})
}

func TestReceiverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Receiver{}).ReadAll(ctx, strings.NewReader("data"), 4, "")
	assertKind(t, err, KindIOFailure)
}

func TestPreallocSize(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int
	}{
		{"unknown length", -1, 0},
		{"empty", 0, 0},
		{"small body", 4096, 4096},
		{"declared at ceiling", DefaultMaxUploadBytes, maxPrealloc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preallocSize(tt.in); got != tt.want {
				t.Errorf("preallocSize(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestReceiverReadAllPastPrealloc(t *testing.T) {
	data := bytes.Repeat([]byte("x"), maxPrealloc+1024)
	r := &Receiver{MaxBytes: int64(len(data))}
	got, err := r.ReadAll(context.Background(), bytes.NewReader(data), int64(len(data)), "application/octet-stream")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got.Data, data) {
		t.Errorf("read %d bytes, want %d", len(got.Data), len(data))
	}
}
