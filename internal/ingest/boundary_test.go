package ingest

import (
	"strings"
	"testing"
)

func TestParseBoundary(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        string
		wantErr     bool
	}{
		{"quoted", `multipart/form-data; boundary="abc123"`, "abc123", false},
		{"bare", "multipart/form-data; boundary=----WebKitFormBoundary7MA4", "----WebKitFormBoundary7MA4", false},
		{"case insensitive type", "Multipart/Form-Data; boundary=x", "x", false},
		{"empty header", "", "", true},
		{"wrong type", "application/json", "", true},
		{"missing boundary", "multipart/form-data", "", true},
		{"empty boundary", `multipart/form-data; boundary=""`, "", true},
		{"too long", "multipart/form-data; boundary=" + strings.Repeat("a", 71), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBoundary(tt.contentType)
			if tt.wantErr {
				assertKind(t, err, KindMalformedRequest)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
