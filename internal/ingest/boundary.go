package ingest

import (
	"mime"
	"strings"
)

// maxBoundaryLen follows RFC 2046 section 5.1.1.
const maxBoundaryLen = 70

// ParseBoundary extracts the boundary token from a multipart/form-data
// Content-Type header.
func ParseBoundary(contentType string) (string, error) {
	if strings.TrimSpace(contentType) == "" {
		return "", newError(KindMalformedRequest, "decode", "Content-Type must be multipart/form-data", nil)
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", newError(KindMalformedRequest, "decode", "Invalid Content-Type header", err)
	}
	if mediaType != "multipart/form-data" {
		return "", newError(KindMalformedRequest, "decode", "Content-Type must be multipart/form-data", nil)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", newError(KindMalformedRequest, "decode", "Missing multipart boundary", nil)
	}
	if len(boundary) > maxBoundaryLen {
		return "", newError(KindMalformedRequest, "decode", "Multipart boundary too long", nil)
	}
	return boundary, nil
}
