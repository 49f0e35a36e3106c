package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rmitchellscott/tankobon/internal/ingest"
	"github.com/rmitchellscott/tankobon/internal/logging"
)

// statusFor maps an ingestion failure kind to its HTTP status.
func statusFor(kind ingest.Kind) int {
	switch kind {
	case ingest.KindMalformedRequest,
		ingest.KindMissingField,
		ingest.KindValidationFailed,
		ingest.KindUnsafeArchiveEntry,
		ingest.KindInvalidIdentifier:
		return http.StatusBadRequest
	case ingest.KindPathTraversal:
		return http.StatusForbidden
	case ingest.KindNotFound, ingest.KindNotAFile:
		return http.StatusNotFound
	case ingest.KindConflict:
		return http.StatusConflict
	case ingest.KindSizeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func logFailure(route string, err error, status int) {
	if status >= http.StatusInternalServerError {
		logging.Logf("[INGEST] ERROR: %s failed: %v", route, err)
		return
	}
	logging.Debugf("[INGEST] %s rejected (%d): %v", route, status, err)
}

// uploadError writes the {success:false,error} body used by the upload routes.
func uploadError(c *gin.Context, err error) {
	status := statusFor(ingest.KindOf(err))
	logFailure(c.FullPath(), err, status)
	c.JSON(status, gin.H{"success": false, "error": ingest.Message(err)})
}

// importError writes the {error} body used by the import route.
func importError(c *gin.Context, err error) {
	status := statusFor(ingest.KindOf(err))
	logFailure(c.FullPath(), err, status)
	c.JSON(status, gin.H{"error": ingest.Message(err)})
}
