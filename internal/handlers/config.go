package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rmitchellscott/tankobon/internal/ingest"
	"github.com/rmitchellscott/tankobon/internal/version"
)

// ConfigInfo is the static part of the /api/config response.
type ConfigInfo struct {
	AuthEnabled     bool
	APIKeyEnabled   bool
	RegistryEnabled bool
	MirrorBackend   string
	Streaming       bool
}

// ConfigHandler returns ingest limits and feature flags for the UI.
func ConfigHandler(opts ingest.Options, info ConfigInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"apiUrl":           "/chapters",
			"libraryPrefix":    opts.WebPrefix,
			"maxUploadMB":      opts.MaxUploadBytes >> 20,
			"maxExtractMB":     opts.MaxExtractBytes >> 20,
			"importEnabled":    true,
			"importRestricted": opts.ImportRoot != "",
			"streamingUploads": info.Streaming,
			"authEnabled":      info.AuthEnabled,
			"apiKeyEnabled":    info.APIKeyEnabled,
			"registryEnabled":  info.RegistryEnabled,
			"mirrorBackend":    info.MirrorBackend,
			"version":          version.Get(),
		})
	}
}
