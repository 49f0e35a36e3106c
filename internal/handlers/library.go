package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RegisterLibrary serves published chapters read-only under prefix. Dot
// entries (staging area, publish locks) are never served.
func RegisterLibrary(router *gin.Engine, prefix, root string) {
	library := router.Group(prefix, hideDotEntries)
	library.StaticFS("/", gin.Dir(root, false))
}

func hideDotEntries(c *gin.Context) {
	for _, seg := range strings.Split(c.Param("filepath"), "/") {
		if strings.HasPrefix(seg, ".") {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
	}
	c.Next()
}
