package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rmitchellscott/tankobon/internal/database"
	"github.com/rmitchellscott/tankobon/internal/ingest"
	"github.com/rmitchellscott/tankobon/internal/jobs"
	"github.com/rmitchellscott/tankobon/internal/logging"
	"github.com/rmitchellscott/tankobon/internal/security"
)

// UploadIDHeader carries the client's progress id on upload requests and is
// echoed on every upload response.
const UploadIDHeader = "X-Upload-ID"

const sseKeepAlive = 15 * time.Second

// ChapterLister is the read side of the chapter registry.
type ChapterLister interface {
	List(ctx context.Context, seriesID string) ([]database.Chapter, error)
	Get(ctx context.Context, id string) (*database.Chapter, error)
}

// ChapterHandler serves the ingestion and chapter listing routes.
type ChapterHandler struct {
	Service *ingest.Service
	Jobs    *jobs.Store
	// Repo is nil when the registry is disabled.
	Repo ChapterLister
	// Streaming selects the incremental decoder for the chunked route.
	Streaming bool
}

// RegisterRoutes mounts the chapter routes on rg. guard runs before the
// routes that write to the library.
func (h *ChapterHandler) RegisterRoutes(rg *gin.RouterGroup, guard ...gin.HandlerFunc) {
	chapters := rg.Group("/chapters")

	write := chapters.Group("")
	write.Use(guard...)
	write.POST("/upload", h.Upload)
	write.POST("/upload/chunked", h.UploadChunked)
	write.POST("/import", h.Import)

	chapters.GET("", h.List)
	chapters.GET("/:id", h.Get)
	chapters.GET("/uploads/:id", h.UploadStatus)
	chapters.GET("/uploads/:id/events", h.UploadEvents)
	chapters.GET("/uploads/:id/ws", h.UploadSocket)
}

// uploadID returns the client's X-Upload-ID when it is a safe token, or a
// fresh one, and echoes it on the response.
func (h *ChapterHandler) uploadID(c *gin.Context) string {
	id := c.GetHeader(UploadIDHeader)
	if id != "" {
		if clean, err := security.ValidatePathSegment(id); err != nil || clean != id || len(id) > 64 {
			id = ""
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(UploadIDHeader, id)
	return id
}

func (h *ChapterHandler) startJob(id string, total int64) ingest.ProgressFunc {
	if h.Jobs == nil {
		return nil
	}
	h.Jobs.Create(id, total)
	return func(received int64) {
		h.Jobs.SetReceived(id, received)
	}
}

func (h *ChapterHandler) setOperation(id, op, msg string) {
	if h.Jobs != nil {
		h.Jobs.SetOperation(id, op, msg)
	}
}

func (h *ChapterHandler) failUpload(c *gin.Context, id string, err error) {
	if h.Jobs != nil {
		h.Jobs.Fail(id, ingest.Message(err))
	}
	uploadError(c, err)
}

// Upload handles POST /chapters/upload using the standard library's
// form-data parser.
func (h *ChapterHandler) Upload(c *gin.Context) {
	id := h.uploadID(c)
	progress := h.startJob(id, c.Request.ContentLength)
	opts := h.Service.Options()

	rcv := h.Service.Receiver(progress)
	if err := rcv.CheckDeclared(c.Request.ContentLength); err != nil {
		h.failUpload(c, id, err)
		return
	}
	body := rcv.Reader(c.Request.Context(), c.Request.Body)
	c.Request.Body = http.MaxBytesReader(c.Writer, io.NopCloser(body), opts.MaxUploadBytes)

	form, err := c.MultipartForm()
	if err != nil {
		h.failUpload(c, id, hostParseError(err, opts.MaxUploadBytes))
		return
	}
	defer form.RemoveAll()

	u, err := h.Service.NewUpload()
	if err != nil {
		h.failUpload(c, id, err)
		return
	}
	defer u.Close()

	for name, values := range form.Value {
		if len(values) > 0 {
			u.Field(name, values[len(values)-1])
		}
	}
	fields := make([]string, 0, len(form.File))
	for name := range form.File {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	for _, name := range fields {
		for _, fh := range form.File[name] {
			if fh.Filename == "" {
				continue
			}
			if err := addFormFile(u, name, fh); err != nil {
				h.failUpload(c, id, err)
				return
			}
		}
	}

	h.publish(c, id, u)
}

// UploadChunked handles POST /chapters/upload/chunked with the built-in
// multipart decoder.
func (h *ChapterHandler) UploadChunked(c *gin.Context) {
	id := h.uploadID(c)
	progress := h.startJob(id, c.Request.ContentLength)

	spool := h.Service.SpoolBuffered
	if h.Streaming {
		spool = h.Service.SpoolStream
	}
	u, err := spool(c.Request.Context(), c.Request.Body, c.GetHeader("Content-Type"), c.Request.ContentLength, progress)
	if err != nil {
		h.failUpload(c, id, err)
		return
	}
	defer u.Close()

	h.publish(c, id, u)
}

func (h *ChapterHandler) publish(c *gin.Context, id string, u *ingest.Upload) {
	h.setOperation(id, "publishing", "Publishing chapter")
	res, err := h.Service.PublishUpload(c.Request.Context(), u)
	if err != nil {
		h.failUpload(c, id, err)
		return
	}
	if h.Jobs != nil {
		h.Jobs.Complete(id, res.ChapterID, res.WebPath)
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"chapterId": res.ChapterID,
		"files":     res.Files,
		"metadata":  res.Metadata,
	})
}

func addFormFile(u *ingest.Upload, field string, fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return &ingest.Error{Kind: ingest.KindIOFailure, Op: "receive", Msg: "Failed to read uploaded file", Err: err}
	}
	defer f.Close()
	return u.AddFile(field, fh.Filename, f)
}

// hostParseError classifies a failure of the standard form-data parser.
func hostParseError(err error, max int64) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ingest.SizeLimitError(max)
	}
	var ie *ingest.Error
	if errors.As(err, &ie) {
		return ie
	}
	return &ingest.Error{Kind: ingest.KindMalformedRequest, Op: "receive", Msg: "Invalid multipart form data", Err: err}
}

// Import handles POST /chapters/import.
func (h *ChapterHandler) Import(c *gin.Context) {
	var req ingest.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		importError(c, bindError("import", err))
		return
	}

	res, err := h.Service.Import(c.Request.Context(), req)
	if err != nil {
		importError(c, err)
		return
	}
	logging.Debugf("[INGEST] Imported %s as %s/%s", req.SourceHTMLPath, res.Metadata.SeriesID, res.ChapterID)
	c.JSON(http.StatusOK, res)
}

// List handles GET /chapters?series_id=.
func (h *ChapterHandler) List(c *gin.Context) {
	if h.Repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Chapter registry is disabled"})
		return
	}
	chapters, err := h.Repo.List(c.Request.Context(), c.Query("series_id"))
	if err != nil {
		logging.Logf("[REGISTRY] ERROR: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to list chapters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chapters": chapters})
}

// Get handles GET /chapters/:id.
func (h *ChapterHandler) Get(c *gin.Context) {
	if h.Repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Chapter registry is disabled"})
		return
	}
	chapter, err := h.Repo.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrChapterNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Chapter not found"})
		return
	}
	if err != nil {
		logging.Logf("[REGISTRY] ERROR: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to get chapter"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chapter": chapter})
}

// UploadStatus handles GET /chapters/uploads/:id.
func (h *ChapterHandler) UploadStatus(c *gin.Context) {
	if h.Jobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Upload not found"})
		return
	}
	job, ok := h.Jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Upload not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// UploadEvents streams job updates as server-sent events until the upload
// finishes or the client goes away. The id may be subscribed before the
// upload request arrives.
func (h *ChapterHandler) UploadEvents(c *gin.Context) {
	if h.Jobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Upload not found"})
		return
	}
	updates, unsubscribe := h.Jobs.Subscribe(c.Param("id"))
	defer unsubscribe()

	liftDeadlines(c)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-keepAlive.C:
			io.WriteString(w, ": keepalive\n\n")
			return true
		case job, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("progress", job)
			return !job.Done()
		}
	})
}

// UploadSocket pushes the same job updates over a WebSocket and closes
// normally once the upload finishes.
func (h *ChapterHandler) UploadSocket(c *gin.Context) {
	if h.Jobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Upload not found"})
		return
	}
	liftDeadlines(c)
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		logging.Debugf("[INGEST] websocket accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	updates, unsubscribe := h.Jobs.Subscribe(c.Param("id"))
	defer unsubscribe()

	// clients never send; CloseRead surfaces their close frame as ctx.Done
	ctx := conn.CloseRead(c.Request.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-updates:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, job); err != nil {
				logging.Debugf("[INGEST] websocket write failed: %v", err)
				return
			}
			if job.Done() {
				conn.Close(websocket.StatusNormalClosure, job.Status)
				return
			}
		}
	}
}

// liftDeadlines clears the server's read and write deadlines for a
// long-lived progress stream. The stream ends with its job.
func liftDeadlines(c *gin.Context) {
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetReadDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.Debugf("[INGEST] could not clear read deadline: %v", err)
	}
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.Debugf("[INGEST] could not clear write deadline: %v", err)
	}
}
