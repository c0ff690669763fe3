// Package handlers adapts the engine's Embed/Extract/Verify API to HTTP,
// following the teacher's request-ID-tagged logging and error-envelope
// conventions.
package handlers

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aquaseal/watermark-engine/backend/engine"
	"github.com/aquaseal/watermark-engine/backend/models"
)

// Handlers holds the engine the HTTP layer dispatches into.
type Handlers struct {
	Engine engine.Engine
}

// New constructs a Handlers value for the given engine.
func New(e engine.Engine) *Handlers {
	return &Handlers{Engine: e}
}

// requestID mirrors the teacher's generateRequestID: reuse the caller's
// X-Trace-Id if present, otherwise mint a simple nanotime-based one.
func requestID(c *gin.Context) string {
	if id := c.GetHeader("X-Trace-Id"); id != "" {
		return id
	}
	return fmt.Sprintf("req_%d", time.Now().UnixNano())
}

func sendError(c *gin.Context, status int, code string, message string) {
	c.JSON(status, models.ErrorResponse{
		Success: false,
		Error: models.ErrorDetail{
			Message: message,
			Details: map[string]interface{}{"code": code},
		},
	})
}

func classifyAndRespond(c *gin.Context, requestID string, handlerName string, err error) {
	log.Printf("[ERROR] [%s] %s: %v", requestID, handlerName, err)
	switch {
	case errorIs(err, models.ErrFileValidation), errorIs(err, models.ErrInvalidPayloadFormat):
		sendError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errorIs(err, models.ErrFormatUnsupported):
		sendError(c, http.StatusUnprocessableEntity, "format_unsupported", err.Error())
	case errorIs(err, models.ErrAudioTooShort):
		sendError(c, http.StatusUnprocessableEntity, "audio_too_short", err.Error())
	case errorIs(err, models.ErrNoWatermarkFound):
		sendError(c, http.StatusNotFound, "no_watermark_found", err.Error())
	case errorIs(err, models.ErrEmbedderUnavailable), errorIs(err, models.ErrNoEmbedderAvailable):
		sendError(c, http.StatusServiceUnavailable, "embedder_unavailable", err.Error())
	case errorIs(err, models.ErrRegistryFailure):
		sendError(c, http.StatusBadGateway, "registry_failure", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func errorIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return strings.Contains(err.Error(), target.Error())
		}
		err = u.Unwrap()
	}
	return false
}

// detectFileType maps an uploaded filename's extension to the engine's
// fileType identifiers.
func detectFileType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff":
		return engine.FileTypeImage
	case ".mp3", ".wav":
		return engine.FileTypeAudio
	case ".pdf":
		return engine.FileTypePDF
	default:
		return ""
	}
}

// EmbedHandler handles POST /api/v1/embed: multipart file upload plus
// user_id, license, and optional metadata fields.
func (h *Handlers) EmbedHandler(c *gin.Context) {
	rid := requestID(c)
	start := time.Now()
	log.Printf("[INFO] [%s] EmbedHandler: request from %s", rid, c.ClientIP())

	fileHeader, err := c.FormFile("file")
	if err != nil {
		sendError(c, http.StatusBadRequest, "missing_file", "a 'file' multipart field is required")
		return
	}
	userID := c.PostForm("user_id")
	license := c.PostForm("license")
	if userID == "" {
		sendError(c, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	ext := filepath.Ext(fileHeader.Filename)
	fileType := detectFileType(ext)
	if fileType == "" {
		sendError(c, http.StatusUnprocessableEntity, "format_unsupported", fmt.Sprintf("unsupported extension %q", ext))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		sendError(c, http.StatusBadRequest, "invalid_upload", "could not read uploaded file")
		return
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(f); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_upload", "could not buffer uploaded file")
		return
	}
	src := bytes.NewReader(buf.Bytes())

	metadata := map[string]string{}
	for k, v := range c.Request.PostForm {
		if strings.HasPrefix(k, "metadata[") && len(v) > 0 {
			key := strings.TrimSuffix(strings.TrimPrefix(k, "metadata["), "]")
			metadata[key] = v[0]
		}
	}

	out, watermarkHash, err := h.Engine.Embed(src, fileType, ext, userID, metadata, license)
	if err != nil {
		classifyAndRespond(c, rid, "EmbedHandler", err)
		return
	}

	c.Header("X-Processing-Time", time.Since(start).String())
	c.Header("X-Request-ID", rid)
	c.Header("X-Watermark-Hash", watermarkHash)
	c.Data(http.StatusOK, "application/octet-stream", out)
	log.Printf("[INFO] [%s] EmbedHandler: embedded %d bytes in %s", rid, len(out), time.Since(start))
}

// ExtractHandler handles POST /api/v1/extract.
func (h *Handlers) ExtractHandler(c *gin.Context) {
	rid := requestID(c)
	start := time.Now()
	log.Printf("[INFO] [%s] ExtractHandler: request from %s", rid, c.ClientIP())

	fileHeader, err := c.FormFile("file")
	if err != nil {
		sendError(c, http.StatusBadRequest, "missing_file", "a 'file' multipart field is required")
		return
	}
	ext := filepath.Ext(fileHeader.Filename)
	fileType := detectFileType(ext)
	if fileType == "" {
		sendError(c, http.StatusUnprocessableEntity, "format_unsupported", fmt.Sprintf("unsupported extension %q", ext))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		sendError(c, http.StatusBadRequest, "invalid_upload", "could not read uploaded file")
		return
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(f); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_upload", "could not buffer uploaded file")
		return
	}
	src := bytes.NewReader(buf.Bytes())

	var personalization *string
	if ph := c.PostForm("personalization_hash"); ph != "" {
		personalization = &ph
	}

	payload, err := h.Engine.Extract(src, fileType, ext, personalization)
	if err != nil {
		classifyAndRespond(c, rid, "ExtractHandler", err)
		return
	}

	c.Header("X-Processing-Time", time.Since(start).String())
	c.Header("X-Request-ID", rid)
	c.Data(http.StatusOK, "application/octet-stream", payload)
	log.Printf("[INFO] [%s] ExtractHandler: extracted %d bytes in %s", rid, len(payload), time.Since(start))
}

// VerifyHandler handles POST /api/v1/verify.
func (h *Handlers) VerifyHandler(c *gin.Context) {
	rid := requestID(c)
	start := time.Now()
	log.Printf("[INFO] [%s] VerifyHandler: request from %s", rid, c.ClientIP())

	fileHeader, err := c.FormFile("file")
	if err != nil {
		sendError(c, http.StatusBadRequest, "missing_file", "a 'file' multipart field is required")
		return
	}
	ext := filepath.Ext(fileHeader.Filename)
	fileType := detectFileType(ext)
	if fileType == "" {
		sendError(c, http.StatusUnprocessableEntity, "format_unsupported", fmt.Sprintf("unsupported extension %q", ext))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		sendError(c, http.StatusBadRequest, "invalid_upload", "could not read uploaded file")
		return
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(f); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_upload", "could not buffer uploaded file")
		return
	}
	src := bytes.NewReader(buf.Bytes())

	result, err := h.Engine.Verify(c.Request.Context(), src, fileType, ext)
	if err != nil {
		classifyAndRespond(c, rid, "VerifyHandler", err)
		return
	}

	c.Header("X-Processing-Time", time.Since(start).String())
	c.Header("X-Request-ID", rid)
	c.JSON(http.StatusOK, result)
	log.Printf("[INFO] [%s] VerifyHandler: verified=%v found=%v in %s", rid, result.Verified, result.WatermarkFound, time.Since(start))
}

// HealthHandler handles GET /api/v1/health.
func (h *Handlers) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                "ok",
		"redundant_watermarks":  h.Engine.Settings.RedundantWatermarks,
		"watermark_strength":    strconv.FormatFloat(h.Engine.Settings.WatermarkStrength, 'f', -1, 64),
		"max_file_size_bytes":   h.Engine.Settings.MaxFileSize,
	})
}
