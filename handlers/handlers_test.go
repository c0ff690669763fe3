package handlers

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/aquaseal/watermark-engine/backend/config"
	"github.com/aquaseal/watermark-engine/backend/engine"
	"github.com/aquaseal/watermark-engine/backend/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testHandlers() *Handlers {
	settings := config.Settings{RedundantWatermarks: 2, WatermarkStrength: 0.05, MaxFileSize: 10 << 20}
	return New(engine.New(settings, registry.NewMockClient()))
}

func syntheticPNGBytes(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	buf := &bytes.Buffer{}
	png.Encode(buf, img)
	return buf.Bytes()
}

func multipartEmbedRequest(t *testing.T, filename string, fileData []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(fileData); err != nil {
		t.Fatalf("writing file part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/embed", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealthHandler(t *testing.T) {
	h := testHandlers()
	r := gin.New()
	r.GET("/api/v1/health", h.HealthHandler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestEmbedHandlerRejectsMissingUserID(t *testing.T) {
	h := testHandlers()
	r := gin.New()
	r.POST("/api/v1/embed", h.EmbedHandler)

	req := multipartEmbedRequest(t, "photo.png", syntheticPNGBytes(64, 64), map[string]string{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestEmbedHandlerRejectsUnsupportedExtension(t *testing.T) {
	h := testHandlers()
	r := gin.New()
	r.POST("/api/v1/embed", h.EmbedHandler)

	req := multipartEmbedRequest(t, "notes.txt", []byte("hello"), map[string]string{"user_id": "u1"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestEmbedThenExtractHandlerRoundTrip(t *testing.T) {
	h := testHandlers()
	r := gin.New()
	r.POST("/api/v1/embed", h.EmbedHandler)
	r.POST("/api/v1/extract", h.ExtractHandler)

	embedReq := multipartEmbedRequest(t, "photo.png", syntheticPNGBytes(256, 256), map[string]string{
		"user_id": "u1",
		"license": "CC-BY-4.0",
	})
	embedRec := httptest.NewRecorder()
	r.ServeHTTP(embedRec, embedReq)
	if embedRec.Code != http.StatusOK {
		t.Fatalf("embed: got status %d, want %d, body=%s", embedRec.Code, http.StatusOK, embedRec.Body.String())
	}
	if embedRec.Header().Get("X-Watermark-Hash") == "" {
		t.Fatalf("expected X-Watermark-Hash header to be set")
	}

	watermarked := embedRec.Body.Bytes()

	extractBody := &bytes.Buffer{}
	w := multipart.NewWriter(extractBody)
	part, err := w.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(watermarked)
	w.Close()

	extractReq := httptest.NewRequest(http.MethodPost, "/api/v1/extract", extractBody)
	extractReq.Header.Set("Content-Type", w.FormDataContentType())
	extractRec := httptest.NewRecorder()
	r.ServeHTTP(extractRec, extractReq)

	if extractRec.Code != http.StatusOK {
		t.Fatalf("extract: got status %d, want %d, body=%s", extractRec.Code, http.StatusOK, extractRec.Body.String())
	}
	if extractRec.Body.Len() == 0 {
		t.Fatalf("expected non-empty extracted payload body")
	}
}
