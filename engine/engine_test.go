package engine

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/aquaseal/watermark-engine/backend/config"
	"github.com/aquaseal/watermark-engine/backend/internal/audiowm"
	"github.com/aquaseal/watermark-engine/backend/registry"
)

func testEngine() Engine {
	settings := config.Settings{
		RedundantWatermarks: 2,
		WatermarkStrength:   0.05,
	}
	return New(settings, registry.NewMockClient())
}

func syntheticPNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func syntheticWAV(n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(float64(i)*0.05))
	}
	return audiowm.EncodeWAV(samples, 44100)
}

func minimalPDF() []byte {
	body := "%PDF-1.4\n" +
		"1 0 obj\n<< /Type /Catalog >>\nendobj\n" +
		"xref\n0 2\n0000000000 65535 f \n0000000009 00000 n \n" +
		"trailer\n<< /Size 2 /Root 1 0 R >>\n" +
		"startxref\n9\n%%EOF"
	return []byte(body)
}

func TestEmbedExtractImageRoundTrip(t *testing.T) {
	e := testEngine()
	src := bytes.NewReader(syntheticPNG(256, 256))

	out, hash, err := e.Embed(src, FileTypeImage, ".png", "user-1", map[string]string{"k": "v"}, "CC-BY-4.0")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected a non-empty watermark hash")
	}

	payload, err := e.Extract(bytes.NewReader(out), FileTypeImage, ".png", nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(payload) == 0 {
		t.Fatalf("expected non-empty extracted payload")
	}
}

func TestEmbedExtractAudioRoundTrip(t *testing.T) {
	e := testEngine()
	src := bytes.NewReader(syntheticWAV(5 * 44100))

	out, hash, err := e.Embed(src, FileTypeAudio, ".wav", "user-1", map[string]string{"k": "v"}, "CC-BY-4.0")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected a non-empty watermark hash")
	}

	payload, err := e.Extract(bytes.NewReader(out), FileTypeAudio, ".wav", nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(payload) == 0 {
		t.Fatalf("expected non-empty extracted payload")
	}
}

func TestEmbedExtractPDFRoundTrip(t *testing.T) {
	e := testEngine()
	src := bytes.NewReader(minimalPDF())

	out, hash, err := e.Embed(src, FileTypePDF, ".pdf", "user-1", map[string]string{"k": "v"}, "CC-BY-4.0")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected a non-empty watermark hash")
	}

	payload, err := e.Extract(bytes.NewReader(out), FileTypePDF, ".pdf", nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(payload) == 0 {
		t.Fatalf("expected non-empty extracted payload")
	}
}

func TestVerifyReturnsMockModeForWatermarkedFile(t *testing.T) {
	e := testEngine()
	src := bytes.NewReader(minimalPDF())

	out, _, err := e.Embed(src, FileTypePDF, ".pdf", "user-1", nil, "CC-BY-4.0")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	result, err := e.Verify(context.Background(), bytes.NewReader(out), FileTypePDF, ".pdf")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.WatermarkFound {
		t.Fatalf("expected WatermarkFound to be true")
	}
	if result.Verified {
		t.Fatalf("expected Verified to be false under the always-mock registry")
	}
}

func TestVerifyReportsNotFoundForPlainFile(t *testing.T) {
	e := testEngine()
	src := bytes.NewReader(minimalPDF())

	result, err := e.Verify(context.Background(), src, FileTypePDF, ".pdf")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.WatermarkFound {
		t.Fatalf("expected WatermarkFound to be false for an unwatermarked PDF")
	}
}
