package containermeta

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func syntheticImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func encodedPNG(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, syntheticImage(32, 32)); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func encodedJPEG(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, syntheticImage(32, 32), nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestEmbedExtractPNGRoundTrip(t *testing.T) {
	data := encodedPNG(t)
	payload := []byte("png-container-metadata-payload")

	out, err := EmbedPNG(data, payload)
	if err != nil {
		t.Fatalf("EmbedPNG: %v", err)
	}

	got, err := ExtractPNG(out)
	if err != nil {
		t.Fatalf("ExtractPNG: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestEmbedPNGSplitsAcrossMultipleChunksAndOrdersNumerically(t *testing.T) {
	data := encodedPNG(t)
	payload := bytes.Repeat([]byte("0123456789abcdef"), 400) // forces >1 base64 chunk

	out, err := EmbedPNG(data, payload)
	if err != nil {
		t.Fatalf("EmbedPNG: %v", err)
	}

	got, err := ExtractPNG(out)
	if err != nil {
		t.Fatalf("ExtractPNG: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("multi-chunk round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestEmbedExtractJPEGRoundTrip(t *testing.T) {
	data := encodedJPEG(t)
	payload := []byte("jpeg-exif-payload")

	out, err := EmbedJPEG(data, payload)
	if err != nil {
		t.Fatalf("EmbedJPEG: %v", err)
	}

	got, err := ExtractJPEG(out)
	if err != nil {
		t.Fatalf("ExtractJPEG: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestEmbedExtractTIFFRoundTrip(t *testing.T) {
	seed, err := encodeBaselineTIFF(syntheticImage(16, 16), nil)
	if err != nil {
		t.Fatalf("encodeBaselineTIFF: %v", err)
	}

	payload := []byte("tiff-ifd0-payload")
	out, err := EmbedTIFF(seed, payload)
	if err != nil {
		t.Fatalf("EmbedTIFF: %v", err)
	}

	got, err := ExtractTIFF(out)
	if err != nil {
		t.Fatalf("ExtractTIFF: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}
