package imagewm

import (
	"image"
	"image/color"
	"testing"
)

func syntheticImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 3) % 256),
				G: uint8((y * 5) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func TestEmbedExtractIFERoundTrip(t *testing.T) {
	img := syntheticImage(256, 256)
	payload := []byte("ife-payload")

	watermarked, err := EmbedIFE(img, "s3cr3t", payload)
	if err != nil {
		t.Fatalf("EmbedIFE: %v", err)
	}

	got, err := ExtractIFE(watermarked, "s3cr3t")
	if err != nil {
		t.Fatalf("ExtractIFE: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestExtractIFEFailsWithWrongPassword(t *testing.T) {
	img := syntheticImage(256, 256)
	payload := []byte("ife-payload")

	watermarked, err := EmbedIFE(img, "correct", payload)
	if err != nil {
		t.Fatalf("EmbedIFE: %v", err)
	}

	if _, err := ExtractIFE(watermarked, "incorrect"); err == nil {
		t.Fatalf("expected extraction with the wrong password to fail")
	}
}

func TestEmbedIFERejectsTooSmallImage(t *testing.T) {
	img := syntheticImage(16, 16) // only 4 blocks, too few for a full frame
	payload := []byte("this payload needs many blocks of capacity to embed")

	if _, err := EmbedIFE(img, "", payload); err == nil {
		t.Fatalf("expected an error for an undersized image")
	}
}
