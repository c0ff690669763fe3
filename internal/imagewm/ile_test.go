package imagewm

import "testing"

func TestEmbedExtractILERoundTrip(t *testing.T) {
	img := syntheticImage(64, 64)
	payload := []byte("ile-payload-bytes")

	watermarked, err := EmbedILE(img, payload)
	if err != nil {
		t.Fatalf("EmbedILE: %v", err)
	}

	got, err := ExtractILE(watermarked)
	if err != nil {
		t.Fatalf("ExtractILE: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestEmbedILERejectsOversizedPayload(t *testing.T) {
	img := syntheticImage(4, 4) // 16 pixels * 3 channels = 48 bits of capacity
	payload := make([]byte, 100)

	if _, err := EmbedILE(img, payload); err == nil {
		t.Fatalf("expected an error when payload exceeds channel capacity")
	}
}

func TestExtractILERejectsImpossibleLengthPrefix(t *testing.T) {
	img := syntheticImage(4, 4)
	// Force every low bit to 1, so the 32-bit length prefix decodes to
	// 0xFFFFFFFF, which cannot fit in this image's channel capacity.
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			px := img.NRGBAAt(x, y)
			px.R |= 1
			px.G |= 1
			px.B |= 1
			img.SetNRGBA(x, y, px)
		}
	}
	if _, err := ExtractILE(img); err == nil {
		t.Fatalf("expected an error for an impossible length prefix")
	}
}
