package audiowm

import (
	"math"
	"testing"
)

func syntheticSamples(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(float64(i)*0.05))
	}
	return samples
}

func TestEmbedExtractRoundTrip(t *testing.T) {
	samples := syntheticSamples(20 * DefaultParams.BlockSize)
	payload := []byte("hello-watermark")

	watermarked, err := Embed(samples, DefaultParams, payload)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(watermarked) != len(samples) {
		t.Fatalf("got %d samples out, want %d", len(watermarked), len(samples))
	}

	got, err := Extract(watermarked, DefaultParams)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestEmbedRejectsUndersizedAudio(t *testing.T) {
	samples := syntheticSamples(DefaultParams.BlockSize) // a single block: too little capacity
	payload := []byte("a payload far too large for one block to carry")

	if _, err := Embed(samples, DefaultParams, payload); err == nil {
		t.Fatalf("expected an error for undersized audio")
	}
}

func TestExtractFailsOnUnwatermarkedAudio(t *testing.T) {
	samples := syntheticSamples(10 * DefaultParams.BlockSize)
	if _, err := Extract(samples, DefaultParams); err == nil {
		t.Fatalf("expected NoWatermarkFound on plain audio")
	}
}
