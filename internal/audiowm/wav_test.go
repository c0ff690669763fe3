package audiowm

import "testing"

func TestEncodeDecodeWAVRoundTrip(t *testing.T) {
	samples := make([]int16, 1000)
	for i := range samples {
		samples[i] = int16((i * 37) % 2000)
	}

	encoded := EncodeWAV(samples, 44100)
	decoded, rate, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 44100 {
		t.Fatalf("got sample rate %d, want 44100", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d: got %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestDecodeWAVRejectsNonRIFF(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Fatalf("expected an error for non-RIFF input")
	}
}
