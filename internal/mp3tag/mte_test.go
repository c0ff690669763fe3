package mp3tag

import (
	"strings"
	"testing"
)

// createTestMP3Data builds a minimal valid MP3 frame stream (no ID3 tags yet)
// so id3v2.Open(Parse:true) can read and then append tags to it.
func createTestMP3Data() []byte {
	data := make([]byte, 10000)
	pos := 0
	for pos < len(data)-200 {
		frameSize := 144
		if pos+frameSize > len(data) {
			break
		}
		data[pos] = 0xFF
		data[pos+1] = 0xE3
		data[pos+2] = 0x44
		data[pos+3] = 0x00
		for i := pos + 4; i < pos+frameSize && i < len(data); i++ {
			data[i] = byte((i * 37) % 256)
		}
		pos += frameSize
	}
	return data
}

func TestEmbedExtractMTERoundTrip(t *testing.T) {
	mp3 := createTestMP3Data()
	payload := []byte("mte-payload-bytes")

	out, err := Embed(mp3, payload)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	got, err := Extract(out)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestEmbedMTESplitsAcrossTwoCommentFrames(t *testing.T) {
	mp3 := createTestMP3Data()
	payload := []byte(strings.Repeat("x", 1000)) // base64 of this exceeds one 800-char COMM frame

	out, err := Embed(mp3, payload)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	got, err := Extract(out)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %d bytes back, want %d", len(got), len(payload))
	}
}

func TestExtractFailsOnUntaggedMP3(t *testing.T) {
	mp3 := createTestMP3Data()
	if _, err := Extract(mp3); err == nil {
		t.Fatalf("expected an error extracting from an MP3 with no watermark frames")
	}
}
