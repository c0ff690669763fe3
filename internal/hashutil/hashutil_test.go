package hashutil

import (
	"bytes"
	"testing"
)

func TestHashFileResetsCursor(t *testing.T) {
	r := bytes.NewReader([]byte("hello watermark world"))
	if _, err := r.Seek(5, 0); err != nil {
		t.Fatalf("seek: %v", err)
	}

	hash, err := HashFile(r)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(hash))
	}

	pos, err := r.Seek(0, 1)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if pos != 0 {
		t.Fatalf("expected cursor reset to 0, got %d", pos)
	}
}

func TestHashFileDeterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	h1, err := HashFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	h2, err := HashFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hashes, got %s and %s", h1, h2)
	}
}

func TestHashFileLargerThanChunk(t *testing.T) {
	data := bytes.Repeat([]byte("a"), chunkSize*3+17)
	if _, err := HashFile(bytes.NewReader(data)); err != nil {
		t.Fatalf("HashFile: %v", err)
	}
}

func TestHashStringMatchesHashBytes(t *testing.T) {
	if HashString("abc") != HashBytes([]byte("abc")) {
		t.Fatalf("HashString and HashBytes disagree")
	}
}
