package payloadcodec

import (
	"testing"

	"github.com/aquaseal/watermark-engine/backend/models"
)

func TestEncodeCanonicalSortsKeysAndUsesPythonSeparators(t *testing.T) {
	got := encodeCanonical([]field{
		{"user_id", "alice"},
		{"timestamp", int64(1700000000)},
		{"license", "CC-BY"},
	})
	want := `{"license": "CC-BY", "timestamp": 1700000000, "user_id": "alice"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncodeJSONStringEscapesNonASCII(t *testing.T) {
	got := encodeJSONString("café")
	want := "\"caf\\u00e9\""
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWatermarkHashExcludesContentHash(t *testing.T) {
	p1 := models.Payload{UserID: "alice", Timestamp: 1700000000, MetadataHash: "abc", ContentHash: "one", License: "CC-BY"}
	p2 := p1
	p2.ContentHash = "two"

	if WatermarkHash(p1) != WatermarkHash(p2) {
		t.Fatalf("watermark hash must not depend on content_hash")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := models.Payload{
		UserID:       "bob",
		Timestamp:    1711111111,
		MetadataHash: "deadbeef",
		ContentHash:  "cafebabe",
		License:      "MIT",
	}
	data := Encode(p)
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not a payload")); err == nil {
		t.Fatalf("expected an error decoding garbage input")
	}
}

func TestCanonicalMetadataHashStable(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1"}
	if CanonicalMetadataHash(m) != CanonicalMetadataHash(map[string]string{"a": "1", "b": "2"}) {
		t.Fatalf("metadata hash must not depend on map iteration order")
	}
}
