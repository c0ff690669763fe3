// Package mp3tag implements the MP3 tag embedder (MTE): ID3v2.3 COMM/USLT
// frames carrying the watermark payload. Grounded on SPEC_FULL §4.G and on
// this codebase's temp-file lifecycle convention (EncodeToMP3/ConvertWAVToMP3
// in the predecessor audio_service.go, which also round-trips audio through
// os.CreateTemp).
package mp3tag

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/bogem/id3v2/v2"
	"github.com/hajimehoshi/go-mp3"

	"github.com/aquaseal/watermark-engine/backend/models"
)

const (
	commDescription  = "WMPayload"
	commDescription2 = "WMPayload_2"
	usltDescription  = "WMHash"
	commChunkChars   = 800
	usltChunkChars   = 500
)

// Embed writes the payload into a fresh temp MP3 file (so id3v2, which only
// operates on file paths, can mutate it in place), then returns the
// resulting bytes. The first 800 base64 characters go into a COMM frame
// described "WMPayload"; any overflow up to another 800 characters goes
// into a second COMM frame described "WMPayload_2"; the first 500 raw UTF-8
// payload characters also go into a USLT frame described "WMHash" for
// redundancy.
func Embed(mp3Data []byte, payload []byte) ([]byte, error) {
	if duration, sampleRate, err := describeMP3(mp3Data); err != nil {
		log.Printf("[WARN] mp3tag: could not decode MP3 stream for validation, tagging anyway: %v", err)
	} else {
		log.Printf("[DEBUG] mp3tag: embedding into %.2fs MP3 stream at %d Hz", duration, sampleRate)
	}

	tmp, err := os.CreateTemp("", "aquaseal-mte-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("mp3tag: creating temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(mp3Data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("mp3tag: writing temp file: %w", err)
	}
	tmp.Close()

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFormatUnsupported, err)
	}
	tag.SetVersion(3)

	b64 := base64.StdEncoding.EncodeToString(payload)
	first := truncateStr(b64, commChunkChars)
	tag.AddCommentFrame(id3v2.CommentFrame{
		Encoding:    id3v2.EncodingUTF8,
		Language:    "eng",
		Description: commDescription,
		Text:        first,
	})
	if len(b64) > commChunkChars {
		rest := b64[commChunkChars:]
		second := truncateStr(rest, commChunkChars)
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: commDescription2,
			Text:        second,
		})
	}

	usltText := truncateStr(string(payload), usltChunkChars)
	tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
		Encoding:          id3v2.EncodingUTF8,
		Language:          "eng",
		ContentDescriptor: usltDescription,
		Lyrics:            usltText,
	})

	if err := tag.Save(); err != nil {
		tag.Close()
		return nil, fmt.Errorf("mp3tag: saving tags: %w", err)
	}
	tag.Close()

	out, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mp3tag: reading back temp file: %w", err)
	}
	return out, nil
}

// Extract reads the COMM "WMPayload"(+"WMPayload_2") frames back into a
// base64 payload, falling back to the USLT "WMHash" frame if no COMM frame
// is present.
func Extract(mp3Data []byte) ([]byte, error) {
	tmp, err := os.CreateTemp("", "aquaseal-mte-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("mp3tag: creating temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(mp3Data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("mp3tag: writing temp file: %w", err)
	}
	tmp.Close()

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFormatUnsupported, err)
	}
	defer tag.Close()

	// Reassemble in description order regardless of frame iteration order.
	var first, second string
	for _, f := range tag.GetFrames(tag.CommonID("Comments")) {
		cf, ok := f.(id3v2.CommentFrame)
		if !ok {
			continue
		}
		if cf.Description == commDescription {
			first = cf.Text
		}
		if cf.Description == commDescription2 {
			second = cf.Text
		}
	}
	if first != "" {
		payload, err := base64.StdEncoding.DecodeString(first + second)
		if err == nil {
			return payload, nil
		}
	}

	for _, f := range tag.GetFrames(tag.CommonID("Unsynchronised lyrics/text transcription")) {
		uf, ok := f.(id3v2.UnsynchronisedLyricsFrame)
		if !ok {
			continue
		}
		if uf.ContentDescriptor == usltDescription {
			return []byte(uf.Lyrics), nil
		}
	}

	return nil, fmt.Errorf("%w: no WMPayload/WMHash frames in MP3 tags", models.ErrNoWatermarkFound)
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// describeMP3 decodes the stream far enough to confirm it is genuinely MPEG
// audio and to report its approximate duration, the same validate-before-tag
// step the teacher's capacity/health endpoints run via go-mp3.
func describeMP3(mp3Data []byte) (durationSeconds float64, sampleRate int, err error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(mp3Data))
	if err != nil {
		return 0, 0, fmt.Errorf("not a decodable MP3 stream: %w", err)
	}
	pcmLen, err := io.Copy(io.Discard, decoder)
	if err != nil {
		return 0, 0, fmt.Errorf("could not read decoded MP3 stream: %w", err)
	}
	sampleRate = decoder.SampleRate()
	if sampleRate == 0 || pcmLen == 0 {
		return 0, 0, fmt.Errorf("decoded MP3 stream carries no audio samples")
	}
	// go-mp3 always decodes to 16-bit stereo PCM: 4 bytes per sample pair.
	totalSamples := pcmLen / 4
	return float64(totalSamples) / float64(sampleRate), sampleRate, nil
}

