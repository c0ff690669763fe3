package audiowm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// waveFormat holds the subset of the WAV "fmt " chunk the embedder cares
// about. Only PCM, integer-sample formats are supported.
type waveFormat struct {
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// DecodeWAV parses a RIFF/WAVE byte stream, grounded on the chunk-scanning
// loop used by this codebase's predecessor (find "fmt " and "data" by
// walking chunk headers, honoring the mandatory pad byte on odd-sized
// chunks, bailing out if a chunk reports zero advance). Multi-channel audio
// is downmixed to mono by averaging channels, since every embed/extract
// operation in this package works on a single PCM stream.
func DecodeWAV(data []byte) (samples []int16, sampleRate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audiowm: not a RIFF/WAVE file")
	}

	var fmtChunk *waveFormat
	var dataBytes []byte

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		bodyStart := offset + 8
		bodyEnd := bodyStart + int(chunkSize)
		if bodyEnd > len(data) {
			bodyEnd = len(data)
		}

		switch chunkID {
		case "fmt ":
			body := data[bodyStart:bodyEnd]
			if len(body) < 16 {
				return nil, 0, fmt.Errorf("audiowm: truncated fmt chunk")
			}
			fmtChunk = &waveFormat{
				NumChannels:   binary.LittleEndian.Uint16(body[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(body[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
		case "data":
			dataBytes = data[bodyStart:bodyEnd]
		}

		nextOffset := bodyEnd
		if chunkSize%2 == 1 {
			nextOffset++
		}
		if nextOffset <= offset {
			break
		}
		offset = nextOffset
	}

	if fmtChunk == nil {
		return nil, 0, fmt.Errorf("audiowm: missing fmt chunk")
	}
	if dataBytes == nil {
		return nil, 0, fmt.Errorf("audiowm: missing data chunk")
	}
	if fmtChunk.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("audiowm: unsupported bit depth %d, only 16-bit PCM is supported", fmtChunk.BitsPerSample)
	}
	channels := int(fmtChunk.NumChannels)
	if channels < 1 {
		channels = 1
	}

	frameBytes := 2 * channels
	numFrames := len(dataBytes) / frameBytes
	samples = make([]int16, numFrames)
	for i := 0; i < numFrames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			off := i*frameBytes + c*2
			sum += int32(int16(binary.LittleEndian.Uint16(dataBytes[off : off+2])))
		}
		samples[i] = int16(sum / int32(channels))
	}
	return samples, int(fmtChunk.SampleRate), nil
}

// EncodeWAV writes samples as a mono, 16-bit PCM WAV file, grounded on this
// codebase's predecessor RIFF/WAVE writer.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8
	dataSize := len(samples) * 2

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}
