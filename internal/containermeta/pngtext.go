// Package containermeta implements the container-metadata embedder (CME):
// JPEG/TIFF EXIF tag injection and PNG tEXt chunk injection.
package containermeta

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"

	"github.com/sabhiram/pngr"

	"github.com/aquaseal/watermark-engine/backend/models"
)

var pngMagic = []byte{137, 80, 78, 71, 13, 10, 26, 10}

const pngTextKeyBase = "WMHash"
const pngChunkMaxChars = 2000

// buildPNGChunk encodes a tEXt chunk: 4-byte BE length, 4-byte type, data,
// 4-byte CRC32 over type+data. Grounded on
// _examples/deniz-dilaverler-png-embed/embed.go's buildChunk.
func buildPNGChunk(data []byte) []byte {
	body := append([]byte("tEXt"), data...)
	crc := crc32.ChecksumIEEE(body)

	out := make([]byte, 0, 4+len(body)+4)
	lenBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBytes, uint32(len(data)))
	out = append(out, lenBytes...)
	out = append(out, body...)
	crcBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBytes, crc)
	out = append(out, crcBytes...)
	return out
}

// EmbedPNG splits base64(payload) across one or more WMHash/WMHash1/...
// tEXt chunks (each capped at 2000 base64 characters) and inserts them
// immediately before the IEND chunk.
func EmbedPNG(data []byte, payload []byte) ([]byte, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], pngMagic) {
		return nil, fmt.Errorf("%w: not a PNG file", models.ErrFormatUnsupported)
	}

	b64 := base64.StdEncoding.EncodeToString(payload)

	var chunks [][]byte
	for i := 0; i*pngChunkMaxChars < len(b64); i++ {
		start := i * pngChunkMaxChars
		end := start + pngChunkMaxChars
		if end > len(b64) {
			end = len(b64)
		}
		key := pngTextKeyBase
		if i > 0 {
			key = fmt.Sprintf("%s%d", pngTextKeyBase, i)
		}
		text := append([]byte(key), 0)
		text = append(text, []byte(b64[start:end])...)
		chunks = append(chunks, buildPNGChunk(text))
	}

	iendIdx := bytes.LastIndex(data, []byte("IEND"))
	if iendIdx < 4 {
		return nil, fmt.Errorf("%w: IEND chunk not found", models.ErrFormatUnsupported)
	}
	insertAt := iendIdx - 4 // back up over the IEND chunk's length field

	out := make([]byte, 0, len(data)+len(chunks)*64)
	out = append(out, data[:insertAt]...)
	for _, c := range chunks {
		out = append(out, c...)
	}
	out = append(out, data[insertAt:]...)
	return out, nil
}

// ExtractPNG reads every WMHash-prefixed tEXt chunk, orders them by the
// numeric suffix of the key (WMHash < WMHash1 < WMHash2 < ...; the Python
// reference this spec improves on sorted these lexicographically as
// strings, which misorders WMHash10 before WMHash2), concatenates, and
// base64-decodes.
func ExtractPNG(data []byte) ([]byte, error) {
	r, err := pngr.NewReader(data, &pngr.ReaderOptions{IncludedChunkTypes: []string{"tEXt"}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFormatUnsupported, err)
	}

	parts := map[int]string{}
	for {
		c, err := r.Next()
		if err != nil {
			break
		}
		idx := bytes.IndexByte(c.Data, 0)
		if idx < 0 {
			continue
		}
		key := string(c.Data[:idx])
		if !strings.HasPrefix(key, pngTextKeyBase) {
			continue
		}
		suffix := strings.TrimPrefix(key, pngTextKeyBase)
		n := 0
		if suffix != "" {
			parsed, err := strconv.Atoi(suffix)
			if err != nil {
				continue
			}
			n = parsed
		}
		parts[n] = string(c.Data[idx+1:])
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no WMHash chunks in PNG", models.ErrNoWatermarkFound)
	}

	keys := make([]int, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var b64 strings.Builder
	for _, k := range keys {
		b64.WriteString(parts[k])
	}

	payload, err := base64.StdEncoding.DecodeString(b64.String())
	if err != nil {
		return nil, fmt.Errorf("%w: WMHash chunk data is not valid base64", models.ErrInvalidPayloadFormat)
	}
	return payload, nil
}
