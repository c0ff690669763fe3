package imagewm

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"

	"github.com/aquaseal/watermark-engine/backend/models"
)

// EmbedILE writes a 32-bit big-endian length prefix followed by payload,
// one bit per color channel (R, G, B, row-major, skipping alpha), into the
// low bit of each channel. PNG-only: ILE is only used as the redundant
// second image layer and relies on lossless storage.
func EmbedILE(img image.Image, payload []byte) (*image.NRGBA, error) {
	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}

	lengthPrefixed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(lengthPrefixed, uint32(len(payload)))
	copy(lengthPrefixed[4:], payload)

	bits := make([]byte, len(lengthPrefixed)*8)
	for i, by := range lengthPrefixed {
		for b := 0; b < 8; b++ {
			bits[i*8+b] = (by >> uint(7-b)) & 1
		}
	}

	capacity := bounds.Dx() * bounds.Dy() * 3
	if capacity < len(bits) {
		return nil, fmt.Errorf("%w: image too small for %d-byte ILE payload", models.ErrFormatUnsupported, len(payload))
	}

	bitIdx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y && bitIdx < len(bits); y++ {
		for x := bounds.Min.X; x < bounds.Max.X && bitIdx < len(bits); x++ {
			px := out.NRGBAAt(x, y)
			r, g, b, a := px.R, px.G, px.B, px.A
			channels := [3]*uint8{&r, &g, &b}
			for _, ch := range channels {
				if bitIdx >= len(bits) {
					break
				}
				*ch = (*ch &^ 1) | bits[bitIdx]
				bitIdx++
			}
			out.Set(x, y, color.NRGBA{R: r, G: g, B: b, A: a})
		}
	}
	return out, nil
}

// ExtractILE reverses EmbedILE, reading the 32-bit length prefix
// first and then exactly that many payload bytes.
func ExtractILE(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	totalChannels := bounds.Dx() * bounds.Dy() * 3

	readBits := func(n int, skip int) []byte {
		bits := make([]byte, 0, n)
		idx := 0
		for y := bounds.Min.Y; y < bounds.Max.Y && len(bits) < n+skip; y++ {
			for x := bounds.Min.X; x < bounds.Max.X && len(bits) < n+skip; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				for _, v := range [3]uint32{r, g, b} {
					if idx >= skip && len(bits) < n+skip {
						bits = append(bits, byte((v>>8)&1))
					}
					idx++
				}
			}
		}
		return bits
	}

	if totalChannels < 32 {
		return nil, fmt.Errorf("%w: image too small to hold an ILE length prefix", models.ErrNoWatermarkFound)
	}

	lenBits := readBits(32, 0)
	var lengthBytes [4]byte
	for i := 0; i < 4; i++ {
		var by byte
		for b := 0; b < 8; b++ {
			by = (by << 1) | lenBits[i*8+b]
		}
		lengthBytes[i] = by
	}
	length := binary.BigEndian.Uint32(lengthBytes[:])
	if length == 0 || int(length) < 0 || 32+int(length)*8 > totalChannels {
		return nil, fmt.Errorf("%w: ILE length prefix out of range", models.ErrNoWatermarkFound)
	}

	payloadBits := readBits(int(length)*8, 32)
	payload := make([]byte, length)
	for i := range payload {
		var by byte
		for b := 0; b < 8; b++ {
			by = (by << 1) | payloadBits[i*8+b]
		}
		payload[i] = by
	}
	return payload, nil
}
